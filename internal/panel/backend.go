package panel

import (
	"context"
	"errors"
	"fmt"
)

// MountInfo describes a live mount as reported by a Backend.
type MountInfo struct {
	Name   string // display name of the mount
	Path   string // local path that exposes the resource
	Scheme string // URI scheme the backend mounted it with
}

// MountRequest carries the parameters of a mount call.
type MountRequest struct {
	URL      string
	User     string
	Password string
}

// Backend is the asynchronous mount service. Each call starts the work in
// the backend's own goroutines and returns immediately; progress, prompts and
// the final result arrive through the returned Operation.
//
// A Backend must always finish an Operation, including when ctx is done.
type Backend interface {
	// Mount mounts the resource at req.URL.
	Mount(ctx context.Context, req MountRequest) *Operation

	// Unmount unmounts the mount that serves url.
	Unmount(ctx context.Context, url string) *Operation

	// FindMount resolves the live mount serving url. It finishes with a
	// CodeNotMounted BackendError when there is none.
	FindMount(ctx context.Context, url string) *Operation
}

// AskPasswordFlags describes what a credential prompt needs.
type AskPasswordFlags uint32

const (
	NeedPassword AskPasswordFlags = 1 << iota
	NeedUsername
	NeedDomain
	SavingSupported
	AnonymousSupported
)

func (f AskPasswordFlags) Has(flag AskPasswordFlags) bool { return f&flag != 0 }

// ErrorCode classifies a BackendError. Values follow the GIO error numbering
// so D-Bus replies from the GVFS daemon map onto them directly.
type ErrorCode int

const (
	CodeFailed           ErrorCode = 0
	CodeNotFound         ErrorCode = 1
	CodePermissionDenied ErrorCode = 14
	CodeNotSupported     ErrorCode = 15
	CodeNotMounted       ErrorCode = 16
	CodeAlreadyMounted   ErrorCode = 17
	CodeCancelled        ErrorCode = 19
	CodeTimedOut         ErrorCode = 24
	CodeHostNotFound     ErrorCode = 28
	CodeFailedHandled    ErrorCode = 30
)

// BackendError is a failure reported by a mount backend as a
// domain/code/message triple.
type BackendError struct {
	Domain  string
	Code    ErrorCode
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s error %d: %s", e.Domain, e.Code, e.Message)
}

func (e *BackendError) Unwrap() error { return e.Err }

// NewBackendError builds a BackendError, wrapping cause when it is not nil.
func NewBackendError(domain string, code ErrorCode, cause error, format string, args ...any) *BackendError {
	return &BackendError{
		Domain:  domain,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     cause,
	}
}

// ErrorCodeOf returns the code of the BackendError in err's chain, or
// CodeFailed with false when there is none.
func ErrorCodeOf(err error) (ErrorCode, bool) {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Code, true
	}
	return CodeFailed, false
}

// IsAlreadyMounted reports whether err says the resource is already mounted.
func IsAlreadyMounted(err error) bool {
	code, ok := ErrorCodeOf(err)
	return ok && code == CodeAlreadyMounted
}

// IsNotMounted reports whether err says the resource is not mounted.
func IsNotMounted(err error) bool {
	code, ok := ErrorCodeOf(err)
	return ok && code == CodeNotMounted
}
