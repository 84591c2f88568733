package panel

import (
	"context"
	"sync"
)

// Result is the outcome of an Operation.
type Result struct {
	Info MountInfo
	Err  error
}

// Question is a choice prompt raised by a backend in the middle of an
// operation.
type Question struct {
	Message string
	Choices []string
	Default int

	reply chan int
}

// PasswordRequest is a credential prompt raised by a backend.
type PasswordRequest struct {
	Message       string
	DefaultUser   string
	DefaultDomain string
	Flags         AskPasswordFlags

	reply chan PasswordReply
}

// PasswordReply answers a PasswordRequest.
type PasswordReply struct {
	Aborted   bool
	Anonymous bool
	User      string
	Domain    string
	Password  string
}

// Operation is one in-flight backend call. The backend raises prompts with
// Ask and AskPassword and completes the call with Finish. The prompt reply
// channels belong to the operation, so answers never cross between calls.
type Operation struct {
	questions chan *Question
	passwords chan *PasswordRequest
	done      chan Result
	once      sync.Once
}

// NewOperation creates an unfinished Operation.
func NewOperation() *Operation {
	return &Operation{
		questions: make(chan *Question),
		passwords: make(chan *PasswordRequest),
		done:      make(chan Result, 1),
	}
}

// StartOperation runs fn in its own goroutine and finishes the returned
// Operation with fn's result.
func StartOperation(fn func(op *Operation) (MountInfo, error)) *Operation {
	op := NewOperation()
	go func() {
		info, err := fn(op)
		op.Finish(info, err)
	}()
	return op
}

// FinishedOperation returns an Operation that has already completed.
func FinishedOperation(info MountInfo, err error) *Operation {
	op := NewOperation()
	op.Finish(info, err)
	return op
}

// Finish completes the operation. Only the first call has an effect.
func (op *Operation) Finish(info MountInfo, err error) {
	op.once.Do(func() {
		op.done <- Result{Info: info, Err: err}
	})
}

// Ask raises a choice prompt and waits for the chosen index. An index of -1
// means the operator aborted.
func (op *Operation) Ask(ctx context.Context, message string, choices []string, defaultIndex int) (int, error) {
	q := &Question{
		Message: message,
		Choices: choices,
		Default: defaultIndex,
		reply:   make(chan int, 1),
	}
	select {
	case op.questions <- q:
	case <-ctx.Done():
		return -1, ctx.Err()
	}
	select {
	case choice := <-q.reply:
		return choice, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// AskPassword raises a credential prompt and waits for the reply.
func (op *Operation) AskPassword(ctx context.Context, req PasswordRequest) (PasswordReply, error) {
	req.reply = make(chan PasswordReply, 1)
	select {
	case op.passwords <- &req:
	case <-ctx.Done():
		return PasswordReply{Aborted: true}, ctx.Err()
	}
	select {
	case reply := <-req.reply:
		return reply, nil
	case <-ctx.Done():
		return PasswordReply{Aborted: true}, ctx.Err()
	}
}
