package panel

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrBusy is returned when a Transport is asked to start an operation while
// another one is still running on it.
var ErrBusy = errors.New("transport already has an operation in flight")

// Transport drives one mount, unmount or status check at a time against a
// Backend and blocks the caller until the backend finishes. Prompts raised
// by the backend are answered on the calling goroutine through the UI.
//
// Transports are cheap; create one per operation.
type Transport struct {
	backend Backend
	ui      UI
	logger  Logger
	running atomic.Bool
}

// NewTransport creates a Transport. ui may be nil, in which case every choice
// prompt is aborted.
func NewTransport(backend Backend, ui UI, logger Logger) *Transport {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Transport{backend: backend, ui: ui, logger: logger}
}

// Mount mounts url. A resource that turns out to be mounted already counts
// as success and its live mount is returned.
func (t *Transport) Mount(ctx context.Context, url, user, password string) (MountInfo, error) {
	if !t.running.CompareAndSwap(false, true) {
		return MountInfo{}, ErrBusy
	}
	defer t.running.Store(false)

	req := MountRequest{URL: url, User: user, Password: password}
	res := t.run(t.backend.Mount(ctx, req), req)
	if res.Err == nil {
		t.logger.Info("mounted", "url", url, "name", res.Info.Name, "path", res.Info.Path)
		return res.Info, nil
	}
	if !IsAlreadyMounted(res.Err) {
		return MountInfo{}, res.Err
	}

	t.logger.Info("resource already mounted", "url", url)
	found := t.run(t.backend.FindMount(ctx, url), req)
	if found.Err != nil {
		return MountInfo{}, fmt.Errorf("resolving existing mount of %s: %w", url, found.Err)
	}
	return found.Info, nil
}

// Unmount unmounts the mount serving url. A CodeNotMounted BackendError is
// returned as is so callers can treat it as already unmounted.
func (t *Transport) Unmount(ctx context.Context, url string) error {
	if !t.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer t.running.Store(false)

	res := t.run(t.backend.Unmount(ctx, url), MountRequest{URL: url})
	if res.Err != nil {
		return res.Err
	}
	t.logger.Info("unmounted", "url", url)
	return nil
}

// CheckMounted reports whether url is currently mounted. Errors are treated
// as not mounted.
func (t *Transport) CheckMounted(ctx context.Context, url string) (MountInfo, bool) {
	if !t.running.CompareAndSwap(false, true) {
		return MountInfo{}, false
	}
	defer t.running.Store(false)

	res := t.run(t.backend.FindMount(ctx, url), MountRequest{URL: url})
	if res.Err != nil {
		if !IsNotMounted(res.Err) {
			t.logger.Debug("mount status check failed", "url", url, "error", res.Err)
		}
		return MountInfo{}, false
	}
	return res.Info, true
}

// run services op's prompts until it finishes.
func (t *Transport) run(op *Operation, req MountRequest) Result {
	asked := 0
	for {
		select {
		case q := <-op.questions:
			q.reply <- t.answerQuestion(q)
		case p := <-op.passwords:
			asked++
			p.reply <- t.answerPassword(p, req, asked)
		case res := <-op.done:
			return res
		}
	}
}

func (t *Transport) answerQuestion(q *Question) int {
	if t.ui == nil {
		t.logger.Warn("choice prompt aborted, no UI attached", "message", q.Message)
		return -1
	}
	choice := t.ui.ChooseOption(q.Message, q.Choices, q.Default)
	if choice < 0 || choice >= len(q.Choices) {
		return -1
	}
	return choice
}

// answerPassword replies to a credential prompt. Anonymous access wins when
// allowed and nothing was supplied. Supplied credentials answer the first
// prompt; later prompts mean they were rejected and go to the operator.
func (t *Transport) answerPassword(p *PasswordRequest, req MountRequest, attempt int) PasswordReply {
	if p.Flags.Has(AnonymousSupported) && req.User == "" && req.Password == "" {
		return PasswordReply{Anonymous: true}
	}

	supplied := PasswordReply{User: req.User, Domain: p.DefaultDomain, Password: req.Password}
	if supplied.User == "" {
		supplied.User = p.DefaultUser
	}
	if attempt == 1 && req.Password != "" {
		return supplied
	}

	prompter, ok := t.ui.(CredentialPrompter)
	if !ok {
		if attempt > 1 {
			t.logger.Warn("credentials rejected and no prompter attached, aborting", "url", req.URL)
			return PasswordReply{Aborted: true}
		}
		t.logger.Warn("credential prompt answered without operator input", "url", req.URL, "flags", uint32(p.Flags))
		return supplied
	}

	creds, ok := prompter.EnterCredentials(CredentialRequest{
		Message: p.Message,
		User:    supplied.User,
		Domain:  p.DefaultDomain,
		Flags:   p.Flags,
	})
	if !ok {
		return PasswordReply{Aborted: true}
	}
	return PasswordReply{User: creds.User, Domain: creds.Domain, Password: creds.Password}
}
