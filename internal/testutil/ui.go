package testutil

import (
	"sync"

	"vfspanel/internal/panel"
)

// ScriptedUI answers prompts from queued replies and records what it was
// asked. With an empty queue, choices are aborted and credential prompts
// cancelled.
type ScriptedUI struct {
	mu          sync.Mutex
	choices     []int
	credentials []*panel.Credentials
	Questions   []string
	Requests    []panel.CredentialRequest
}

var (
	_ panel.UI                 = (*ScriptedUI)(nil)
	_ panel.CredentialPrompter = (*ScriptedUI)(nil)
)

func NewScriptedUI() *ScriptedUI { return &ScriptedUI{} }

// Choose queues answers to choice prompts.
func (u *ScriptedUI) Choose(indexes ...int) *ScriptedUI {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.choices = append(u.choices, indexes...)
	return u
}

// Enter queues an answer to a credential prompt. A nil creds cancels it.
func (u *ScriptedUI) Enter(creds *panel.Credentials) *ScriptedUI {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.credentials = append(u.credentials, creds)
	return u
}

func (u *ScriptedUI) ChooseOption(message string, _ []string, _ int) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.Questions = append(u.Questions, message)
	if len(u.choices) == 0 {
		return -1
	}
	c := u.choices[0]
	u.choices = u.choices[1:]
	return c
}

func (u *ScriptedUI) EnterCredentials(req panel.CredentialRequest) (panel.Credentials, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.Requests = append(u.Requests, req)
	if len(u.credentials) == 0 {
		return panel.Credentials{}, false
	}
	c := u.credentials[0]
	u.credentials = u.credentials[1:]
	if c == nil {
		return panel.Credentials{}, false
	}
	return *c, true
}

// RecordingNotifier counts reconciliation notifications.
type RecordingNotifier struct {
	mu        sync.Mutex
	Mounted   int
	Unmounted []string
}

var _ panel.Notifier = (*RecordingNotifier)(nil)

func (n *RecordingNotifier) RecordMountedExternally() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Mounted++
}

func (n *RecordingNotifier) RecordUnmountedExternally(name, _, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Unmounted = append(n.Unmounted, name)
}

// Counts returns the notification counters.
func (n *RecordingNotifier) Counts() (mounted, unmounted int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.Mounted, len(n.Unmounted)
}
