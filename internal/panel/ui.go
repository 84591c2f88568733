package panel

// UI is the interactive surface the shell provides to mount operations.
type UI interface {
	// ChooseOption shows message with the given choices and returns the
	// selected index, or -1 if the operator aborted.
	ChooseOption(message string, choices []string, defaultIndex int) int
}

// CredentialRequest asks the operator for the fields named by Flags.
type CredentialRequest struct {
	Message string
	User    string
	Domain  string
	Flags   AskPasswordFlags
}

// Credentials are the operator's answer to a CredentialRequest.
type Credentials struct {
	User     string
	Domain   string
	Password string
}

// CredentialPrompter is implemented by UIs that can collect credentials in
// the middle of a mount. The bool result is false when the operator cancels.
type CredentialPrompter interface {
	EnterCredentials(req CredentialRequest) (Credentials, bool)
}

// Notifier receives reconciliation results so the shell can refresh.
type Notifier interface {
	RecordMountedExternally()
	RecordUnmountedExternally(name, path, scheme string)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) RecordMountedExternally()                         {}
func (NopNotifier) RecordUnmountedExternally(string, string, string) {}
