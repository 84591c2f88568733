package panel

import "context"

// CredentialVault keeps record passwords in a secret store instead of the
// record itself. Every call blocks until the underlying store has answered.
// An instance handles one call at a time.
type CredentialVault interface {
	// Store saves password under id, replacing any previous secret.
	Store(ctx context.Context, id, password string) error

	// Load returns the secret stored under id. found is false, with a nil
	// error, when there is no such secret.
	Load(ctx context.Context, id string) (password string, found bool, err error)

	// Remove deletes the secret stored under id. A missing secret is not an
	// error.
	Remove(ctx context.Context, id string) error
}
