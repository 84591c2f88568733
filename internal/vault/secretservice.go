package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"

	"vfspanel/internal/panel"
	"vfspanel/internal/syncutil"
)

const (
	secretsService    = "org.freedesktop.secrets"
	secretsPath       = "/org/freedesktop/secrets"
	serviceInterface  = "org.freedesktop.Secret.Service"
	itemInterface     = "org.freedesktop.Secret.Item"
	collectionIface   = "org.freedesktop.Secret.Collection"
	promptInterface   = "org.freedesktop.Secret.Prompt"
	defaultCollection = dbus.ObjectPath("/org/freedesktop/secrets/aliases/default")

	// SchemaName tags every item the panel creates.
	SchemaName = "io.vfspanel.Password"
	itemLabel  = "vfspanel password record"
)

// noPrompt is the object path the service returns when no prompt is needed.
const noPrompt = dbus.ObjectPath("/")

// ErrPromptDismissed is returned when the operator dismisses an unlock or
// confirmation prompt of the secret service.
var ErrPromptDismissed = errors.New("secret service prompt dismissed")

// secretBus is the part of *dbus.Conn the vault talks through.
type secretBus interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	AddMatchSignal(options ...dbus.MatchOption) error
	RemoveMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	Close() error
}

// secret is the Secret Service wire struct (oayays).
type secret struct {
	Session     dbus.ObjectPath
	Parameters  []byte
	Value       []byte
	ContentType string
}

// SecretServiceVault stores passwords in the desktop keyring through the
// freedesktop Secret Service API on the session bus. Items are found by
// their schema and id attributes. Calls are serialized per instance.
type SecretServiceVault struct {
	bus    secretBus
	logger panel.Logger

	mu      syncutil.Mutex
	session dbus.ObjectPath
}

var _ panel.CredentialVault = (*SecretServiceVault)(nil)

// NewSecretServiceVault connects to the session bus.
func NewSecretServiceVault(logger panel.Logger) (*SecretServiceVault, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session D-Bus: %w", err)
	}
	return newSecretServiceVault(conn, logger), nil
}

func newSecretServiceVault(bus secretBus, logger panel.Logger) *SecretServiceVault {
	if logger == nil {
		logger = panel.NewNopLogger()
	}
	return &SecretServiceVault{bus: bus, logger: logger}
}

// Close releases the bus connection.
func (v *SecretServiceVault) Close() error {
	return v.bus.Close()
}

// Store creates or replaces the item for id in the default collection.
func (v *SecretServiceVault) Store(ctx context.Context, id, password string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	session, err := v.openSession(ctx)
	if err != nil {
		return err
	}
	if _, err := v.unlock(ctx, []dbus.ObjectPath{defaultCollection}); err != nil {
		return fmt.Errorf("unlocking default collection: %w", err)
	}

	props := map[string]dbus.Variant{
		itemInterface + ".Label":      dbus.MakeVariant(itemLabel),
		itemInterface + ".Attributes": dbus.MakeVariant(itemAttributes(id)),
	}
	sec := secret{
		Session:     session,
		Parameters:  []byte{},
		Value:       []byte(password),
		ContentType: "text/plain",
	}

	call, err := v.call(ctx, v.bus.Object(secretsService, defaultCollection),
		collectionIface+".CreateItem", props, sec, true)
	if err != nil {
		return fmt.Errorf("storing secret %s: %w", id, err)
	}
	var item, prompt dbus.ObjectPath
	if err := call.Store(&item, &prompt); err != nil {
		return fmt.Errorf("storing secret %s: %w", id, err)
	}
	if prompt != noPrompt {
		if _, err := v.prompt(ctx, prompt); err != nil {
			return fmt.Errorf("storing secret %s: %w", id, err)
		}
	}
	v.logger.Debug("secret stored", "id", id)
	return nil
}

// Load looks up the item for id and returns its secret.
func (v *SecretServiceVault) Load(ctx context.Context, id string) (string, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	items, err := v.search(ctx, id)
	if err != nil {
		return "", false, err
	}
	if len(items) == 0 {
		return "", false, nil
	}

	session, err := v.openSession(ctx)
	if err != nil {
		return "", false, err
	}
	call, err := v.call(ctx, v.bus.Object(secretsService, items[0]), itemInterface+".GetSecret", session)
	if err != nil {
		return "", false, fmt.Errorf("reading secret %s: %w", id, err)
	}
	var sec secret
	if err := call.Store(&sec); err != nil {
		return "", false, fmt.Errorf("reading secret %s: %w", id, err)
	}
	return string(sec.Value), true, nil
}

// Remove deletes every item for id.
func (v *SecretServiceVault) Remove(ctx context.Context, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	items, err := v.search(ctx, id)
	if err != nil {
		return err
	}
	for _, item := range items {
		call, err := v.call(ctx, v.bus.Object(secretsService, item), itemInterface+".Delete")
		if err != nil {
			return fmt.Errorf("removing secret %s: %w", id, err)
		}
		var prompt dbus.ObjectPath
		if err := call.Store(&prompt); err != nil {
			return fmt.Errorf("removing secret %s: %w", id, err)
		}
		if prompt != noPrompt {
			if _, err := v.prompt(ctx, prompt); err != nil {
				return fmt.Errorf("removing secret %s: %w", id, err)
			}
		}
	}
	return nil
}

// search returns the items carrying id, unlocking locked ones first.
func (v *SecretServiceVault) search(ctx context.Context, id string) ([]dbus.ObjectPath, error) {
	call, err := v.call(ctx, v.service(), serviceInterface+".SearchItems", itemAttributes(id))
	if err != nil {
		return nil, fmt.Errorf("searching secret %s: %w", id, err)
	}
	var unlocked, locked []dbus.ObjectPath
	if err := call.Store(&unlocked, &locked); err != nil {
		return nil, fmt.Errorf("searching secret %s: %w", id, err)
	}
	if len(locked) == 0 {
		return unlocked, nil
	}

	opened, err := v.unlock(ctx, locked)
	if err != nil {
		return nil, fmt.Errorf("unlocking secret %s: %w", id, err)
	}
	return append(unlocked, opened...), nil
}

// openSession negotiates a plain transfer session once per instance.
func (v *SecretServiceVault) openSession(ctx context.Context) (dbus.ObjectPath, error) {
	if v.session != "" {
		return v.session, nil
	}
	call, err := v.call(ctx, v.service(), serviceInterface+".OpenSession", "plain", dbus.MakeVariant(""))
	if err != nil {
		return "", fmt.Errorf("opening secret service session: %w", err)
	}
	var output dbus.Variant
	var session dbus.ObjectPath
	if err := call.Store(&output, &session); err != nil {
		return "", fmt.Errorf("opening secret service session: %w", err)
	}
	v.session = session
	return session, nil
}

// unlock unlocks objects, going through a prompt when the service asks for
// one, and returns the objects that ended up unlocked.
func (v *SecretServiceVault) unlock(ctx context.Context, objects []dbus.ObjectPath) ([]dbus.ObjectPath, error) {
	call, err := v.call(ctx, v.service(), serviceInterface+".Unlock", objects)
	if err != nil {
		return nil, err
	}
	var unlocked []dbus.ObjectPath
	var prompt dbus.ObjectPath
	if err := call.Store(&unlocked, &prompt); err != nil {
		return nil, err
	}
	if prompt == noPrompt {
		return unlocked, nil
	}

	result, err := v.prompt(ctx, prompt)
	if err != nil {
		return nil, err
	}
	more, ok := result.Value().([]dbus.ObjectPath)
	if !ok {
		return unlocked, nil
	}
	return append(unlocked, more...), nil
}

// prompt shows a service prompt and waits for its Completed signal.
func (v *SecretServiceVault) prompt(ctx context.Context, path dbus.ObjectPath) (dbus.Variant, error) {
	match := []dbus.MatchOption{
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(promptInterface),
		dbus.WithMatchMember("Completed"),
	}
	if err := v.bus.AddMatchSignal(match...); err != nil {
		return dbus.Variant{}, fmt.Errorf("watching prompt %s: %w", path, err)
	}
	defer func() {
		if err := v.bus.RemoveMatchSignal(match...); err != nil {
			v.logger.Debug("removing prompt signal match", "prompt", string(path), "error", err)
		}
	}()

	signals := make(chan *dbus.Signal, 4)
	v.bus.Signal(signals)
	defer v.bus.RemoveSignal(signals)

	v.logger.Info("waiting for secret service prompt", "prompt", string(path))
	if _, err := v.call(ctx, v.bus.Object(secretsService, path), promptInterface+".Prompt", ""); err != nil {
		return dbus.Variant{}, fmt.Errorf("showing prompt %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			v.bus.Object(secretsService, path).Go(promptInterface+".Dismiss", dbus.FlagNoReplyExpected, nil)
			return dbus.Variant{}, ctx.Err()
		case sig := <-signals:
			if sig == nil || sig.Path != path || sig.Name != promptInterface+".Completed" {
				continue
			}
			if len(sig.Body) < 2 {
				return dbus.Variant{}, fmt.Errorf("malformed Completed signal from %s", path)
			}
			if dismissed, _ := sig.Body[0].(bool); dismissed {
				return dbus.Variant{}, ErrPromptDismissed
			}
			result, _ := sig.Body[1].(dbus.Variant)
			return result, nil
		}
	}
}

// call issues an asynchronous method call and waits for its reply or for
// ctx to end.
func (v *SecretServiceVault) call(ctx context.Context, obj dbus.BusObject, method string, args ...any) (*dbus.Call, error) {
	call := obj.Go(method, 0, make(chan *dbus.Call, 1), args...)
	if call.Err != nil {
		return nil, call.Err
	}
	select {
	case done := <-call.Done:
		if done.Err != nil {
			return nil, done.Err
		}
		return done, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (v *SecretServiceVault) service() dbus.BusObject {
	return v.bus.Object(secretsService, secretsPath)
}

func itemAttributes(id string) map[string]string {
	return map[string]string{
		"xdg:schema": SchemaName,
		"id":         id,
	}
}
