package gvfs

import (
	"context"
	"errors"

	"github.com/godbus/dbus/v5"

	"vfspanel/internal/panel"
)

// TrackerWatcher reports the Mounted and Unmounted signals of the GVFS
// mount tracker as mount events.
type TrackerWatcher struct {
	client *Client
}

var _ panel.Watcher = (*TrackerWatcher)(nil)

// Watcher returns a watcher sharing c's bus connection.
func (c *Client) Watcher() *TrackerWatcher {
	return &TrackerWatcher{client: c}
}

func (w *TrackerWatcher) Watch(ctx context.Context, handle func(panel.MountEvent)) error {
	conn := w.client.conn
	match := []dbus.MatchOption{
		dbus.WithMatchObjectPath(trackerPath),
		dbus.WithMatchInterface(trackerIface),
	}
	if err := conn.AddMatchSignal(match...); err != nil {
		return err
	}
	defer conn.RemoveMatchSignal(match...)

	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok || sig == nil {
				return errors.New("session bus connection closed")
			}
			if sig.Path != trackerPath {
				continue
			}
			var kind panel.EventKind
			switch sig.Name {
			case trackerIface + ".Mounted":
				kind = panel.EventAdded
			case trackerIface + ".Unmounted":
				kind = panel.EventRemoved
			default:
				continue
			}

			var m mountInfo
			if err := dbus.Store(sig.Body, &m); err != nil {
				w.client.logger.Warn("malformed mount tracker signal", "signal", sig.Name, "error", err)
				continue
			}
			if !m.UserVisible && kind == panel.EventAdded {
				continue
			}
			info := w.client.toPanel(m)
			handle(panel.MountEvent{Kind: kind, Name: info.Name, Path: info.Path, Scheme: info.Scheme})
		}
	}
}
