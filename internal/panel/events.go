package panel

import "context"

// EventKind classifies a mount notification.
type EventKind int

const (
	EventAdded EventKind = iota
	EventRemoved
	EventPreUnmount
	EventChanged
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventRemoved:
		return "removed"
	case EventPreUnmount:
		return "pre-unmount"
	case EventChanged:
		return "changed"
	default:
		return "unknown"
	}
}

// MountEvent is a mount change observed outside of the operator's actions.
type MountEvent struct {
	Kind   EventKind
	Name   string
	Path   string
	Scheme string
}

// Watcher is a source of mount notifications. Watch runs the source's event
// loop on the calling goroutine, calling handle for every event, until ctx is
// done or the source fails.
type Watcher interface {
	Watch(ctx context.Context, handle func(MountEvent)) error
}

// Reconciler merges external mount changes into the resource table.
type Reconciler interface {
	// RecordsMounted status-checks every record that is not mounted.
	RecordsMounted(ctx context.Context)

	// RecordUnmounted unmounts the records matching an external unmount.
	RecordUnmounted(ctx context.Context, name, path, scheme string)
}
