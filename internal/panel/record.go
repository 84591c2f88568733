package panel

import (
	"context"
	"net/url"
	"strings"
)

// Record is one configured resource the operator can mount.
type Record struct {
	StorageID   string // persistence and vault key, immutable
	URL         string
	User        string
	Password    string // held in memory only
	AskPassword bool   // password is never persisted and is re-entered per mount

	Protocol    Protocol // ProtocolUnknown while not mounted
	MountedPath string
	MountedName string
}

// NewRecord returns an unmounted record with the given storage ID.
func NewRecord(storageID string) *Record {
	return &Record{StorageID: storageID}
}

// IsMounted reports whether a mount or status check populated the record.
func (r *Record) IsMounted() bool {
	return r.Protocol != ProtocolUnknown
}

// Clone returns a detached copy of r.
func (r *Record) Clone() *Record {
	c := *r
	return &c
}

// DisplayName returns the live mount name when mounted, otherwise the host
// and path of the URL.
func (r *Record) DisplayName() string {
	if r.IsMounted() && r.MountedName != "" {
		return r.MountedName
	}
	u, err := url.Parse(r.URL)
	if err != nil || u.Host == "" {
		return r.URL
	}
	return u.Host + strings.TrimSuffix(u.Path, "/")
}

// Mount mounts the record through t. When AskPassword is set, the staged
// password is dropped once the attempt is made, whatever its outcome.
func (r *Record) Mount(ctx context.Context, t *Transport) error {
	password := r.Password
	if r.AskPassword {
		r.Password = ""
	}

	info, err := t.Mount(ctx, r.URL, r.User, password)
	if err != nil {
		return err
	}
	r.setMounted(info)
	return nil
}

// Unmount unmounts the record through t. Unmounting a record that is not
// mounted is a no-op. If the backend says the resource is not mounted, the
// record's mount state is cleared and the error is still returned.
func (r *Record) Unmount(ctx context.Context, t *Transport) error {
	if !r.IsMounted() {
		return nil
	}
	if err := t.Unmount(ctx, r.URL); err != nil {
		if IsNotMounted(err) {
			r.clearMounted()
		}
		return err
	}
	r.clearMounted()
	return nil
}

// MountCheck refreshes the record's mount state from the backend and reports
// whether it is mounted.
func (r *Record) MountCheck(ctx context.Context, t *Transport) bool {
	info, ok := t.CheckMounted(ctx, r.URL)
	if !ok {
		r.clearMounted()
		return false
	}
	r.setMounted(info)
	return r.IsMounted()
}

// setMounted records a live mount. A scheme with no known protocol leaves
// the record unmounted so path and name never outlive the protocol.
func (r *Record) setMounted(info MountInfo) {
	p := ProtocolFromScheme(info.Scheme)
	if p == ProtocolUnknown {
		r.clearMounted()
		return
	}
	r.Protocol = p
	r.MountedPath = info.Path
	r.MountedName = info.Name
}

func (r *Record) clearMounted() {
	r.Protocol = ProtocolUnknown
	r.MountedPath = ""
	r.MountedName = ""
}

// sameMount reports whether the record is the live mount described by an
// external unmount event.
func (r *Record) sameMount(name, path, scheme string) bool {
	if !r.IsMounted() || r.MountedName != name {
		return false
	}
	if r.Protocol != ProtocolFromScheme(scheme) {
		return false
	}
	return path == "" || strings.HasPrefix(r.MountedPath, path)
}
