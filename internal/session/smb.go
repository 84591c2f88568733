package session

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudsoda/go-smb2"

	"vfspanel/internal/panel"
)

// NT status codes the dialer tells apart.
const (
	statusAccessDenied   = 0xC0000022
	statusLogonFailure   = 0xC000006D
	statusBadNetworkName = 0xC00000CC
)

// SMBDialer opens SMB2/3 sessions. A target with a share gets the share
// mounted as well, so a missing share fails the mount.
type SMBDialer struct{}

var _ Dialer = SMBDialer{}

func (SMBDialer) Dial(ctx context.Context, t Target, _ *panel.Operation) (io.Closer, error) {
	d := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     t.User,
			Password: t.Password,
			Domain:   t.Domain,
		},
	}
	s, err := d.Dial(ctx, t.Addr("445"))
	if err != nil {
		return nil, smbError(t, err)
	}
	conn := &smbConn{session: s}
	if t.Share == "" {
		return conn, nil
	}

	share, err := s.Mount(t.Share)
	if err != nil {
		_ = s.Logoff()
		return nil, smbError(t, err)
	}
	conn.share = share
	return conn, nil
}

func (SMBDialer) Prompt(t Target) (string, panel.AskPasswordFlags) {
	name := t.Host
	if t.Share != "" {
		name = t.Share + " on " + t.Host
	}
	return fmt.Sprintf("Password required for share %s", name),
		panel.NeedPassword | panel.NeedUsername | panel.NeedDomain | panel.AnonymousSupported
}

func smbError(t Target, err error) error {
	var re *smb2.ResponseError
	if !errors.As(err, &re) {
		return err
	}
	switch re.Code {
	case statusLogonFailure, statusAccessDenied:
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	case statusBadNetworkName:
		return panel.NewBackendError(ErrorDomain, panel.CodeNotFound, err, "share %q not found on %s", t.Share, t.Host)
	default:
		return err
	}
}

type smbConn struct {
	session *smb2.Session
	share   *smb2.Share
}

func (c *smbConn) Close() error {
	var errs []error
	if c.share != nil {
		if err := c.share.Umount(); err != nil {
			errs = append(errs, fmt.Errorf("unmounting share: %w", err))
		}
	}
	if err := c.session.Logoff(); err != nil {
		errs = append(errs, fmt.Errorf("logging off: %w", err))
	}
	return errors.Join(errs...)
}
