package gvfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpecFromURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		url     string
		want    MountSpec
		scheme  string
		wantErr bool
	}{
		{
			url:    "smb://NAS/Public/docs",
			want:   MountSpec{Prefix: "/", Items: map[string]string{"type": "smb-share", "server": "nas", "share": "public"}},
			scheme: "smb",
		},
		{
			url:    "smb://CORP;bob@nas/",
			want:   MountSpec{Prefix: "/", Items: map[string]string{"type": "smb-server", "server": "nas", "domain": "CORP", "user": "bob"}},
			scheme: "smb",
		},
		{
			url:    "sftp://bob@host:2222/home/bob",
			want:   MountSpec{Prefix: "/", Items: map[string]string{"type": "sftp", "host": "host", "user": "bob", "port": "2222"}},
			scheme: "sftp",
		},
		{
			url:    "ftp://files.example.com/pub",
			want:   MountSpec{Prefix: "/", Items: map[string]string{"type": "ftp", "host": "files.example.com"}},
			scheme: "ftp",
		},
		{
			url:    "davs://cloud.example.com/remote.php/webdav/",
			want:   MountSpec{Prefix: "/remote.php/webdav", Items: map[string]string{"type": "dav", "host": "cloud.example.com", "ssl": "true"}},
			scheme: "davs",
		},
		{url: "file:///home/bob", wantErr: true},
		{url: "nfs://host/export", wantErr: true},
		{url: "://bad", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := SpecFromURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.scheme, got.Scheme())
		})
	}
}

func TestMountSpec_StableNameRoundTrip(t *testing.T) {
	t.Parallel()
	spec, err := SpecFromURL("sftp://bob@example.com:2222/")
	require.NoError(t, err)
	assert.Equal(t, "sftp:host=example.com,port=2222,user=bob", spec.String())

	parsed, ok := ParseStableName(spec.String())
	require.True(t, ok)
	assert.Equal(t, spec, parsed)

	_, ok = ParseStableName("lost+found")
	assert.False(t, ok)
}

func TestMountSpec_WireRoundTrip(t *testing.T) {
	t.Parallel()
	spec, err := SpecFromURL("dav://host/files")
	require.NoError(t, err)
	assert.Equal(t, spec, specFromWire(spec.wire()))
}

func TestMountSpec_Matches(t *testing.T) {
	t.Parallel()
	mustSpec := func(url string) MountSpec {
		s, err := SpecFromURL(url)
		require.NoError(t, err)
		return s
	}
	live := mustSpec("smb://nas/public")

	assert.True(t, mustSpec("smb://NAS/Public/sub/dir").Matches(live))
	assert.True(t, mustSpec("smb://bob@nas/public").Matches(live), "user only matters when both name one")
	assert.False(t, mustSpec("smb://nas/private").Matches(live))
	assert.False(t, mustSpec("smb://nas/").Matches(live))
	assert.False(t, mustSpec("smb://bob@nas/public").Matches(mustSpec("smb://alice@nas/public")))

	dav := mustSpec("dav://host/files")
	assert.True(t, mustSpec("dav://host/files/docs").Matches(dav))
	assert.False(t, mustSpec("dav://host/other").Matches(dav))
}
