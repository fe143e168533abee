package downloader

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/acquire/internal/config"
	"github.com/slipstream/acquire/internal/downloader/types"
	"github.com/slipstream/acquire/internal/httpclient"
	"github.com/slipstream/acquire/internal/release"
	"github.com/slipstream/acquire/internal/slskd"
)

type stubClient struct {
	typ    Type
	status *release.CompletionStatus
}

func (s *stubClient) Type() Type         { return s.typ }
func (s *stubClient) Kind() release.Kind { return s.typ.Kind() }
func (s *stubClient) Add(context.Context, *AddRequest) (*AddResult, error) {
	return &AddResult{}, nil
}
func (s *stubClient) CheckCompleted(context.Context, string) *release.CompletionStatus {
	return s.status
}

type nopTransfers struct{}

func (nopTransfers) Enqueue(context.Context, string, []slskd.File) error { return nil }
func (nopTransfers) Downloads(context.Context, string) (*slskd.UserTransfers, error) {
	return nil, nil
}
func (nopTransfers) Cancel(context.Context, string, string, bool) error { return nil }

func TestRegistry_ForKind(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	sab := &stubClient{typ: TypeSABnzbd}
	qbt := &stubClient{typ: TypeQBittorrent}
	reg.Register(sab)
	reg.Register(qbt)

	c, ok := reg.For(release.KindUsenet)
	require.True(t, ok)
	assert.Same(t, sab, c)

	c, ok = reg.For(release.KindMagnet)
	require.True(t, ok)
	assert.Same(t, qbt, c)

	assert.False(t, reg.Has(release.KindPeerShare))
	assert.Equal(t, []Type{TypeSABnzbd, TypeQBittorrent}, reg.Types())
}

func TestRegistry_RegisterReplacesSameKind(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	reg.Register(&stubClient{typ: TypeTransmission})
	reg.Register(&stubClient{typ: TypeDeluge})

	_, ok := reg.Get(TypeTransmission)
	assert.False(t, ok)
	c, ok := reg.For(release.KindTorrent)
	require.True(t, ok)
	assert.Equal(t, TypeDeluge, c.Type())
	assert.Equal(t, []Type{TypeDeluge}, reg.Types())
}

func TestRegistry_Resolve(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	reg.Register(&stubClient{typ: TypeSABnzbd})
	reg.Register(&stubClient{typ: TypeQBittorrent})

	tests := []struct {
		name string
		want Type
		ok   bool
	}{
		{"qBittorrent", TypeQBittorrent, true},
		{"SABnzbd", TypeSABnzbd, true},
		{"sab", TypeSABnzbd, true},
		{"qbit", TypeQBittorrent, true},
		{"deluge", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := reg.Resolve(tt.name)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, c.Type())
			}
		})
	}
}

func TestRegistry_CheckCompleted(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	want := &release.CompletionStatus{Completed: true, Progress: 1, Status: "Completed", Name: "Album"}
	reg.Register(&stubClient{typ: TypeSABnzbd, status: want})

	st, err := reg.CheckCompleted(context.Background(), TypeSABnzbd, "nzo")
	require.NoError(t, err)
	assert.Equal(t, want, st)

	_, err = reg.CheckCompleted(context.Background(), TypeNZBGet, "1")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestFromConfig(t *testing.T) {
	deps := Deps{
		HTTP:      httpclient.New(httpclient.Config{}, zerolog.Nop()),
		Transfers: nopTransfers{},
		Logger:    zerolog.Nop(),
	}

	cfg := &config.Config{}
	cfg.Downloaders.Usenet = config.ClientConfig{Type: "blackhole", Dir: t.TempDir()}
	cfg.Downloaders.Torrent = config.ClientConfig{Type: "transmission", Host: "localhost:9091"}
	cfg.Indexers.Soulseek = config.SoulseekConfig{Enabled: true, APIURL: "http://slskd", APIKey: "k", DownloadDir: "/d", IncompleteDir: "/i"}

	reg, err := FromConfig(cfg, deps)
	require.NoError(t, err)
	assert.Equal(t, []Type{TypeBlackholeNZB, TypeTransmission, TypeSoulseek}, reg.Types())

	cfg.Downloaders.Torrent = config.ClientConfig{Type: "sabnzbd"}
	_, err = FromConfig(cfg, deps)
	assert.ErrorIs(t, err, types.ErrUnsupported)

	cfg.Downloaders.Torrent = config.ClientConfig{Type: "rtorrent"}
	_, err = FromConfig(cfg, deps)
	assert.ErrorIs(t, err, types.ErrUnsupported)
}
