package services

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ariaview/aria2"
	"ariaview/types"
)

func newTestGateway(up *fakeUpstream) (*Gateway, *Store, *countingRefresher) {
	store := NewStore()
	refresher := &countingRefresher{}
	return NewGateway(up, store, refresher), store, refresher
}

func TestGatewayAddURIObservesNewJob(t *testing.T) {
	up := newFakeUpstream()
	up.addGID = "2089b05ecca3d829"
	up.setStatus(rec("2089b05ecca3d829", types.JobStatusWaiting))

	g, store, refresher := newTestGateway(up)
	defer store.Close()

	gid, err := g.AddURI(context.Background(), "  https://example.com/file.iso ")
	require.NoError(t, err)
	assert.Equal(t, "2089b05ecca3d829", gid)

	got, ok := store.Read().Get(gid)
	require.True(t, ok)
	assert.Equal(t, types.JobStatusWaiting, got.Status)
	assert.Equal(t, int32(1), refresher.n.Load())
	assert.Equal(t, []string{"addUri", "tellStatus:2089b05ecca3d829"}, up.Calls())
}

func TestGatewayAddURIValidation(t *testing.T) {
	tests := []struct {
		name  string
		uri   string
		valid bool
	}{
		{"http", "http://example.com/a", true},
		{"https", "https://example.com/a", true},
		{"ftp", "ftp://mirror.example.com/pub/x.tar", true},
		{"sftp", "sftp://host/file", true},
		{"magnet", "magnet:?xt=urn:btih:c12fe1c06bba254a9dc9f519b335aa7c1367a88a", true},
		{"upper case scheme", "HTTPS://example.com/a", true},
		{"empty", "", false},
		{"blank", "   ", false},
		{"no scheme", "example.com/file", false},
		{"file scheme", "file:///etc/passwd", false},
		{"missing host", "http:///path", false},
		{"garbage", "://", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := newFakeUpstream()
			up.addGID = "0000000000000001"
			up.setStatus(rec("0000000000000001", types.JobStatusWaiting))
			g, store, _ := newTestGateway(up)
			defer store.Close()

			_, err := g.AddURI(context.Background(), tt.uri)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, "uri", verr.Field)
			assert.Empty(t, up.Calls(), "invalid input must not reach aria2")
		})
	}
}

func TestGatewayAddFailureLeavesSnapshot(t *testing.T) {
	up := newFakeUpstream()
	up.addErr = &aria2.RPCError{Code: 1, Message: "No URI to download."}

	g, store, refresher := newTestGateway(up)
	defer store.Close()

	_, err := g.AddURI(context.Background(), "https://example.com/a")
	require.Error(t, err)
	assert.True(t, aria2.IsRPCError(err))
	assert.Equal(t, uint64(1), store.Version())
	assert.Zero(t, refresher.n.Load())
}

func TestGatewayAddSucceedsWhenObserveFails(t *testing.T) {
	up := newFakeUpstream()
	up.addGID = "abc"
	up.setStatusErr("abc", errors.New("timeout"))

	g, store, refresher := newTestGateway(up)
	defer store.Close()

	gid, err := g.AddURI(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, "abc", gid)
	assert.False(t, store.Read().Has("abc"))
	assert.Equal(t, int32(1), refresher.n.Load())
}

func TestGatewayAddTorrent(t *testing.T) {
	up := newFakeUpstream()
	up.addGID = "beef"
	up.setStatus(rec("beef", types.JobStatusActive))

	g, store, _ := newTestGateway(up)
	defer store.Close()

	gid, err := g.AddTorrent(context.Background(), []byte("d8:announce0:e"))
	require.NoError(t, err)
	assert.Equal(t, "beef", gid)
	assert.True(t, store.Read().Has("beef"))
}

func TestGatewayAddTorrentValidation(t *testing.T) {
	for name, payload := range map[string][]byte{
		"empty":        nil,
		"not bencoded": []byte("<html>"),
	} {
		t.Run(name, func(t *testing.T) {
			up := newFakeUpstream()
			g, store, _ := newTestGateway(up)
			defer store.Close()

			_, err := g.AddTorrent(context.Background(), payload)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, "torrent", verr.Field)
			assert.Empty(t, up.Calls())
		})
	}
}

func TestGatewayRemoveSwallowsResultFailure(t *testing.T) {
	up := newFakeUpstream()
	up.removeResErr = &aria2.RPCError{Code: 1, Message: "Could not remove download result"}

	g, store, refresher := newTestGateway(up)
	defer store.Close()
	store.Propose(snapshotOf(rec("abc", types.JobStatusActive)))
	version := store.Version()

	require.NoError(t, g.Remove(context.Background(), "abc"))
	assert.Equal(t, []string{"removeDownloadResult:abc", "forceRemove:abc"}, up.Calls())
	assert.Equal(t, int32(1), refresher.n.Load())

	// the snapshot catches up on the next reconciliation, not here
	assert.Equal(t, version, store.Version())
	assert.True(t, store.Read().Has("abc"))
}

func TestGatewayRemoveSurfacesForceRemoveFailure(t *testing.T) {
	up := newFakeUpstream()
	up.forceRemoveErr = &aria2.RPCError{Code: 1, Message: "Active Download not found for GID#abc"}

	g, store, refresher := newTestGateway(up)
	defer store.Close()

	err := g.Remove(context.Background(), "abc")
	require.Error(t, err)
	assert.True(t, aria2.IsRPCError(err))
	assert.Contains(t, err.Error(), "abc")
	assert.Zero(t, refresher.n.Load())
}

func TestGatewayRemoveRequiresGID(t *testing.T) {
	up := newFakeUpstream()
	g, store, _ := newTestGateway(up)
	defer store.Close()

	err := g.Remove(context.Background(), " ")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Empty(t, up.Calls())
}
