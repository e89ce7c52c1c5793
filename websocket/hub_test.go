package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ariaview/broadcast"
	"ariaview/types"
)

type testServer struct {
	*httptest.Server
	hub Hub
	bus *broadcast.Broadcaster[types.Snapshot]
}

func newTestServer(t *testing.T, gid string) *testServer {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)

	initial := types.NewSnapshot(nil)
	initial.Version = 1
	ts := &testServer{hub: hub, bus: broadcast.New(initial)}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := GetUpgrader()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn, ts.bus.Subscribe(), gid)
		if hub.RegisterClient(client) {
			client.StartPumps()
		}
	}))

	t.Cleanup(func() {
		cancel()
		ts.bus.Close()
		ts.Close()
	})
	return ts
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (ts *testServer) publish(version uint64, recs ...types.JobRecord) {
	snap := types.NewSnapshot(recs)
	snap.Version = version
	ts.bus.Publish(snap)
}

func read(t *testing.T, conn *websocket.Conn) types.SnapshotMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg types.SnapshotMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestClientReceivesSnapshots(t *testing.T) {
	ts := newTestServer(t, "")
	conn := ts.dial(t)

	first := read(t, conn)
	assert.Equal(t, "snapshot", first.Type)
	assert.Equal(t, uint64(1), first.Version)
	assert.Empty(t, first.Jobs)

	ts.publish(2, types.JobRecord{GID: "a", Status: types.JobStatusActive})
	msg := read(t, conn)
	assert.Equal(t, uint64(2), msg.Version)
	require.Len(t, msg.Jobs, 1)
	assert.Equal(t, 1, msg.Total)
}

func TestClientFilteredByGID(t *testing.T) {
	ts := newTestServer(t, "a")
	ts.publish(2, types.JobRecord{GID: "a", Status: types.JobStatusActive}, types.JobRecord{GID: "b", Status: types.JobStatusActive})
	conn := ts.dial(t)

	first := read(t, conn)
	require.Len(t, first.Jobs, 1)
	assert.Equal(t, "a", first.Jobs[0].GID)

	// only b changes: nothing is sent
	ts.publish(3, types.JobRecord{GID: "a", Status: types.JobStatusActive}, types.JobRecord{GID: "b", Status: types.JobStatusPaused})
	ts.publish(4, types.JobRecord{GID: "a", Status: types.JobStatusComplete}, types.JobRecord{GID: "b", Status: types.JobStatusPaused})

	msg := read(t, conn)
	assert.Equal(t, uint64(4), msg.Version)
	assert.Equal(t, types.JobStatusComplete, msg.Jobs[0].Status)

	ts.publish(5, types.JobRecord{GID: "b", Status: types.JobStatusPaused})
	gone := read(t, conn)
	assert.Empty(t, gone.Jobs)
}

func TestHubCountsClients(t *testing.T) {
	ts := newTestServer(t, "")
	a := ts.dial(t)
	b := ts.dial(t)
	read(t, a)
	read(t, b)

	require.Eventually(t, func() bool { return ts.hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	a.Close()
	require.Eventually(t, func() bool { return ts.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestClientClosedWhenFeedEnds(t *testing.T) {
	ts := newTestServer(t, "")
	conn := ts.dial(t)
	read(t, conn)

	ts.bus.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestHubStopClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	cancel()
	<-done
	assert.False(t, hub.RegisterClient(&Client{}))
	hub.UnregisterClient(&Client{})
	assert.Zero(t, hub.ClientCount())
}
