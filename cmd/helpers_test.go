package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"ariaview/aria2"
	"ariaview/config"
	"ariaview/mock"
	"ariaview/services"
	"ariaview/types"
	ws "ariaview/websocket"
)

// TestHelper runs the full server stack against a fake aria2
type TestHelper struct {
	Server *httptest.Server
	Aria2  *mock.Aria2
	Engine *services.Engine
	Hub    ws.Hub
	Router *gin.Engine

	cancel context.CancelFunc
	done   chan struct{}
	client *aria2.Client
}

// NewTestHelper starts the engine, the hub and an HTTP server. Jobs given
// here are present in aria2 before the first poll.
func NewTestHelper(t *testing.T, jobs ...types.JobRecord) *TestHelper {
	t.Helper()

	// Setup gin in test mode
	gin.SetMode(gin.TestMode)

	fake := mock.NewAria2(t)
	for _, job := range jobs {
		fake.SetJob(job)
	}

	ctx, cancel := context.WithCancel(context.Background())
	client, err := aria2.Dial(ctx, aria2.Options{URL: fake.URL(), Timeout: time.Second})
	require.NoError(t, err)

	engine := services.NewEngine(services.ClientUpstream{Client: client}, config.Sync{
		PollInterval: 50 * time.Millisecond,
		PageSize:     100,
		MaxJobs:      1000,
		BackoffMin:   10 * time.Millisecond,
		BackoffMax:   50 * time.Millisecond,
	})
	hub := ws.NewHub()
	router := SetupRouter(engine, hub, nil)

	h := &TestHelper{
		Server: httptest.NewServer(router),
		Aria2:  fake,
		Engine: engine,
		Hub:    hub,
		Router: router,
		cancel: cancel,
		done:   make(chan struct{}),
		client: client,
	}

	go hub.Run(ctx)
	go func() {
		defer close(h.done)
		_ = engine.Run(ctx)
	}()

	t.Cleanup(h.Cleanup)
	return h
}

// Cleanup stops the server and every background loop
func (h *TestHelper) Cleanup() {
	h.cancel()
	<-h.done
	h.Server.Close()
	h.client.Close()
}

// WaitForJob waits until the published snapshot satisfies cond for gid
func (h *TestHelper) WaitForJob(t *testing.T, gid string, cond func(types.JobRecord, bool) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		job, ok := h.Engine.Job(gid)
		return cond(job, ok)
	}, 2*time.Second, 10*time.Millisecond)
}

// MakeRequest makes an HTTP request to the test server
func (h *TestHelper) MakeRequest(t *testing.T, method, path string, body interface{}) *http.Response {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequest(method, h.Server.URL+path, reqBody)
	require.NoError(t, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	return resp
}

// DoJSON makes a request and unmarshals the JSON response into target
func (h *TestHelper) DoJSON(t *testing.T, method, path string, requestBody, target interface{}) *http.Response {
	resp := h.MakeRequest(t, method, path, requestBody)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	defer resp.Body.Close()

	if target != nil {
		err = json.Unmarshal(body, target)
		require.NoError(t, err, string(body))
	}

	return resp
}

// GetJSON makes a GET request and unmarshals JSON response
func (h *TestHelper) GetJSON(t *testing.T, path string, target interface{}) *http.Response {
	return h.DoJSON(t, http.MethodGet, path, nil, target)
}

// PostJSON makes a POST request with JSON body and unmarshals JSON response
func (h *TestHelper) PostJSON(t *testing.T, path string, requestBody, target interface{}) *http.Response {
	return h.DoJSON(t, http.MethodPost, path, requestBody, target)
}

// ConnectWebSocket connects to a WebSocket endpoint
func (h *TestHelper) ConnectWebSocket(t *testing.T, path string) *websocket.Conn {
	wsURL := "ws" + h.Server.URL[4:] + path // Replace http:// with ws://

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

// ReadSnapshot reads the next snapshot message from conn
func ReadSnapshot(t *testing.T, conn *websocket.Conn) types.SnapshotMessage {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg types.SnapshotMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// ReadUntil reads snapshot messages until one satisfies cond
func ReadUntil(t *testing.T, conn *websocket.Conn, cond func(types.SnapshotMessage) bool) types.SnapshotMessage {
	t.Helper()

	for i := 0; i < 100; i++ {
		msg := ReadSnapshot(t, conn)
		if cond(msg) {
			return msg
		}
	}
	require.FailNow(t, "no matching snapshot")
	return types.SnapshotMessage{}
}

func job(gid string, status types.JobStatus, completed, total uint64) types.JobRecord {
	return types.JobRecord{
		GID:             gid,
		Status:          status,
		CompletedLength: types.Uint64(completed),
		TotalLength:     types.Uint64(total),
		Files:           []string{"/downloads/" + gid + ".iso"},
	}
}

func findJob(msg types.SnapshotMessage, gid string) (types.JobRecord, bool) {
	for _, j := range msg.Jobs {
		if j.GID == gid {
			return j, true
		}
	}
	return types.JobRecord{}, false
}
