// Package mock provides an in-memory aria2 that speaks JSON-RPC over
// WebSocket, so tests can run without a real aria2 daemon.
package mock

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"ariaview/types"
)

const (
	QueueActive  = "active"
	QueueWaiting = "waiting"
	QueueStopped = "stopped"
)

type entry struct {
	queue string
	raw   json.RawMessage
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcRequest struct {
	ID     string            `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// Aria2 is a fake aria2 daemon. Jobs are kept in three ordered queues and
// follow aria2's rules for removal: forceRemove only works on active or
// waiting jobs, removeDownloadResult only on stopped ones.
type Aria2 struct {
	Server *httptest.Server
	Secret string

	mu       sync.Mutex
	jobs     map[string]*entry
	order    []string
	conns    map[*websocket.Conn]*sync.Mutex
	calls    []string
	failures map[string]rpcError
	nextGID  int
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewAria2 starts a fake aria2 that is shut down when the test ends
func NewAria2(t testing.TB) *Aria2 {
	a := &Aria2{
		jobs:     make(map[string]*entry),
		conns:    make(map[*websocket.Conn]*sync.Mutex),
		failures: make(map[string]rpcError),
	}
	a.Server = httptest.NewServer(http.HandlerFunc(a.serve))
	t.Cleanup(func() {
		a.DropConnections()
		a.Server.Close()
	})
	return a
}

// URL returns the ws:// address of the JSON-RPC endpoint
func (a *Aria2) URL() string {
	return "ws" + strings.TrimPrefix(a.Server.URL, "http") + "/jsonrpc"
}

// SetJob inserts or replaces a job; its queue follows from its status
func (a *Aria2) SetJob(rec types.JobRecord) {
	raw, err := json.Marshal(rec)
	if err != nil {
		panic(err)
	}
	a.SetRaw(rec.GID, queueFor(rec.Status), raw)
}

// SetRaw stores an arbitrary record, which may be malformed on purpose
func (a *Aria2) SetRaw(gid, queue string, raw json.RawMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.jobs[gid]; !ok {
		a.order = append(a.order, gid)
	}
	a.jobs[gid] = &entry{queue: queue, raw: raw}
}

// Forget removes a job from every queue without notifying anyone
func (a *Aria2) Forget(gid string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.forgetLocked(gid)
}

// Job returns the stored record for gid
func (a *Aria2) Job(gid string) (types.JobRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.jobs[gid]
	if !ok {
		return types.JobRecord{}, false
	}
	rec, err := types.DecodeJob(e.raw)
	return rec, err == nil
}

// Fail makes every call to method return an aria2 error until Recover
func (a *Aria2) Fail(method string, code int, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[method] = rpcError{Code: code, Message: message}
}

// Recover clears a failure installed with Fail
func (a *Aria2) Recover(method string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.failures, method)
}

// Calls returns the methods called so far, in order
func (a *Aria2) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

// CallCount returns how often method was called
func (a *Aria2) CallCount(method string) int {
	n := 0
	for _, c := range a.Calls() {
		if c == method {
			n++
		}
	}
	return n
}

// Connections returns the number of open client connections
func (a *Aria2) Connections() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.conns)
}

// Notify pushes a notification for gid to every connected client
func (a *Aria2) Notify(method, gid string) {
	msg := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  []map[string]string{{"gid": gid}},
	}

	a.mu.Lock()
	conns := make(map[*websocket.Conn]*sync.Mutex, len(a.conns))
	for c, m := range a.conns {
		conns[c] = m
	}
	a.mu.Unlock()

	for c, m := range conns {
		m.Lock()
		_ = c.WriteJSON(msg)
		m.Unlock()
	}
}

// DropConnections closes every client connection, simulating an outage
func (a *Aria2) DropConnections() {
	a.mu.Lock()
	conns := a.conns
	a.conns = make(map[*websocket.Conn]*sync.Mutex)
	a.mu.Unlock()

	for c := range conns {
		c.Close()
	}
}

func (a *Aria2) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	writeMu := &sync.Mutex{}

	a.mu.Lock()
	a.conns[conn] = writeMu
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.conns, conn)
		a.mu.Unlock()
		conn.Close()
	}()

	for {
		var req rpcRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		result, rerr := a.handle(req)
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rerr != nil {
			resp["error"] = rerr
		} else {
			resp["result"] = result
		}

		writeMu.Lock()
		err := conn.WriteJSON(resp)
		writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

func (a *Aria2) handle(req rpcRequest) (interface{}, *rpcError) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls = append(a.calls, req.Method)

	params := req.Params
	if a.Secret != "" {
		if len(params) == 0 || string(params[0]) != fmt.Sprintf("%q", "token:"+a.Secret) {
			return nil, &rpcError{Code: 1, Message: "Unauthorized"}
		}
		params = params[1:]
	}

	if f, ok := a.failures[req.Method]; ok {
		return nil, &f
	}

	switch req.Method {
	case "aria2.tellActive":
		return a.listLocked(QueueActive, 0, len(a.order)), nil

	case "aria2.tellWaiting", "aria2.tellStopped":
		var offset, num int
		if len(params) < 2 || json.Unmarshal(params[0], &offset) != nil || json.Unmarshal(params[1], &num) != nil {
			return nil, &rpcError{Code: 1, Message: "Bad offset/num"}
		}
		queue := QueueWaiting
		if req.Method == "aria2.tellStopped" {
			queue = QueueStopped
		}
		return a.listLocked(queue, offset, num), nil

	case "aria2.tellStatus":
		gid, err := stringParam(params)
		if err != nil {
			return nil, err
		}
		e, ok := a.jobs[gid]
		if !ok {
			return nil, notFound(gid)
		}
		return e.raw, nil

	case "aria2.addUri":
		var uris []string
		if len(params) < 1 || json.Unmarshal(params[0], &uris) != nil || len(uris) == 0 {
			return nil, &rpcError{Code: 1, Message: "URI is not provided"}
		}
		return a.addLocked(), nil

	case "aria2.addTorrent":
		encoded, err := stringParam(params)
		if err != nil {
			return nil, err
		}
		if _, derr := base64.StdEncoding.DecodeString(encoded); derr != nil {
			return nil, &rpcError{Code: 1, Message: "Bad torrent data"}
		}
		return a.addLocked(), nil

	case "aria2.removeDownloadResult":
		gid, err := stringParam(params)
		if err != nil {
			return nil, err
		}
		e, ok := a.jobs[gid]
		if !ok || e.queue != QueueStopped {
			return nil, &rpcError{Code: 1, Message: fmt.Sprintf("Could not remove download result of GID#%s", gid)}
		}
		a.forgetLocked(gid)
		return "OK", nil

	case "aria2.forceRemove":
		gid, err := stringParam(params)
		if err != nil {
			return nil, err
		}
		e, ok := a.jobs[gid]
		if !ok || e.queue == QueueStopped {
			return nil, &rpcError{Code: 1, Message: fmt.Sprintf("Active Download not found for GID#%s", gid)}
		}
		var rec types.JobRecord
		if jerr := json.Unmarshal(e.raw, &rec); jerr == nil {
			rec.Status = types.JobStatusRemoved
			rec.DownloadSpeed, rec.UploadSpeed, rec.Connections = 0, 0, 0
			e.raw, _ = json.Marshal(rec)
		}
		e.queue = QueueStopped
		return gid, nil
	}

	return nil, &rpcError{Code: 1, Message: fmt.Sprintf("No such method: %s", req.Method)}
}

func (a *Aria2) listLocked(queue string, offset, num int) []json.RawMessage {
	out := []json.RawMessage{}
	seen := 0
	for _, gid := range a.order {
		e := a.jobs[gid]
		if e.queue != queue {
			continue
		}
		if seen >= offset && len(out) < num {
			out = append(out, e.raw)
		}
		seen++
	}
	return out
}

func (a *Aria2) addLocked() string {
	a.nextGID++
	gid := fmt.Sprintf("%016x", 0xa000+a.nextGID)
	raw, _ := json.Marshal(types.JobRecord{GID: gid, Status: types.JobStatusWaiting, Dir: "/downloads"})
	a.order = append(a.order, gid)
	a.jobs[gid] = &entry{queue: QueueWaiting, raw: raw}
	return gid
}

func (a *Aria2) forgetLocked(gid string) {
	if _, ok := a.jobs[gid]; !ok {
		return
	}
	delete(a.jobs, gid)
	for i, id := range a.order {
		if id == gid {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

func queueFor(status types.JobStatus) string {
	switch status {
	case types.JobStatusActive:
		return QueueActive
	case types.JobStatusWaiting, types.JobStatusPaused:
		return QueueWaiting
	default:
		return QueueStopped
	}
}

func stringParam(params []json.RawMessage) (string, *rpcError) {
	var s string
	if len(params) < 1 || json.Unmarshal(params[0], &s) != nil {
		return "", &rpcError{Code: 1, Message: "Bad params"}
	}
	return s, nil
}

func notFound(gid string) *rpcError {
	return &rpcError{Code: 1, Message: fmt.Sprintf("GID %s is not found", gid)}
}
