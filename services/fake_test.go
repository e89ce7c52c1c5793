package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ariaview/aria2"
	"ariaview/types"
)

// fakeUpstream is an in-memory Upstream with injectable failures
type fakeUpstream struct {
	mu sync.Mutex

	active  []json.RawMessage
	waiting []json.RawMessage
	stopped []json.RawMessage
	listErr error

	status    map[string]json.RawMessage
	statusErr map[string]error

	addGID         string
	addErr         error
	removeResErr   error
	forceRemoveErr error

	subscribeErr error
	subscribed   chan *fakeStream

	calls []string
	pages []string
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		status:     make(map[string]json.RawMessage),
		statusErr:  make(map[string]error),
		subscribed: make(chan *fakeStream, 16),
	}
}

func (f *fakeUpstream) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeUpstream) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeUpstream) setStatus(rec types.JobRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[rec.GID] = mustRaw(rec)
}

func (f *fakeUpstream) setStatusErr(gid string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusErr[gid] = err
}

func (f *fakeUpstream) setLists(active, waiting, stopped []json.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active, f.waiting, f.stopped = active, waiting, stopped
}

func (f *fakeUpstream) TellActive(ctx context.Context) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("tellActive")
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.active, nil
}

func (f *fakeUpstream) page(list []json.RawMessage, offset, num int) []json.RawMessage {
	if offset >= len(list) {
		return nil
	}
	end := offset + num
	if end > len(list) {
		end = len(list)
	}
	return list[offset:end]
}

func (f *fakeUpstream) TellWaiting(ctx context.Context, offset, num int) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("tellWaiting")
	f.pages = append(f.pages, fmt.Sprintf("waiting:%d:%d", offset, num))
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.page(f.waiting, offset, num), nil
}

func (f *fakeUpstream) TellStopped(ctx context.Context, offset, num int) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("tellStopped")
	f.pages = append(f.pages, fmt.Sprintf("stopped:%d:%d", offset, num))
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.page(f.stopped, offset, num), nil
}

func (f *fakeUpstream) TellStatus(ctx context.Context, gid string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("tellStatus:" + gid)
	if err := f.statusErr[gid]; err != nil {
		return nil, err
	}
	raw, ok := f.status[gid]
	if !ok {
		return nil, &aria2.RPCError{Code: 1, Message: fmt.Sprintf("GID %s is not found", gid)}
	}
	return raw, nil
}

func (f *fakeUpstream) AddURI(ctx context.Context, uris []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("addUri")
	return f.addGID, f.addErr
}

func (f *fakeUpstream) AddTorrent(ctx context.Context, torrent []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("addTorrent")
	return f.addGID, f.addErr
}

func (f *fakeUpstream) RemoveDownloadResult(ctx context.Context, gid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("removeDownloadResult:" + gid)
	return f.removeResErr
}

func (f *fakeUpstream) ForceRemove(ctx context.Context, gid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("forceRemove:" + gid)
	return f.forceRemoveErr
}

func (f *fakeUpstream) Subscribe(ctx context.Context) (NotificationStream, error) {
	f.mu.Lock()
	err := f.subscribeErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s := &fakeStream{events: make(chan aria2.Notification, 16)}
	f.subscribed <- s
	return s, nil
}

func (f *fakeUpstream) Connected() bool {
	return true
}

type fakeStream struct {
	mu     sync.Mutex
	events chan aria2.Notification
	err    error
	ended  bool
}

func (s *fakeStream) Events() <-chan aria2.Notification {
	return s.events
}

func (s *fakeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeStream) Close() {
	s.end(nil)
}

func (s *fakeStream) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.events)
}

func (s *fakeStream) send(method, gid string) {
	s.events <- aria2.Notification{Method: method, GID: gid}
}

type countingRefresher struct {
	n atomic.Int32
}

func (r *countingRefresher) Trigger() {
	r.n.Add(1)
}

func mustRaw(rec types.JobRecord) json.RawMessage {
	raw, err := json.Marshal(rec)
	if err != nil {
		panic(err)
	}
	return raw
}

func raws(recs ...types.JobRecord) []json.RawMessage {
	out := make([]json.RawMessage, len(recs))
	for i, r := range recs {
		out[i] = mustRaw(r)
	}
	return out
}

func rec(gid string, status types.JobStatus) types.JobRecord {
	return types.JobRecord{GID: gid, Status: status}
}

func waitStream(t *testing.T, f *fakeUpstream) *fakeStream {
	t.Helper()
	select {
	case s := <-f.subscribed:
		return s
	case <-timeout():
		require.FailNow(t, "listener did not subscribe")
		return nil
	}
}

func timeout() <-chan time.Time {
	return time.After(2 * time.Second)
}
