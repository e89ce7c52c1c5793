package services

import (
	"context"

	"golang.org/x/sync/errgroup"

	"ariaview/broadcast"
	"ariaview/config"
	"ariaview/types"
)

// DownloadService is what the HTTP layer needs from the engine
type DownloadService interface {
	FetchSnapshot() []types.JobRecord
	Snapshot() types.Snapshot
	Job(gid string) (types.JobRecord, bool)
	AddLink(ctx context.Context, uri string) (string, error)
	AddTorrent(ctx context.Context, torrent []byte) (string, error)
	DeleteLink(ctx context.Context, gid string) error
	Subscribe() *broadcast.Subscription[types.Snapshot]
	Status() EngineStatus
}

// EngineStatus summarises the synchronization state for health checks
type EngineStatus struct {
	Upstream        string `json:"upstream"`
	Listener        string `json:"listener"`
	SnapshotVersion uint64 `json:"snapshotVersion"`
	Jobs            int    `json:"jobs"`
}

// Engine wires the store, poller, listener and gateway together
type Engine struct {
	upstream Upstream
	store    *Store
	poller   *Poller
	listener *Listener
	gateway  *Gateway
}

func NewEngine(upstream Upstream, cfg config.Sync) *Engine {
	store := NewStore()
	poller := NewPoller(NewReconciler(upstream, cfg.PageSize, cfg.MaxJobs), store, cfg.PollInterval)
	return &Engine{
		upstream: upstream,
		store:    store,
		poller:   poller,
		listener: NewListener(upstream, store, cfg.BackoffMin, cfg.BackoffMax),
		gateway:  NewGateway(upstream, store, poller),
	}
}

// Run starts periodic reconciliation and the notification listener and
// blocks until ctx is cancelled. Subscriptions end when it returns.
func (e *Engine) Run(ctx context.Context) error {
	defer e.store.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.poller.Run(ctx) })
	g.Go(func() error { return e.listener.Run(ctx) })
	return g.Wait()
}

func (e *Engine) Store() *Store {
	return e.store
}

func (e *Engine) Snapshot() types.Snapshot {
	return e.store.Read()
}

// FetchSnapshot returns the published jobs as a flat list
func (e *Engine) FetchSnapshot() []types.JobRecord {
	return e.store.Read().Jobs()
}

func (e *Engine) Job(gid string) (types.JobRecord, bool) {
	return e.store.Read().Get(gid)
}

func (e *Engine) AddLink(ctx context.Context, uri string) (string, error) {
	return e.gateway.AddURI(ctx, uri)
}

func (e *Engine) AddTorrent(ctx context.Context, torrent []byte) (string, error) {
	return e.gateway.AddTorrent(ctx, torrent)
}

func (e *Engine) DeleteLink(ctx context.Context, gid string) error {
	return e.gateway.Remove(ctx, gid)
}

// Subscribe returns a live feed of snapshots, starting with the current one
func (e *Engine) Subscribe() *broadcast.Subscription[types.Snapshot] {
	return e.store.Subscribe()
}

func (e *Engine) Status() EngineStatus {
	snap := e.store.Read()
	upstream := "disconnected"
	if e.upstream.Connected() {
		upstream = "connected"
	}
	return EngineStatus{
		Upstream:        upstream,
		Listener:        e.listener.State().String(),
		SnapshotVersion: snap.Version,
		Jobs:            snap.Len(),
	}
}
