package services

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"ariaview/metrics"
)

// Poller runs full reconciliation on a fixed interval and on demand
type Poller struct {
	reconciler *Reconciler
	store      *Store
	interval   time.Duration
	trigger    chan struct{}
}

func NewPoller(reconciler *Reconciler, store *Store, interval time.Duration) *Poller {
	return &Poller{
		reconciler: reconciler,
		store:      store,
		interval:   interval,
		trigger:    make(chan struct{}, 1),
	}
}

// Trigger requests an immediate pass. Requests made while one is already
// pending are coalesced.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-p.trigger:
		}
		p.Poll(ctx)
	}
}

// Poll performs one reconciliation pass. A failed fetch leaves the
// published snapshot untouched.
func (p *Poller) Poll(ctx context.Context) {
	base := p.store.Version()

	lists, err := p.reconciler.Fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warnf("Skipping reconciliation: %v", err)
			metrics.ReconcileRuns.WithLabelValues("failed").Inc()
		}
		return
	}

	snap, warnings := Merge(lists)
	for _, w := range warnings {
		log.Warnf("Reconciliation: %v", w)
	}
	p.store.Reconcile(base, snap)
	metrics.ReconcileRuns.WithLabelValues("ok").Inc()
}
