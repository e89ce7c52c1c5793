package services

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"ariaview/metrics"
	"ariaview/types"
)

// Queue names, in reconciliation precedence order
const (
	QueueActive  = "active"
	QueueWaiting = "waiting"
	QueueStopped = "stopped"
)

// Lists holds the raw records of one poll
type Lists struct {
	Active  []json.RawMessage
	Waiting []json.RawMessage
	Stopped []json.RawMessage
}

// Reconciler polls aria2's three queues
type Reconciler struct {
	upstream Upstream
	pageSize int
	maxJobs  int
}

func NewReconciler(upstream Upstream, pageSize, maxJobs int) *Reconciler {
	if pageSize < 1 {
		pageSize = 1000
	}
	if maxJobs < pageSize {
		maxJobs = pageSize
	}
	return &Reconciler{upstream: upstream, pageSize: pageSize, maxJobs: maxJobs}
}

// Fetch reads all three queues. Any failed query fails the whole fetch so a
// partial poll is never applied.
func (r *Reconciler) Fetch(ctx context.Context) (Lists, error) {
	var lists Lists
	var err error

	if lists.Active, err = r.upstream.TellActive(ctx); err != nil {
		return Lists{}, errors.Wrap(err, "failed to list active jobs")
	}
	if lists.Waiting, err = r.fetchPaged(ctx, r.upstream.TellWaiting); err != nil {
		return Lists{}, errors.Wrap(err, "failed to list waiting jobs")
	}
	if lists.Stopped, err = r.fetchPaged(ctx, r.upstream.TellStopped); err != nil {
		return Lists{}, errors.Wrap(err, "failed to list stopped jobs")
	}
	return lists, nil
}

func (r *Reconciler) fetchPaged(ctx context.Context, page func(context.Context, int, int) ([]json.RawMessage, error)) ([]json.RawMessage, error) {
	var all []json.RawMessage
	for offset := 0; offset < r.maxJobs; offset += r.pageSize {
		batch, err := page(ctx, offset, r.pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < r.pageSize {
			return all, nil
		}
	}
	log.Warnf("Queue holds more than %d jobs, the rest is not shown", r.maxJobs)
	return all, nil
}

// Merge decodes and de-duplicates one poll. Undecodable records are
// dropped and reported as *DecodeError; a gid listed by two queues keeps the
// record of the later queue (active < waiting < stopped) and is reported as
// *DuplicateError. Neither aborts the merge.
func Merge(lists Lists) (types.Snapshot, []error) {
	var warnings []error
	records := make([]types.JobRecord, 0, len(lists.Active)+len(lists.Waiting)+len(lists.Stopped))
	seenIn := make(map[string]string)

	queues := []struct {
		name string
		raws []json.RawMessage
	}{
		{QueueActive, lists.Active},
		{QueueWaiting, lists.Waiting},
		{QueueStopped, lists.Stopped},
	}

	for _, q := range queues {
		for i, raw := range q.raws {
			rec, err := types.DecodeJob(raw)
			if err != nil {
				warnings = append(warnings, &DecodeError{Queue: q.name, Index: i, GID: types.PeekGID(raw), Err: err})
				metrics.ReconcileWarnings.WithLabelValues("decode").Inc()
				continue
			}
			if rec.TotalLength > 0 && rec.CompletedLength > rec.TotalLength {
				log.Debugf("Job %s reports %s of %s bytes completed", rec.GID, rec.CompletedLength, rec.TotalLength)
			}
			if prev, dup := seenIn[rec.GID]; dup {
				warnings = append(warnings, &DuplicateError{GID: rec.GID, Loser: prev, Winner: q.name})
				metrics.ReconcileWarnings.WithLabelValues("duplicate").Inc()
			}
			seenIn[rec.GID] = q.name
			records = append(records, rec)
		}
	}

	return types.NewSnapshot(records), warnings
}
