package services

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"ariaview/aria2"
	"ariaview/metrics"
	"ariaview/types"
)

// ListenerState is the lifecycle of the notification listener
type ListenerState int32

const (
	ListenerDisconnected ListenerState = iota
	ListenerSubscribed
	ListenerReceiving
)

func (s ListenerState) String() string {
	switch s {
	case ListenerSubscribed:
		return "subscribed"
	case ListenerReceiving:
		return "receiving"
	default:
		return "disconnected"
	}
}

// Listener turns aria2 notifications into point updates of the store
type Listener struct {
	upstream Upstream
	store    *Store
	backoff  *backoff.Backoff
	state    atomic.Int32
}

func NewListener(upstream Upstream, store *Store, minBackoff, maxBackoff time.Duration) *Listener {
	return &Listener{
		upstream: upstream,
		store:    store,
		backoff: &backoff.Backoff{
			Min:    minBackoff,
			Max:    maxBackoff,
			Factor: 2,
			Jitter: true,
		},
	}
}

func (l *Listener) State() ListenerState {
	return ListenerState(l.state.Load())
}

func (l *Listener) setState(s ListenerState) {
	l.state.Store(int32(s))
	metrics.ListenerState.Set(float64(s))
}

// Run subscribes and processes notifications until ctx is cancelled or the
// upstream client is closed. Stream failures are retried forever with
// backoff; meanwhile the view is kept fresh by polling alone.
func (l *Listener) Run(ctx context.Context) error {
	defer l.setState(ListenerDisconnected)

	for {
		stream, err := l.upstream.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, aria2.ErrClosed) {
				return nil
			}
			log.Warnf("Failed to subscribe to aria2 notifications: %v", err)
			if !l.wait(ctx) {
				return nil
			}
			continue
		}

		l.setState(ListenerSubscribed)
		log.Info("Listening for aria2 notifications")

		err = l.receive(ctx, stream)
		stream.Close()
		if ctx.Err() != nil || errors.Is(err, aria2.ErrClosed) {
			return nil
		}

		log.Warnf("aria2 notification stream ended: %v", err)
		l.setState(ListenerSubscribed)
		metrics.ListenerResubscribes.Inc()
		if !l.wait(ctx) {
			return nil
		}
	}
}

// wait sleeps for the next backoff interval; false means ctx is done
func (l *Listener) wait(ctx context.Context) bool {
	d := l.backoff.Duration()
	log.Debugf("Resubscribing in %s", d)

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (l *Listener) receive(ctx context.Context, stream NotificationStream) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-stream.Events():
			if !ok {
				if err := stream.Err(); err != nil {
					return err
				}
				return errors.New("stream closed")
			}
			l.setState(ListenerReceiving)
			l.backoff.Reset()
			l.handle(ctx, n)
		}
	}
}

// handle re-fetches the job a notification names and merges it
func (l *Listener) handle(ctx context.Context, n aria2.Notification) {
	metrics.Notifications.WithLabelValues(n.Method).Inc()
	if n.GID == "" {
		return
	}

	logger := log.WithFields(log.Fields{"gid": n.GID, "event": n.Method})

	raw, err := l.upstream.TellStatus(ctx, n.GID)
	if err != nil {
		if aria2.IsRPCError(err) {
			logger.Debugf("Job no longer known to aria2, dropping: %v", err)
			l.store.Drop(n.GID)
		} else {
			logger.Warnf("Failed to fetch job status: %v", err)
		}
		return
	}

	rec, err := types.DecodeJob(raw)
	if err != nil {
		logger.Warnf("Dropping job with undecodable status: %v", err)
		l.store.Drop(n.GID)
		return
	}
	l.store.Put(rec)
	logger.Debugf("Job is now %s", rec.Status)
}
