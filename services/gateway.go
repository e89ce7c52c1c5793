package services

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"ariaview/metrics"
	"ariaview/types"
)

var allowedSchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"ftp":    true,
	"sftp":   true,
	"magnet": true,
}

// Refresher asks for an immediate reconciliation pass
type Refresher interface {
	Trigger()
}

// Gateway validates viewer mutations and forwards them to aria2
type Gateway struct {
	upstream  Upstream
	store     *Store
	refresher Refresher
}

func NewGateway(upstream Upstream, store *Store, refresher Refresher) *Gateway {
	return &Gateway{upstream: upstream, store: store, refresher: refresher}
}

// AddURI queues a link and makes the new job visible right away
func (g *Gateway) AddURI(ctx context.Context, uri string) (string, error) {
	uri = strings.TrimSpace(uri)
	if err := validateURI(uri); err != nil {
		metrics.Mutations.WithLabelValues("add_uri", "invalid").Inc()
		return "", err
	}

	gid, err := g.upstream.AddURI(ctx, []string{uri})
	if err != nil {
		metrics.Mutations.WithLabelValues("add_uri", "failed").Inc()
		return "", errors.Wrap(err, "aria2 rejected the link")
	}
	metrics.Mutations.WithLabelValues("add_uri", "ok").Inc()
	log.WithField("gid", gid).Infof("Added %s", uri)

	g.observe(ctx, gid)
	return gid, nil
}

// AddTorrent queues a .torrent file and makes the new job visible right away
func (g *Gateway) AddTorrent(ctx context.Context, torrent []byte) (string, error) {
	if len(torrent) == 0 {
		metrics.Mutations.WithLabelValues("add_torrent", "invalid").Inc()
		return "", &ValidationError{Field: "torrent", Message: "must not be empty"}
	}
	if torrent[0] != 'd' {
		metrics.Mutations.WithLabelValues("add_torrent", "invalid").Inc()
		return "", &ValidationError{Field: "torrent", Message: "not a bencoded torrent file"}
	}

	gid, err := g.upstream.AddTorrent(ctx, torrent)
	if err != nil {
		metrics.Mutations.WithLabelValues("add_torrent", "failed").Inc()
		return "", errors.Wrap(err, "aria2 rejected the torrent")
	}
	metrics.Mutations.WithLabelValues("add_torrent", "ok").Inc()
	log.WithField("gid", gid).Infof("Added torrent (%d bytes)", len(torrent))

	g.observe(ctx, gid)
	return gid, nil
}

// Remove deletes a job. Clearing its download result is best effort, the
// forced removal from the queue is not. The snapshot is left for the next
// reconciliation to update.
func (g *Gateway) Remove(ctx context.Context, gid string) error {
	gid = strings.TrimSpace(gid)
	if gid == "" {
		metrics.Mutations.WithLabelValues("remove", "invalid").Inc()
		return &ValidationError{Field: "gid", Message: "must not be empty"}
	}

	logger := log.WithField("gid", gid)
	if err := g.upstream.RemoveDownloadResult(ctx, gid); err != nil {
		logger.Debugf("No download result to remove: %v", err)
	}

	if err := g.upstream.ForceRemove(ctx, gid); err != nil {
		metrics.Mutations.WithLabelValues("remove", "failed").Inc()
		return errors.Wrapf(err, "failed to remove %s", gid)
	}
	metrics.Mutations.WithLabelValues("remove", "ok").Inc()
	logger.Info("Removed job")

	g.refresher.Trigger()
	return nil
}

// observe merges the status of a freshly added job. The add already
// succeeded, so a failure here is only logged.
func (g *Gateway) observe(ctx context.Context, gid string) {
	defer g.refresher.Trigger()

	raw, err := g.upstream.TellStatus(ctx, gid)
	if err != nil {
		log.WithField("gid", gid).Warnf("Failed to fetch status of new job: %v", err)
		return
	}
	rec, err := types.DecodeJob(raw)
	if err != nil {
		log.WithField("gid", gid).Warnf("Failed to decode status of new job: %v", err)
		return
	}
	g.store.Put(rec)
}

func validateURI(uri string) error {
	if uri == "" {
		return &ValidationError{Field: "uri", Message: "must not be empty"}
	}
	u, err := url.Parse(uri)
	if err != nil {
		return &ValidationError{Field: "uri", Message: err.Error()}
	}
	scheme := strings.ToLower(u.Scheme)
	if !allowedSchemes[scheme] {
		return &ValidationError{Field: "uri", Message: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	if scheme != "magnet" && u.Host == "" {
		return &ValidationError{Field: "uri", Message: "missing host"}
	}
	return nil
}
