package services

import (
	"context"
	"encoding/json"

	"ariaview/aria2"
)

// Upstream is the subset of the aria2 client the engine depends on
type Upstream interface {
	TellActive(ctx context.Context) ([]json.RawMessage, error)
	TellWaiting(ctx context.Context, offset, num int) ([]json.RawMessage, error)
	TellStopped(ctx context.Context, offset, num int) ([]json.RawMessage, error)
	TellStatus(ctx context.Context, gid string) (json.RawMessage, error)
	AddURI(ctx context.Context, uris []string) (string, error)
	AddTorrent(ctx context.Context, torrent []byte) (string, error)
	RemoveDownloadResult(ctx context.Context, gid string) error
	ForceRemove(ctx context.Context, gid string) error
	Subscribe(ctx context.Context) (NotificationStream, error)
	Connected() bool
}

// NotificationStream is a live feed of upstream events. Events is closed
// when the stream ends and Err then reports why.
type NotificationStream interface {
	Events() <-chan aria2.Notification
	Err() error
	Close()
}

// ClientUpstream adapts *aria2.Client to Upstream
type ClientUpstream struct {
	*aria2.Client
}

func (u ClientUpstream) Subscribe(ctx context.Context) (NotificationStream, error) {
	sub, err := u.Client.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	return sub, nil
}
