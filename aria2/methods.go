package aria2

import (
	"context"
	"encoding/base64"
	"encoding/json"
)

// StatusKeys limits tell* responses to the fields ariaview uses
var StatusKeys = []string{
	"gid", "status", "totalLength", "completedLength", "downloadSpeed",
	"uploadSpeed", "connections", "numSeeders", "numPieces", "pieceLength",
	"dir", "files", "bittorrent", "errorCode", "errorMessage",
}

// TellActive lists active downloads
func (c *Client) TellActive(ctx context.Context) ([]json.RawMessage, error) {
	var out []json.RawMessage
	if err := c.call(ctx, false, "aria2.tellActive", &out, StatusKeys); err != nil {
		return nil, err
	}
	return out, nil
}

// TellWaiting lists waiting and paused downloads starting at offset
func (c *Client) TellWaiting(ctx context.Context, offset, num int) ([]json.RawMessage, error) {
	var out []json.RawMessage
	if err := c.call(ctx, false, "aria2.tellWaiting", &out, offset, num, StatusKeys); err != nil {
		return nil, err
	}
	return out, nil
}

// TellStopped lists finished, failed and removed downloads starting at offset
func (c *Client) TellStopped(ctx context.Context, offset, num int) ([]json.RawMessage, error) {
	var out []json.RawMessage
	if err := c.call(ctx, false, "aria2.tellStopped", &out, offset, num, StatusKeys); err != nil {
		return nil, err
	}
	return out, nil
}

// TellStatus fetches a single download
func (c *Client) TellStatus(ctx context.Context, gid string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.call(ctx, false, "aria2.tellStatus", &out, gid, StatusKeys); err != nil {
		return nil, err
	}
	return out, nil
}

// AddURI queues a download for uris and returns its gid
func (c *Client) AddURI(ctx context.Context, uris []string) (string, error) {
	var gid string
	if err := c.call(ctx, true, "aria2.addUri", &gid, uris); err != nil {
		return "", err
	}
	return gid, nil
}

// AddTorrent queues the contents of a .torrent file and returns its gid
func (c *Client) AddTorrent(ctx context.Context, torrent []byte) (string, error) {
	var gid string
	encoded := base64.StdEncoding.EncodeToString(torrent)
	if err := c.call(ctx, true, "aria2.addTorrent", &gid, encoded); err != nil {
		return "", err
	}
	return gid, nil
}

// RemoveDownloadResult forgets a stopped download
func (c *Client) RemoveDownloadResult(ctx context.Context, gid string) error {
	return c.call(ctx, true, "aria2.removeDownloadResult", nil, gid)
}

// ForceRemove removes an active or waiting download without cleanup
func (c *Client) ForceRemove(ctx context.Context, gid string) error {
	return c.call(ctx, true, "aria2.forceRemove", nil, gid)
}
