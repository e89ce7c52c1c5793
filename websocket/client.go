package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"ariaview/broadcast"
	"ariaview/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	maxMessageSize = 512
)

// WebSocket upgrader with CORS support
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origins are enforced by the CORS middleware
		return true
	},
}

// Client is one viewer connection fed by a snapshot subscription. A client
// with a gid only receives that job.
type Client struct {
	id   string
	hub  Hub
	conn *websocket.Conn
	sub  *broadcast.Subscription[types.Snapshot]
	gid  string

	// send holds at most one pending message. forward blocks while it is
	// full; the subscription keeps only the latest snapshot meanwhile, so a
	// slow viewer skips intermediate versions
	send chan types.SnapshotMessage

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient creates a new WebSocket client
func NewClient(hub Hub, conn *websocket.Conn, sub *broadcast.Subscription[types.Snapshot], gid string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:     uuid.NewString(),
		hub:    hub,
		conn:   conn,
		sub:    sub,
		gid:    gid,
		send:   make(chan types.SnapshotMessage, 1),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Client) ID() string {
	return c.id
}

// StartPumps starts the read and write pumps for the client
func (c *Client) StartPumps() {
	go c.forward()
	go c.writePump()
	go c.readPump()
}

// stop ends the subscription; the write pump then closes the connection
func (c *Client) stop() {
	c.cancel()
}

// forward moves snapshots from the subscription to the write pump
func (c *Client) forward() {
	defer close(c.send)

	var last types.Snapshot
	first := true
	for {
		snap, err := c.sub.Next(c.ctx)
		if err != nil {
			return
		}
		if c.gid != "" {
			snap = c.filter(snap)
			if !first && snap.Equal(last) {
				continue
			}
			last, first = snap, false
		}
		select {
		case c.send <- types.NewSnapshotMessage(snap):
		case <-c.ctx.Done():
			return
		}
	}
}

// filter narrows a snapshot to the client's job. The result is empty once
// the job is gone.
func (c *Client) filter(snap types.Snapshot) types.Snapshot {
	var recs []types.JobRecord
	if rec, ok := snap.Get(c.gid); ok {
		recs = append(recs, rec)
	}
	out := types.NewSnapshot(recs)
	out.Version = snap.Version
	return out
}

// readPump handles reading from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.stop()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.WithField("viewer", c.id).Warnf("WebSocket error: %v", err)
			}
			break
		}
	}
}

// writePump handles writing to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				log.WithField("viewer", c.id).Debugf("WebSocket write error: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// GetUpgrader returns the WebSocket upgrader
func GetUpgrader() websocket.Upgrader {
	return upgrader
}
