// Package aria2 is a JSON-RPC 2.0 client for aria2's WebSocket interface.
//
// One Client owns one connection that is shared by every caller. Queries
// (tell*) run concurrently under a read lock; mutations and reconnects take
// the lock exclusively.
package aria2

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"ariaview/metrics"
)

var (
	// ErrClosed is returned once Close has been called
	ErrClosed = errors.New("aria2 client closed")

	// ErrNotConnected is returned when the connection is down; Subscribe
	// re-establishes it
	ErrNotConnected = errors.New("not connected to aria2")
)

// RPCError is an error object returned by aria2
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("aria2 error %d: %s", e.Code, e.Message)
}

// IsRPCError reports whether err was produced by aria2 itself rather than
// by the transport
func IsRPCError(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr)
}

// Options configures a Client
type Options struct {
	URL     string
	Secret  string
	Timeout time.Duration
	Dialer  *websocket.Dialer
}

type Client struct {
	opts Options

	// mu guards conn and closed
	mu     sync.RWMutex
	conn   *conn
	closed bool
}

type request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// message is anything aria2 sends: a response (ID set) or a notification
// (Method set)
type message struct {
	ID     string             `json:"id,omitempty"`
	Method string             `json:"method,omitempty"`
	Params []notificationArgs `json:"params,omitempty"`
	Result json.RawMessage    `json:"result,omitempty"`
	Error  *RPCError          `json:"error,omitempty"`
}

// Dial connects to aria2. Failure here is fatal for the caller: no retry is
// attempted.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}

	c := &Client{opts: opts}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// connectLocked replaces the current connection. c.mu must be held for writing.
func (c *Client) connectLocked(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	ws, resp, err := c.opts.Dialer.DialContext(dialCtx, c.opts.URL, http.Header{})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return errors.Wrapf(err, "failed to connect to aria2 at %s", c.opts.URL)
	}

	if c.conn != nil {
		c.conn.close()
	}
	c.conn = newConn(ws)
	go c.conn.readLoop()

	log.WithField("url", c.opts.URL).Info("Connected to aria2")
	return nil
}

// Connected reports whether the connection is currently usable
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed && c.conn != nil && !c.conn.dead()
}

// Close shuts the connection down. Pending calls fail and notification
// subscriptions end with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn != nil {
		c.conn.close()
	}
	return nil
}

// Subscribe returns a notification stream on the current connection,
// reconnecting first if the connection is down.
func (c *Client) Subscribe(ctx context.Context) (*Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.conn == nil || c.conn.dead() {
		if err := c.connectLocked(ctx); err != nil {
			return nil, err
		}
	}
	return c.conn.subscribe(), nil
}

func (c *Client) params(args []interface{}) []interface{} {
	params := make([]interface{}, 0, len(args)+1)
	if c.opts.Secret != "" {
		params = append(params, "token:"+c.opts.Secret)
	}
	return append(params, args...)
}

// call performs one request. Exclusive calls hold the connection lock for
// writing so no other call can interleave.
func (c *Client) call(ctx context.Context, exclusive bool, method string, result interface{}, args ...interface{}) error {
	if exclusive {
		c.mu.Lock()
		defer c.mu.Unlock()
	} else {
		c.mu.RLock()
		defer c.mu.RUnlock()
	}

	if c.closed {
		return ErrClosed
	}
	cn := c.conn
	if cn == nil || cn.dead() {
		metrics.RPCCalls.WithLabelValues(method, "transport_error").Inc()
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	err := cn.call(ctx, method, c.params(args), result)
	switch {
	case err == nil:
		metrics.RPCCalls.WithLabelValues(method, "ok").Inc()
	case IsRPCError(err):
		metrics.RPCCalls.WithLabelValues(method, "rpc_error").Inc()
	default:
		metrics.RPCCalls.WithLabelValues(method, "transport_error").Inc()
	}
	if err != nil {
		return errors.Wrap(err, method)
	}
	return nil
}

// conn is a single WebSocket session with its pending calls and
// notification subscribers
type conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan message
	subs    map[*Subscription]struct{}
	err     error

	done    chan struct{}
	closing atomic.Bool
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{
		ws:      ws,
		pending: make(map[string]chan message),
		subs:    make(map[*Subscription]struct{}),
		done:    make(chan struct{}),
	}
}

func (cn *conn) dead() bool {
	select {
	case <-cn.done:
		return true
	default:
		return false
	}
}

func (cn *conn) close() {
	if cn.closing.Swap(true) {
		return
	}
	cn.writeMu.Lock()
	_ = cn.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	cn.writeMu.Unlock()
	cn.ws.Close()
}

func (cn *conn) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	id := uuid.NewString()
	ch := make(chan message, 1)

	cn.mu.Lock()
	if cn.err != nil {
		err := cn.err
		cn.mu.Unlock()
		return errors.Wrapf(ErrNotConnected, "connection lost: %v", err)
	}
	cn.pending[id] = ch
	cn.mu.Unlock()

	defer func() {
		cn.mu.Lock()
		delete(cn.pending, id)
		cn.mu.Unlock()
	}()

	req := request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	cn.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = cn.ws.SetWriteDeadline(deadline)
	}
	err := cn.ws.WriteJSON(req)
	cn.writeMu.Unlock()
	if err != nil {
		return errors.Wrap(err, "failed to send request")
	}

	select {
	case msg := <-ch:
		if msg.Error != nil {
			return msg.Error
		}
		if result == nil {
			return nil
		}
		if err := json.Unmarshal(msg.Result, result); err != nil {
			return errors.Wrap(err, "failed to decode result")
		}
		return nil
	case <-cn.done:
		return errors.Wrapf(ErrNotConnected, "connection lost: %v", cn.err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cn *conn) readLoop() {
	var err error
	for {
		var data []byte
		_, data, err = cn.ws.ReadMessage()
		if err != nil {
			break
		}

		var msg message
		if jerr := json.Unmarshal(data, &msg); jerr != nil {
			log.Warnf("Ignoring undecodable message from aria2: %v", jerr)
			continue
		}

		switch {
		case msg.ID != "":
			cn.deliver(msg)
		case msg.Method != "":
			cn.dispatch(msg)
		}
	}

	if cn.closing.Load() {
		err = ErrClosed
	} else {
		log.Warnf("Connection to aria2 lost: %v", err)
	}
	cn.fail(err)
}

func (cn *conn) deliver(msg message) {
	cn.mu.Lock()
	ch, ok := cn.pending[msg.ID]
	cn.mu.Unlock()
	if !ok {
		log.Debugf("Dropping response for unknown request %s", msg.ID)
		return
	}
	ch <- msg
}

func (cn *conn) dispatch(msg message) {
	n := Notification{Method: msg.Method}
	if len(msg.Params) > 0 {
		n.GID = msg.Params[0].GID
	}

	cn.mu.Lock()
	defer cn.mu.Unlock()
	for sub := range cn.subs {
		select {
		case sub.events <- n:
		default:
			log.WithField("method", n.Method).Warnf("Notification buffer full, dropping event for %s", n.GID)
		}
	}
}

// fail records the terminal error, ends every subscription and wakes
// every pending call
func (cn *conn) fail(err error) {
	cn.mu.Lock()
	defer cn.mu.Unlock()

	cn.err = err
	for sub := range cn.subs {
		sub.end(err)
	}
	cn.subs = nil
	close(cn.done)
}

func (cn *conn) subscribe() *Subscription {
	sub := &Subscription{
		cn:     cn,
		events: make(chan Notification, notificationBuffer),
	}

	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.err != nil {
		sub.end(cn.err)
		return sub
	}
	cn.subs[sub] = struct{}{}
	return sub
}

func (cn *conn) unsubscribe(sub *Subscription) {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if _, ok := cn.subs[sub]; ok {
		delete(cn.subs, sub)
		sub.end(nil)
	}
}
