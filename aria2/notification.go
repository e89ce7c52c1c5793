package aria2

import "sync"

// Notification methods sent by aria2
const (
	OnDownloadStart      = "aria2.onDownloadStart"
	OnDownloadPause      = "aria2.onDownloadPause"
	OnDownloadStop       = "aria2.onDownloadStop"
	OnDownloadComplete   = "aria2.onDownloadComplete"
	OnDownloadError      = "aria2.onDownloadError"
	OnBtDownloadComplete = "aria2.onBtDownloadComplete"
)

const notificationBuffer = 256

// Notification is one event pushed by aria2. GID is empty for events that
// do not name a download.
type Notification struct {
	Method string
	GID    string
}

type notificationArgs struct {
	GID string `json:"gid"`
}

// Subscription is a stream of notifications bound to one connection. It
// ends when that connection is lost, the client is closed, or Close is
// called.
type Subscription struct {
	cn     *conn
	events chan Notification

	once sync.Once
	err  error
}

// Events is closed when the subscription ends; Err then explains why
func (s *Subscription) Events() <-chan Notification {
	return s.events
}

// Err returns the reason the stream ended, nil while it is running or
// after Close
func (s *Subscription) Err() error {
	s.cn.mu.Lock()
	defer s.cn.mu.Unlock()
	return s.err
}

// Close stops delivery and releases the subscription
func (s *Subscription) Close() {
	s.cn.unsubscribe(s)
}

// end must be called with s.cn.mu held
func (s *Subscription) end(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.events)
	})
}
