package types

import "time"

// SnapshotMessage is the WebSocket payload pushed to viewers. Every message
// carries the full current job list, never just a change notification.
type SnapshotMessage struct {
	Type      string      `json:"type"` // "snapshot"
	Version   uint64      `json:"version"`
	Jobs      []JobRecord `json:"jobs"`
	Total     int         `json:"total"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewSnapshotMessage wraps a snapshot for delivery
func NewSnapshotMessage(s Snapshot) SnapshotMessage {
	return SnapshotMessage{
		Type:      "snapshot",
		Version:   s.Version,
		Jobs:      s.Jobs(),
		Total:     s.Len(),
		Timestamp: time.Now(),
	}
}
