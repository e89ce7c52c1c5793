package services

import "fmt"

// ValidationError rejects a mutation before it reaches aria2
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// DecodeError reports a record dropped during reconciliation
type DecodeError struct {
	Queue string
	Index int
	GID   string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.GID != "" {
		return fmt.Sprintf("%s[%d] (gid %s): %v", e.Queue, e.Index, e.GID, e.Err)
	}
	return fmt.Sprintf("%s[%d]: %v", e.Queue, e.Index, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DuplicateError reports a gid listed by more than one queue. The record
// from Winner replaced the one from Loser.
type DuplicateError struct {
	GID    string
	Loser  string
	Winner string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("gid %s listed in both %s and %s, keeping %s", e.GID, e.Loser, e.Winner, e.Winner)
}
