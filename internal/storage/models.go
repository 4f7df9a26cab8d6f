package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Interaction is one completed sub-query exchange, recorded for inspection.
type Interaction struct {
	ID        string
	SessionID string
	CreatedAt time.Time
	Query     string
	Intent    string
	Response  string
}
