package analytics

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventMatch      EventType = "match"
	EventRegister   EventType = "register"
	EventUnregister EventType = "unregister"
)

// MatchEvent is emitted for every query answered against a reference.
type MatchEvent struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	ReferenceID string    `json:"reference_id"`
	QueryLength int       `json:"query_length"`
	Matched     bool      `json:"matched"`
	CacheHit    bool      `json:"cache_hit"`
	LatencyUs   int64     `json:"latency_us"`
	Timestamp   time.Time `json:"timestamp"`
	RequestID   string    `json:"request_id,omitempty"`
}

// ReferenceEvent is emitted when a reference is registered or removed.
type ReferenceEvent struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	ReferenceID string    `json:"reference_id"`
	Length      int       `json:"length"`
	Symbols     int       `json:"symbols"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewEventID returns a random id for an event.
func NewEventID() string {
	return uuid.NewString()
}
