// Package feed consumes the remote change feed and folds external updates
// into the local entity stores. Delivery is at-most-once; ordering is only
// assumed monotonic per entity id, so a reconnect always forces a full
// resync.
package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/furgotrack/furgotrack-sync-service/internal/model"
)

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Event is the change-feed envelope. Fields is sparse: only the keys present
// in the payload were changed remotely, and a merge must leave every other
// field untouched.
type Event struct {
	EventID   string                     `json:"event_id,omitempty"`
	Origin    string                     `json:"origin,omitempty"`
	Kind      model.Kind                 `json:"kind"`
	Type      EventType                  `json:"event_type"`
	EntityID  string                     `json:"entity_id,omitempty"`
	Fields    map[string]json.RawMessage `json:"fields,omitempty"`
	Timestamp time.Time                  `json:"timestamp"`
}

// FieldsOf flattens an entity into a sparse-field map, for re-broadcasting
// applied changes with the same envelope the feed itself uses.
func FieldsOf(v any) map[string]json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	return fields
}

// Source is one subscription to the remote change feed. Read blocks until
// an event arrives, the context is canceled, or the connection drops.
type Source interface {
	Read(ctx context.Context) (Event, error)
	Close() error
}
