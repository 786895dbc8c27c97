package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"collectbook/internal/core"
)

const (
	EventCollectionRecorded = "collection.recorded"
	EventCollectionDeleted  = "collection.deleted"
)

// CollectionEvent tells the worker that a period's totals changed.
// It carries identifiers only; consumers re-read totals from the store.
type CollectionEvent struct {
	Type       string    `json:"type"`
	ID         int64     `json:"id"`
	CustomerID int64     `json:"customer_id"`
	SiteID     int64     `json:"site_id,omitempty"`
	Year       int       `json:"year"`
	Month      int       `json:"month"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewCollectionEvent describes a change to r.
func NewCollectionEvent(eventType string, r core.CollectionRecord) *CollectionEvent {
	p := r.CollectedOn.Period()
	return &CollectionEvent{
		Type:       eventType,
		ID:         r.ID,
		CustomerID: r.CustomerID,
		SiteID:     r.SiteID,
		Year:       p.Year,
		Month:      p.Month,
		Timestamp:  time.Now().UTC(),
	}
}

func (e *CollectionEvent) Period() core.Period {
	return core.Period{Year: e.Year, Month: e.Month}
}

// ToJSON converts the message to JSON bytes
func (e *CollectionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// CollectionEventFromJSON decodes and validates an event body.
func CollectionEventFromJSON(data []byte) (*CollectionEvent, error) {
	var ev CollectionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	switch ev.Type {
	case EventCollectionRecorded, EventCollectionDeleted:
	default:
		return nil, fmt.Errorf("unknown event type %q", ev.Type)
	}
	if err := ev.Period().Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}
