// Package offer holds the data model shared by the ingestion and delivery
// pipeline.
package offer

import "time"

// RawCandidate is an unvalidated record produced by a source adapter.
//
// Optional fields use the empty string for "absent"; the store maps them to
// NULL.
type RawCandidate struct {
	Title       string
	Link        string // may be relative to the source base URL
	Price       string
	Category    string
	Source      string
	ImageRef    string
	Description string
}

// DeliveryState is the delivery lifecycle of an Offer.
// The only transition is Pending -> Sent.
type DeliveryState string

const (
	Pending DeliveryState = "pending"
	Sent    DeliveryState = "sent"
)

func (s DeliveryState) Valid() bool { return s == Pending || s == Sent }

// Offer is a persisted, deduplicated record identified by its canonical link.
type Offer struct {
	ID          int64
	Link        string
	Title       string
	Price       string
	Category    string
	Source      string
	ImageRef    string
	Description string
	CreatedAt   time.Time
	State       DeliveryState
	SentAt      time.Time
}

// Stats is an aggregate view of the identity store.
type Stats struct {
	Total   int `json:"total"`
	Sent    int `json:"sent"`
	Pending int `json:"pending"`
}

// Payload is what the card renderer hands to the publisher.
// Image is nil for caption-only payloads.
type Payload struct {
	Caption string
	Image   []byte
}

func (p Payload) HasImage() bool { return len(p.Image) > 0 }
