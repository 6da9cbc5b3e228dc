// Package storage is the identity store for offers: the persistent record
// of every canonical link the bot has seen and whether it was delivered.
//
// Every operation is individually atomic. Uniqueness is enforced by the
// engine (UNIQUE constraint plus ON CONFLICT DO NOTHING), never by a
// read-then-write pair.
package storage

import (
	"context"
	"errors"
	"time"

	"offerbot/internal/offer"
)

var (
	ErrClosed       = errors.New("storage closed")
	ErrInvalidOffer = errors.New("offer has no link")
)

// Store is the persistence API used by the pipeline and the command surface.
type Store interface {
	// InsertIfNew stores o unless its link already exists. It reports
	// whether a row was created.
	InsertIfNew(ctx context.Context, o offer.Offer) (bool, error)
	// ListPending returns pending offers, newest first, at most limit.
	ListPending(ctx context.Context, limit int) ([]offer.Offer, error)
	// MarkSent moves a pending offer to sent. Absent or already sent links
	// are a no-op.
	MarkSent(ctx context.Context, link string) error
	Stats(ctx context.Context) (offer.Stats, error)
	// PurgeAll deletes every offer and returns how many were removed.
	PurgeAll(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default): SQLite database file at Path
//   - "postgres": PostgreSQL reachable via DSN
//   - "memory": process-local map, nothing survives a restart
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
