package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"offerbot/internal/offer"
)

type memoryStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[string]*offer.Offer
	closed bool
	now    func() time.Time
}

// NewMemory returns a process-local store. Used by tests and the "memory" driver.
func NewMemory() Store {
	return &memoryStore{rows: map[string]*offer.Offer{}, now: time.Now}
}

func (m *memoryStore) InsertIfNew(_ context.Context, o offer.Offer) (bool, error) {
	link := strings.TrimSpace(o.Link)
	if link == "" {
		return false, ErrInvalidOffer
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	if _, ok := m.rows[link]; ok {
		return false, nil
	}
	m.nextID++
	o.ID = m.nextID
	o.Link = link
	o.State = offer.Pending
	o.SentAt = time.Time{}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = m.now()
	}
	// Same precision as the SQL backends.
	o.CreatedAt = time.UnixMilli(o.CreatedAt.UnixMilli())
	m.rows[link] = &o
	return true, nil
}

func (m *memoryStore) ListPending(_ context.Context, limit int) ([]offer.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return nil, nil
	}
	out := make([]offer.Offer, 0, len(m.rows))
	for _, o := range m.rows {
		if o.State == offer.Pending {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) MarkSent(_ context.Context, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	o, ok := m.rows[strings.TrimSpace(link)]
	if !ok || o.State == offer.Sent {
		return nil
	}
	o.State = offer.Sent
	o.SentAt = time.UnixMilli(m.now().UnixMilli())
	return nil
}

func (m *memoryStore) Stats(context.Context) (offer.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return offer.Stats{}, ErrClosed
	}
	var st offer.Stats
	for _, o := range m.rows {
		st.Total++
		if o.State == offer.Sent {
			st.Sent++
		}
	}
	st.Pending = st.Total - st.Sent
	return st, nil
}

func (m *memoryStore) PurgeAll(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	n := int64(len(m.rows))
	m.rows = map[string]*offer.Offer{}
	return n, nil
}

func (m *memoryStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
