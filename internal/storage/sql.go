package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"offerbot/internal/offer"
	logx "offerbot/pkg/logx"
)

// sqlStore implements Store on top of any database/sql driver that
// understands INSERT ... ON CONFLICT (SQLite >= 3.24, PostgreSQL >= 9.5).
type sqlStore struct {
	db  *sqlx.DB
	log logx.Logger
	now func() time.Time

	qInsert   string
	qPending  string
	qMarkSent string
	qStats    string
	qPurge    string
}

type offerRow struct {
	ID          int64          `db:"id"`
	Title       string         `db:"title"`
	Link        string         `db:"link"`
	Price       sql.NullString `db:"price"`
	Category    sql.NullString `db:"category"`
	Source      sql.NullString `db:"source"`
	ImageRef    sql.NullString `db:"image_ref"`
	Description sql.NullString `db:"description"`
	CreatedAt   int64          `db:"created_at"`
	State       string         `db:"delivery_state"`
	SentAt      sql.NullInt64  `db:"sent_at"`
}

func (r offerRow) toOffer() offer.Offer {
	o := offer.Offer{
		ID:          r.ID,
		Title:       r.Title,
		Link:        r.Link,
		Price:       r.Price.String,
		Category:    r.Category.String,
		Source:      r.Source.String,
		ImageRef:    r.ImageRef.String,
		Description: r.Description.String,
		CreatedAt:   time.UnixMilli(r.CreatedAt),
		State:       offer.DeliveryState(r.State),
	}
	if r.SentAt.Valid {
		o.SentAt = time.UnixMilli(r.SentAt.Int64)
	}
	return o
}

// FromDB wraps an already-open database. The schema is not migrated.
func FromDB(db *sqlx.DB, log logx.Logger) Store {
	return newSQLStore(db, log)
}

func newSQLStore(db *sqlx.DB, log logx.Logger) *sqlStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &sqlStore{
		db:  db,
		log: log,
		now: time.Now,

		qInsert: db.Rebind(`INSERT INTO offers(title, link, price, category, source, image_ref, description, created_at, delivery_state)
			VALUES(?,?,?,?,?,?,?,?,'pending')
			ON CONFLICT(link) DO NOTHING`),
		qPending: db.Rebind(`SELECT id, title, link, price, category, source, image_ref, description, created_at, delivery_state, sent_at
			FROM offers WHERE delivery_state = 'pending'
			ORDER BY created_at DESC, id DESC
			LIMIT ?`),
		qMarkSent: db.Rebind(`UPDATE offers SET delivery_state = 'sent', sent_at = ?
			WHERE link = ? AND delivery_state = 'pending'`),
		qStats: `SELECT COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN delivery_state = 'sent' THEN 1 ELSE 0 END), 0) AS sent
			FROM offers`,
		qPurge: `DELETE FROM offers`,
	}
}

func (s *sqlStore) InsertIfNew(ctx context.Context, o offer.Offer) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrClosed
	}
	link := strings.TrimSpace(o.Link)
	if link == "" {
		return false, ErrInvalidOffer
	}
	created := o.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	res, err := s.db.ExecContext(ctx, s.qInsert,
		o.Title, link, nullStr(o.Price), nullStr(o.Category), nullStr(o.Source),
		nullStr(o.ImageRef), nullStr(o.Description), created.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("insert offer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert offer: rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *sqlStore) ListPending(ctx context.Context, limit int) ([]offer.Offer, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return nil, nil
	}
	var rows []offerRow
	if err := s.db.SelectContext(ctx, &rows, s.qPending, limit); err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	out := make([]offer.Offer, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toOffer())
	}
	return out, nil
}

func (s *sqlStore) MarkSent(ctx context.Context, link string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	link = strings.TrimSpace(link)
	if link == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, s.qMarkSent, s.now().UnixMilli(), link); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

func (s *sqlStore) Stats(ctx context.Context) (offer.Stats, error) {
	if s == nil || s.db == nil {
		return offer.Stats{}, ErrClosed
	}
	var row struct {
		Total int64 `db:"total"`
		Sent  int64 `db:"sent"`
	}
	if err := s.db.GetContext(ctx, &row, s.qStats); err != nil {
		return offer.Stats{}, fmt.Errorf("stats: %w", err)
	}
	return offer.Stats{
		Total:   int(row.Total),
		Sent:    int(row.Sent),
		Pending: int(row.Total - row.Sent),
	}, nil
}

func (s *sqlStore) PurgeAll(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, s.qPurge)
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	n, _ := res.RowsAffected()
	s.log.Warn("offers purged", logx.Int64("rows", n))
	return n, nil
}

func (s *sqlStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) migrate(ctx context.Context, file string) error {
	b, err := migrationsFS.ReadFile(file)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("migrate %s: %w", file, err)
	}
	return nil
}
