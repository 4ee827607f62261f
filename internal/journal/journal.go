package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

// Kind classifies a journal entry.
type Kind string

// Entry kinds.
const (
	KindConnected        Kind = "connected"
	KindConnectionFailed Kind = "connection_failed"
	KindMessage          Kind = "message"
	KindPublish          Kind = "publish"
	KindSubscribe        Kind = "subscribe"
	KindSystem           Kind = "system"
)

const (
	// DefaultMaxEntries caps the journal when no limit is configured.
	DefaultMaxEntries = 500

	defaultRecentLimit = 50

	// maxDetailBytes truncates large payloads before they are stored.
	maxDetailBytes = 4096
)

// ErrInvalidEntry is returned for entries without a kind.
var ErrInvalidEntry = errors.New("journal: entry kind is required")

// Entry is one journal row.
type Entry struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Topic     string    `json:"topic,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	QoS       byte      `json:"qos"`
	Retained  bool      `json:"retained"`
	CreatedAt time.Time `json:"created_at"`
}

// Journal stores entries in the journal table created by the embedded
// migrations. Safe for concurrent use.
type Journal struct {
	db         *sql.DB
	maxEntries int
	clock      clock.PassiveClock
	newID      func() string
}

// Option customises a Journal.
type Option func(*Journal)

// WithClock sets the clock used for entry timestamps.
func WithClock(c clock.PassiveClock) Option {
	return func(j *Journal) { j.clock = c }
}

// New returns a Journal on db holding at most maxEntries rows.
// A non-positive maxEntries uses DefaultMaxEntries.
func New(db *sql.DB, maxEntries int, opts ...Option) *Journal {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	j := &Journal{
		db:         db,
		maxEntries: maxEntries,
		clock:      clock.RealClock{},
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// MaxEntries returns the row cap.
func (j *Journal) MaxEntries() int {
	return j.maxEntries
}

// Append stores e, filling in its ID and timestamp, and prunes rows beyond
// the cap. It returns the stored entry.
func (j *Journal) Append(ctx context.Context, e Entry) (Entry, error) {
	if e.Kind == "" {
		return Entry{}, ErrInvalidEntry
	}
	if e.ID == "" {
		e.ID = j.newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = j.clock.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.Detail = truncate(e.Detail, maxDetailBytes)

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	_, err = tx.ExecContext(ctx,
		`INSERT INTO journal (id, kind, topic, detail, qos, retained, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Kind), e.Topic, e.Detail, e.QoS, e.Retained, e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("inserting journal entry: %w", err)
	}
	if _, err := pruneTx(ctx, tx, j.maxEntries); err != nil {
		return Entry{}, err
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("committing journal entry: %w", err)
	}
	return e, nil
}

// Recent returns up to limit entries, newest first. A non-positive limit
// returns 50; the cap bounds larger limits.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > j.maxEntries {
		limit = j.maxEntries
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, kind, topic, detail, qos, retained, created_at
		 FROM journal
		 ORDER BY seq DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e         Entry
			kind      string
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &kind, &e.Topic, &e.Detail, &e.QoS, &e.Retained, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}
		e.Kind = Kind(kind)
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal: %w", err)
	}
	return entries, nil
}

// Count returns the number of stored entries.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM journal").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting journal: %w", err)
	}
	return n, nil
}

// Prune deletes entries beyond the cap and returns how many were removed.
func (j *Journal) Prune(ctx context.Context) (int64, error) {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	n, err := pruneTx(ctx, tx, j.maxEntries)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing prune: %w", err)
	}
	return n, nil
}

// Clear deletes every entry.
func (j *Journal) Clear(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, "DELETE FROM journal"); err != nil {
		return fmt.Errorf("clearing journal: %w", err)
	}
	return nil
}

func pruneTx(ctx context.Context, tx *sql.Tx, keep int) (int64, error) {
	result, err := tx.ExecContext(ctx,
		`DELETE FROM journal WHERE seq NOT IN (
			SELECT seq FROM journal ORDER BY seq DESC LIMIT ?
		)`,
		keep,
	)
	if err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

