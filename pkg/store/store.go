// Package store persists catalog entries and match decisions in SQLite. The
// matching core never touches it; the server and CLI load a Catalog from it
// at startup and write decisions back.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/hifi-resolver/pkg/index"
	"github.com/hazyhaar/hifi-resolver/pkg/match"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

//go:embed migrations/*.sql
var migrations embed.FS

const (
	entriesTable   = "catalog_entries"
	decisionsTable = "match_decisions"

	upsertChunk = 200

	defaultReviewLimit = 100
	maxReviewLimit     = 500
)

var (
	entryCols    = []string{"id", "category", "name", "brand", "created_at"}
	decisionCols = []string{"id", "category", "listing_name", "listing_brand", "outcome", "candidate_id", "score", "decided_at", "resolved_at"}
)

// Entry is a persisted catalog product.
type Entry struct {
	ID        string `db:"id" json:"id"`
	Category  string `db:"category" json:"category"`
	Name      string `db:"name" json:"name"`
	Brand     string `db:"brand" json:"brand"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
}

// Decision is a recorded match decision. CandidateID is empty for rejects.
type Decision struct {
	ID           string        `db:"id" json:"id"`
	Category     string        `db:"category" json:"category"`
	ListingName  string        `db:"listing_name" json:"listing_name"`
	ListingBrand string        `db:"listing_brand" json:"listing_brand"`
	Outcome      match.Outcome `db:"outcome" json:"outcome"`
	CandidateID  string        `db:"candidate_id" json:"candidate_id,omitempty"`
	Score        float64       `db:"score" json:"score"`
	DecidedAt    int64         `db:"decided_at" json:"decided_at"`
	ResolvedAt   *int64        `db:"resolved_at" json:"resolved_at,omitempty"`
}

// Store wraps the SQLite database.
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the database at path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := migrateUp(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewID returns a fresh sortable identifier.
func NewID() string {
	return ulid.Make().String()
}

// UpsertEntry inserts or updates a single entry.
func (s *Store) UpsertEntry(ctx context.Context, e *Entry) error {
	_, err := s.UpsertEntries(ctx, []*Entry{e})
	return err
}

// UpsertEntries inserts or updates entries in one transaction. Missing ids
// are generated and creation times are kept for rows that already exist.
func (s *Store) UpsertEntries(ctx context.Context, entries []*Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	now := time.Now().Unix()
	for _, e := range entries {
		if e.ID == "" {
			e.ID = NewID()
		}
		e.Category = strings.ToLower(strings.TrimSpace(e.Category))
		if e.CreatedAt == 0 {
			e.CreatedAt = now
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	for start := 0; start < len(entries); start += upsertChunk {
		end := min(start+upsertChunk, len(entries))
		ib := sqlbuilder.SQLite.NewInsertBuilder()
		ib.InsertInto(entriesTable)
		ib.Cols(entryCols...)
		for _, e := range entries[start:end] {
			ib.Values(e.ID, e.Category, e.Name, e.Brand, e.CreatedAt)
		}
		query, args := ib.Build()
		query += " ON CONFLICT (id) DO UPDATE SET category = excluded.category, name = excluded.name, brand = excluded.brand"
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("upsert entries: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert: %w", err)
	}
	return len(entries), nil
}

// GetEntry returns the entry with the given id.
func (s *Store) GetEntry(ctx context.Context, id string) (*Entry, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(entryCols...).From(entriesTable).Where(sb.Equal("id", id))
	query, args := sb.Build()

	var e Entry
	if err := s.db.GetContext(ctx, &e, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("entry %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get entry %s: %w", id, err)
	}
	return &e, nil
}

// DeleteEntry removes an entry.
func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	db := sqlbuilder.SQLite.NewDeleteBuilder()
	db.DeleteFrom(entriesTable).Where(db.Equal("id", id))
	query, args := db.Build()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete entry %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListEntries returns the entries of one category in insertion order. An
// empty category lists every entry.
func (s *Store) ListEntries(ctx context.Context, category string) ([]Entry, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(entryCols...).From(entriesTable)
	if c := strings.ToLower(strings.TrimSpace(category)); c != "" {
		sb.Where(sb.Equal("category", c))
	}
	sb.OrderBy("category", "created_at", "id")
	query, args := sb.Build()

	var out []Entry
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return out, nil
}

// Categories returns the distinct categories present, sorted.
func (s *Store) Categories(ctx context.Context) ([]string, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("DISTINCT category").From(entriesTable).OrderBy("category")
	query, args := sb.Build()

	var out []string
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return out, nil
}

// LoadCatalog adds every stored entry to cat, category by category, and
// returns the number of entries loaded.
func (s *Store) LoadCatalog(ctx context.Context, cat *index.Catalog) (int, error) {
	entries, err := s.ListEntries(ctx, "")
	if err != nil {
		return 0, err
	}
	var (
		current string
		pool    []index.Candidate
	)
	flush := func() {
		if len(pool) > 0 {
			cat.Load(current, pool)
		}
		pool = nil
	}
	for _, e := range entries {
		if e.Category != current {
			flush()
			current = e.Category
		}
		pool = append(pool, index.Candidate{ID: e.ID, Name: e.Name, Brand: e.Brand})
	}
	flush()
	return len(entries), nil
}

// RecordDecision stores a match decision, assigning an id and timestamp
// when missing.
func (s *Store) RecordDecision(ctx context.Context, d *Decision) error {
	if d.ID == "" {
		d.ID = NewID()
	}
	if d.DecidedAt == 0 {
		d.DecidedAt = time.Now().Unix()
	}
	d.Category = strings.ToLower(strings.TrimSpace(d.Category))

	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto(decisionsTable)
	ib.Cols(decisionCols...)
	ib.Values(d.ID, d.Category, d.ListingName, d.ListingBrand, string(d.Outcome), d.CandidateID, d.Score, d.DecidedAt, d.ResolvedAt)
	query, args := ib.Build()

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}

// PendingReviews returns unresolved pending-review decisions, highest score
// first. limit defaults to 100 and is capped at 500.
func (s *Store) PendingReviews(ctx context.Context, limit int) ([]Decision, error) {
	if limit < 1 || limit > maxReviewLimit {
		limit = defaultReviewLimit
	}
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(decisionCols...).From(decisionsTable)
	sb.Where(
		sb.Equal("outcome", string(match.PendingReview)),
		sb.IsNull("resolved_at"),
	)
	sb.OrderBy("score DESC", "decided_at DESC", "id")
	sb.Limit(limit)
	query, args := sb.Build()

	var out []Decision
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list pending reviews: %w", err)
	}
	return out, nil
}

// ResolveReview settles a pending review as a merge or a reject.
func (s *Store) ResolveReview(ctx context.Context, id string, outcome match.Outcome) error {
	if outcome != match.AutoMerge && outcome != match.Reject {
		return fmt.Errorf("resolve review %s: invalid outcome %q", id, outcome)
	}
	ub := sqlbuilder.SQLite.NewUpdateBuilder()
	ub.Update(decisionsTable)
	ub.Set(
		ub.Assign("outcome", string(outcome)),
		ub.Assign("resolved_at", time.Now().Unix()),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("outcome", string(match.PendingReview)),
		ub.IsNull("resolved_at"),
	)
	query, args := ub.Build()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("resolve review %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pending review %s: %w", id, ErrNotFound)
	}
	return nil
}
