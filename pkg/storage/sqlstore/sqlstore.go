// Package sqlstore implements storage.Driver over database/sql. The sqlite and
// postgres drivers share it and differ only in their Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/storage"
)

// Dialect captures the SQL differences between backends.
type Dialect struct {
	// Name is used in error messages.
	Name string

	// Placeholder returns the bind parameter for the n-th (1-based) argument.
	Placeholder func(n int) string
}

// SQLite binds with "?".
var SQLite = Dialect{
	Name:        "sqlite",
	Placeholder: func(int) string { return "?" },
}

// Postgres binds with "$n".
var Postgres = Dialect{
	Name:        "postgres",
	Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
}

const schema = `CREATE TABLE IF NOT EXISTS transcripts (
	id               TEXT PRIMARY KEY,
	model            TEXT NOT NULL,
	messages         TEXT NOT NULL,
	response         TEXT NOT NULL,
	outcome          TEXT NOT NULL,
	detail           TEXT NOT NULL,
	streaming        BOOLEAN NOT NULL,
	chunk_count      INTEGER NOT NULL,
	emitted_count    INTEGER NOT NULL,
	suppressed_count INTEGER NOT NULL,
	trimmed_count    INTEGER NOT NULL,
	started_at       BIGINT NOT NULL,
	completed_at     BIGINT NOT NULL
)`

const indexes = `CREATE INDEX IF NOT EXISTS transcripts_started_at ON transcripts (started_at)`

const columns = `id, model, messages, response, outcome, detail, streaming,
	chunk_count, emitted_count, suppressed_count, trimmed_count, started_at, completed_at`

// Store implements storage.Driver on a *sql.DB.
type Store struct {
	DB      *sql.DB
	dialect Dialect
}

// New wraps db and creates the schema if needed. The Store owns db and
// closes it on Close.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	for _, stmt := range []string{schema, indexes} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create %s schema: %w", dialect.Name, err)
		}
	}

	return &Store{DB: db, dialect: dialect}, nil
}

// Put inserts t unless its ID already exists.
func (s *Store) Put(ctx context.Context, t *storage.Transcript) (bool, error) {
	if err := t.Validate(); err != nil {
		return false, err
	}

	messages, err := json.Marshal(t.Messages)
	if err != nil {
		return false, fmt.Errorf("failed to encode messages: %w", err)
	}

	query := fmt.Sprintf(
		"INSERT INTO transcripts (%s) VALUES (%s) ON CONFLICT (id) DO NOTHING",
		columns, s.placeholders(13),
	)

	res, err := s.DB.ExecContext(ctx, query,
		t.ID, t.Model, string(messages), t.Response, string(t.Outcome), t.Detail, t.Streaming,
		t.ChunkCount, t.EmittedCount, t.SuppressedCount, t.TrimmedCount,
		t.StartedAt.UnixNano(), t.CompletedAt.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert transcript %s: %w", t.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// Get retrieves a transcript by ID.
func (s *Store) Get(ctx context.Context, id string) (*storage.Transcript, error) {
	query := fmt.Sprintf("SELECT %s FROM transcripts WHERE id = %s", columns, s.dialect.Placeholder(1))

	t, err := scan(s.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript %s: %w", id, err)
	}
	return t, nil
}

// List returns transcripts newest first.
func (s *Store) List(ctx context.Context, opts storage.ListOptions) ([]*storage.Transcript, error) {
	var (
		where string
		args  []any
	)
	if opts.Outcome != "" {
		args = append(args, string(opts.Outcome))
		where = "WHERE outcome = " + s.dialect.Placeholder(len(args))
	}
	args = append(args, opts.EffectiveLimit())

	query := fmt.Sprintf("SELECT %s FROM transcripts %s ORDER BY started_at DESC, id DESC LIMIT %s",
		columns, where, s.dialect.Placeholder(len(args)))

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	defer rows.Close()

	var out []*storage.Transcript
	for rows.Next() {
		t, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transcript: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) placeholders(n int) string {
	p := make([]string, n)
	for i := range p {
		p[i] = s.dialect.Placeholder(i + 1)
	}
	return strings.Join(p, ", ")
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*storage.Transcript, error) {
	var (
		t         storage.Transcript
		messages  string
		outcome   string
		started   int64
		completed int64
	)

	err := row.Scan(
		&t.ID, &t.Model, &messages, &t.Response, &outcome, &t.Detail, &t.Streaming,
		&t.ChunkCount, &t.EmittedCount, &t.SuppressedCount, &t.TrimmedCount,
		&started, &completed,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(messages), &t.Messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages of %s: %w", t.ID, err)
	}
	if t.Messages == nil {
		t.Messages = []llm.Message{}
	}

	t.Outcome = storage.Outcome(outcome)
	t.StartedAt = time.Unix(0, started).UTC()
	t.CompletedAt = time.Unix(0, completed).UTC()
	return &t, nil
}
