// Package journal persists change batches to a SQL table.
//
// A Sink implements changeset.Sink: every batch handed to it by
// changeset.Context.SaveChanges is written in a single transaction, one row
// per change. Entity state is stored as a msgpack encoded snapshot of the
// entity's scalar fields, so the journal can be read back without the Go
// types that produced it.
package journal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/bindgraph/changeset"
	"github.com/syssam/bindgraph/dialect"
	"github.com/syssam/bindgraph/dialect/sql"
	"github.com/syssam/bindgraph/entityinfo"

	// Registers the "sqlite" database/sql driver used by Open.
	_ "modernc.org/sqlite"
)

// DefaultTable is the table written when no WithTable option is given.
const DefaultTable = "bindgraph_journal"

var (
	// ErrInvalidTable is returned for table names that are not plain identifiers.
	ErrInvalidTable = errors.New("journal: invalid table name")
	// ErrUnsupportedDialect is returned by Open for unknown dialects.
	ErrUnsupportedDialect = errors.New("journal: unsupported dialect")
)

// Sink writes change batches to a journal table.
type Sink struct {
	drv        dialect.Driver
	table      string
	classifier *entityinfo.Classifier
	log        *slog.Logger
}

// Option configures a Sink.
type Option func(*Sink)

// WithTable sets the journal table name.
func WithTable(name string) Option {
	return func(s *Sink) {
		s.table = name
	}
}

// WithClassifier sets the classifier used to snapshot entities.
func WithClassifier(c *entityinfo.Classifier) Option {
	return func(s *Sink) {
		s.classifier = c
	}
}

// WithLogger sets the logger for write failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) {
		s.log = l
	}
}

// New returns a Sink writing through drv.
func New(drv dialect.Driver, opts ...Option) (*Sink, error) {
	s := &Sink{
		drv:        drv,
		table:      DefaultTable,
		classifier: entityinfo.Default(),
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if !sql.ValidIdentifier(s.table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, s.table)
	}
	return s, nil
}

// Open opens a database of the given dialect and returns a Sink on it.
// The sqlite driver is linked in; other dialects need their database/sql
// driver registered by the caller.
func Open(name, dsn string, opts ...Option) (*Sink, error) {
	if !dialect.Supported(name) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDialect, name)
	}
	drv, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", name, err)
	}
	s, err := New(drv, opts...)
	if err != nil {
		return nil, errors.Join(err, drv.Close())
	}
	return s, nil
}

// Driver returns the driver the sink writes through.
func (s *Sink) Driver() dialect.Driver {
	return s.drv
}

// Close closes the underlying driver.
func (s *Sink) Close() error {
	return s.drv.Close()
}

// EnsureTable creates the journal table if it does not exist.
func (s *Sink) EnsureTable(ctx context.Context) error {
	blob, bigint, key := "BLOB", "BIGINT", "TEXT"
	switch s.drv.Dialect() {
	case dialect.Postgres:
		blob = "BYTEA"
	case dialect.MySQL:
		key = "VARCHAR(36)"
	case dialect.SQLite:
		bigint = "INTEGER"
	}
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	batch_id %s NOT NULL,
	seq INTEGER NOT NULL,
	op VARCHAR(16) NOT NULL,
	entity_set VARCHAR(255) NOT NULL,
	entity_type VARCHAR(255) NOT NULL,
	property VARCHAR(255) NOT NULL,
	target_type VARCHAR(255) NOT NULL,
	payload %s,
	created_at %s NOT NULL,
	PRIMARY KEY (batch_id, seq)
)`, s.table, key, blob, bigint)
	if err := s.drv.Exec(ctx, q, []any{}, nil); err != nil {
		return fmt.Errorf("journal: create table %s: %w", s.table, err)
	}
	return nil
}

// payload is the msgpack document stored with every change.
type payload struct {
	Entity map[string]any `msgpack:"entity,omitempty"`
	Target map[string]any `msgpack:"target,omitempty"`
}

// Write implements changeset.Sink.
func (s *Sink) Write(ctx context.Context, b *changeset.Batch) error {
	if b == nil || b.Len() == 0 {
		return nil
	}
	tx, err := s.drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("journal: begin: %w", err)
	}
	q := sql.Rebind(s.drv.Dialect(), fmt.Sprintf(
		"INSERT INTO %s (batch_id, seq, op, entity_set, entity_type, property, target_type, payload, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		s.table,
	))
	created := b.CreatedAt.UnixNano()
	for i, ch := range b.Changes {
		raw, err := msgpack.Marshal(payload{
			Entity: s.classifier.Snapshot(ch.Entity),
			Target: s.classifier.Snapshot(ch.Target),
		})
		if err != nil {
			return s.rollback(ctx, tx, b, fmt.Errorf("encode change %d: %w", i, err))
		}
		args := []any{
			b.ID.String(), int64(i), ch.Op.String(), ch.EntitySet,
			typeName(ch.Entity), ch.Property, typeName(ch.Target), raw, created,
		}
		if err := tx.Exec(ctx, q, args, nil); err != nil {
			return s.rollback(ctx, tx, b, err)
		}
	}
	if err := tx.Commit(); err != nil {
		s.log.WarnContext(ctx, "journal commit failed", "batch", b.ID, "error", err)
		return fmt.Errorf("journal: commit batch %s: %w", b.ID, err)
	}
	return nil
}

// rollback calls to tx.Rollback and wraps the given error with the rollback
// error if occurred.
func (s *Sink) rollback(ctx context.Context, tx dialect.Tx, b *changeset.Batch, err error) error {
	s.log.WarnContext(ctx, "journal write failed", "batch", b.ID, "changes", b.Len(), "error", err)
	if rerr := tx.Rollback(); rerr != nil {
		err = fmt.Errorf("%w: %v", err, rerr)
	}
	return fmt.Errorf("journal: write batch %s: %w", b.ID, err)
}

// Entry is one journaled change.
type Entry struct {
	Seq        int
	Op         string
	EntitySet  string
	EntityType string
	Property   string
	TargetType string
	// Entity and Target are the scalar snapshots taken when the batch was
	// written. Integers decode as int64, unsigned integers as uint64.
	Entity map[string]any
	Target map[string]any
}

// Batch is a journaled batch with its entries in change order.
type Batch struct {
	ID        uuid.UUID
	CreatedAt time.Time
	Entries   []Entry
}

// Batches reads back every journaled batch, oldest first.
func (s *Sink) Batches(ctx context.Context) ([]*Batch, error) {
	q := fmt.Sprintf(
		"SELECT batch_id, seq, op, entity_set, entity_type, property, target_type, payload, created_at FROM %s ORDER BY created_at, batch_id, seq",
		s.table,
	)
	rows := &sql.Rows{}
	if err := s.drv.Query(ctx, q, []any{}, rows); err != nil {
		return nil, fmt.Errorf("journal: read: %w", err)
	}
	defer rows.Close()
	var (
		out  []*Batch
		last *Batch
	)
	for rows.Next() {
		var (
			id      string
			created int64
			raw     []byte
			e       Entry
		)
		if err := rows.Scan(&id, &e.Seq, &e.Op, &e.EntitySet, &e.EntityType, &e.Property, &e.TargetType, &raw, &created); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		bid, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("journal: batch id %q: %w", id, err)
		}
		if e.Entity, e.Target, err = decode(raw); err != nil {
			return nil, fmt.Errorf("journal: batch %s change %d: %w", bid, e.Seq, err)
		}
		if last == nil || last.ID != bid {
			last = &Batch{ID: bid, CreatedAt: time.Unix(0, created).UTC()}
			out = append(out, last)
		}
		last.Entries = append(last.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: read: %w", err)
	}
	return out, nil
}

// Prune deletes the batches written before t and returns the number of
// deleted rows.
func (s *Sink) Prune(ctx context.Context, before time.Time) (int64, error) {
	q := sql.Rebind(s.drv.Dialect(), fmt.Sprintf("DELETE FROM %s WHERE created_at < ?", s.table))
	var res sql.Result
	if err := s.drv.Exec(ctx, q, []any{before.UnixNano()}, &res); err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	return res.RowsAffected()
}

func decode(raw []byte) (entity, target map[string]any, err error) {
	if len(raw) == 0 {
		return nil, nil, nil
	}
	dec := msgpack.NewDecoder(bytes.NewReader(raw))
	dec.UseLooseInterfaceDecoding(true)
	var p payload
	if err := dec.Decode(&p); err != nil {
		return nil, nil, err
	}
	return p.Entity, p.Target, nil
}

func typeName(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%T", v)
}

var _ changeset.Sink = (*Sink)(nil)
