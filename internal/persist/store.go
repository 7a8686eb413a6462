package persist

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	json "github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"

	// Drivers selectable through Open.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const table = "form_saves"

// Record is one stored save.
type Record struct {
	ID        string         `json:"id"`
	Dialog    string         `json:"dialog,omitempty"`
	Node      string         `json:"node"`
	Mode      string         `json:"mode"`
	ObjectID  string         `json:"object_id,omitempty"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store keeps saves in a SQL table. It works on SQLite and PostgreSQL.
type Store struct {
	drv     *entsql.Driver
	dialect string

	mu      sync.Mutex
	entropy io.Reader
}

// Open opens a store. driver is "sqlite" or "pgx".
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	d := dialect.SQLite
	if driver == "pgx" || driver == "postgres" {
		driver, d = "pgx", dialect.Postgres
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("persist: open %s: %w", driver, err)
	}
	if d == dialect.SQLite {
		db.SetMaxOpenConns(1)
	}
	s, err := NewStore(ctx, db, d)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps db and creates the saves table when missing.
func NewStore(ctx context.Context, db *sql.DB, d string) (*Store, error) {
	s := &Store{
		drv:     entsql.OpenDB(d, db),
		dialect: d,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// createTable is valid on SQLite and PostgreSQL.
const createTable = `CREATE TABLE IF NOT EXISTS ` + table + ` (
	id varchar(26) NOT NULL PRIMARY KEY,
	dialog varchar(64),
	node varchar(128) NOT NULL,
	mode varchar(16) NOT NULL,
	object_id varchar(128),
	payload text NOT NULL,
	created_at bigint NOT NULL
)`

func (s *Store) migrate(ctx context.Context) error {
	var res sql.Result
	if err := s.drv.Exec(ctx, createTable, []any{}, &res); err != nil {
		return fmt.Errorf("persist: create %s: %w", table, err)
	}
	return nil
}

func (s *Store) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// Save implements Provider. The stored id is returned as data.id.
func (s *Store) Save(ctx context.Context, req Request) (Result, error) {
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return Result{Success: false, ErrorMsg: err.Error()}, nil
	}
	id := s.newID()
	objectID := ""
	if req.ObjectID != nil {
		objectID = fmt.Sprint(req.ObjectID)
	}
	q, args := entsql.Dialect(s.dialect).
		Insert(table).
		Columns("id", "dialog", "node", "mode", "object_id", "payload", "created_at").
		Values(id, req.Dialog, req.Node, req.Mode, objectID, string(payload), time.Now().UnixNano()).
		Query()
	var res sql.Result
	if err := s.drv.Exec(ctx, q, args, &res); err != nil {
		return Result{}, fmt.Errorf("persist: insert: %w", err)
	}
	return Result{Success: true, Data: map[string]any{"id": id}}, nil
}

var recordColumns = []string{"id", "dialog", "node", "mode", "object_id", "payload", "created_at"}

// Get returns one stored save.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	b := entsql.Dialect(s.dialect)
	q, args := b.Select(recordColumns...).
		From(b.Table(table)).
		Where(entsql.EQ("id", id)).
		Query()
	recs, err := s.query(ctx, q, args)
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return recs[0], nil
}

// List returns the latest saves, newest first. An empty node lists all
// node types.
func (s *Store) List(ctx context.Context, node string, limit int) ([]Record, error) {
	b := entsql.Dialect(s.dialect)
	sel := b.Select(recordColumns...).From(b.Table(table))
	if node != "" {
		sel.Where(entsql.EQ("node", node))
	}
	if limit <= 0 {
		limit = 50
	}
	q, args := sel.OrderBy(entsql.Desc("id")).Limit(limit).Query()
	return s.query(ctx, q, args)
}

func (s *Store) query(ctx context.Context, q string, args []any) ([]Record, error) {
	rows := &entsql.Rows{}
	if err := s.drv.Query(ctx, q, args, rows); err != nil {
		return nil, fmt.Errorf("persist: query: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var (
			r        Record
			dialog   sql.NullString
			objectID sql.NullString
			payload  string
			created  int64
		)
		if err := rows.Scan(&r.ID, &dialog, &r.Node, &r.Mode, &objectID, &payload, &created); err != nil {
			return nil, fmt.Errorf("persist: scan: %w", err)
		}
		r.Dialog = dialog.String
		r.ObjectID = objectID.String
		r.CreatedAt = time.Unix(0, created).UTC()
		if err := json.Unmarshal([]byte(payload), &r.Payload); err != nil {
			return nil, fmt.Errorf("persist: payload of %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error { return s.drv.Close() }
