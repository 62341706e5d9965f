package kb

import (
	"database/sql"
	"fmt"
	"regexp"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

var tableName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// PGStore keeps entries as JSONB documents in Postgres and answers
// filters with the @> containment operator. The *sql.DB is owned by the
// caller; Close does not touch it.
type PGStore struct {
	db    *sql.DB
	table string
}

// NewPGStore ensures the entry table exists and returns a store bound
// to it. An empty table name defaults to kb_entries.
func NewPGStore(db *sql.DB, table string) (*PGStore, error) {
	if table == "" {
		table = "kb_entries"
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("kb: invalid table name %q", table)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id  TEXT PRIMARY KEY,
			doc JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_doc ON %[1]s USING GIN (doc);
	`, table)
	if _, err := db.Exec(query); err != nil {
		return nil, fmt.Errorf("kb: create table %s: %w", table, err)
	}
	return &PGStore{db: db, table: table}, nil
}

// Create inserts e under a fresh id and returns the id.
func (s *PGStore) Create(e Entry) (string, error) {
	doc, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("kb: marshal entry: %w", err)
	}
	id := uuid.NewString()
	query := fmt.Sprintf("INSERT INTO %s (id, doc) VALUES ($1, $2)", s.table)
	if _, err := s.db.Exec(query, id, doc); err != nil {
		return "", fmt.Errorf("kb: insert entry: %w", err)
	}
	return id, nil
}

// Read returns every entry containing f, ordered by id.
func (s *PGStore) Read(f Filter) ([]Entry, error) {
	fdoc, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("kb: marshal filter: %w", err)
	}

	query := fmt.Sprintf("SELECT doc FROM %s WHERE doc @> $1 ORDER BY id", s.table)
	rows, err := s.db.Query(query, fdoc)
	if err != nil {
		return nil, fmt.Errorf("kb: read entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("kb: decode entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Update merges set into every entry containing f via JSONB
// concatenation. When nothing matches, set is inserted as a new entry.
func (s *PGStore) Update(f Filter, set Entry) (int, error) {
	fdoc, err := json.Marshal(f)
	if err != nil {
		return 0, fmt.Errorf("kb: marshal filter: %w", err)
	}
	sdoc, err := json.Marshal(set)
	if err != nil {
		return 0, fmt.Errorf("kb: marshal update: %w", err)
	}

	query := fmt.Sprintf("UPDATE %s SET doc = doc || $1 WHERE doc @> $2", s.table)
	res, err := s.db.Exec(query, sdoc, fdoc)
	if err != nil {
		return 0, fmt.Errorf("kb: update entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		insert := fmt.Sprintf("INSERT INTO %s (id, doc) VALUES ($1, $2)", s.table)
		if _, err := s.db.Exec(insert, uuid.NewString(), sdoc); err != nil {
			return 0, fmt.Errorf("kb: upsert entry: %w", err)
		}
	}
	return int(n), nil
}

// Delete removes every entry containing f and returns how many went.
func (s *PGStore) Delete(f Filter) (int, error) {
	fdoc, err := json.Marshal(f)
	if err != nil {
		return 0, fmt.Errorf("kb: marshal filter: %w", err)
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE doc @> $1", s.table)
	res, err := s.db.Exec(query, fdoc)
	if err != nil {
		return 0, fmt.Errorf("kb: delete entries: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Count returns how many entries contain f.
func (s *PGStore) Count(f Filter) (int, error) {
	fdoc, err := json.Marshal(f)
	if err != nil {
		return 0, fmt.Errorf("kb: marshal filter: %w", err)
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE doc @> $1", s.table)
	var n int
	if err := s.db.QueryRow(query, fdoc).Scan(&n); err != nil {
		return 0, fmt.Errorf("kb: count entries: %w", err)
	}
	return n, nil
}

// Size returns the total number of entries.
func (s *PGStore) Size() (int, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)
	var n int
	if err := s.db.QueryRow(query).Scan(&n); err != nil {
		return 0, fmt.Errorf("kb: size: %w", err)
	}
	return n, nil
}

// Close is a no-op; the database handle belongs to the caller.
func (s *PGStore) Close() error { return nil }
