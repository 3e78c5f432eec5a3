package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iitbhu2k25/dss-muskan-sub006/internal/dataset"
)

var (
	ErrNotReadOnly     = errors.New("db: only read-only statements are allowed")
	ErrEntryNotFound   = errors.New("db: archive entry not found")
	ErrNoConnection    = errors.New("db: database not available")
	readOnlyStatements = []string{"SELECT", "WITH", "SHOW", "DESCRIBE", "SUMMARIZE", "FROM"}
)

const schema = `CREATE TABLE IF NOT EXISTS dataset_snapshots (
	id        VARCHAR PRIMARY KEY,
	dataset   VARCHAR NOT NULL,
	mode      VARCHAR NOT NULL,
	scope     VARCHAR NOT NULL,
	stamp     VARCHAR,
	modified  BOOLEAN NOT NULL,
	columns   VARCHAR NOT NULL,
	row_count INTEGER NOT NULL,
	rows      VARCHAR NOT NULL,
	saved_at  TIMESTAMP NOT NULL
)`

// Entry describes one archived dataset save.
type Entry struct {
	ID       string    `json:"id" doc:"Archive entry ID"`
	Dataset  string    `json:"dataset" doc:"Dataset name"`
	Mode     string    `json:"mode" doc:"Dataset mode at save time"`
	Scope    []string  `json:"scope" doc:"Scope ids the rows belong to"`
	Stamp    string    `json:"stamp,omitempty" doc:"Scope stamp, e.g. the year"`
	Modified bool      `json:"modified" doc:"Whether existing data was modified before the save"`
	Columns  []string  `json:"columns" doc:"Column set"`
	RowCount int       `json:"rowCount" doc:"Number of rows"`
	SavedAt  time.Time `json:"savedAt" doc:"Save time (UTC)"`
}

// Archive keeps a local copy of every saved dataset in DuckDB.
type Archive struct {
	db  *sql.DB
	now func() time.Time
}

// NewArchive creates the archive table if needed.
func NewArchive(ctx context.Context, conn *sql.DB) (*Archive, error) {
	if conn == nil {
		return nil, ErrNoConnection
	}
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create archive table: %w", err)
	}
	return &Archive{db: conn, now: func() time.Time { return time.Now().UTC() }}, nil
}

// SaveDataset stores snap and returns the new entry ID.
func (a *Archive) SaveDataset(ctx context.Context, snap dataset.Snapshot) (string, error) {
	scope, err := json.Marshal(nonNil(snap.Scope.IDs))
	if err != nil {
		return "", err
	}
	columns, err := json.Marshal(nonNil(snap.Columns))
	if err != nil {
		return "", err
	}
	rows, err := json.Marshal(snap.Records())
	if err != nil {
		return "", fmt.Errorf("encode rows: %w", err)
	}

	id := uuid.NewString()
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO dataset_snapshots (id, dataset, mode, scope, stamp, modified, columns, row_count, rows, saved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, snap.Name, string(snap.Mode), string(scope), snap.Scope.Stamp, snap.Modified,
		string(columns), len(snap.Rows), string(rows), a.now(),
	)
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", snap.Name, err)
	}
	return id, nil
}

// List returns the entries of a dataset, newest first. An empty name lists
// every dataset.
func (a *Archive) List(ctx context.Context, name string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, dataset, mode, scope, stamp, modified, columns, row_count, saved_at
		FROM dataset_snapshots`
	args := []any{}
	if name != "" {
		q += ` WHERE dataset = ?`
		args = append(args, name)
	}
	q += ` ORDER BY saved_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Rows returns the archived rows of one entry.
func (a *Archive) Rows(ctx context.Context, id string) (Entry, []map[string]any, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT id, dataset, mode, scope, stamp, modified, columns, row_count, saved_at, rows
		FROM dataset_snapshots WHERE id = ?`, id)

	var e Entry
	var scope, columns, data string
	var stamp sql.NullString
	err := row.Scan(&e.ID, &e.Dataset, &e.Mode, &scope, &stamp, &e.Modified, &columns, &e.RowCount, &e.SavedAt, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	if err != nil {
		return Entry{}, nil, err
	}
	e.Stamp = stamp.String
	if err := decode(scope, columns, &e); err != nil {
		return Entry{}, nil, err
	}
	var records []map[string]any
	if err := json.Unmarshal([]byte(data), &records); err != nil {
		return Entry{}, nil, fmt.Errorf("decode rows: %w", err)
	}
	return e, records, nil
}

// Tables lists the tables of the database.
func Tables(ctx context.Context, conn *sql.DB) ([]string, error) {
	if conn == nil {
		return nil, ErrNoConnection
	}
	rows, err := conn.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Query runs a single read-only statement and returns its columns and rows.
func Query(ctx context.Context, conn *sql.DB, query string) ([]string, []map[string]any, error) {
	if conn == nil {
		return nil, nil, ErrNoConnection
	}
	if !readOnly(query) {
		return nil, nil, ErrNotReadOnly
	}

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	results := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		results = append(results, row)
	}
	return columns, results, rows.Err()
}

func readOnly(query string) bool {
	q := strings.TrimSpace(query)
	q = strings.TrimSuffix(q, ";")
	if q == "" || strings.Contains(q, ";") {
		return false
	}
	fields := strings.Fields(q)
	first := strings.ToUpper(fields[0])
	for _, s := range readOnlyStatements {
		if first == s {
			return true
		}
	}
	return false
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var scope, columns string
	var stamp sql.NullString
	if err := rows.Scan(&e.ID, &e.Dataset, &e.Mode, &scope, &stamp, &e.Modified, &columns, &e.RowCount, &e.SavedAt); err != nil {
		return Entry{}, err
	}
	e.Stamp = stamp.String
	return e, decode(scope, columns, &e)
}

func decode(scope, columns string, e *Entry) error {
	if err := json.Unmarshal([]byte(scope), &e.Scope); err != nil {
		return fmt.Errorf("decode scope: %w", err)
	}
	if err := json.Unmarshal([]byte(columns), &e.Columns); err != nil {
		return fmt.Errorf("decode columns: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
