// Package dataset manages an editable, ordered table of records such as
// monitoring wells. A dataset either starts from records fetched for a scope
// (existing data) or from an uploaded delimited file (import). It tracks
// whether existing data was modified, and becomes read-only once saved.
package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
)

// Mode selects where a dataset comes from.
type Mode string

const (
	ModeExisting Mode = "existing_data"
	ModeImport   Mode = "import_file"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeExisting, ModeImport:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Record is one row: column name to string or number.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	return maps.Clone(r)
}

// Schema is the fixed column set of existing data.
type Schema struct {
	Name    string
	Columns []string
	// StampColumn receives the scope stamp (for example the year) on every
	// imported or added row.
	StampColumn string
}

// Scope identifies the records a dataset covers.
type Scope struct {
	IDs   []string `json:"ids"`
	Stamp string   `json:"stamp,omitempty"`
}

// ErrorKind classifies the dataset message.
type ErrorKind string

const (
	ErrorValidation ErrorKind = "validation"
	ErrorFetch      ErrorKind = "fetch"
	ErrorSave       ErrorKind = "save"
)

// Snapshot is an immutable copy of the dataset state.
type Snapshot struct {
	Name          string    `json:"name"`
	Mode          Mode      `json:"mode"`
	Columns       []string  `json:"columns"`
	CustomColumns []string  `json:"customColumns"`
	Rows          []Record  `json:"rows"`
	Scope         Scope     `json:"scope"`
	Baseline      int       `json:"baseline" doc:"Row count of the last load or import"`
	Modified      bool      `json:"modified"`
	Locked        bool      `json:"locked"`
	Loading       bool      `json:"loading"`
	PendingFile   string    `json:"pendingFile,omitempty"`
	Error         string    `json:"error,omitempty"`
	ErrorKind     ErrorKind `json:"errorKind,omitempty"`
	Version       uint64    `json:"version"`
}

// Records is the raw row list, for savers.
func (s Snapshot) Records() []map[string]any {
	out := make([]map[string]any, len(s.Rows))
	for i, r := range s.Rows {
		out[i] = r
	}
	return out
}

// FetchFunc loads the existing records of a scope.
type FetchFunc func(ctx context.Context, scope Scope) ([]Record, error)

// ValidateFunc checks an uploaded file before it is parsed. A structural
// rejection should wrap ErrInvalidFile.
type ValidateFunc func(ctx context.Context, filename string, data []byte) error

// SaveFunc persists a dataset.
type SaveFunc func(ctx context.Context, snap Snapshot) error

// String renders a cell value. Whole numbers print without a fraction.
func String(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// scalar reports whether v can be stored in a cell.
func scalar(v any) bool {
	switch v.(type) {
	case nil, string, float64, float32, int, int64, json.Number:
		return true
	}
	return false
}

func cloneRows(rows []Record) []Record {
	out := make([]Record, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

func contains(list []string, s string) bool {
	return slices.Contains(list, s)
}
