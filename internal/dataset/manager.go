package dataset

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// Config configures a Manager.
type Config struct {
	Schema   Schema
	Mode     Mode
	Fetch    FetchFunc
	Validate ValidateFunc
	Save     SaveFunc
	// ValidationTTL is how long a validation message stays visible.
	ValidationTTL time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
}

// Manager owns one editable dataset. It is safe for concurrent use.
type Manager struct {
	schema   Schema
	fetch    FetchFunc
	validate ValidateFunc
	save     SaveFunc
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu          sync.Mutex
	mode        Mode
	columns     []string
	custom      []string
	rows        []Record
	scope       Scope
	baseline    int
	modified    bool
	locked      bool
	closed      bool
	busy        string
	pendingFile string
	version     uint64

	errMsg     string
	errKind    ErrorKind
	errExpires time.Time
	errTimer   *time.Timer
	errSeq     uint64

	gen    uint64
	cancel context.CancelFunc

	listeners []func(Snapshot)
	notifyMu  sync.Mutex
	wg        sync.WaitGroup
}

// New creates a manager in cfg.Mode (existing data by default).
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	ttl := cfg.ValidationTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	mode := cfg.Mode
	if mode == "" {
		mode = ModeExisting
	}
	m := &Manager{
		schema:   cfg.Schema,
		fetch:    cfg.Fetch,
		validate: cfg.Validate,
		save:     cfg.Save,
		ttl:      ttl,
		now:      now,
		logger:   logger.With("dataset", cfg.Schema.Name),
		mode:     mode,
	}
	m.clearLocked()
	return m
}

// Name returns the dataset name.
func (m *Manager) Name() string { return m.schema.Name }

// Schema returns the fixed schema.
func (m *Manager) Schema() Schema { return m.schema }

// SetMode switches between existing data and file import. The dataset,
// its error and any pending file are cleared. Ignored when locked.
func (m *Manager) SetMode(mode Mode) error {
	if _, err := ParseMode(string(mode)); err != nil {
		return m.reject(err)
	}
	m.mu.Lock()
	if m.closed || m.locked || m.mode == mode {
		m.mu.Unlock()
		return nil
	}
	m.supersedeLocked()
	m.mode = mode
	m.clearLocked()
	m.version++
	m.mu.Unlock()

	m.notify()
	return nil
}

// SetPendingFile records the uploaded file awaiting import.
func (m *Manager) SetPendingFile(name string) {
	m.mu.Lock()
	if m.closed || m.locked || m.pendingFile == name {
		m.mu.Unlock()
		return
	}
	m.pendingFile = name
	m.version++
	m.mu.Unlock()
	m.notify()
}

// LoadExisting fetches the records of scope in the background. A later call
// supersedes an earlier one.
func (m *Manager) LoadExisting(scope Scope) error {
	m.mu.Lock()
	if m.closed || m.locked {
		m.mu.Unlock()
		return nil
	}
	if m.mode != ModeExisting {
		m.mu.Unlock()
		return m.reject(fmt.Errorf("%w: load requires %s", ErrWrongMode, ModeExisting))
	}
	if len(scope.IDs) == 0 {
		m.mu.Unlock()
		return m.reject(fmt.Errorf("%w: no scope selected", ErrEmptyDataset))
	}
	if m.busy != "" && m.busy != opLoad {
		m.mu.Unlock()
		return ErrLoadInFlight
	}
	ctx, gen := m.beginLocked(context.Background(), opLoad)
	scope.IDs = slices.Clone(scope.IDs)
	m.version++
	m.mu.Unlock()
	m.notify()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		records, err := m.fetch(ctx, scope)
		m.applyLoad(gen, scope, records, err)
	}()
	return nil
}

func (m *Manager) applyLoad(gen uint64, scope Scope, records []Record, err error) {
	m.mu.Lock()
	if m.closed || m.gen != gen {
		m.mu.Unlock()
		m.logger.Debug("discarding stale load", "generation", gen)
		return
	}
	m.endLocked()
	if err != nil {
		m.setErrorLocked(ErrorFetch, fmt.Sprintf("failed to load %s: %v", m.schema.Name, err))
		m.logger.Warn("dataset load failed", "error", err)
	} else {
		m.replaceLocked(m.existingColumns(records, scope), records, scope)
		m.clearErrorLocked()
		m.logger.Info("dataset loaded", "rows", len(m.rows), "stamp", scope.Stamp)
	}
	m.version++
	m.mu.Unlock()
	m.notify()
}

// existingColumns returns the schema columns, then keys found only in the
// fetched records in sorted order, then the stamp column.
func (m *Manager) existingColumns(records []Record, scope Scope) []string {
	cols := slices.Clone(m.schema.Columns)
	var extra []string
	for _, r := range records {
		for k := range r {
			if !contains(cols, k) && !contains(extra, k) && k != m.schema.StampColumn {
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	cols = append(cols, extra...)
	if m.stamping(scope.Stamp) || m.hasStamp(records) {
		if !contains(cols, m.schema.StampColumn) {
			cols = append(cols, m.schema.StampColumn)
		}
	}
	return cols
}

func (m *Manager) hasStamp(records []Record) bool {
	if m.schema.StampColumn == "" {
		return false
	}
	for _, r := range records {
		if _, ok := r[m.schema.StampColumn]; ok {
			return true
		}
	}
	return false
}

func (m *Manager) stamping(stamp string) bool {
	return m.schema.StampColumn != "" && stamp != ""
}

// ImportFile validates data with the backend, parses it and replaces the
// dataset. The stamp is written to every row.
func (m *Manager) ImportFile(ctx context.Context, filename string, data []byte, stamp string) error {
	m.mu.Lock()
	if m.closed || m.locked {
		m.mu.Unlock()
		return nil
	}
	if m.mode != ModeImport {
		m.mu.Unlock()
		return m.reject(fmt.Errorf("%w: import requires %s", ErrWrongMode, ModeImport))
	}
	if m.busy != "" {
		m.mu.Unlock()
		return ErrLoadInFlight
	}
	ctx, gen := m.beginLocked(ctx, opImport)
	m.pendingFile = filename
	m.version++
	m.mu.Unlock()
	m.notify()

	m.wg.Add(1)
	defer m.wg.Done()

	var columns []string
	var rows []Record
	err := m.validateFile(ctx, filename, data)
	if err == nil {
		columns, rows, err = ParseCSV(data)
	}

	m.mu.Lock()
	if m.closed || m.gen != gen {
		m.mu.Unlock()
		return ErrSuperseded
	}
	m.endLocked()
	switch {
	case err == nil:
		if m.stamping(stamp) && !contains(columns, m.schema.StampColumn) {
			columns = append(columns, m.schema.StampColumn)
		}
		m.replaceLocked(columns, rows, Scope{Stamp: stamp})
		m.pendingFile = ""
		m.clearErrorLocked()
		m.logger.Info("dataset imported", "file", filename, "rows", len(rows))
	case IsValidation(err):
		m.setErrorLocked(ErrorValidation, err.Error())
	default:
		m.setErrorLocked(ErrorFetch, fmt.Sprintf("failed to validate %s: %v", filename, err))
		m.logger.Warn("file validation failed", "file", filename, "error", err)
	}
	m.version++
	m.mu.Unlock()
	m.notify()
	return err
}

func (m *Manager) validateFile(ctx context.Context, filename string, data []byte) error {
	if m.validate == nil {
		return nil
	}
	return m.validate(ctx, filename, data)
}

// EditCell sets one cell. In existing data mode a change of value marks the
// dataset modified.
func (m *Manager) EditCell(row int, column string, value any) error {
	return m.mutate(func() (bool, error) {
		if row < 0 || row >= len(m.rows) {
			return false, fmt.Errorf("%w: %d", ErrRowOutOfRange, row)
		}
		if !contains(m.columns, column) {
			return false, fmt.Errorf("%w: %q", ErrUnknownColumn, column)
		}
		if !scalar(value) {
			return false, fmt.Errorf("%w: column %q", ErrInvalidValue, column)
		}
		if String(m.rows[row][column]) == String(value) {
			return false, nil
		}
		m.rows[row][column] = value
		return true, nil
	})
}

// AddRow appends a row with every column empty, the scope stamp, and then
// initial applied on top.
func (m *Manager) AddRow(initial Record) error {
	return m.mutate(func() (bool, error) {
		if len(m.columns) == 0 {
			return false, ErrNoColumns
		}
		for k, v := range initial {
			if !contains(m.columns, k) {
				return false, fmt.Errorf("%w: %q", ErrUnknownColumn, k)
			}
			if !scalar(v) {
				return false, fmt.Errorf("%w: column %q", ErrInvalidValue, k)
			}
		}
		rec := make(Record, len(m.columns))
		for _, c := range m.columns {
			rec[c] = ""
		}
		if m.stamping(m.scope.Stamp) && contains(m.columns, m.schema.StampColumn) {
			rec[m.schema.StampColumn] = m.scope.Stamp
		}
		for k, v := range initial {
			rec[k] = v
		}
		m.rows = append(m.rows, rec)
		return true, nil
	})
}

// RemoveRow deletes a row. The last remaining row cannot be removed.
func (m *Manager) RemoveRow(row int) error {
	return m.mutate(func() (bool, error) {
		if row < 0 || row >= len(m.rows) {
			return false, fmt.Errorf("%w: %d", ErrRowOutOfRange, row)
		}
		if len(m.rows) == 1 {
			return false, ErrLastRow
		}
		m.rows = slices.Delete(m.rows, row, row+1)
		return true, nil
	})
}

// AddColumn appends a user column, empty on every row.
func (m *Manager) AddColumn(name string) error {
	name = strings.TrimSpace(name)
	return m.mutate(func() (bool, error) {
		if name == "" {
			return false, ErrEmptyColumn
		}
		for _, c := range m.columns {
			if strings.EqualFold(c, name) {
				return false, fmt.Errorf("%w: %q", ErrDuplicateColumn, name)
			}
		}
		m.columns = append(m.columns, name)
		m.custom = append(m.custom, name)
		for _, r := range m.rows {
			r[name] = ""
		}
		return true, nil
	})
}

// RemoveColumn drops a user column from every row.
func (m *Manager) RemoveColumn(name string) error {
	return m.mutate(func() (bool, error) {
		if !contains(m.columns, name) {
			return false, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
		}
		if !contains(m.custom, name) {
			return false, fmt.Errorf("%w: %q", ErrFixedColumn, name)
		}
		m.columns = slices.DeleteFunc(m.columns, func(c string) bool { return c == name })
		m.custom = slices.DeleteFunc(m.custom, func(c string) bool { return c == name })
		for _, r := range m.rows {
			delete(r, name)
		}
		return true, nil
	})
}

// mutate runs fn under the lock unless the dataset is locked or busy. When fn
// reports a change, existing data is marked modified and listeners notified.
func (m *Manager) mutate(fn func() (bool, error)) error {
	m.mu.Lock()
	if m.closed || m.locked {
		m.mu.Unlock()
		return nil
	}
	if m.busy != "" {
		m.mu.Unlock()
		return ErrLoadInFlight
	}
	changed, err := fn()
	if err != nil {
		m.setErrorLocked(ErrorValidation, err.Error())
		m.version++
		m.mu.Unlock()
		m.notify()
		return err
	}
	if !changed {
		m.mu.Unlock()
		return nil
	}
	if m.mode == ModeExisting {
		m.modified = true
	}
	m.version++
	m.mu.Unlock()
	m.notify()
	return nil
}

// Save hands the dataset to the saver and locks it on success. A failed save
// leaves the dataset editable with a persistent error.
func (m *Manager) Save(ctx context.Context) error {
	m.mu.Lock()
	if m.closed || m.locked {
		m.mu.Unlock()
		return nil
	}
	if m.busy != "" {
		m.mu.Unlock()
		return ErrLoadInFlight
	}
	if len(m.rows) == 0 {
		m.mu.Unlock()
		return m.reject(ErrEmptyDataset)
	}
	snap := m.snapshotLocked()
	ctx, gen := m.beginLocked(ctx, opSave)
	m.version++
	m.mu.Unlock()
	m.notify()

	m.wg.Add(1)
	defer m.wg.Done()

	var err error
	if m.save != nil {
		err = m.save(ctx, snap)
	}

	m.mu.Lock()
	if m.closed || m.gen != gen {
		m.mu.Unlock()
		return ErrSuperseded
	}
	m.endLocked()
	if err != nil {
		m.setErrorLocked(ErrorSave, fmt.Sprintf("failed to save %s: %v", m.schema.Name, err))
		m.logger.Warn("dataset save failed", "error", err)
	} else {
		m.locked = true
		m.clearErrorLocked()
		m.logger.Info("dataset saved", "rows", len(m.rows), "modified", m.modified)
	}
	m.version++
	m.mu.Unlock()
	m.notify()
	return err
}

// Reset clears the dataset and the lock. The mode is kept.
func (m *Manager) Reset() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.supersedeLocked()
	m.clearLocked()
	m.locked = false
	m.version++
	m.mu.Unlock()
	m.notify()
}

// ExportCSV writes the current columns and rows. It does not change state.
func (m *Manager) ExportCSV(w io.Writer) error {
	m.mu.Lock()
	columns := slices.Clone(m.columns)
	rows := cloneRows(m.rows)
	m.mu.Unlock()
	return WriteCSV(w, columns, rows)
}

// ClearError dismisses the dataset message.
func (m *Manager) ClearError() {
	m.mu.Lock()
	if m.errMsg == "" {
		m.mu.Unlock()
		return
	}
	m.clearErrorLocked()
	m.version++
	m.mu.Unlock()
	m.notify()
}

// Subscribe registers fn to receive a snapshot after every change. Calls
// are serialized. fn must not mutate the manager.
func (m *Manager) Subscribe(fn func(Snapshot)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Wait blocks until in-flight loads, imports and saves have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close aborts in-flight work. Later results are ignored.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.supersedeLocked()
	m.closed = true
	if m.errTimer != nil {
		m.errTimer.Stop()
	}
}

func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{
		Name:          m.schema.Name,
		Mode:          m.mode,
		Columns:       slices.Clone(m.columns),
		CustomColumns: slices.Clone(m.custom),
		Rows:          cloneRows(m.rows),
		Scope:         Scope{IDs: slices.Clone(m.scope.IDs), Stamp: m.scope.Stamp},
		Baseline:      m.baseline,
		Modified:      m.modified,
		Locked:        m.locked,
		Loading:       m.busy != "",
		PendingFile:   m.pendingFile,
		Version:       m.version,
	}
	if snap.Columns == nil {
		snap.Columns = []string{}
	}
	if snap.CustomColumns == nil {
		snap.CustomColumns = []string{}
	}
	if m.errMsg != "" && (m.errKind != ErrorValidation || m.now().Before(m.errExpires)) {
		snap.Error = m.errMsg
		snap.ErrorKind = m.errKind
	}
	return snap
}

const (
	opLoad   = "load"
	opImport = "import"
	opSave   = "save"
)

// beginLocked supersedes any in-flight operation and marks the manager busy.
func (m *Manager) beginLocked(parent context.Context, op string) (context.Context, uint64) {
	m.supersedeLocked()
	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel
	m.busy = op
	return ctx, m.gen
}

func (m *Manager) endLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.busy = ""
}

func (m *Manager) supersedeLocked() {
	m.endLocked()
	m.gen++
}

// clearLocked empties the dataset for the current mode.
func (m *Manager) clearLocked() {
	m.columns = nil
	if m.mode == ModeExisting {
		m.columns = slices.Clone(m.schema.Columns)
	}
	m.custom = nil
	m.rows = nil
	m.scope = Scope{}
	m.baseline = 0
	m.modified = false
	m.pendingFile = ""
	m.clearErrorLocked()
}

func (m *Manager) replaceLocked(columns []string, records []Record, scope Scope) {
	rows := make([]Record, 0, len(records))
	for _, r := range records {
		rec := make(Record, len(columns))
		for _, c := range columns {
			v, ok := r[c]
			if !ok || v == nil {
				v = ""
			}
			rec[c] = v
		}
		if m.stamping(scope.Stamp) && contains(columns, m.schema.StampColumn) {
			if _, ok := r[m.schema.StampColumn]; !ok || m.mode == ModeImport {
				rec[m.schema.StampColumn] = scope.Stamp
			}
		}
		rows = append(rows, rec)
	}
	m.columns = columns
	m.custom = nil
	m.rows = rows
	m.scope = scope
	m.baseline = len(rows)
	m.modified = false
}

// reject records a validation error that was detected before any mutation.
func (m *Manager) reject(err error) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return err
	}
	m.setErrorLocked(ErrorValidation, err.Error())
	m.version++
	m.mu.Unlock()
	m.notify()
	return err
}

func (m *Manager) setErrorLocked(kind ErrorKind, msg string) {
	if m.errTimer != nil {
		m.errTimer.Stop()
		m.errTimer = nil
	}
	m.errMsg = msg
	m.errKind = kind
	m.errExpires = time.Time{}
	if kind != ErrorValidation {
		return
	}
	m.errExpires = m.now().Add(m.ttl)
	m.errSeq++
	seq := m.errSeq
	m.errTimer = time.AfterFunc(m.ttl, func() { m.expire(seq) })
}

// expire drops a validation message unless it was replaced meanwhile.
func (m *Manager) expire(seq uint64) {
	m.mu.Lock()
	if m.closed || m.errSeq != seq || m.errKind != ErrorValidation {
		m.mu.Unlock()
		return
	}
	m.clearErrorLocked()
	m.version++
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) clearErrorLocked() {
	if m.errTimer != nil {
		m.errTimer.Stop()
		m.errTimer = nil
	}
	m.errMsg = ""
	m.errKind = ""
	m.errExpires = time.Time{}
}

func (m *Manager) notify() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	snap := m.snapshotLocked()
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}
