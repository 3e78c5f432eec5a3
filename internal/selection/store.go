// Package selection implements a cascading hierarchical selection store.
//
// A store owns N ordered tiers (for example state, district, block, village).
// Changing a tier clears every deeper tier and fetches the options of the
// next tier scoped to the new selection. Option fetches run in the background;
// each tier tracks the generation of its latest request so that a response
// that was superseded before it arrived is discarded. Confirm locks the store
// until Reset.
package selection

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Tier describes one level of the hierarchy.
type Tier struct {
	Name     string
	Multi    bool
	Optional bool
}

// FetchRequest asks for the options of Tier scoped to the selection of
// ScopeTier. The root tier has ScopeTier -1 and no ParentIDs.
type FetchRequest struct {
	Tier      int
	ScopeTier int
	ParentIDs []string
}

// FetchFunc loads the options of a tier. It must honour ctx.
type FetchFunc func(ctx context.Context, req FetchRequest) ([]Option, error)

// Config configures a Store.
type Config struct {
	Name  string
	Tiers []Tier
	// ConfirmTier must hold a selection before Confirm locks the store.
	// Negative selects the deepest tier.
	ConfirmTier int
	Fetch       FetchFunc
	Logger      *slog.Logger
}

type tierState struct {
	selected  []string
	options   []Option
	loaded    bool
	scopeTier int
	loading   bool
	err       string

	gen    uint64
	cancel context.CancelFunc
}

// Store is a hierarchical selection store. It is safe for concurrent use.
type Store struct {
	name    string
	tiers   []Tier
	confirm int
	fetch   FetchFunc
	logger  *slog.Logger

	mu        sync.Mutex
	state     []tierState
	locked    bool
	closed    bool
	version   uint64
	listeners []func(Snapshot)

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	notifyMu sync.Mutex
}

// New creates a store. Call Init to fetch the root options.
func New(cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	confirm := cfg.ConfirmTier
	if confirm < 0 || confirm >= len(cfg.Tiers) {
		confirm = len(cfg.Tiers) - 1
	}
	ctx, stop := context.WithCancel(context.Background())
	s := &Store{
		name:    cfg.Name,
		tiers:   slices.Clone(cfg.Tiers),
		confirm: confirm,
		fetch:   cfg.Fetch,
		logger:  logger.With("hierarchy", cfg.Name),
		state:   make([]tierState, len(cfg.Tiers)),
		ctx:     ctx,
		stop:    stop,
	}
	for i := range s.state {
		s.state[i].scopeTier = -1
	}
	return s
}

// Name returns the hierarchy name.
func (s *Store) Name() string { return s.name }

// Tiers returns the tier definitions.
func (s *Store) Tiers() []Tier { return slices.Clone(s.tiers) }

// Init issues the root tier option fetch.
func (s *Store) Init() {
	s.mu.Lock()
	if s.closed || len(s.state) == 0 {
		s.mu.Unlock()
		return
	}
	s.issueFetch(0, -1)
	s.version++
	s.mu.Unlock()
	s.notify()
}

// SetTierSelection replaces the selection of a tier. Deeper tiers are cleared
// before it returns and the next tier's options are fetched in the
// background. A locked store ignores the call.
func (s *Store) SetTierSelection(tier int, values []string) error {
	values = normalize(values)

	s.mu.Lock()
	if s.closed || s.locked {
		s.mu.Unlock()
		return nil
	}
	if tier < 0 || tier >= len(s.tiers) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrTierOutOfRange, tier)
	}
	if !s.tiers[tier].Multi && len(values) > 1 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMultipleValues, s.tiers[tier].Name)
	}
	st := &s.state[tier]
	if sameSet(st.selected, values) {
		s.mu.Unlock()
		return nil
	}
	if len(values) > 0 {
		if !st.loaded {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrOptionsNotLoaded, s.tiers[tier].Name)
		}
		for _, v := range values {
			if !hasOption(st.options, v) {
				s.mu.Unlock()
				return fmt.Errorf("%w: %s %q", ErrUnknownOption, s.tiers[tier].Name, v)
			}
		}
	}

	st.selected = values
	for d := tier + 1; d < len(s.state); d++ {
		s.clearTier(d)
	}
	s.cascade(tier)
	s.version++
	s.mu.Unlock()

	s.notify()
	return nil
}

// Confirm locks the store once the confirm tier holds a selection.
func (s *Store) Confirm() error {
	s.mu.Lock()
	if s.closed || s.locked {
		s.mu.Unlock()
		return nil
	}
	if len(s.state) == 0 || len(s.state[s.confirm].selected) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: select at least one %s", ErrConfirmIncomplete, s.tiers[s.confirm].Name)
	}
	s.locked = true
	s.version++
	s.mu.Unlock()

	s.notify()
	return nil
}

// Reset clears every selection, every option list below the root, every
// error and the lock in one update. In-flight fetches below the root are
// aborted; the root options are kept and fetched again if missing.
func (s *Store) Reset() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	for d := 1; d < len(s.state); d++ {
		s.clearTier(d)
	}
	if len(s.state) > 0 {
		root := &s.state[0]
		root.selected = nil
		root.err = ""
		if !root.loaded && !root.loading {
			s.issueFetch(0, -1)
		}
	}
	s.locked = false
	s.version++
	s.mu.Unlock()

	s.notify()
}

// ClearError dismisses the error of a tier.
func (s *Store) ClearError(tier int) error {
	s.mu.Lock()
	if tier < 0 || tier >= len(s.state) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrTierOutOfRange, tier)
	}
	if s.closed || s.state[tier].err == "" {
		s.mu.Unlock()
		return nil
	}
	s.state[tier].err = ""
	s.version++
	s.mu.Unlock()

	s.notify()
	return nil
}

// Locked reports whether the store is confirmed.
func (s *Store) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

// Subscribe registers fn to receive a snapshot after every accepted change.
// Calls are serialized. fn must not mutate the store.
func (s *Store) Subscribe(fn func(Snapshot)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Wait blocks until every in-flight fetch has finished.
func (s *Store) Wait() {
	s.wg.Wait()
}

// Close aborts all in-flight fetches. Later results are ignored and every
// further mutation is a no-op.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for i := range s.state {
		if s.state[i].cancel != nil {
			s.state[i].cancel()
			s.state[i].cancel = nil
		}
		s.state[i].gen++
		s.state[i].loading = false
	}
	s.stop()
	s.mu.Unlock()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Name:        s.name,
		Tiers:       make([]TierState, len(s.tiers)),
		ConfirmTier: s.confirm,
		Locked:      s.locked,
		Version:     s.version,
	}
	for i, t := range s.tiers {
		st := s.state[i]
		snap.Tiers[i] = TierState{
			Name:      t.Name,
			Multi:     t.Multi,
			Optional:  t.Optional,
			Selected:  nonNil(slices.Clone(st.selected)),
			Options:   nonNil(slices.Clone(st.options)),
			ScopeTier: st.scopeTier,
			Loading:   st.loading,
			Error:     st.err,
		}
	}
	return snap
}

// clearTier drops everything a tier holds and supersedes its fetch.
func (s *Store) clearTier(i int) {
	st := &s.state[i]
	if st.cancel != nil {
		st.cancel()
		st.cancel = nil
	}
	st.gen++
	st.selected = nil
	st.options = nil
	st.loaded = false
	st.loading = false
	st.err = ""
	st.scopeTier = -1
}

// cascade issues option fetches for the tiers below changed. A tier is
// fetched when its nearest selected ancestor is reachable through empty
// optional tiers only.
func (s *Store) cascade(changed int) {
	for t := changed + 1; t < len(s.state); t++ {
		scope := -1
		for j := t - 1; j >= 0; j-- {
			if len(s.state[j].selected) > 0 {
				scope = j
				break
			}
			if !s.tiers[j].Optional {
				break
			}
		}
		if scope < 0 {
			return
		}
		s.issueFetch(t, scope)
	}
}

func (s *Store) issueFetch(tier, scope int) {
	st := &s.state[tier]
	if st.cancel != nil {
		st.cancel()
	}
	st.gen++
	gen := st.gen
	ctx, cancel := context.WithCancel(s.ctx)
	st.cancel = cancel
	st.loading = true
	st.err = ""
	st.scopeTier = scope

	req := FetchRequest{Tier: tier, ScopeTier: scope}
	if scope >= 0 {
		req.ParentIDs = slices.Clone(s.state[scope].selected)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		opts, err := s.fetch(ctx, req)
		s.applyFetch(tier, gen, opts, err)
	}()
}

func (s *Store) applyFetch(tier int, gen uint64, opts []Option, err error) {
	s.mu.Lock()
	st := &s.state[tier]
	if s.closed || st.gen != gen {
		s.mu.Unlock()
		s.logger.Debug("discarding stale options", "tier", s.tiers[tier].Name, "generation", gen)
		return
	}
	st.loading = false
	st.cancel = nil
	if err != nil {
		st.options = nil
		st.loaded = false
		st.err = fmt.Sprintf("failed to load %s options: %v", s.tiers[tier].Name, err)
		s.logger.Warn("option fetch failed", "tier", s.tiers[tier].Name, "error", err)
	} else {
		st.options = opts
		st.loaded = true
		st.err = ""
	}
	s.version++
	s.mu.Unlock()

	s.notify()
}

// notify delivers the current snapshot to every listener. Holding notifyMu
// while snapshotting keeps deliveries in version order.
func (s *Store) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	snap := s.snapshotLocked()
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

func normalize(values []string) []string {
	var out []string
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, v := range b {
		if !slices.Contains(a, v) {
			return false
		}
	}
	return true
}

func hasOption(options []Option, id string) bool {
	for _, o := range options {
		if o.ID == id {
			return true
		}
	}
	return false
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
