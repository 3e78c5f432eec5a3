// Package session composes the interaction core of one dashboard screen: a
// selection store per hierarchy, a dataset manager per dataset and one map
// adapter. Selection changes flow one way into the map: every store snapshot
// is turned into layer filters and only the layers whose filter changed are
// re-synced.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/iitbhu2k25/dss-muskan-sub006/internal/config"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/dataset"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/filter"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/gateway"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/maplayer"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/selection"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/service"
)

var (
	ErrUnknownHierarchy = errors.New("session: unknown hierarchy")
	ErrUnknownDataset   = errors.New("session: unknown dataset")
	ErrNoCoordinates    = errors.New("session: dataset has no coordinate columns")
)

// Backend is the part of the backend API a session uses.
type Backend interface {
	FetchOptions(ctx context.Context, src config.OptionSource, parentIDs []string) ([]gateway.Option, error)
	FetchRecords(ctx context.Context, endpoint string, scope gateway.Scope) ([]map[string]any, error)
	SaveRecords(ctx context.Context, endpoint string, payload gateway.SavePayload) error
	ValidateCSV(ctx context.Context, endpoint, filename string, data []byte) error
}

// Archiver keeps a copy of saved datasets.
type Archiver interface {
	SaveDataset(ctx context.Context, snap dataset.Snapshot) (string, error)
}

// Deps are the shared services sessions are built from.
type Deps struct {
	Config  config.Config
	Backend Backend
	Maps    maplayer.Querier
	// Archive and Catalog are optional.
	Archive Archiver
	Catalog *service.LayerService
	Bus     *service.EventBus
	Logger  *slog.Logger
}

type hierarchy struct {
	cfg    config.HierarchyConfig
	store  *selection.Store
	layers []filter.TierLayer

	mu      sync.Mutex
	filters map[string]filter.LayerFilter
}

type datasetEntry struct {
	cfg config.DatasetConfig
	mgr *dataset.Manager
}

// Session is one dashboard screen.
type Session struct {
	id      string
	created time.Time
	logger  *slog.Logger
	bus     *service.EventBus

	order       []string
	hierarchies map[string]*hierarchy
	datasetList []string
	datasets    map[string]*datasetEntry
	maps        *maplayer.Adapter
	baseLayers  []string

	closeOnce sync.Once
	closed    atomic.Bool
}

// New builds a session from deps. Call Open to load the initial options and
// layers.
func New(deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	logger = logger.With("session", id)

	s := &Session{
		id:          id,
		created:     time.Now(),
		logger:      logger,
		bus:         deps.Bus,
		hierarchies: make(map[string]*hierarchy),
		datasets:    make(map[string]*datasetEntry),
		maps:        maplayer.New(deps.Maps, logger),
	}

	workspace := deps.Config.MapService.Workspace
	for _, hc := range deps.Config.Hierarchies {
		h := s.buildHierarchy(deps, hc)
		for _, t := range hc.Tiers {
			s.register(maplayer.LayerSpec{
				ID: t.Layer, Name: t.Name, Workspace: workspace, Layer: t.Layer,
				Style: t.Style, Opacity: t.Opacity, ZIndex: t.ZIndex, Visible: true,
			})
		}
		s.order = append(s.order, hc.Name)
		s.hierarchies[hc.Name] = h
	}

	for _, b := range deps.Config.BaseLayers {
		opacity := b.Opacity
		if opacity == 0 {
			opacity = 1
		}
		if s.register(maplayer.LayerSpec{
			ID: b.Name, Workspace: workspace, Layer: b.Layer,
			Style: b.Style, Opacity: opacity, ZIndex: b.ZIndex, Visible: true,
		}) {
			s.baseLayers = append(s.baseLayers, b.Name)
		}
	}
	if deps.Catalog != nil {
		for _, l := range deps.Catalog.Published() {
			ws := l.Workspace
			if ws == "" {
				ws = workspace
			}
			if s.register(maplayer.LayerSpec{
				ID: l.ID, Name: l.Name, Workspace: ws, Layer: l.Layer, Style: l.Style,
				Opacity: l.Opacity, ZIndex: l.ZIndex, Visible: l.DefaultVisible,
			}) {
				s.baseLayers = append(s.baseLayers, l.ID)
			}
		}
	}

	for _, dc := range deps.Config.Datasets {
		s.datasetList = append(s.datasetList, dc.Name)
		s.datasets[dc.Name] = &datasetEntry{cfg: dc, mgr: s.buildDataset(deps, dc)}
	}

	s.maps.Subscribe(func(snap maplayer.Snapshot) {
		s.publish("maplayer", "")
	})
	return s
}

func (s *Session) buildHierarchy(deps Deps, hc config.HierarchyConfig) *hierarchy {
	tiers := make([]selection.Tier, len(hc.Tiers))
	layers := make([]filter.TierLayer, len(hc.Tiers))
	for i, t := range hc.Tiers {
		tiers[i] = selection.Tier{Name: t.Name, Multi: t.Multi, Optional: t.Optional}
		layers[i] = filter.TierLayer{Tier: t.Name, Layer: t.Layer, IDField: t.IDField, Keys: t.Keys}
	}

	backend := deps.Backend
	h := &hierarchy{
		cfg:     hc,
		layers:  layers,
		filters: make(map[string]filter.LayerFilter),
	}
	h.store = selection.New(selection.Config{
		Name:        hc.Name,
		Tiers:       tiers,
		ConfirmTier: hc.ConfirmIndex(),
		Fetch: func(ctx context.Context, req selection.FetchRequest) ([]selection.Option, error) {
			return backend.FetchOptions(ctx, hc.Tiers[req.Tier].Source, req.ParentIDs)
		},
		Logger: s.logger,
	})
	h.store.Subscribe(func(snap selection.Snapshot) {
		s.syncFilters(h, snap)
		s.publish("selection", hc.Name)
	})
	return h
}

// syncFilters re-syncs the layers whose derived filter changed. Calls for
// one store are serialized by the store.
func (s *Session) syncFilters(h *hierarchy, snap selection.Snapshot) {
	next := filter.Derive(h.layers, snap)

	h.mu.Lock()
	var changed []string
	for layer, f := range next {
		if prev, ok := h.filters[layer]; !ok || !prev.Equal(f) {
			changed = append(changed, layer)
		}
	}
	h.filters = next
	h.mu.Unlock()

	slices.Sort(changed)
	for _, layer := range changed {
		if err := s.maps.SyncLayer(layer, next[layer]); err != nil {
			s.logger.Warn("layer sync failed", "layer", layer, "error", err)
		}
	}
}

func (s *Session) buildDataset(deps Deps, dc config.DatasetConfig) *dataset.Manager {
	backend := deps.Backend
	archive := deps.Archive
	logger := s.logger

	cfg := dataset.Config{
		Schema: dataset.Schema{Name: dc.Name, Columns: dc.Columns, StampColumn: dc.StampColumn},
		Mode:   dataset.ModeExisting,
		Fetch: func(ctx context.Context, scope dataset.Scope) ([]dataset.Record, error) {
			rows, err := backend.FetchRecords(ctx, dc.FetchEndpoint, gateway.Scope{IDs: scope.IDs, Stamp: scope.Stamp})
			if err != nil {
				return nil, err
			}
			records := make([]dataset.Record, len(rows))
			for i, r := range rows {
				records[i] = dataset.Record(r)
			}
			return records, nil
		},
		Save: func(ctx context.Context, snap dataset.Snapshot) error {
			if dc.SaveEndpoint != "" {
				err := backend.SaveRecords(ctx, dc.SaveEndpoint, gateway.SavePayload{
					Scope:    gateway.Scope{IDs: snap.Scope.IDs, Stamp: snap.Scope.Stamp},
					Modified: snap.Modified,
					Columns:  snap.Columns,
					Rows:     snap.Records(),
				})
				if err != nil {
					return err
				}
			}
			if archive == nil {
				return nil
			}
			id, err := archive.SaveDataset(ctx, snap)
			if err != nil {
				if dc.SaveEndpoint == "" {
					return err
				}
				logger.Warn("dataset saved but not archived", "dataset", dc.Name, "error", err)
				return nil
			}
			logger.Info("dataset archived", "dataset", dc.Name, "entry", id, "rows", len(snap.Rows))
			return nil
		},
		ValidationTTL: deps.Config.Sessions.ValidationErrorTTL,
		Logger:        logger,
	}
	if dc.ValidateEndpoint != "" {
		cfg.Validate = func(ctx context.Context, filename string, data []byte) error {
			err := backend.ValidateCSV(ctx, dc.ValidateEndpoint, filename, data)
			var ve *gateway.ValidationError
			if errors.As(err, &ve) {
				return fmt.Errorf("%w: %s", dataset.ErrInvalidFile, ve.Message)
			}
			return err
		}
	}

	mgr := dataset.New(cfg)
	mgr.Subscribe(func(dataset.Snapshot) {
		s.publish("dataset", dc.Name)
	})
	return mgr
}

func (s *Session) register(spec maplayer.LayerSpec) bool {
	if err := s.maps.Register(spec); err != nil {
		s.logger.Warn("layer not registered", "layer", spec.ID, "error", err)
		return false
	}
	return true
}

func (s *Session) publish(resource, id string) {
	if s.bus != nil {
		s.bus.Publish(service.Event{Session: s.id, Resource: resource, Action: "changed", ID: id})
	}
}

// Open fetches the root options of every hierarchy and loads the base
// layers, then waits for those requests. Fetch failures end up in the
// tier and layer state; only ctx cancellation is returned.
func (s *Session) Open(ctx context.Context) error {
	for _, name := range s.order {
		s.hierarchies[name].store.Init()
	}
	for _, id := range s.baseLayers {
		if err := s.maps.SyncLayer(id, filter.All()); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range s.order {
		store := s.hierarchies[name].store
		g.Go(func() error { return wait(ctx, store.Wait) })
	}
	g.Go(func() error { return wait(ctx, s.maps.Wait) })
	if err := g.Wait(); err != nil {
		return err
	}
	s.logger.Info("session opened", "hierarchies", len(s.order), "datasets", len(s.datasetList))
	return nil
}

func wait(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// Created returns the creation time.
func (s *Session) Created() time.Time { return s.created }

// Hierarchies returns the hierarchy names in configuration order.
func (s *Session) Hierarchies() []string { return slices.Clone(s.order) }

// Hierarchy returns the selection store of a hierarchy.
func (s *Session) Hierarchy(name string) (*selection.Store, error) {
	h, ok := s.hierarchies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHierarchy, name)
	}
	return h.store, nil
}

// Filters returns the current derived filters of a hierarchy's layers.
func (s *Session) Filters(name string) (map[string]filter.LayerFilter, error) {
	h, ok := s.hierarchies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHierarchy, name)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return maps.Clone(h.filters), nil
}

// Datasets returns the dataset names in configuration order.
func (s *Session) Datasets() []string { return slices.Clone(s.datasetList) }

// Dataset returns the manager of a dataset.
func (s *Session) Dataset(name string) (*dataset.Manager, error) {
	d, ok := s.datasets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDataset, name)
	}
	return d.mgr, nil
}

// Maps returns the map adapter.
func (s *Session) Maps() *maplayer.Adapter { return s.maps }

// Scope returns the scope a dataset would be loaded with: the selection of
// its scope tier, stamped with stamp.
func (s *Session) Scope(name, stamp string) (dataset.Scope, error) {
	d, ok := s.datasets[name]
	if !ok {
		return dataset.Scope{}, fmt.Errorf("%w: %q", ErrUnknownDataset, name)
	}
	h, ok := s.hierarchies[d.cfg.Hierarchy]
	if !ok {
		return dataset.Scope{}, fmt.Errorf("%w: %q", ErrUnknownHierarchy, d.cfg.Hierarchy)
	}
	snap := h.store.Snapshot()
	i := snap.Index(d.cfg.ScopeTier)
	if i < 0 {
		return dataset.Scope{}, fmt.Errorf("%w: tier %q", ErrUnknownHierarchy, d.cfg.ScopeTier)
	}
	return dataset.Scope{IDs: slices.Clone(snap.Tiers[i].Selected), Stamp: stamp}, nil
}

// LoadDataset loads the existing records of a dataset for the current
// selection of its scope tier.
func (s *Session) LoadDataset(name, stamp string) error {
	scope, err := s.Scope(name, stamp)
	if err != nil {
		return err
	}
	return s.datasets[name].mgr.LoadExisting(scope)
}

// PlotDataset plots the current rows of a dataset as map points.
func (s *Session) PlotDataset(name string) (maplayer.PlotResult, error) {
	d, ok := s.datasets[name]
	if !ok {
		return maplayer.PlotResult{}, fmt.Errorf("%w: %q", ErrUnknownDataset, name)
	}
	if d.cfg.LatColumn == "" || d.cfg.LonColumn == "" {
		return maplayer.PlotResult{}, fmt.Errorf("%w: %q", ErrNoCoordinates, name)
	}
	snap := d.mgr.Snapshot()
	return s.maps.PlotPoints(snap.Records(), d.cfg.LatColumn, d.cfg.LonColumn), nil
}

// Wait blocks until every outstanding request of the session has finished.
func (s *Session) Wait() {
	for _, name := range s.order {
		s.hierarchies[name].store.Wait()
	}
	for _, name := range s.datasetList {
		s.datasets[name].mgr.Wait()
	}
	s.maps.Wait()
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool { return s.closed.Load() }

// Close aborts all in-flight requests. Their results are ignored.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		for _, name := range s.order {
			s.hierarchies[name].store.Close()
		}
		for _, name := range s.datasetList {
			s.datasets[name].mgr.Close()
		}
		s.maps.Close()
		s.closed.Store(true)
		s.logger.Info("session closed")
	})
}
