// Package maplayer tracks the map layers a dashboard shows. Each managed
// layer moves through Unloaded, Loading, Loaded or Errored as its filter
// changes; a successful load replaces the layer's DisplayLayer so the map
// reloads it. Point overlays built from in-memory records are kept apart
// from the managed layers.
package maplayer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/iitbhu2k25/dss-muskan-sub006/internal/filter"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/gateway"
)

var (
	ErrUnknownLayer   = errors.New("maplayer: unknown layer")
	ErrDuplicateLayer = errors.New("maplayer: layer already registered")
	ErrOpacityRange   = errors.New("maplayer: opacity must be between 0 and 1")
)

// State is the load state of a managed layer.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateLoaded   State = "loaded"
	StateErrored  State = "errored"
)

// Querier is the map service used to load layers.
type Querier interface {
	QueryFeatures(ctx context.Context, q gateway.FeatureQuery) (*geojson.FeatureCollection, error)
	FeatureURL(q gateway.FeatureQuery) string
	LegendURL(workspace, layer, style string) string
}

// LayerSpec registers a managed layer.
type LayerSpec struct {
	ID        string
	Name      string
	Workspace string
	Layer     string
	Style     string
	Opacity   float64
	ZIndex    int
	Visible   bool
}

// DisplayLayer is what the map renders for one layer. A new value with a new
// Revision replaces the previous one on every successful load.
type DisplayLayer struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Query     gateway.FeatureQuery `json:"query"`
	SourceURL string               `json:"sourceUrl"`
	LegendURL string               `json:"legendUrl"`
	Visible   bool                 `json:"visible"`
	Opacity   float64              `json:"opacity"`
	ZIndex    int                  `json:"zIndex"`
	Style     string               `json:"style,omitempty"`
	Revision  uint64               `json:"revision"`
}

// Extent is a bounding box as [minLon, minLat, maxLon, maxLat].
type Extent [4]float64

func extentOf(b orb.Bound) Extent {
	return Extent{b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat()}
}

// LayerStatus is the read-only view of a managed layer.
type LayerStatus struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	State    State              `json:"state"`
	Filter   filter.LayerFilter `json:"filter"`
	Visible  bool               `json:"visible"`
	Opacity  float64            `json:"opacity"`
	ZIndex   int                `json:"zIndex"`
	Features int                `json:"features"`
	Extent   *Extent            `json:"extent,omitempty"`
	Error    string             `json:"error,omitempty"`
	Display  *DisplayLayer      `json:"display,omitempty"`
}

// Snapshot is the read-only view of an Adapter.
type Snapshot struct {
	Layers  []LayerStatus `json:"layers"`
	Overlay PlotResult    `json:"overlay"`
	Fit     *Extent       `json:"fit,omitempty"`
	Version uint64        `json:"version"`
}

type managed struct {
	spec     LayerSpec
	state    State
	filter   filter.LayerFilter
	display  *DisplayLayer
	features *geojson.FeatureCollection
	bound    orb.Bound
	bounded  bool
	err      string

	gen    uint64
	cancel context.CancelFunc
}

// Adapter manages the layers of one map. It is safe for concurrent use.
type Adapter struct {
	q      Querier
	logger *slog.Logger

	mu        sync.Mutex
	layers    map[string]*managed
	revision  uint64
	overlay   *geojson.FeatureCollection
	plot      PlotResult
	fit       orb.Bound
	fitSet    bool
	version   uint64
	closed    bool
	listeners []func(Snapshot)

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	notifyMu sync.Mutex
}

// New creates an adapter.
func New(q Querier, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Adapter{
		q:       q,
		logger:  logger,
		layers:  make(map[string]*managed),
		overlay: geojson.NewFeatureCollection(),
		ctx:     ctx,
		stop:    stop,
	}
}

// Register adds a managed layer in the Unloaded state.
func (a *Adapter) Register(spec LayerSpec) error {
	if spec.Opacity < 0 || spec.Opacity > 1 {
		return fmt.Errorf("%w: %v", ErrOpacityRange, spec.Opacity)
	}
	if spec.Name == "" {
		spec.Name = spec.Layer
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.layers[spec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateLayer, spec.ID)
	}
	a.layers[spec.ID] = &managed{spec: spec, state: StateUnloaded}
	a.version++
	return nil
}

// SyncLayer requests the layer with f. Syncing an unchanged filter while
// the layer is loading or loaded does nothing. An in-flight load for an older
// filter is cancelled and its result ignored.
func (a *Adapter) SyncLayer(id string, f filter.LayerFilter) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	m, ok := a.layers[id]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownLayer, id)
	}
	if (m.state == StateLoading || m.state == StateLoaded) && m.filter.Equal(f) {
		a.mu.Unlock()
		return nil
	}

	if m.cancel != nil {
		m.cancel()
	}
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(a.ctx)
	m.cancel = cancel
	m.state = StateLoading
	m.filter = filter.LayerFilter{Field: f.Field, Values: slices.Clone(f.Values)}
	m.err = ""
	query := queryOf(m.spec, m.filter)
	a.version++
	a.mu.Unlock()
	a.notify()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer cancel()
		fc, err := a.q.QueryFeatures(ctx, query)
		a.applyLoad(id, gen, query, fc, err)
	}()
	return nil
}

func queryOf(spec LayerSpec, f filter.LayerFilter) gateway.FeatureQuery {
	q := gateway.FeatureQuery{Workspace: spec.Workspace, Layer: spec.Layer}
	if !f.IsAll() {
		q.Field = f.Field
		q.Values = slices.Clone(f.Values)
	}
	return q
}

func (a *Adapter) applyLoad(id string, gen uint64, query gateway.FeatureQuery, fc *geojson.FeatureCollection, err error) {
	a.mu.Lock()
	m := a.layers[id]
	if a.closed || m == nil || m.gen != gen {
		a.mu.Unlock()
		a.logger.Debug("discarding stale layer load", "layer", id, "generation", gen)
		return
	}
	m.cancel = nil
	if err != nil {
		m.state = StateErrored
		m.err = fmt.Sprintf("failed to load %s: %v", m.spec.Name, err)
		a.version++
		a.mu.Unlock()
		a.logger.Warn("layer load failed", "layer", id, "error", err)
		a.notify()
		return
	}

	a.revision++
	m.display = &DisplayLayer{
		ID:        m.spec.ID,
		Name:      m.spec.Name,
		Query:     query,
		SourceURL: a.q.FeatureURL(query),
		LegendURL: a.q.LegendURL(m.spec.Workspace, m.spec.Layer, m.spec.Style),
		Visible:   m.spec.Visible,
		Opacity:   m.spec.Opacity,
		ZIndex:    m.spec.ZIndex,
		Style:     m.spec.Style,
		Revision:  a.revision,
	}
	m.state = StateLoaded
	m.err = ""
	m.features = fc
	m.bound, m.bounded = boundOf(fc)
	if m.bounded {
		a.fit = m.bound
		a.fitSet = true
	}
	a.version++
	a.mu.Unlock()

	a.logger.Debug("layer loaded", "layer", id, "features", len(fc.Features), "cql", query.CQL())
	a.notify()
}

// boundOf returns the extent of every feature geometry, and whether it is
// finite and non-empty.
func boundOf(fc *geojson.FeatureCollection) (orb.Bound, bool) {
	var b orb.Bound
	found := false
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		gb := f.Geometry.Bound()
		if !found {
			b = gb
			found = true
			continue
		}
		b = b.Union(gb)
	}
	if !found {
		return orb.Bound{}, false
	}
	for _, v := range []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return orb.Bound{}, false
		}
	}
	return b, true
}

// SetOpacity changes a layer's opacity.
func (a *Adapter) SetOpacity(id string, opacity float64) error {
	if opacity < 0 || opacity > 1 || math.IsNaN(opacity) {
		return fmt.Errorf("%w: %v", ErrOpacityRange, opacity)
	}
	return a.update(id, func(m *managed) {
		m.spec.Opacity = opacity
		if m.display != nil {
			d := *m.display
			d.Opacity = opacity
			m.display = &d
		}
	})
}

// ToggleVisibility flips a layer's visibility and returns the new value.
func (a *Adapter) ToggleVisibility(id string) (bool, error) {
	var visible bool
	err := a.update(id, func(m *managed) {
		m.spec.Visible = !m.spec.Visible
		visible = m.spec.Visible
		if m.display != nil {
			d := *m.display
			d.Visible = visible
			m.display = &d
		}
	})
	return visible, err
}

func (a *Adapter) update(id string, fn func(*managed)) error {
	a.mu.Lock()
	m, ok := a.layers[id]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownLayer, id)
	}
	fn(m)
	a.version++
	a.mu.Unlock()
	a.notify()
	return nil
}

// Status returns the view of one layer.
func (a *Adapter) Status(id string) (LayerStatus, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.layers[id]
	if !ok {
		return LayerStatus{}, false
	}
	return statusOf(m), true
}

// Features returns the last successfully loaded features of a layer.
func (a *Adapter) Features(id string) (*geojson.FeatureCollection, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.layers[id]
	if !ok || m.features == nil {
		return nil, false
	}
	return m.features, true
}

// LegendURL returns the legend image URL of a layer.
func (a *Adapter) LegendURL(id string) (string, error) {
	a.mu.Lock()
	m, ok := a.layers[id]
	a.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownLayer, id)
	}
	return a.q.LegendURL(m.spec.Workspace, m.spec.Layer, m.spec.Style), nil
}

// FitRequest returns the last extent the view was asked to fit.
func (a *Adapter) FitRequest() (orb.Bound, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fit, a.fitSet
}

// Subscribe registers fn to receive a snapshot after every change. Calls
// are serialized.
func (a *Adapter) Subscribe(fn func(Snapshot)) {
	a.mu.Lock()
	a.listeners = append(a.listeners, fn)
	a.mu.Unlock()
}

// Snapshot returns every layer ordered by z-index.
func (a *Adapter) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Adapter) snapshotLocked() Snapshot {
	snap := Snapshot{
		Layers:  make([]LayerStatus, 0, len(a.layers)),
		Overlay: a.plot,
		Version: a.version,
	}
	for _, m := range a.layers {
		snap.Layers = append(snap.Layers, statusOf(m))
	}
	sort.Slice(snap.Layers, func(i, j int) bool {
		if snap.Layers[i].ZIndex != snap.Layers[j].ZIndex {
			return snap.Layers[i].ZIndex < snap.Layers[j].ZIndex
		}
		return snap.Layers[i].ID < snap.Layers[j].ID
	})
	if a.fitSet {
		e := extentOf(a.fit)
		snap.Fit = &e
	}
	return snap
}

func statusOf(m *managed) LayerStatus {
	s := LayerStatus{
		ID:      m.spec.ID,
		Name:    m.spec.Name,
		State:   m.state,
		Filter:  filter.LayerFilter{Field: m.filter.Field, Values: slices.Clone(m.filter.Values)},
		Visible: m.spec.Visible,
		Opacity: m.spec.Opacity,
		ZIndex:  m.spec.ZIndex,
		Error:   m.err,
	}
	if m.features != nil {
		s.Features = len(m.features.Features)
	}
	if m.bounded {
		e := extentOf(m.bound)
		s.Extent = &e
	}
	if m.display != nil {
		d := *m.display
		d.Query.Values = slices.Clone(d.Query.Values)
		s.Display = &d
	}
	return s
}

// Wait blocks until every in-flight load has finished.
func (a *Adapter) Wait() {
	a.wg.Wait()
}

// Close cancels every in-flight load. Later results are ignored.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	for _, m := range a.layers {
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
		m.gen++
	}
	a.stop()
}

func (a *Adapter) notify() {
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()

	a.mu.Lock()
	snap := a.snapshotLocked()
	listeners := slices.Clone(a.listeners)
	a.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}
