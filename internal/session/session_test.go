package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/require"

	"github.com/iitbhu2k25/dss-muskan-sub006/internal/config"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/dataset"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/filter"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/gateway"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/maplayer"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/service"
)

type fakeBackend struct {
	mu          sync.Mutex
	options     map[string][]gateway.Option
	records     []map[string]any
	scopes      []gateway.Scope
	saved       []gateway.SavePayload
	validateErr error
}

func (b *fakeBackend) FetchOptions(ctx context.Context, src config.OptionSource, parentIDs []string) ([]gateway.Option, error) {
	key := src.Endpoint + "|" + strings.Join(parentIDs, ",")
	b.mu.Lock()
	defer b.mu.Unlock()
	opts, ok := b.options[key]
	if !ok {
		return nil, errors.New("no options for " + key)
	}
	return opts, nil
}

func (b *fakeBackend) FetchRecords(ctx context.Context, endpoint string, scope gateway.Scope) ([]map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scopes = append(b.scopes, scope)
	out := make([]map[string]any, len(b.records))
	for i, r := range b.records {
		c := make(map[string]any, len(r))
		for k, v := range r {
			c[k] = v
		}
		out[i] = c
	}
	return out, nil
}

func (b *fakeBackend) SaveRecords(ctx context.Context, endpoint string, payload gateway.SavePayload) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saved = append(b.saved, payload)
	return nil
}

func (b *fakeBackend) ValidateCSV(ctx context.Context, endpoint, filename string, data []byte) error {
	return b.validateErr
}

type fakeMaps struct {
	mu      sync.Mutex
	queries map[string][]gateway.FeatureQuery
}

func (m *fakeMaps) QueryFeatures(ctx context.Context, q gateway.FeatureQuery) (*geojson.FeatureCollection, error) {
	m.mu.Lock()
	if m.queries == nil {
		m.queries = make(map[string][]gateway.FeatureQuery)
	}
	m.queries[q.Layer] = append(m.queries[q.Layer], q)
	m.mu.Unlock()
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Point{82.9, 25.3}))
	return fc, nil
}

func (m *fakeMaps) FeatureURL(q gateway.FeatureQuery) string { return "wfs://" + q.TypeName() }

func (m *fakeMaps) LegendURL(workspace, layer, style string) string {
	return "legend://" + workspace + ":" + layer
}

func (m *fakeMaps) count(layer string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queries[layer])
}

type fakeArchive struct {
	mu    sync.Mutex
	snaps []dataset.Snapshot
}

func (a *fakeArchive) SaveDataset(ctx context.Context, snap dataset.Snapshot) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snaps = append(a.snaps, snap)
	return "entry-1", nil
}

func testConfig() config.Config {
	return config.Config{
		MapService: config.MapServiceConfig{Workspace: "ws"},
		Hierarchies: []config.HierarchyConfig{{
			Name: "admin",
			Tiers: []config.TierConfig{
				{
					Name: "state", Layer: "B_State", IDField: "State_Code", Opacity: 1,
					Source: config.OptionSource{Endpoint: "/states", IDKey: "id"},
				},
				{
					Name: "district", Multi: true, Layer: "B_district", IDField: "DISTRICT_C", Opacity: 1,
					Keys:   map[string]string{"state": "STATE_CODE"},
					Source: config.OptionSource{Endpoint: "/districts", ParentParam: "state", IDKey: "id"},
				},
			},
		}},
		Datasets: []config.DatasetConfig{{
			Name: "wells", Hierarchy: "admin", ScopeTier: "district",
			Columns:     []string{"Well_ID", "Latitude", "Longitude"},
			StampColumn: "YEAR", LatColumn: "Latitude", LonColumn: "Longitude",
			FetchEndpoint: "/wells", ValidateEndpoint: "/validate", SaveEndpoint: "/save",
		}},
		BaseLayers: []config.BaseLayerConfig{{Name: "basin", Layer: "basin_boundary"}},
	}
}

func newSession(t *testing.T) (*Session, *fakeBackend, *fakeMaps, *fakeArchive, *service.EventBus) {
	t.Helper()
	backend := &fakeBackend{
		options: map[string][]gateway.Option{
			"/states|":      {{ID: "09", Name: "Uttar Pradesh"}, {ID: "10", Name: "Bihar"}},
			"/districts|09": {{ID: "152", Name: "Varanasi", ParentID: "09"}, {ID: "179", Name: "Mirzapur", ParentID: "09"}},
		},
		records: []map[string]any{
			{"Well_ID": "W1", "Latitude": 25.3, "Longitude": 82.9},
			{"Well_ID": "W2", "Latitude": 95.0, "Longitude": 82.9},
		},
	}
	maps := &fakeMaps{}
	archive := &fakeArchive{}
	bus := service.NewEventBus()
	s := New(Deps{Config: testConfig(), Backend: backend, Maps: maps, Archive: archive, Bus: bus})
	t.Cleanup(s.Close)
	require.NoError(t, s.Open(context.Background()))
	return s, backend, maps, archive, bus
}

func TestOpenLoadsRootsAndBaseLayers(t *testing.T) {
	s, _, maps, _, _ := newSession(t)

	store, err := s.Hierarchy("admin")
	require.NoError(t, err)
	snap := store.Snapshot()
	require.Len(t, snap.Tiers[0].Options, 2)

	for _, id := range []string{"B_State", "B_district", "basin"} {
		st, ok := s.Maps().Status(id)
		require.True(t, ok, id)
		require.Equal(t, maplayer.StateLoaded, st.State, id)
		require.True(t, st.Filter.IsAll(), id)
	}
	require.Equal(t, 1, maps.count("basin_boundary"))

	filters, err := s.Filters("admin")
	require.NoError(t, err)
	require.Equal(t, map[string]filter.LayerFilter{"B_State": filter.All(), "B_district": filter.All()}, filters)
}

func TestSelectionDrivesLayerFilters(t *testing.T) {
	s, _, maps, _, _ := newSession(t)
	store, _ := s.Hierarchy("admin")

	require.NoError(t, store.SetTierSelection(0, []string{"09"}))
	s.Wait()

	filters, _ := s.Filters("admin")
	require.Equal(t, filter.LayerFilter{Field: "State_Code", Values: []string{"09"}}, filters["B_State"])
	require.Equal(t, filter.LayerFilter{Field: "STATE_CODE", Values: []string{"09"}}, filters["B_district"])

	st, _ := s.Maps().Status("B_district")
	require.Equal(t, maplayer.StateLoaded, st.State)
	require.Equal(t, "STATE_CODE IN ('09')", st.Display.Query.CQL())
	stateQueries := maps.count("B_State")

	require.NoError(t, store.SetTierSelection(1, []string{"152"}))
	s.Wait()

	filters, _ = s.Filters("admin")
	require.Equal(t, filter.LayerFilter{Field: "DISTRICT_C", Values: []string{"152"}}, filters["B_district"])
	require.Equal(t, stateQueries, maps.count("B_State"), "unchanged filters are not re-synced")
	require.Equal(t, 3, maps.count("B_district"))
}

func TestLoadSaveAndPlotDataset(t *testing.T) {
	s, backend, _, archive, _ := newSession(t)
	store, _ := s.Hierarchy("admin")
	require.NoError(t, store.SetTierSelection(0, []string{"09"}))
	s.Wait()
	require.NoError(t, store.SetTierSelection(1, []string{"152", "179"}))
	s.Wait()

	require.NoError(t, s.LoadDataset("wells", "2021"))
	s.Wait()
	require.Equal(t, []gateway.Scope{{IDs: []string{"152", "179"}, Stamp: "2021"}}, backend.scopes)

	mgr, err := s.Dataset("wells")
	require.NoError(t, err)
	snap := mgr.Snapshot()
	require.Len(t, snap.Rows, 2)
	require.False(t, snap.Modified)

	res, err := s.PlotDataset("wells")
	require.NoError(t, err)
	require.Equal(t, maplayer.PlotResult{Plotted: 1, Skipped: 1}, res)
	require.Len(t, mgr.Snapshot().Rows, 2)

	require.NoError(t, mgr.Save(context.Background()))
	require.True(t, mgr.Snapshot().Locked)
	require.Len(t, backend.saved, 1)
	require.Equal(t, []string{"152", "179"}, backend.saved[0].Scope.IDs)
	require.Len(t, archive.snaps, 1)
	require.Equal(t, "wells", archive.snaps[0].Name)
}

func TestImportRejectedByBackendValidation(t *testing.T) {
	s, backend, _, _, _ := newSession(t)
	backend.validateErr = &gateway.ValidationError{Message: "missing Well_ID column"}

	mgr, _ := s.Dataset("wells")
	require.NoError(t, mgr.SetMode(dataset.ModeImport))
	err := mgr.ImportFile(context.Background(), "wells.csv", []byte("a,b\n1,2\n"), "2021")
	require.ErrorIs(t, err, dataset.ErrInvalidFile)

	snap := mgr.Snapshot()
	require.Contains(t, snap.Error, "missing Well_ID column")
	require.Equal(t, dataset.ErrorValidation, snap.ErrorKind)
	require.Empty(t, snap.Rows)
}

func TestUnknownNames(t *testing.T) {
	s, _, _, _, _ := newSession(t)

	_, err := s.Hierarchy("river")
	require.ErrorIs(t, err, ErrUnknownHierarchy)
	_, err = s.Filters("river")
	require.ErrorIs(t, err, ErrUnknownHierarchy)
	_, err = s.Dataset("rainfall")
	require.ErrorIs(t, err, ErrUnknownDataset)
	require.ErrorIs(t, s.LoadDataset("rainfall", ""), ErrUnknownDataset)
	_, err = s.PlotDataset("rainfall")
	require.ErrorIs(t, err, ErrUnknownDataset)

	// No selection in the scope tier yet.
	require.ErrorIs(t, s.LoadDataset("wells", "2021"), dataset.ErrEmptyDataset)
}

func TestEventsCarrySessionID(t *testing.T) {
	s, _, _, _, bus := newSession(t)
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	store, _ := s.Hierarchy("admin")
	require.NoError(t, store.SetTierSelection(0, []string{"10"}))

	ev := <-ch
	require.Equal(t, s.ID(), ev.Session)
	require.Contains(t, []string{"selection", "maplayer"}, ev.Resource)
}

func TestCatalogLayersJoinNewSessions(t *testing.T) {
	catalog := service.NewLayerService(t.TempDir(), nil, nil)
	_, err := catalog.Create(service.LayerConfig{ID: "canals", Name: "Canals", Layer: "Canals", Opacity: 0.5, Published: true, DefaultVisible: true})
	require.NoError(t, err)
	_, err = catalog.Create(service.LayerConfig{ID: "draft", Name: "Draft", Layer: "Draft"})
	require.NoError(t, err)

	backend := &fakeBackend{options: map[string][]gateway.Option{"/states|": {{ID: "09"}}}}
	s := New(Deps{Config: testConfig(), Backend: backend, Maps: &fakeMaps{}, Catalog: catalog})
	defer s.Close()
	require.NoError(t, s.Open(context.Background()))

	st, ok := s.Maps().Status("canals")
	require.True(t, ok)
	require.Equal(t, maplayer.StateLoaded, st.State)
	require.Equal(t, 0.5, st.Opacity)
	_, ok = s.Maps().Status("draft")
	require.False(t, ok)
}

func TestRegistryEvictsAndCloses(t *testing.T) {
	reg, err := NewRegistry(2, nil)
	require.NoError(t, err)

	deps := Deps{Config: testConfig(), Backend: &fakeBackend{}, Maps: &fakeMaps{}}
	a, b, c := New(deps), New(deps), New(deps)

	require.False(t, reg.Add(a))
	require.False(t, reg.Add(b))
	_, ok := reg.Get(a.ID())
	require.True(t, ok)

	require.True(t, reg.Add(c))
	require.True(t, b.Closed(), "least recently used session is closed")
	require.False(t, a.Closed())
	require.Equal(t, 2, reg.Len())
	require.ElementsMatch(t, []string{a.ID(), c.ID()}, reg.IDs())

	require.True(t, reg.Remove(a.ID()))
	require.True(t, a.Closed())
	require.False(t, reg.Remove(a.ID()))

	reg.Close()
	require.True(t, c.Closed())
	require.Zero(t, reg.Len())
}
