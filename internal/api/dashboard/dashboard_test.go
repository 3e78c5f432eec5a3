package dashboard

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/require"

	"github.com/iitbhu2k25/dss-muskan-sub006/internal/config"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/dataset"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/gateway"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/service"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/session"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/templates"
)

type backend struct{}

func (backend) FetchOptions(ctx context.Context, src config.OptionSource, parentIDs []string) ([]gateway.Option, error) {
	if len(parentIDs) == 0 {
		return []gateway.Option{{ID: "09", Name: "Uttar Pradesh"}}, nil
	}
	return []gateway.Option{{ID: "152", Name: "Varanasi", ParentID: "09"}}, nil
}

func (backend) FetchRecords(ctx context.Context, endpoint string, scope gateway.Scope) ([]map[string]any, error) {
	return []map[string]any{{"Well_ID": "W1", "Latitude": 25.3, "Longitude": 82.9}}, nil
}

func (backend) SaveRecords(ctx context.Context, endpoint string, payload gateway.SavePayload) error {
	return nil
}

func (backend) ValidateCSV(ctx context.Context, endpoint, filename string, data []byte) error {
	return nil
}

type maps struct{}

func (maps) QueryFeatures(ctx context.Context, q gateway.FeatureQuery) (*geojson.FeatureCollection, error) {
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Point{82.9, 25.3}))
	return fc, nil
}

func (maps) FeatureURL(q gateway.FeatureQuery) string { return "wfs://" + q.TypeName() }

func (maps) LegendURL(workspace, layer, style string) string { return "legend://" + layer }

func testConfig() config.Config {
	return config.Config{
		Hierarchies: []config.HierarchyConfig{{
			Name: "admin",
			Tiers: []config.TierConfig{
				{Name: "state", Layer: "B_State", IDField: "State_Code", Opacity: 1,
					Source: config.OptionSource{Endpoint: "/states"}},
				{Name: "district", Multi: true, Layer: "B_district", IDField: "DISTRICT_C", Opacity: 1,
					Keys:   map[string]string{"state": "STATE_CODE"},
					Source: config.OptionSource{Endpoint: "/districts", ParentParam: "state"}},
			},
		}},
		Datasets: []config.DatasetConfig{{
			Name: "wells", Hierarchy: "admin", ScopeTier: "district",
			Columns:   []string{"Well_ID", "Latitude", "Longitude"},
			LatColumn: "Latitude", LonColumn: "Longitude", FetchEndpoint: "/wells",
		}},
	}
}

type fixture struct {
	srv     *httptest.Server
	session *session.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bus := service.NewEventBus()
	registry, err := session.NewRegistry(2, nil)
	require.NoError(t, err)
	t.Cleanup(registry.Close)

	s := session.New(session.Deps{Config: testConfig(), Backend: backend{}, Maps: maps{}, Bus: bus})
	require.NoError(t, s.Open(t.Context()))
	registry.Add(s)

	renderer, err := templates.New()
	require.NoError(t, err)

	mux := http.NewServeMux()
	api := humago.New(mux, huma.DefaultConfig("dashboard test", "1.0.0"))
	New(registry, bus, renderer, nil).RegisterRoutes(api)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, session: s}
}

func (f *fixture) post(t *testing.T, action, signals string) string {
	t.Helper()
	resp, err := http.Post(f.srv.URL+"/api/v1/dashboard/"+f.session.ID()+"/"+action, "application/json", strings.NewReader(signals))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	return string(body)
}

func TestSelectPatchesHierarchy(t *testing.T) {
	f := newFixture(t)

	body := f.post(t, "select", `{"hierarchy":"admin","tier":0,"values":["09"]}`)
	require.Contains(t, body, "datastar-patch-elements")
	require.Contains(t, body, "#hierarchy-admin")
	require.Contains(t, body, `value="09" selected`)

	body = f.post(t, "select", `{"hierarchy":"admin","tier":0,"values":["99"]}`)
	require.Contains(t, body, "datastar-patch-signals")
	require.Contains(t, body, "not an available option")

	body = f.post(t, "confirm", `{"hierarchy":"admin"}`)
	require.Contains(t, body, "select at least one district")
}

func TestActionsRequireSignals(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.srv.URL+"/api/v1/dashboard/"+f.session.ID()+"/select", "application/json", strings.NewReader(`{"tier":0}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(f.srv.URL+"/api/v1/dashboard/nope/select", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func (f *fixture) status(t *testing.T, action, signals string) int {
	t.Helper()
	resp, err := http.Post(f.srv.URL+"/api/v1/dashboard/"+f.session.ID()+"/"+action, "application/json", strings.NewReader(signals))
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestMalformedNumericSignals(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, http.StatusBadRequest, f.status(t, "select", `{"hierarchy":"admin","tier":"first","values":["09"]}`))
	require.Equal(t, http.StatusBadRequest, f.status(t, "cell", `{"dataset":"wells","row":"abc","column":"Well_ID","value":"W7"}`))
	require.Equal(t, http.StatusBadRequest, f.status(t, "opacity", `{"layer":"B_State","opacity":"abc"}`))

	store, err := f.session.Hierarchy("admin")
	require.NoError(t, err)
	require.Empty(t, store.Snapshot().Tiers[0].Selected)

	body := f.post(t, "opacity", `{"layer":"B_State","opacity":"0.5"}`)
	require.Contains(t, body, "#layer-list")
	require.Contains(t, body, `type="range"`)
	require.Contains(t, body, `value="0.5"`)
	require.Contains(t, body, "/opacity')")
	require.Contains(t, body, "/visibility')")
	st, ok := f.session.Maps().Status("B_State")
	require.True(t, ok)
	require.Equal(t, 0.5, st.Opacity)
}

func TestDatasetActions(t *testing.T) {
	f := newFixture(t)

	store, err := f.session.Hierarchy("admin")
	require.NoError(t, err)
	require.NoError(t, store.SetTierSelection(0, []string{"09"}))
	f.session.Wait()
	require.NoError(t, store.SetTierSelection(1, []string{"152"}))

	f.post(t, "load", `{"dataset":"wells","stamp":"2023"}`)
	f.session.Wait()

	body := f.post(t, "cell", `{"dataset":"wells","row":0,"column":"Well_ID","value":"W7"}`)
	require.Contains(t, body, "#dataset-wells")
	require.Contains(t, body, `value="W7"`)
	require.Contains(t, body, "modified")

	body = f.post(t, "plot", `{"dataset":"wells"}`)
	require.Contains(t, body, "1 points plotted")
	require.Contains(t, body, "#layer-list")
	require.Contains(t, body, "map-changed")
}

func TestPendingFile(t *testing.T) {
	f := newFixture(t)

	m, err := f.session.Dataset("wells")
	require.NoError(t, err)
	require.NoError(t, m.SetMode(dataset.ModeImport))

	body := f.post(t, "file", `{"dataset":"wells","file":"wells_2023.csv"}`)
	require.Contains(t, body, `type="file"`)
	require.Contains(t, body, "wells_2023.csv")
	require.Equal(t, "wells_2023.csv", m.Snapshot().PendingFile)
}

func TestEventsStreamsInitialStateAndChanges(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/api/v1/dashboard/"+f.session.ID()+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines := make(chan string, 256)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	waitFor := func(substr string) {
		t.Helper()
		for {
			select {
			case line, ok := <-lines:
				require.True(t, ok, "stream ended before %q", substr)
				if strings.Contains(line, substr) {
					return
				}
			case <-ctx.Done():
				t.Fatalf("timed out waiting for %q", substr)
			}
		}
	}

	waitFor("#hierarchy-admin")
	waitFor("#dataset-wells")
	waitFor("#layer-list")

	store, err := f.session.Hierarchy("admin")
	require.NoError(t, err)
	require.NoError(t, store.SetTierSelection(0, []string{"09"}))
	waitFor(`value="09" selected`)
}

func TestEventsUnknownSession(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/api/v1/dashboard/nope/events")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
