package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/iitbhu2k25/dss-muskan-sub006/internal/config"
)

func newBackend(t *testing.T, h http.HandlerFunc) *Backend {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewBackend(config.BackendConfig{BaseURL: srv.URL, Timeout: 5 * time.Second}, nil)
}

func TestFetchOptionsRoot(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/basic/", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{"state_code":"09","state_name":"Uttar Pradesh"},{"state_code":10,"state_name":"Bihar"},{"state_name":"no id"}]`)
	})

	opts, err := b.FetchOptions(context.Background(), config.OptionSource{
		Endpoint: "/api/basic/", IDKey: "state_code", NameKey: "state_name",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, []Option{
		{ID: "09", Name: "Uttar Pradesh"},
		{ID: "10", Name: "Bihar"},
	}, opts)
}

func TestFetchOptionsScoped(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var body map[string][]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, []string{"09"}, body["state_code"])
		io.WriteString(w, `[{"district_code":"162","district_name":"Varanasi","state_code":"09"}]`)
	})

	opts, err := b.FetchOptions(context.Background(), config.OptionSource{
		Endpoint: "/api/basic/district/", ParentParam: "state_code",
		IDKey: "district_code", NameKey: "district_name", ParentKey: "state_code",
	}, []string{"09"})
	require.NoError(t, err)
	require.Equal(t, []Option{{ID: "162", Name: "Varanasi", ParentID: "09"}}, opts)
}

func TestStatusErrorMessage(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":"database unavailable"}`)
	})

	_, err := b.FetchRecords(context.Background(), "/api/gwa/wells/", Scope{IDs: []string{"1"}})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusInternalServerError, se.StatusCode)
	require.Equal(t, "database unavailable", se.Message)
}

func TestStatusErrorHTMLBody(t *testing.T) {
	se := newStatusError(http.StatusBadGateway, []byte("<html>bad</html>"))
	require.Equal(t, "Bad Gateway", se.Message)
}

func TestStatusErrorTruncatesOnRuneBoundary(t *testing.T) {
	body := "x" + strings.Repeat("जल", 120)
	se := newStatusError(http.StatusInternalServerError, []byte(body))
	require.LessOrEqual(t, len(se.Message), 200)
	require.True(t, utf8.ValidString(se.Message))
	require.True(t, strings.HasPrefix(body, se.Message))

	short := newStatusError(http.StatusInternalServerError, []byte("नदी"))
	require.Equal(t, "नदी", short.Message)
}

func TestValidateCSVRejection(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		require.Equal(t, "wells.csv", header.Filename)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"message":"missing column Latitude"}`)
	})

	err := b.ValidateCSV(context.Background(), "/api/gwa/validate-csv/", "wells.csv", []byte("a,b\n1,2\n"))
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.Equal(t, "missing column Latitude", ve.Error())
}

func TestValidateCSVAccepted(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	require.NoError(t, b.ValidateCSV(context.Background(), "/v/", "ok.csv", []byte("a\n1\n")))
}

func TestSaveRecordsPayload(t *testing.T) {
	var got SavePayload
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	})

	err := b.SaveRecords(context.Background(), "/save/", SavePayload{
		Scope:    Scope{IDs: []string{"v1"}, Stamp: "2024"},
		Modified: true,
		Columns:  []string{"Well_ID"},
		Rows:     []map[string]any{{"Well_ID": "W1"}},
	})
	require.NoError(t, err)
	require.True(t, got.Modified)
	require.Equal(t, "2024", got.Scope.Stamp)
	require.Equal(t, "W1", got.Rows[0]["Well_ID"])
}

func TestContextCancelAborts(t *testing.T) {
	release := make(chan struct{})
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.FetchRecords(ctx, "/slow/", Scope{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestFeatureQueryCQL(t *testing.T) {
	tests := []struct {
		name string
		q    FeatureQuery
		want string
	}{
		{"unfiltered", FeatureQuery{Layer: "Drain"}, ""},
		{"single", FeatureQuery{Field: "Drain_No", Values: []string{"7"}}, "Drain_No IN ('7')"},
		{"many", FeatureQuery{Field: "village_co", Values: []string{"1", "2"}}, "village_co IN ('1','2')"},
		{"quote", FeatureQuery{Field: "name", Values: []string{"O'Neil"}}, "name IN ('O''Neil')"},
		{"empty values", FeatureQuery{Field: "x"}, "EXCLUDE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.q.CQL())
		})
	}
}

func TestFeatureURL(t *testing.T) {
	m := NewMapService(config.MapServiceConfig{BaseURL: "http://maps.test/geoserver/", Workspace: "ws"}, nil)
	raw := m.FeatureURL(FeatureQuery{Layer: "Drain", Field: "Drain_No", Values: []string{"7"}})

	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "/geoserver/ws/ows", u.Path)
	q := u.Query()
	require.Equal(t, "GetFeature", q.Get("request"))
	require.Equal(t, "ws:Drain", q.Get("typeName"))
	require.Equal(t, "application/json", q.Get("outputFormat"))
	require.Equal(t, "Drain_No IN ('7')", q.Get("CQL_FILTER"))

	raw = m.FeatureURL(FeatureQuery{Layer: "Rivers"})
	u, err = url.Parse(raw)
	require.NoError(t, err)
	require.Empty(t, u.Query().Get("CQL_FILTER"))
}

func TestLegendURL(t *testing.T) {
	m := NewMapService(config.MapServiceConfig{BaseURL: "http://maps.test/geoserver", Workspace: "ws"}, nil)
	u, err := url.Parse(m.LegendURL("", "Rivers", "river_style"))
	require.NoError(t, err)
	require.Equal(t, "/geoserver/ws/wms", u.Path)
	require.Equal(t, "ws:Rivers", u.Query().Get("LAYER"))
	require.Equal(t, "river_style", u.Query().Get("STYLE"))
}

func TestQueryFeatures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "ws:Rivers", r.URL.Query().Get("typeName"))
		io.WriteString(w, `{"type":"FeatureCollection","features":[
			{"type":"Feature","geometry":{"type":"Point","coordinates":[82.9,25.3]},"properties":{"River_Code":"1"}}
		]}`)
	}))
	defer srv.Close()

	m := NewMapService(config.MapServiceConfig{BaseURL: srv.URL, Workspace: "ws"}, nil)
	fc, err := m.QueryFeatures(context.Background(), FeatureQuery{Layer: "Rivers"})
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	require.Equal(t, "1", fc.Features[0].Properties.MustString("River_Code"))
}

func TestQueryFeaturesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "layer not found", http.StatusNotFound)
	}))
	defer srv.Close()

	m := NewMapService(config.MapServiceConfig{BaseURL: srv.URL, Workspace: "ws"}, nil)
	_, err := m.QueryFeatures(context.Background(), FeatureQuery{Layer: "Nope"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusNotFound, se.StatusCode)
	require.Equal(t, "layer not found", se.Message)
}
