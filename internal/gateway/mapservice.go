package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/iitbhu2k25/dss-muskan-sub006/internal/config"
)

// FeatureQuery is an attribute-filtered feature request against one layer.
// An empty Field requests the layer unfiltered.
type FeatureQuery struct {
	Workspace string   `json:"workspace" doc:"Map service workspace"`
	Layer     string   `json:"layer" doc:"Layer name within the workspace"`
	Field     string   `json:"field,omitempty" doc:"Attribute constrained by the filter"`
	Values    []string `json:"values,omitempty" doc:"Allowed attribute values"`
}

// TypeName returns the qualified "workspace:layer" name.
func (q FeatureQuery) TypeName() string {
	if q.Workspace == "" {
		return q.Layer
	}
	return q.Workspace + ":" + q.Layer
}

// CQL renders the attribute-in-list predicate, or "" when unfiltered.
// A filter with a field but no values matches nothing.
func (q FeatureQuery) CQL() string {
	if q.Field == "" {
		return ""
	}
	if len(q.Values) == 0 {
		return "EXCLUDE"
	}
	quoted := make([]string, len(q.Values))
	for i, v := range q.Values {
		quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return fmt.Sprintf("%s IN (%s)", q.Field, strings.Join(quoted, ","))
}

// MapService is a client for a GeoServer-style WFS/WMS endpoint.
type MapService struct {
	baseURL   string
	workspace string
	client    *http.Client
	logger    *slog.Logger
}

// NewMapService creates a map service client.
func NewMapService(cfg config.MapServiceConfig, logger *slog.Logger) *MapService {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MapService{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		workspace: cfg.Workspace,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

// Workspace returns the default workspace.
func (m *MapService) Workspace() string {
	return m.workspace
}

// FeatureURL returns the WFS GetFeature URL for a query.
func (m *MapService) FeatureURL(q FeatureQuery) string {
	if q.Workspace == "" {
		q.Workspace = m.workspace
	}
	params := url.Values{}
	params.Set("service", "WFS")
	params.Set("version", "1.0.0")
	params.Set("request", "GetFeature")
	params.Set("typeName", q.TypeName())
	params.Set("outputFormat", "application/json")
	params.Set("srsName", "EPSG:4326")
	if cql := q.CQL(); cql != "" {
		params.Set("CQL_FILTER", cql)
	}
	return fmt.Sprintf("%s/%s/ows?%s", m.baseURL, q.Workspace, params.Encode())
}

// LegendURL returns the WMS GetLegendGraphic URL for a layer.
func (m *MapService) LegendURL(workspace, layer, style string) string {
	if workspace == "" {
		workspace = m.workspace
	}
	params := url.Values{}
	params.Set("REQUEST", "GetLegendGraphic")
	params.Set("VERSION", "1.0.0")
	params.Set("FORMAT", "image/png")
	params.Set("LAYER", workspace+":"+layer)
	if style != "" {
		params.Set("STYLE", style)
	}
	return fmt.Sprintf("%s/%s/wms?%s", m.baseURL, workspace, params.Encode())
}

// QueryFeatures fetches the features matching a query.
func (m *MapService) QueryFeatures(ctx context.Context, q FeatureQuery) (*geojson.FeatureCollection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.FeatureURL(q), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.TypeName(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", q.TypeName(), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newStatusError(resp.StatusCode, body)
	}

	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", q.TypeName(), err)
	}

	m.logger.Debug("feature query",
		"layer", q.TypeName(),
		"cql", q.CQL(),
		"features", len(fc.Features),
		"elapsed", time.Since(start),
	)
	return fc, nil
}
