// Package gateway contains thin clients for the two external systems the DSS
// consumes: the backend REST API and the map/feature query service.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/iitbhu2k25/dss-muskan-sub006/internal/config"
)

// Option is one selectable entry of a hierarchy tier.
type Option struct {
	ID       string `json:"id" doc:"Opaque identifier" example:"09"`
	Name     string `json:"name" doc:"Display label" example:"Uttar Pradesh"`
	ParentID string `json:"parentId,omitempty" doc:"Identifier of the owning entry one level up"`
}

// Scope selects the records a dataset fetch or save applies to.
type Scope struct {
	IDs   []string `json:"ids"`
	Stamp string   `json:"year,omitempty"`
}

// SavePayload is the body sent to a dataset save endpoint.
type SavePayload struct {
	Scope    Scope            `json:"scope"`
	Modified bool             `json:"modified"`
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
}

// Backend is a client for the backend REST API.
type Backend struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewBackend creates a backend client.
func NewBackend(cfg config.BackendConfig, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Backend{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

// FetchOptions looks up a tier's options. The root tier (no parent ids) is a
// GET; scoped tiers POST the parent ids under src.ParentParam.
func (b *Backend) FetchOptions(ctx context.Context, src config.OptionSource, parentIDs []string) ([]Option, error) {
	var rows []map[string]any
	var err error
	if len(parentIDs) == 0 {
		err = b.getJSON(ctx, src.Endpoint, &rows)
	} else {
		err = b.postJSON(ctx, src.Endpoint, map[string]any{src.ParentParam: parentIDs}, &rows)
	}
	if err != nil {
		return nil, err
	}

	options := make([]Option, 0, len(rows))
	for _, row := range rows {
		id := stringValue(row[src.IDKey])
		if id == "" {
			continue
		}
		opt := Option{ID: id, Name: stringValue(row[src.NameKey])}
		if opt.Name == "" {
			opt.Name = id
		}
		if src.ParentKey != "" {
			opt.ParentID = stringValue(row[src.ParentKey])
		}
		options = append(options, opt)
	}
	return options, nil
}

// FetchRecords fetches the existing records of a dataset for a scope.
func (b *Backend) FetchRecords(ctx context.Context, endpoint string, scope Scope) ([]map[string]any, error) {
	var rows []map[string]any
	if err := b.postJSON(ctx, endpoint, scope, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// SaveRecords hands a dataset to the backend.
func (b *Backend) SaveRecords(ctx context.Context, endpoint string, payload SavePayload) error {
	return b.postJSON(ctx, endpoint, payload, nil)
}

// ValidateCSV asks the backend for a structural check of an uploaded file.
// A rejection by the backend is returned as *ValidationError.
func (b *Backend) ValidateCSV(ctx context.Context, endpoint, filename string, data []byte) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url(endpoint), &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	err = b.do(req, nil)
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 {
		return &ValidationError{Message: se.Message}
	}
	return err
}

func (b *Backend) url(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return b.baseURL + "/" + strings.TrimLeft(endpoint, "/")
}

func (b *Backend) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url(endpoint), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	return b.do(req, out)
}

func (b *Backend) postJSON(ctx context.Context, endpoint string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url(endpoint), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return b.do(req, out)
}

func (b *Backend) do(req *http.Request, out any) error {
	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	b.logger.Debug("backend request",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"elapsed", time.Since(start),
	)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newStatusError(resp.StatusCode, body)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

// stringValue renders a JSON scalar as an identifier string. Whole numbers are
// printed without a fraction so numeric codes stay stable.
func stringValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
