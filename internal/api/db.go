package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/iitbhu2k25/dss-muskan-sub006/internal/db"
)

// RegisterArchive registers the saved dataset archive routes.
func (h *APIHandler) RegisterArchive(api huma.API) {
	tags := huma.OperationTags("archive")
	huma.Get(api, "/api/v1/archive", h.ListArchive, tags)
	huma.Get(api, "/api/v1/archive/tables", h.ListTables, tags)
	huma.Get(api, "/api/v1/archive/{id}", h.GetArchiveEntry, tags)
	huma.Post(api, "/api/v1/archive/query", h.Query, tags)
}

type ArchiveListInput struct {
	Dataset string `query:"dataset" doc:"Only entries of this dataset"`
	Limit   int    `query:"limit" minimum:"0" maximum:"500" default:"50" doc:"Maximum entries"`
}

type ArchiveEntryBody struct {
	db.Entry
	Rows []map[string]any `json:"rows" doc:"Archived rows"`
}

// TablesOutput is the response for listing tables.
type TablesOutput struct {
	Body struct {
		Tables []string `json:"tables" doc:"List of table names"`
	}
}

// QueryInput is the input for SQL queries.
type QueryInput struct {
	Body struct {
		Query string `json:"query" required:"true" doc:"Read-only SQL statement" example:"SELECT dataset, count(*) FROM dataset_snapshots GROUP BY 1"`
	}
}

// QueryOutput is the response for SQL queries.
type QueryOutput struct {
	Body struct {
		Columns []string         `json:"columns" doc:"Column names"`
		Rows    []map[string]any `json:"rows" doc:"Query results"`
		Count   int              `json:"count" doc:"Number of rows returned"`
	}
}

func (h *APIHandler) archive() (*db.Archive, error) {
	if h.svc.Archive == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	return h.svc.Archive, nil
}

func (h *APIHandler) ListArchive(ctx context.Context, input *ArchiveListInput) (*struct{ Body []db.Entry }, error) {
	a, err := h.archive()
	if err != nil {
		return nil, err
	}
	entries, err := a.List(ctx, input.Dataset, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list archive", err)
	}
	return &struct{ Body []db.Entry }{Body: entries}, nil
}

func (h *APIHandler) GetArchiveEntry(ctx context.Context, input *struct {
	ID string `path:"id" doc:"Archive entry ID"`
}) (*struct{ Body ArchiveEntryBody }, error) {
	a, err := h.archive()
	if err != nil {
		return nil, err
	}
	entry, rows, err := a.Rows(ctx, input.ID)
	if err != nil {
		if errors.Is(err, db.ErrEntryNotFound) {
			return nil, huma.Error404NotFound("archive entry not found")
		}
		return nil, huma.Error500InternalServerError("Failed to read archive entry", err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return &struct{ Body ArchiveEntryBody }{Body: ArchiveEntryBody{Entry: entry, Rows: rows}}, nil
}

// ListTables returns all DuckDB tables.
func (h *APIHandler) ListTables(ctx context.Context, input *struct{}) (*TablesOutput, error) {
	tables, err := db.Tables(ctx, h.svc.DB)
	if err != nil {
		if errors.Is(err, db.ErrNoConnection) {
			return nil, huma.Error503ServiceUnavailable("Database not available")
		}
		return nil, huma.Error500InternalServerError("Failed to list tables", err)
	}
	out := &TablesOutput{}
	out.Body.Tables = tables
	return out, nil
}

// Query executes a read-only SQL statement against DuckDB.
func (h *APIHandler) Query(ctx context.Context, input *QueryInput) (*QueryOutput, error) {
	columns, rows, err := db.Query(ctx, h.svc.DB, input.Body.Query)
	switch {
	case errors.Is(err, db.ErrNoConnection):
		return nil, huma.Error503ServiceUnavailable("Database not available")
	case errors.Is(err, db.ErrNotReadOnly):
		return nil, huma.Error400BadRequest("Query rejected: " + err.Error())
	case err != nil:
		return nil, huma.Error400BadRequest("Query failed: " + err.Error())
	}
	out := &QueryOutput{}
	out.Body.Columns = columns
	out.Body.Rows = rows
	out.Body.Count = len(rows)
	return out, nil
}
