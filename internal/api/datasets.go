package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/iitbhu2k25/dss-muskan-sub006/internal/dataset"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/humastar"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/session"
)

const datasetPath = "/api/v1/sessions/{session}/datasets/{dataset}"

// maxUpload bounds an imported file.
const maxUpload = 32 << 20

var datasetActions = []humastar.ActionDef{
	{Rel: "load", Pattern: "/api/v1/sessions/%s/datasets/%s/load", Method: http.MethodPost, Title: "Load existing data"},
	{Rel: "import", Pattern: "/api/v1/sessions/%s/datasets/%s/import", Method: http.MethodPost, Title: "Import CSV"},
	{Rel: "save", Pattern: "/api/v1/sessions/%s/datasets/%s/save", Method: http.MethodPost, Title: "Save dataset"},
	{Rel: "reset", Pattern: "/api/v1/sessions/%s/datasets/%s/reset", Method: http.MethodPost, Title: "Reset dataset"},
	{Rel: "export", Pattern: "/api/v1/sessions/%s/datasets/%s/export", Method: http.MethodGet, Title: "Export CSV"},
	{Rel: "plot", Pattern: "/api/v1/sessions/%s/map/plot/%s", Method: http.MethodPost, Title: "Plot on map"},
}

// RegisterDatasets registers the editable dataset routes.
func (h *APIHandler) RegisterDatasets(api huma.API) {
	tags := huma.OperationTags("datasets")
	huma.Get(api, "/api/v1/sessions/{session}/datasets", h.ListDatasets, tags)
	huma.Get(api, datasetPath, h.GetDataset, tags)
	huma.Get(api, datasetPath+"/rows", h.GetRows, tags)
	huma.Post(api, datasetPath+"/rows", h.AddRow, tags)
	huma.Delete(api, datasetPath+"/rows/{row}", h.RemoveRow, tags)
	huma.Put(api, datasetPath+"/rows/{row}/cells/{column}", h.EditCell, tags)
	huma.Post(api, datasetPath+"/columns", h.AddColumn, tags)
	huma.Delete(api, datasetPath+"/columns/{column}", h.RemoveColumn, tags)
	huma.Put(api, datasetPath+"/mode", h.SetMode, tags)
	huma.Post(api, datasetPath+"/load", h.LoadDataset, tags, func(o *huma.Operation) {
		o.DefaultStatus = http.StatusAccepted
	})
	huma.Post(api, datasetPath+"/import", h.ImportDataset, tags)
	huma.Post(api, datasetPath+"/save", h.SaveDataset, tags)
	huma.Post(api, datasetPath+"/reset", h.ResetDataset, tags)
	huma.Delete(api, datasetPath+"/error", h.ClearDatasetError, tags)
	huma.Get(api, datasetPath+"/export", h.ExportDataset, tags)
}

type DatasetInput struct {
	SessionInput
	Dataset string `path:"dataset" doc:"Dataset name" example:"wells"`
}

type RowInput struct {
	DatasetInput
	Row int `path:"row" minimum:"0" doc:"Row index"`
}

type ColumnInput struct {
	DatasetInput
	Column string `path:"column" doc:"Column name"`
}

// DatasetBody is a dataset snapshot without its rows.
type DatasetBody struct {
	Name          string            `json:"name" doc:"Dataset name"`
	Mode          dataset.Mode      `json:"mode" enum:"existing_data,import_file" doc:"Where the rows come from"`
	Columns       []string          `json:"columns" doc:"Ordered column names"`
	CustomColumns []string          `json:"customColumns" doc:"User-added columns"`
	RowCount      int               `json:"rowCount" doc:"Current number of rows"`
	Scope         dataset.Scope     `json:"scope" doc:"Scope of the last load or import"`
	Baseline      int               `json:"baseline" doc:"Row count of the last load or import"`
	Modified      bool              `json:"modified" doc:"Whether existing data was edited"`
	Locked        bool              `json:"locked" doc:"Whether the dataset was saved"`
	Loading       bool              `json:"loading" doc:"Whether a load, import or save is in flight"`
	PendingFile   string            `json:"pendingFile,omitempty" doc:"File awaiting import"`
	Error         string            `json:"error,omitempty" doc:"Current message"`
	ErrorKind     dataset.ErrorKind `json:"errorKind,omitempty" doc:"Message kind"`
	Version       uint64            `json:"version" doc:"Change counter"`

	actions []humastar.Action
}

func (b DatasetBody) Actions() []humastar.Action { return b.actions }

type DatasetOutput struct {
	Body DatasetBody
}

func datasetBody(sessionID string, snap dataset.Snapshot) DatasetBody {
	enabled := func(rel string) bool {
		switch rel {
		case "load":
			return !snap.Locked && snap.Mode == dataset.ModeExisting
		case "import":
			return !snap.Locked && snap.Mode == dataset.ModeImport
		case "save":
			return !snap.Locked && !snap.Loading && len(snap.Rows) > 0
		case "export", "plot":
			return len(snap.Rows) > 0
		}
		return true
	}
	return DatasetBody{
		Name:          snap.Name,
		Mode:          snap.Mode,
		Columns:       snap.Columns,
		CustomColumns: snap.CustomColumns,
		RowCount:      len(snap.Rows),
		Scope:         snap.Scope,
		Baseline:      snap.Baseline,
		Modified:      snap.Modified,
		Locked:        snap.Locked,
		Loading:       snap.Loading,
		PendingFile:   snap.PendingFile,
		Error:         snap.Error,
		ErrorKind:     snap.ErrorKind,
		Version:       snap.Version,
		actions:       humastar.ActionsFor(datasetActions, enabled, sessionID, snap.Name),
	}
}

func (h *APIHandler) dataset(input *DatasetInput) (*session.Session, *dataset.Manager, error) {
	s, err := h.session(input.Session)
	if err != nil {
		return nil, nil, err
	}
	m, err := s.Dataset(input.Dataset)
	if err != nil {
		return nil, nil, problem(err)
	}
	return s, m, nil
}

// mutateDataset runs fn against a dataset and returns its new snapshot.
func (h *APIHandler) mutateDataset(input *DatasetInput, fn func(*dataset.Manager) error) (*DatasetOutput, error) {
	s, m, err := h.dataset(input)
	if err != nil {
		return nil, err
	}
	if err := fn(m); err != nil {
		return nil, problem(err)
	}
	return &DatasetOutput{Body: datasetBody(s.ID(), m.Snapshot())}, nil
}

func (h *APIHandler) ListDatasets(ctx context.Context, input *SessionInput) (*struct {
	Body []DatasetBody
}, error) {
	s, err := h.session(input.Session)
	if err != nil {
		return nil, err
	}
	out := make([]DatasetBody, 0, len(s.Datasets()))
	for _, name := range s.Datasets() {
		m, _ := s.Dataset(name)
		out = append(out, datasetBody(s.ID(), m.Snapshot()))
	}
	return &struct{ Body []DatasetBody }{Body: out}, nil
}

func (h *APIHandler) GetDataset(ctx context.Context, input *DatasetInput) (*DatasetOutput, error) {
	return h.mutateDataset(input, func(*dataset.Manager) error { return nil })
}

func (h *APIHandler) GetRows(ctx context.Context, input *struct {
	DatasetInput
	PageInput
}) (*struct {
	Body humastar.PageBody[dataset.Record]
}, error) {
	_, m, err := h.dataset(&input.DatasetInput)
	if err != nil {
		return nil, err
	}
	return &struct {
		Body humastar.PageBody[dataset.Record]
	}{Body: humastar.Paginate(m.Snapshot().Rows, input.Offset, input.Limit)}, nil
}

type AddRowBody struct {
	Values dataset.Record `json:"values,omitempty" doc:"Initial cell values by column"`
}

func (h *APIHandler) AddRow(ctx context.Context, input *struct {
	DatasetInput
	Body AddRowBody
}) (*DatasetOutput, error) {
	return h.mutateDataset(&input.DatasetInput, func(m *dataset.Manager) error {
		return m.AddRow(input.Body.Values)
	})
}

func (h *APIHandler) RemoveRow(ctx context.Context, input *RowInput) (*DatasetOutput, error) {
	return h.mutateDataset(&input.DatasetInput, func(m *dataset.Manager) error {
		return m.RemoveRow(input.Row)
	})
}

type CellBody struct {
	Value any `json:"value" doc:"New cell value, string or number"`
}

func (h *APIHandler) EditCell(ctx context.Context, input *struct {
	DatasetInput
	Row    int    `path:"row" minimum:"0" doc:"Row index"`
	Column string `path:"column" doc:"Column name"`
	Body   CellBody
}) (*DatasetOutput, error) {
	return h.mutateDataset(&input.DatasetInput, func(m *dataset.Manager) error {
		return m.EditCell(input.Row, input.Column, input.Body.Value)
	})
}

type ColumnBody struct {
	Name string `json:"name" minLength:"1" doc:"New column name"`
}

func (h *APIHandler) AddColumn(ctx context.Context, input *struct {
	DatasetInput
	Body ColumnBody
}) (*DatasetOutput, error) {
	return h.mutateDataset(&input.DatasetInput, func(m *dataset.Manager) error {
		return m.AddColumn(input.Body.Name)
	})
}

func (h *APIHandler) RemoveColumn(ctx context.Context, input *ColumnInput) (*DatasetOutput, error) {
	return h.mutateDataset(&input.DatasetInput, func(m *dataset.Manager) error {
		return m.RemoveColumn(input.Column)
	})
}

type ModeBody struct {
	Mode string `json:"mode" enum:"existing_data,import_file" doc:"Dataset mode"`
}

func (h *APIHandler) SetMode(ctx context.Context, input *struct {
	DatasetInput
	Body ModeBody
}) (*DatasetOutput, error) {
	return h.mutateDataset(&input.DatasetInput, func(m *dataset.Manager) error {
		return m.SetMode(dataset.Mode(input.Body.Mode))
	})
}

type LoadBody struct {
	Stamp string `json:"stamp,omitempty" doc:"Scope stamp such as the year" example:"2023"`
}

// LoadDataset starts loading the existing records of the dataset's scope
// tier selection. The result arrives through the dataset state.
func (h *APIHandler) LoadDataset(ctx context.Context, input *struct {
	DatasetInput
	Body LoadBody
}) (*DatasetOutput, error) {
	s, m, err := h.dataset(&input.DatasetInput)
	if err != nil {
		return nil, err
	}
	if err := s.LoadDataset(input.Dataset, input.Body.Stamp); err != nil {
		return nil, problem(err)
	}
	return &DatasetOutput{Body: datasetBody(s.ID(), m.Snapshot())}, nil
}

type ImportInput struct {
	DatasetInput
	RawBody multipart.Form
}

// ImportDataset validates an uploaded CSV with the backend and replaces the
// dataset with its rows. The form carries the file in "file" and an
// optional "stamp".
func (h *APIHandler) ImportDataset(ctx context.Context, input *ImportInput) (*DatasetOutput, error) {
	s, m, err := h.dataset(&input.DatasetInput)
	if err != nil {
		return nil, err
	}
	files := input.RawBody.File["file"]
	if len(files) == 0 {
		return nil, huma.Error400BadRequest("file is required")
	}
	data, err := readUpload(files[0], maxUpload)
	if err != nil {
		return nil, err
	}
	var stamp string
	if v := input.RawBody.Value["stamp"]; len(v) > 0 {
		stamp = v[0]
	}
	if err := m.ImportFile(ctx, files[0].Filename, data, stamp); err != nil {
		return nil, problem(err)
	}
	return &DatasetOutput{Body: datasetBody(s.ID(), m.Snapshot())}, nil
}

// readUpload reads at most limit bytes. The declared size is checked first
// and the bytes actually read are checked again.
func readUpload(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	tooLarge := huma.Error413RequestEntityTooLarge(fmt.Sprintf("file exceeds %d bytes", limit))
	if fh.Size > limit {
		return nil, tooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return nil, huma.Error400BadRequest("failed to read file", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, huma.Error400BadRequest("failed to read file", err)
	}
	if int64(len(data)) > limit {
		return nil, tooLarge
	}
	return data, nil
}

// SaveDataset hands the dataset to the backend and the archive. A saved
// dataset is read-only until reset.
func (h *APIHandler) SaveDataset(ctx context.Context, input *DatasetInput) (*DatasetOutput, error) {
	return h.mutateDataset(input, func(m *dataset.Manager) error {
		return m.Save(ctx)
	})
}

func (h *APIHandler) ResetDataset(ctx context.Context, input *DatasetInput) (*DatasetOutput, error) {
	return h.mutateDataset(input, func(m *dataset.Manager) error {
		m.Reset()
		return nil
	})
}

func (h *APIHandler) ClearDatasetError(ctx context.Context, input *DatasetInput) (*DatasetOutput, error) {
	return h.mutateDataset(input, func(m *dataset.Manager) error {
		m.ClearError()
		return nil
	})
}

type ExportOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

func (h *APIHandler) ExportDataset(ctx context.Context, input *DatasetInput) (*ExportOutput, error) {
	_, m, err := h.dataset(input)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := m.ExportCSV(&buf); err != nil {
		return nil, huma.Error500InternalServerError("failed to export dataset", err)
	}
	return &ExportOutput{
		ContentType:        "text/csv; charset=utf-8",
		ContentDisposition: fmt.Sprintf(`attachment; filename="%s.csv"`, m.Name()),
		Body:               buf.Bytes(),
	}, nil
}
