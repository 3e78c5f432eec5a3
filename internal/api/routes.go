// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/iitbhu2k25/dss-muskan-sub006/internal/config"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/dataset"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/db"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/maplayer"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/selection"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/service"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/session"
)

// Version is reported by /health and /api/v1/info.
const Version = "0.3.0"

// Services holds the service dependencies for API handlers.
type Services struct {
	Config   config.Config
	Sessions *session.Registry
	// Deps builds new sessions.
	Deps    session.Deps
	Layers  *service.LayerService
	Archive *db.Archive
	DB      *sql.DB
	DataDir string
	Logger  *slog.Logger
}

// RegisterRoutes registers every REST route of the API.
func RegisterRoutes(api huma.API, svc *Services) {
	huma.AutoRegister(api, NewAPIHandler(svc))
}

// Types

type IDInput struct {
	ID string `path:"id" doc:"Layer ID" example:"groundwater_zones"`
}

type LayerOutput struct {
	Body service.LayerConfig
}

type LayersOutput struct {
	Body map[string]service.LayerConfig
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type CreatedLayerBody struct {
	ID      string              `json:"id" doc:"Generated layer ID"`
	Layer   service.LayerConfig `json:"layer" doc:"Created layer configuration"`
	Message string              `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status   string `json:"status" doc:"Health status" example:"ok"`
	Version  string `json:"version" doc:"API version" example:"0.3.0"`
	Sessions int    `json:"sessions" doc:"Open sessions"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc    *Services
	logger *slog.Logger
}

func NewAPIHandler(svc *Services) *APIHandler {
	logger := svc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &APIHandler{svc: svc, logger: logger}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterLayers registers the layer catalog routes.
func (h *APIHandler) RegisterLayers(api huma.API) {
	huma.Get(api, "/api/v1/layers", h.GetLayers, huma.OperationTags("layers"))
	huma.Post(api, "/api/v1/layers", h.CreateLayer, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/layers/{id}", h.GetLayer, huma.OperationTags("layers"))
	huma.Put(api, "/api/v1/layers/{id}", h.PutLayer, huma.OperationTags("layers"))
	huma.Delete(api, "/api/v1/layers/{id}", h.DeleteLayer, huma.OperationTags("layers"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	body := HealthBody{Status: "ok", Version: Version}
	if h.svc.Sessions != nil {
		body.Sessions = h.svc.Sessions.Len()
	}
	return &struct{ Body HealthBody }{Body: body}, nil
}

func (h *APIHandler) GetLayers(ctx context.Context, input *struct{}) (*LayersOutput, error) {
	if h.svc.Layers == nil {
		return &LayersOutput{Body: map[string]service.LayerConfig{}}, nil
	}
	return &LayersOutput{Body: h.svc.Layers.List()}, nil
}

func (h *APIHandler) CreateLayer(ctx context.Context, input *struct{ Body service.LayerConfig }) (*struct{ Body CreatedLayerBody }, error) {
	if h.svc.Layers == nil {
		return nil, huma.Error503ServiceUnavailable("layer catalog not available")
	}
	created, err := h.svc.Layers.Create(input.Body)
	if err != nil {
		return nil, problem(err)
	}
	return &struct{ Body CreatedLayerBody }{Body: CreatedLayerBody{
		ID: created.ID, Layer: created, Message: "Layer created",
	}}, nil
}

func (h *APIHandler) GetLayer(ctx context.Context, input *IDInput) (*LayerOutput, error) {
	if h.svc.Layers == nil {
		return nil, huma.Error404NotFound("layer catalog not available")
	}
	layer, ok := h.svc.Layers.Get(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("layer not found")
	}
	return &LayerOutput{Body: layer}, nil
}

func (h *APIHandler) PutLayer(ctx context.Context, input *struct {
	IDInput
	Body service.LayerConfig
}) (*LayerOutput, error) {
	if h.svc.Layers == nil {
		return nil, huma.Error503ServiceUnavailable("layer catalog not available")
	}
	updated, err := h.svc.Layers.Update(input.ID, input.Body)
	if err != nil {
		return nil, problem(err)
	}
	return &LayerOutput{Body: updated}, nil
}

func (h *APIHandler) DeleteLayer(ctx context.Context, input *IDInput) (*struct{ Body MessageBody }, error) {
	if h.svc.Layers == nil {
		return nil, huma.Error503ServiceUnavailable("layer catalog not available")
	}
	if err := h.svc.Layers.Delete(input.ID); err != nil {
		return nil, problem(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Layer deleted"}}, nil
}

// problem maps a domain error to an HTTP error.
func problem(err error) error {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return err
	}

	msg := err.Error()
	switch {
	case errors.Is(err, session.ErrUnknownHierarchy),
		errors.Is(err, session.ErrUnknownDataset),
		errors.Is(err, maplayer.ErrUnknownLayer),
		errors.Is(err, service.ErrLayerNotFound),
		errors.Is(err, db.ErrEntryNotFound):
		return huma.Error404NotFound(msg)

	case errors.Is(err, dataset.ErrLoadInFlight),
		errors.Is(err, dataset.ErrSuperseded),
		errors.Is(err, selection.ErrOptionsNotLoaded),
		errors.Is(err, service.ErrLayerExists):
		return huma.Error409Conflict(msg)

	case dataset.IsValidation(err),
		errors.Is(err, selection.ErrTierOutOfRange),
		errors.Is(err, selection.ErrMultipleValues),
		errors.Is(err, selection.ErrUnknownOption),
		errors.Is(err, selection.ErrConfirmIncomplete),
		errors.Is(err, maplayer.ErrOpacityRange),
		errors.Is(err, session.ErrNoCoordinates),
		errors.Is(err, service.ErrLayerID),
		errors.Is(err, db.ErrNotReadOnly):
		return huma.Error422UnprocessableEntity(msg)

	case errors.Is(err, db.ErrNoConnection):
		return huma.Error503ServiceUnavailable(msg)

	case errors.Is(err, context.DeadlineExceeded):
		return huma.Error504GatewayTimeout(msg)
	}
	return huma.Error502BadGateway(msg)
}
