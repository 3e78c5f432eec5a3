package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

// RegisterInfo registers the service info route.
func (h *APIHandler) RegisterInfo(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name        string   `json:"name" doc:"Service name"`
	Version     string   `json:"version" doc:"Service version"`
	DataDir     string   `json:"data_dir" doc:"Data directory path"`
	DB          bool     `json:"db" doc:"Whether the archive database is available"`
	Backend     string   `json:"backend" doc:"Backend API base URL"`
	MapService  string   `json:"map_service" doc:"Map service base URL"`
	Hierarchies []string `json:"hierarchies" doc:"Configured selection hierarchies"`
	Datasets    []string `json:"datasets" doc:"Configured editable datasets"`
	Sessions    int      `json:"sessions" doc:"Open sessions"`
	MaxSessions int      `json:"max_sessions" doc:"Session registry capacity"`
}

func (h *APIHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	cfg := h.svc.Config
	body := InfoBody{
		Name:        "dss",
		Version:     Version,
		DataDir:     h.svc.DataDir,
		DB:          h.svc.Archive != nil,
		Backend:     cfg.Backend.BaseURL,
		MapService:  cfg.MapService.BaseURL,
		Hierarchies: []string{},
		Datasets:    []string{},
		MaxSessions: cfg.Sessions.MaxSessions,
	}
	for _, hc := range cfg.Hierarchies {
		body.Hierarchies = append(body.Hierarchies, hc.Name)
	}
	for _, dc := range cfg.Datasets {
		body.Datasets = append(body.Datasets, dc.Name)
	}
	if h.svc.Sessions != nil {
		body.Sessions = h.svc.Sessions.Len()
	}
	return &struct{ Body InfoBody }{Body: body}, nil
}
