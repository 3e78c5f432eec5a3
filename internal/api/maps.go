package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb/geojson"

	"github.com/iitbhu2k25/dss-muskan-sub006/internal/maplayer"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/session"
)

const mapPath = "/api/v1/sessions/{session}/map"

// RegisterMap registers the map layer routes of a session.
func (h *APIHandler) RegisterMap(api huma.API) {
	tags := huma.OperationTags("map")
	huma.Get(api, mapPath, h.GetMap, tags)
	huma.Get(api, mapPath+"/layers/{layer}", h.GetMapLayer, tags)
	huma.Put(api, mapPath+"/layers/{layer}/opacity", h.SetLayerOpacity, tags)
	huma.Post(api, mapPath+"/layers/{layer}/visibility", h.ToggleLayerVisibility, tags)
	huma.Get(api, mapPath+"/layers/{layer}/legend", h.GetLegend, tags)
	huma.Get(api, mapPath+"/layers/{layer}/features", h.GetLayerFeatures, tags)
	huma.Post(api, mapPath+"/plot/{dataset}", h.PlotDataset, tags)
	huma.Get(api, mapPath+"/overlay", h.GetOverlay, tags)
	huma.Delete(api, mapPath+"/overlay", h.ClearOverlay, tags)
}

type MapLayerInput struct {
	SessionInput
	Layer string `path:"layer" doc:"Layer ID" example:"B_district"`
}

type MapOutput struct {
	Body maplayer.Snapshot
}

type LayerStatusOutput struct {
	Body maplayer.LayerStatus
}

type OpacityBody struct {
	Opacity float64 `json:"opacity" minimum:"0" maximum:"1" doc:"Layer opacity"`
}

type VisibilityBody struct {
	ID      string `json:"id" doc:"Layer ID"`
	Visible bool   `json:"visible" doc:"New visibility"`
}

type LegendBody struct {
	ID  string `json:"id" doc:"Layer ID"`
	URL string `json:"url" doc:"Legend image URL"`
}

type GeoJSONOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

func geoJSON(fc *geojson.FeatureCollection) (*GeoJSONOutput, error) {
	data, err := fc.MarshalJSON()
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to encode features", err)
	}
	return &GeoJSONOutput{ContentType: "application/geo+json", Body: data}, nil
}

func (h *APIHandler) maps(id string) (*session.Session, *maplayer.Adapter, error) {
	s, err := h.session(id)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Maps(), nil
}

func (h *APIHandler) GetMap(ctx context.Context, input *SessionInput) (*MapOutput, error) {
	_, a, err := h.maps(input.Session)
	if err != nil {
		return nil, err
	}
	return &MapOutput{Body: a.Snapshot()}, nil
}

func (h *APIHandler) GetMapLayer(ctx context.Context, input *MapLayerInput) (*LayerStatusOutput, error) {
	_, a, err := h.maps(input.Session)
	if err != nil {
		return nil, err
	}
	st, ok := a.Status(input.Layer)
	if !ok {
		return nil, huma.Error404NotFound("layer not found")
	}
	return &LayerStatusOutput{Body: st}, nil
}

func (h *APIHandler) SetLayerOpacity(ctx context.Context, input *struct {
	MapLayerInput
	Body OpacityBody
}) (*LayerStatusOutput, error) {
	_, a, err := h.maps(input.Session)
	if err != nil {
		return nil, err
	}
	if err := a.SetOpacity(input.Layer, input.Body.Opacity); err != nil {
		return nil, problem(err)
	}
	st, _ := a.Status(input.Layer)
	return &LayerStatusOutput{Body: st}, nil
}

func (h *APIHandler) ToggleLayerVisibility(ctx context.Context, input *MapLayerInput) (*struct{ Body VisibilityBody }, error) {
	_, a, err := h.maps(input.Session)
	if err != nil {
		return nil, err
	}
	visible, err := a.ToggleVisibility(input.Layer)
	if err != nil {
		return nil, problem(err)
	}
	return &struct{ Body VisibilityBody }{Body: VisibilityBody{ID: input.Layer, Visible: visible}}, nil
}

func (h *APIHandler) GetLegend(ctx context.Context, input *MapLayerInput) (*struct{ Body LegendBody }, error) {
	_, a, err := h.maps(input.Session)
	if err != nil {
		return nil, err
	}
	url, err := a.LegendURL(input.Layer)
	if err != nil {
		return nil, problem(err)
	}
	return &struct{ Body LegendBody }{Body: LegendBody{ID: input.Layer, URL: url}}, nil
}

// GetLayerFeatures returns the last loaded features of a layer as GeoJSON.
func (h *APIHandler) GetLayerFeatures(ctx context.Context, input *MapLayerInput) (*GeoJSONOutput, error) {
	_, a, err := h.maps(input.Session)
	if err != nil {
		return nil, err
	}
	if _, ok := a.Status(input.Layer); !ok {
		return nil, huma.Error404NotFound("layer not found")
	}
	fc, ok := a.Features(input.Layer)
	if !ok {
		return nil, huma.Error404NotFound("layer has no loaded features")
	}
	return geoJSON(fc)
}

func (h *APIHandler) PlotDataset(ctx context.Context, input *DatasetInput) (*struct {
	Body maplayer.PlotResult
}, error) {
	s, err := h.session(input.Session)
	if err != nil {
		return nil, err
	}
	res, err := s.PlotDataset(input.Dataset)
	if err != nil {
		return nil, problem(err)
	}
	return &struct{ Body maplayer.PlotResult }{Body: res}, nil
}

func (h *APIHandler) GetOverlay(ctx context.Context, input *SessionInput) (*GeoJSONOutput, error) {
	_, a, err := h.maps(input.Session)
	if err != nil {
		return nil, err
	}
	return geoJSON(a.Overlay())
}

func (h *APIHandler) ClearOverlay(ctx context.Context, input *SessionInput) (*MapOutput, error) {
	_, a, err := h.maps(input.Session)
	if err != nil {
		return nil, err
	}
	a.ClearOverlay()
	return &MapOutput{Body: a.Snapshot()}, nil
}
