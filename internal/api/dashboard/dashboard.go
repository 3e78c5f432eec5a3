// Package dashboard contains the Datastar SSE handlers of the DSS dashboard.
//
// The event stream renders every hierarchy panel, dataset table and the layer
// list of one session, then re-renders whatever a change event names. The
// action endpoints read Datastar signals, apply them to the session and patch
// the affected fragment into their own response.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/iitbhu2k25/dss-muskan-sub006/internal/humastar"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/selection"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/service"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/session"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/templates"
)

const basePath = "/api/v1/dashboard/{session}"

// keepalive is how often an idle stream checks that its session is still open.
const keepalive = 15 * time.Second

// Handler serves the dashboard of every open session.
type Handler struct {
	humastar.Handler
	sessions *session.Registry
	bus      *service.EventBus
	logger   *slog.Logger
}

// New creates a dashboard handler.
func New(sessions *session.Registry, bus *service.EventBus, renderer *templates.Renderer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Handler:  humastar.Handler{Renderer: renderer},
		sessions: sessions,
		bus:      bus,
		logger:   logger,
	}
}

func (h *Handler) RegisterRoutes(api huma.API) {
	tags := huma.OperationTags("dashboard")
	huma.Get(api, basePath+"/events", h.Events, tags)
	huma.Post(api, basePath+"/select", h.Select, tags)
	huma.Post(api, basePath+"/confirm", h.Confirm, tags)
	huma.Post(api, basePath+"/reset", h.Reset, tags)
	huma.Post(api, basePath+"/cell", h.EditCell, tags)
	huma.Post(api, basePath+"/load", h.Load, tags)
	huma.Post(api, basePath+"/file", h.PendingFile, tags)
	huma.Post(api, basePath+"/plot", h.Plot, tags)
	huma.Post(api, basePath+"/opacity", h.Opacity, tags)
	huma.Post(api, basePath+"/visibility", h.Visibility, tags)
}

type SessionInput struct {
	Session string `path:"session" doc:"Session ID"`
}

type ActionInput struct {
	SessionInput
	humastar.SignalsInput
}

func (h *Handler) session(id string) (*session.Session, error) {
	s, ok := h.sessions.Get(id)
	if !ok || s.Closed() {
		return nil, huma.Error404NotFound("session not found")
	}
	return s, nil
}

// Events streams the dashboard of a session until the client disconnects or
// the session is closed.
func (h *Handler) Events(ctx context.Context, input *SessionInput) (*huma.StreamResponse, error) {
	s, err := h.session(input.Session)
	if err != nil {
		return nil, err
	}
	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			sse := humastar.NewSSE(humaCtx)
			ch := h.bus.Subscribe()
			defer h.bus.Unsubscribe(ch)

			for _, name := range s.Hierarchies() {
				h.pushHierarchy(sse, s, name)
			}
			for _, name := range s.Datasets() {
				h.pushDataset(sse, s, name)
			}
			h.pushMap(sse, s)

			tick := time.NewTicker(keepalive)
			defer tick.Stop()
			done := humaCtx.Context().Done()
			for {
				select {
				case <-done:
					return
				case <-tick.C:
					if s.Closed() {
						sse.Error("session closed")
						return
					}
				case ev, ok := <-ch:
					if !ok {
						return
					}
					if ev.Session != "" && ev.Session != s.ID() {
						continue
					}
					switch ev.Resource {
					case "selection":
						h.pushHierarchy(sse, s, ev.ID)
					case "dataset":
						h.pushDataset(sse, s, ev.ID)
					case "maplayer":
						h.pushMap(sse, s)
					case "layers":
						sse.DispatchCustomEvent("catalog-changed", map[string]any{
							"action": ev.Action, "id": ev.ID,
						})
					}
				}
			}
		},
	}, nil
}

// Select replaces the selection of one tier. Signals: hierarchy, tier, values.
func (h *Handler) Select(ctx context.Context, input *ActionInput) (*huma.StreamResponse, error) {
	s, signals, err := h.action(input, "hierarchy", "tier")
	if err != nil {
		return nil, err
	}
	tier, err := signals.IntE("tier")
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	name := signals.String("hierarchy")
	store, err := s.Hierarchy(name)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	return h.Stream(func(sse humastar.SSE) {
		if err := store.SetTierSelection(tier, signals.Strings("values")); err != nil {
			sse.Error(err.Error())
		}
		h.pushHierarchy(sse, s, name)
	}), nil
}

// Confirm locks a hierarchy. Signals: hierarchy.
func (h *Handler) Confirm(ctx context.Context, input *ActionInput) (*huma.StreamResponse, error) {
	return h.hierarchyAction(input, func(store *selection.Store) error {
		return store.Confirm()
	}, "Selection confirmed")
}

// Reset clears a hierarchy. Signals: hierarchy.
func (h *Handler) Reset(ctx context.Context, input *ActionInput) (*huma.StreamResponse, error) {
	return h.hierarchyAction(input, func(store *selection.Store) error {
		store.Reset()
		return nil
	}, "")
}

func (h *Handler) hierarchyAction(input *ActionInput, fn func(*selection.Store) error, success string) (*huma.StreamResponse, error) {
	s, signals, err := h.action(input, "hierarchy")
	if err != nil {
		return nil, err
	}
	name := signals.String("hierarchy")
	store, err := s.Hierarchy(name)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	return h.Stream(func(sse humastar.SSE) {
		if err := fn(store); err != nil {
			sse.Error(err.Error())
		} else if success != "" {
			sse.Success(success)
		}
		h.pushHierarchy(sse, s, name)
	}), nil
}

// EditCell sets one dataset cell. Signals: dataset, row, column, value.
func (h *Handler) EditCell(ctx context.Context, input *ActionInput) (*huma.StreamResponse, error) {
	s, signals, err := h.action(input, "dataset", "row", "column")
	if err != nil {
		return nil, err
	}
	row, err := signals.IntE("row")
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	name := signals.String("dataset")
	m, err := s.Dataset(name)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	return h.Stream(func(sse humastar.SSE) {
		if err := m.EditCell(row, signals.String("column"), signals["value"]); err != nil {
			sse.Error(err.Error())
		}
		h.pushDataset(sse, s, name)
	}), nil
}

// Load starts loading a dataset for its scope tier selection. Signals:
// dataset, stamp.
func (h *Handler) Load(ctx context.Context, input *ActionInput) (*huma.StreamResponse, error) {
	s, signals, err := h.action(input, "dataset")
	if err != nil {
		return nil, err
	}
	name := signals.String("dataset")
	return h.Stream(func(sse humastar.SSE) {
		if err := s.LoadDataset(name, signals.String("stamp")); err != nil {
			sse.Error(err.Error())
			return
		}
		h.pushDataset(sse, s, name)
	}), nil
}

// PendingFile records the file picked for import before it is uploaded.
// Signals: dataset, file.
func (h *Handler) PendingFile(ctx context.Context, input *ActionInput) (*huma.StreamResponse, error) {
	s, signals, err := h.action(input, "dataset")
	if err != nil {
		return nil, err
	}
	name := signals.String("dataset")
	m, err := s.Dataset(name)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	return h.Stream(func(sse humastar.SSE) {
		m.SetPendingFile(signals.String("file"))
		h.pushDataset(sse, s, name)
	}), nil
}

// Plot shows the rows of a dataset as map points. Signals: dataset.
func (h *Handler) Plot(ctx context.Context, input *ActionInput) (*huma.StreamResponse, error) {
	s, signals, err := h.action(input, "dataset")
	if err != nil {
		return nil, err
	}
	return h.Stream(func(sse humastar.SSE) {
		res, err := s.PlotDataset(signals.String("dataset"))
		if err != nil {
			sse.Error(err.Error())
			return
		}
		msg := fmt.Sprintf("%d points plotted", res.Plotted)
		if res.Skipped > 0 {
			msg += fmt.Sprintf(", %d without coordinates", res.Skipped)
		}
		sse.Success(msg)
		h.pushMap(sse, s)
	}), nil
}

// Opacity changes a layer's opacity. Signals: layer, opacity.
func (h *Handler) Opacity(ctx context.Context, input *ActionInput) (*huma.StreamResponse, error) {
	s, signals, err := h.action(input, "layer", "opacity")
	if err != nil {
		return nil, err
	}
	opacity, err := signals.FloatE("opacity")
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	return h.Stream(func(sse humastar.SSE) {
		if err := s.Maps().SetOpacity(signals.String("layer"), opacity); err != nil {
			sse.Error(err.Error())
			return
		}
		h.pushMap(sse, s)
	}), nil
}

// Visibility toggles a layer. Signals: layer.
func (h *Handler) Visibility(ctx context.Context, input *ActionInput) (*huma.StreamResponse, error) {
	s, signals, err := h.action(input, "layer")
	if err != nil {
		return nil, err
	}
	return h.Stream(func(sse humastar.SSE) {
		if _, err := s.Maps().ToggleVisibility(signals.String("layer")); err != nil {
			sse.Error(err.Error())
			return
		}
		h.pushMap(sse, s)
	}), nil
}

// action resolves the session of an action and parses its signals.
func (h *Handler) action(input *ActionInput, required ...string) (*session.Session, humastar.Signals, error) {
	s, err := h.session(input.Session)
	if err != nil {
		return nil, nil, err
	}
	signals, err := input.MustParse()
	if err != nil {
		return nil, nil, err
	}
	if err := signals.Require(required...); err != nil {
		return nil, nil, err
	}
	return s, signals, nil
}
