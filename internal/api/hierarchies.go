package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/iitbhu2k25/dss-muskan-sub006/internal/filter"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/humastar"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/selection"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/session"
)

const hierarchyPath = "/api/v1/sessions/{session}/hierarchies/{hierarchy}"

var hierarchyActions = []humastar.ActionDef{
	{Rel: "confirm", Pattern: "/api/v1/sessions/%s/hierarchies/%s/confirm", Method: http.MethodPost, Title: "Confirm selection"},
	{Rel: "reset", Pattern: "/api/v1/sessions/%s/hierarchies/%s/reset", Method: http.MethodPost, Title: "Reset selection"},
	{Rel: "filters", Pattern: "/api/v1/sessions/%s/hierarchies/%s/filters", Method: http.MethodGet},
}

// RegisterHierarchies registers the selection hierarchy routes.
func (h *APIHandler) RegisterHierarchies(api huma.API) {
	tags := huma.OperationTags("hierarchies")
	huma.Get(api, "/api/v1/sessions/{session}/hierarchies", h.ListHierarchies, tags)
	huma.Get(api, hierarchyPath, h.GetHierarchy, tags)
	huma.Put(api, hierarchyPath+"/tiers/{tier}", h.PutTierSelection, tags)
	huma.Delete(api, hierarchyPath+"/tiers/{tier}/error", h.ClearTierError, tags)
	huma.Post(api, hierarchyPath+"/confirm", h.ConfirmHierarchy, tags)
	huma.Post(api, hierarchyPath+"/reset", h.ResetHierarchy, tags)
	huma.Get(api, hierarchyPath+"/filters", h.GetFilters, tags)
}

type HierarchyInput struct {
	SessionInput
	Hierarchy string `path:"hierarchy" doc:"Hierarchy name" example:"admin"`
}

type TierInput struct {
	HierarchyInput
	Tier string `path:"tier" doc:"Tier name" example:"district"`
}

// HierarchyBody is a selection snapshot with the actions its state allows.
type HierarchyBody struct {
	selection.Snapshot
	Confirmable bool `json:"canConfirm" doc:"Whether the confirm tier holds a selection"`

	actions []humastar.Action
}

func (b HierarchyBody) Actions() []humastar.Action { return b.actions }

type HierarchyOutput struct {
	Body HierarchyBody
}

type FiltersOutput struct {
	Body map[string]filter.LayerFilter
}

type TierSelectionBody struct {
	Values []string `json:"values" doc:"Selected option IDs; empty clears the tier"`
}

func hierarchyBody(sessionID string, snap selection.Snapshot) HierarchyBody {
	can := snap.CanConfirm()
	return HierarchyBody{
		Snapshot:    snap,
		Confirmable: can,
		actions: humastar.ActionsFor(hierarchyActions, func(rel string) bool {
			return rel != "confirm" || can
		}, sessionID, snap.Name),
	}
}

func (h *APIHandler) hierarchy(input *HierarchyInput) (*session.Session, *selection.Store, error) {
	s, err := h.session(input.Session)
	if err != nil {
		return nil, nil, err
	}
	store, err := s.Hierarchy(input.Hierarchy)
	if err != nil {
		return nil, nil, problem(err)
	}
	return s, store, nil
}

func (h *APIHandler) tier(input *TierInput) (*session.Session, *selection.Store, int, error) {
	s, store, err := h.hierarchy(&input.HierarchyInput)
	if err != nil {
		return nil, nil, 0, err
	}
	i := store.Snapshot().Index(input.Tier)
	if i < 0 {
		return nil, nil, 0, huma.Error404NotFound(fmt.Sprintf("tier %q not found", input.Tier))
	}
	return s, store, i, nil
}

func (h *APIHandler) ListHierarchies(ctx context.Context, input *SessionInput) (*struct {
	Body []HierarchyBody
}, error) {
	s, err := h.session(input.Session)
	if err != nil {
		return nil, err
	}
	out := make([]HierarchyBody, 0, len(s.Hierarchies()))
	for _, name := range s.Hierarchies() {
		store, _ := s.Hierarchy(name)
		out = append(out, hierarchyBody(s.ID(), store.Snapshot()))
	}
	return &struct{ Body []HierarchyBody }{Body: out}, nil
}

func (h *APIHandler) GetHierarchy(ctx context.Context, input *HierarchyInput) (*HierarchyOutput, error) {
	s, store, err := h.hierarchy(input)
	if err != nil {
		return nil, err
	}
	return &HierarchyOutput{Body: hierarchyBody(s.ID(), store.Snapshot())}, nil
}

// PutTierSelection replaces the selection of one tier. Deeper tiers are
// cleared and the next tier's options load in the background.
func (h *APIHandler) PutTierSelection(ctx context.Context, input *struct {
	TierInput
	Body TierSelectionBody
}) (*HierarchyOutput, error) {
	s, store, i, err := h.tier(&input.TierInput)
	if err != nil {
		return nil, err
	}
	if err := store.SetTierSelection(i, input.Body.Values); err != nil {
		return nil, problem(err)
	}
	return &HierarchyOutput{Body: hierarchyBody(s.ID(), store.Snapshot())}, nil
}

func (h *APIHandler) ClearTierError(ctx context.Context, input *TierInput) (*HierarchyOutput, error) {
	s, store, i, err := h.tier(input)
	if err != nil {
		return nil, err
	}
	if err := store.ClearError(i); err != nil {
		return nil, problem(err)
	}
	return &HierarchyOutput{Body: hierarchyBody(s.ID(), store.Snapshot())}, nil
}

func (h *APIHandler) ConfirmHierarchy(ctx context.Context, input *HierarchyInput) (*HierarchyOutput, error) {
	s, store, err := h.hierarchy(input)
	if err != nil {
		return nil, err
	}
	if err := store.Confirm(); err != nil {
		return nil, problem(err)
	}
	return &HierarchyOutput{Body: hierarchyBody(s.ID(), store.Snapshot())}, nil
}

func (h *APIHandler) ResetHierarchy(ctx context.Context, input *HierarchyInput) (*HierarchyOutput, error) {
	s, store, err := h.hierarchy(input)
	if err != nil {
		return nil, err
	}
	store.Reset()
	return &HierarchyOutput{Body: hierarchyBody(s.ID(), store.Snapshot())}, nil
}

func (h *APIHandler) GetFilters(ctx context.Context, input *HierarchyInput) (*FiltersOutput, error) {
	s, err := h.session(input.Session)
	if err != nil {
		return nil, err
	}
	filters, err := s.Filters(input.Hierarchy)
	if err != nil {
		return nil, problem(err)
	}
	if filters == nil {
		filters = map[string]filter.LayerFilter{}
	}
	return &FiltersOutput{Body: filters}, nil
}
