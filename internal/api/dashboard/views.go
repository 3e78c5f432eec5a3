package dashboard

import (
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/dataset"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/humastar"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/maplayer"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/selection"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/session"
)

// HierarchyView is the data of the hierarchy-panel fragment.
type HierarchyView struct {
	Name       string
	Base       string
	Tiers      []selection.TierState
	Locked     bool
	CanConfirm bool
}

// DatasetView is the data of the dataset-table fragment.
type DatasetView struct {
	Name     string
	Base     string
	Mode     dataset.Mode
	Columns  []string
	Rows     []dataset.Record
	Locked   bool
	Modified bool
	Loading  bool
	Error    string
	// PendingFile is the file picked for import, not yet uploaded.
	PendingFile string
}

// LayerView is the data of the layer-row fragment.
type LayerView struct {
	maplayer.LayerStatus
	Base string
}

func base(s *session.Session) string {
	return "/api/v1/dashboard/" + s.ID()
}

func (h *Handler) pushHierarchy(sse humastar.SSE, s *session.Session, name string) {
	store, err := s.Hierarchy(name)
	if err != nil {
		return
	}
	snap := store.Snapshot()
	view := HierarchyView{
		Name:       snap.Name,
		Base:       base(s),
		Tiers:      snap.Tiers,
		Locked:     snap.Locked,
		CanConfirm: snap.CanConfirm(),
	}
	sse.Replace(h.Render("hierarchy-panel", view), "#hierarchy-"+name)

	if filters, err := s.Filters(name); err == nil {
		sse.Signals(map[string]any{"filters": map[string]any{name: filters}})
	}
}

func (h *Handler) pushDataset(sse humastar.SSE, s *session.Session, name string) {
	m, err := s.Dataset(name)
	if err != nil {
		return
	}
	snap := m.Snapshot()
	view := DatasetView{
		Name:     snap.Name,
		Base:     base(s),
		Mode:     snap.Mode,
		Columns:  snap.Columns,
		Rows:     snap.Rows,
		Locked:   snap.Locked,
		Modified: snap.Modified,
		Loading:  snap.Loading,
		Error:    snap.Error,

		PendingFile: snap.PendingFile,
	}
	sse.Replace(h.Render("dataset-table", view), "#dataset-"+name)
}

// pushMap renders the layer list and hands the map snapshot to the page,
// which reloads every layer whose display revision changed.
func (h *Handler) pushMap(sse humastar.SSE, s *session.Session) {
	snap := s.Maps().Snapshot()
	items := make([]any, len(snap.Layers))
	for i, l := range snap.Layers {
		items[i] = LayerView{LayerStatus: l, Base: base(s)}
	}
	sse.Patch(h.RenderList("layer-row", items, "No layers", "No map layers are registered."), "#layer-list")
	sse.Signals(map[string]any{"map": mapSignals(snap)})
	sse.DispatchCustomEvent("map-changed", snap)
}

func mapSignals(snap maplayer.Snapshot) map[string]any {
	out := map[string]any{
		"version": snap.Version,
		"plotted": snap.Overlay.Plotted,
		"skipped": snap.Overlay.Skipped,
	}
	if snap.Fit != nil {
		out["fit"] = snap.Fit[:]
	}
	return out
}
