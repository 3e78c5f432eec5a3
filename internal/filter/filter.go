// Package filter derives per-layer attribute filters from a selection
// snapshot. Derive is pure: the same snapshot always yields the same filters.
package filter

import (
	"slices"

	"github.com/iitbhu2k25/dss-muskan-sub006/internal/selection"
)

// LayerFilter constrains a layer to features whose Field is in Values.
// An empty Field means the layer is shown unfiltered.
type LayerFilter struct {
	Field  string   `json:"field,omitempty" doc:"Attribute constrained by the filter; empty shows all features"`
	Values []string `json:"values,omitempty" doc:"Allowed attribute values"`
}

// All returns the show-all filter.
func All() LayerFilter { return LayerFilter{} }

// IsAll reports whether f shows every feature.
func (f LayerFilter) IsAll() bool { return f.Field == "" }

// Equal reports whether two filters select the same features.
func (f LayerFilter) Equal(o LayerFilter) bool {
	if f.Field != o.Field {
		return false
	}
	if f.IsAll() {
		return true
	}
	return slices.Equal(f.Values, o.Values)
}

// TierLayer binds a hierarchy tier to the map layer that displays it.
type TierLayer struct {
	Tier    string
	Layer   string
	IDField string
	// Keys maps an ancestor tier name to the attribute of this layer holding
	// that ancestor's id.
	Keys map[string]string
}

// Derive computes the filter of every layer bound to a tier of snap:
//
//  1. a tier with a selection is filtered by its own ids;
//  2. otherwise the nearest selected ancestor with a key on this layer
//     narrows it;
//  3. a tier directly above a selected tier with no such ancestor is narrowed
//     to the parents of the selected options, when that tier's options were
//     scoped by this one;
//  4. everything else is shown unfiltered.
//
// Layers whose tier is not part of snap are omitted.
func Derive(layers []TierLayer, snap selection.Snapshot) map[string]LayerFilter {
	out := make(map[string]LayerFilter, len(layers))
	for _, l := range layers {
		i := snap.Index(l.Tier)
		if i < 0 {
			continue
		}
		out[l.Layer] = derive(l, i, snap)
	}
	return out
}

func derive(l TierLayer, i int, snap selection.Snapshot) LayerFilter {
	if sel := snap.Tiers[i].Selected; len(sel) > 0 {
		return LayerFilter{Field: l.IDField, Values: sorted(sel)}
	}

	for a := i - 1; a >= 0; a-- {
		sel := snap.Tiers[a].Selected
		if len(sel) == 0 {
			continue
		}
		if field, ok := l.Keys[snap.Tiers[a].Name]; ok && field != "" {
			return LayerFilter{Field: field, Values: sorted(sel)}
		}
	}

	if i+1 < len(snap.Tiers) && snap.Tiers[i+1].ScopeTier == i {
		if ids := parentsOf(snap.Tiers[i+1]); len(ids) > 0 {
			return LayerFilter{Field: l.IDField, Values: ids}
		}
	}
	return All()
}

// parentsOf returns the sorted parent ids of a tier's selected options, or
// nil when any selected option lacks one.
func parentsOf(t selection.TierState) []string {
	if len(t.Selected) == 0 {
		return nil
	}
	var ids []string
	for _, id := range t.Selected {
		opt, ok := t.OptionByID(id)
		if !ok || opt.ParentID == "" {
			return nil
		}
		ids = append(ids, opt.ParentID)
	}
	return sorted(ids)
}

func sorted(ids []string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
