package selection

import "github.com/iitbhu2k25/dss-muskan-sub006/internal/gateway"

// Option is one selectable entry of a tier.
type Option = gateway.Option

// TierState is the read-only view of one tier.
type TierState struct {
	Name     string   `json:"name"`
	Multi    bool     `json:"multi"`
	Optional bool     `json:"optional,omitempty"`
	Selected []string `json:"selected"`
	Options  []Option `json:"options"`
	// ScopeTier is the index of the tier whose selection scoped Options, or -1
	// for the root tier and for tiers without options.
	ScopeTier int    `json:"scopeTier"`
	Loading   bool   `json:"loading"`
	Error     string `json:"error,omitempty"`
}

// Snapshot is an immutable copy of a store's state.
type Snapshot struct {
	Name        string      `json:"name"`
	Tiers       []TierState `json:"tiers"`
	ConfirmTier int         `json:"confirmTier"`
	Locked      bool        `json:"locked"`
	Version     uint64      `json:"version"`
}

// Deepest returns the index of the deepest tier with a selection, or -1.
func (s Snapshot) Deepest() int {
	for i := len(s.Tiers) - 1; i >= 0; i-- {
		if len(s.Tiers[i].Selected) > 0 {
			return i
		}
	}
	return -1
}

// Index returns the index of the named tier, or -1.
func (s Snapshot) Index(name string) int {
	for i, t := range s.Tiers {
		if t.Name == name {
			return i
		}
	}
	return -1
}

// CanConfirm reports whether Confirm would lock the store.
func (s Snapshot) CanConfirm() bool {
	if s.Locked || s.ConfirmTier < 0 || s.ConfirmTier >= len(s.Tiers) {
		return false
	}
	return len(s.Tiers[s.ConfirmTier].Selected) > 0
}

// OptionByID looks up an option of a tier.
func (t TierState) OptionByID(id string) (Option, bool) {
	for _, o := range t.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}
