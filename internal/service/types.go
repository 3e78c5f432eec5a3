// Package service contains the shared services of the DSS: the layer catalog
// and the change-event bus the dashboard streams from.
package service

// LayerConfig is a reference layer in the catalog. Published layers are
// added to the map of every session opened afterwards.
//
// Huma reads the tags for OpenAPI and validation.
type LayerConfig struct {
	ID             string       `json:"id,omitempty" doc:"Unique layer identifier" example:"groundwater_zones"`
	Name           string       `json:"name" required:"true" minLength:"1" maxLength:"100" doc:"Display name" example:"Groundwater zones"`
	Workspace      string       `json:"workspace,omitempty" doc:"Map service workspace; empty uses the configured one" example:"myworkspace"`
	Layer          string       `json:"layer" required:"true" minLength:"1" doc:"Layer name on the map service" example:"GW_Zones"`
	Style          string       `json:"style,omitempty" doc:"Named style on the map service" example:"gw_zone_style"`
	DefaultVisible bool         `json:"defaultVisible" default:"true" doc:"Whether the layer is visible when a session opens"`
	Opacity        float64      `json:"opacity,omitempty" minimum:"0" maximum:"1" default:"0.7" doc:"Layer opacity (0-1)" example:"0.7"`
	ZIndex         int          `json:"zIndex,omitempty" doc:"Stacking order; higher draws on top" example:"10"`
	Published      bool         `json:"published" default:"false" doc:"Whether new sessions show the layer"`
	Legend         []LegendItem `json:"legend,omitempty" doc:"Static legend entries for this layer"`
}

// LegendItem defines a legend entry.
type LegendItem struct {
	Label string `json:"label" doc:"Legend label"`
	Color string `json:"color" doc:"Legend color (CSS)"`
}
