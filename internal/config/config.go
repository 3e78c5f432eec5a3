// Package config holds the domain configuration of the DSS service: the
// external services it talks to, the selection hierarchies, and the editable
// datasets. It is loaded from YAML and falls back to built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of the YAML configuration file.
type Config struct {
	Backend     BackendConfig     `yaml:"backend"`
	MapService  MapServiceConfig  `yaml:"map_service"`
	Hierarchies []HierarchyConfig `yaml:"hierarchies"`
	Datasets    []DatasetConfig   `yaml:"datasets"`
	BaseLayers  []BaseLayerConfig `yaml:"base_layers,omitempty"`
	Sessions    SessionConfig     `yaml:"sessions"`
}

// BackendConfig points at the backend REST API.
type BackendConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// MapServiceConfig points at the map/feature query service (WFS/WMS).
type MapServiceConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Workspace string        `yaml:"workspace"`
	Timeout   time.Duration `yaml:"timeout"`
}

// HierarchyConfig describes one cascading selection hierarchy.
type HierarchyConfig struct {
	Name string `yaml:"name"`
	// ConfirmTier must hold a selection before the hierarchy can be locked.
	// Defaults to the deepest tier.
	ConfirmTier string       `yaml:"confirm_tier,omitempty"`
	Tiers       []TierConfig `yaml:"tiers"`
}

// TierConfig is one level of a hierarchy and the map layer that shows it.
type TierConfig struct {
	Name     string `yaml:"name"`
	Multi    bool   `yaml:"multi,omitempty"`
	Optional bool   `yaml:"optional,omitempty"`

	Layer   string `yaml:"layer"`
	IDField string `yaml:"id_field"`
	// Keys maps an ancestor tier name to the attribute on this tier's layer
	// that carries the ancestor's id.
	Keys    map[string]string `yaml:"keys,omitempty"`
	Style   string            `yaml:"style,omitempty"`
	Opacity float64           `yaml:"opacity,omitempty"`
	ZIndex  int               `yaml:"z_index,omitempty"`

	Source OptionSource `yaml:"source"`
}

// OptionSource describes how a tier's options are fetched from the backend.
type OptionSource struct {
	Endpoint    string `yaml:"endpoint"`
	ParentParam string `yaml:"parent_param,omitempty"`
	IDKey       string `yaml:"id_key"`
	NameKey     string `yaml:"name_key"`
	ParentKey   string `yaml:"parent_key,omitempty"`
}

// DatasetConfig describes a tabular editable dataset.
type DatasetConfig struct {
	Name      string   `yaml:"name"`
	Hierarchy string   `yaml:"hierarchy"`
	ScopeTier string   `yaml:"scope_tier"`
	Columns   []string `yaml:"columns"`
	// StampColumn receives the scope stamp (e.g. the year) on every row.
	StampColumn string `yaml:"stamp_column,omitempty"`
	LatColumn   string `yaml:"lat_column,omitempty"`
	LonColumn   string `yaml:"lon_column,omitempty"`

	FetchEndpoint    string `yaml:"fetch_endpoint"`
	ValidateEndpoint string `yaml:"validate_endpoint,omitempty"`
	SaveEndpoint     string `yaml:"save_endpoint,omitempty"`
}

// BaseLayerConfig is an always-on reference layer that is not tied to a
// hierarchy tier.
type BaseLayerConfig struct {
	Name    string  `yaml:"name"`
	Layer   string  `yaml:"layer"`
	Style   string  `yaml:"style,omitempty"`
	Opacity float64 `yaml:"opacity,omitempty"`
	ZIndex  int     `yaml:"z_index,omitempty"`
}

// SessionConfig bounds the session registry.
type SessionConfig struct {
	MaxSessions        int           `yaml:"max_sessions"`
	ValidationErrorTTL time.Duration `yaml:"validation_error_ttl"`
}

// Load reads a YAML file and layers it over the defaults. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Hierarchy returns the named hierarchy.
func (c Config) Hierarchy(name string) (HierarchyConfig, bool) {
	for _, h := range c.Hierarchies {
		if h.Name == name {
			return h, true
		}
	}
	return HierarchyConfig{}, false
}

// TierIndex returns the index of the named tier, or -1.
func (h HierarchyConfig) TierIndex(name string) int {
	for i, t := range h.Tiers {
		if t.Name == name {
			return i
		}
	}
	return -1
}

// ConfirmIndex returns the index of the confirm tier.
func (h HierarchyConfig) ConfirmIndex() int {
	if h.ConfirmTier == "" {
		return len(h.Tiers) - 1
	}
	return h.TierIndex(h.ConfirmTier)
}

func (c *Config) applyDefaults() {
	if c.Backend.Timeout <= 0 {
		c.Backend.Timeout = 30 * time.Second
	}
	if c.MapService.Timeout <= 0 {
		c.MapService.Timeout = 30 * time.Second
	}
	if c.Sessions.MaxSessions <= 0 {
		c.Sessions.MaxSessions = 256
	}
	if c.Sessions.ValidationErrorTTL <= 0 {
		c.Sessions.ValidationErrorTTL = 5 * time.Second
	}
	for i := range c.Hierarchies {
		for j := range c.Hierarchies[i].Tiers {
			if c.Hierarchies[i].Tiers[j].Opacity == 0 {
				c.Hierarchies[i].Tiers[j].Opacity = 1
			}
		}
	}
}

// Validate checks cross references between hierarchies, tiers and datasets.
func (c Config) Validate() error {
	var errs []error

	hierarchies := map[string]bool{}
	layers := map[string]bool{}
	for _, h := range c.Hierarchies {
		if h.Name == "" {
			errs = append(errs, errors.New("hierarchy with empty name"))
			continue
		}
		if hierarchies[h.Name] {
			errs = append(errs, fmt.Errorf("duplicate hierarchy %q", h.Name))
		}
		hierarchies[h.Name] = true

		if len(h.Tiers) == 0 {
			errs = append(errs, fmt.Errorf("hierarchy %q has no tiers", h.Name))
			continue
		}
		if h.ConfirmIndex() < 0 {
			errs = append(errs, fmt.Errorf("hierarchy %q: unknown confirm tier %q", h.Name, h.ConfirmTier))
		}
		if h.Tiers[0].Optional {
			errs = append(errs, fmt.Errorf("hierarchy %q: root tier cannot be optional", h.Name))
		}

		seen := map[string]int{}
		for i, t := range h.Tiers {
			if t.Name == "" {
				errs = append(errs, fmt.Errorf("hierarchy %q: tier %d has no name", h.Name, i))
				continue
			}
			if _, dup := seen[t.Name]; dup {
				errs = append(errs, fmt.Errorf("hierarchy %q: duplicate tier %q", h.Name, t.Name))
			}
			seen[t.Name] = i
			if t.Layer == "" || t.IDField == "" {
				errs = append(errs, fmt.Errorf("hierarchy %q tier %q: layer and id_field are required", h.Name, t.Name))
			}
			if layers[t.Layer] {
				errs = append(errs, fmt.Errorf("layer %q is bound to more than one tier", t.Layer))
			}
			layers[t.Layer] = true
			if t.Source.Endpoint == "" || t.Source.IDKey == "" {
				errs = append(errs, fmt.Errorf("hierarchy %q tier %q: source endpoint and id_key are required", h.Name, t.Name))
			}
			if i > 0 && t.Source.ParentParam == "" {
				errs = append(errs, fmt.Errorf("hierarchy %q tier %q: parent_param is required below the root", h.Name, t.Name))
			}
			for ancestor := range t.Keys {
				idx, ok := seen[ancestor]
				if !ok || idx >= i {
					errs = append(errs, fmt.Errorf("hierarchy %q tier %q: key %q is not an ancestor tier", h.Name, t.Name, ancestor))
				}
			}
		}
	}

	for _, b := range c.BaseLayers {
		if b.Name == "" || b.Layer == "" {
			errs = append(errs, errors.New("base layer needs name and layer"))
		}
	}

	datasets := map[string]bool{}
	for _, d := range c.Datasets {
		if datasets[d.Name] {
			errs = append(errs, fmt.Errorf("duplicate dataset %q", d.Name))
		}
		datasets[d.Name] = true
		h, ok := c.Hierarchy(d.Hierarchy)
		if !ok {
			errs = append(errs, fmt.Errorf("dataset %q: unknown hierarchy %q", d.Name, d.Hierarchy))
			continue
		}
		if h.TierIndex(d.ScopeTier) < 0 {
			errs = append(errs, fmt.Errorf("dataset %q: unknown scope tier %q", d.Name, d.ScopeTier))
		}
		if d.FetchEndpoint == "" {
			errs = append(errs, fmt.Errorf("dataset %q: fetch_endpoint is required", d.Name))
		}
	}

	return errors.Join(errs...)
}
