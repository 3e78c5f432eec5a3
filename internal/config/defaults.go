package config

import "time"

// Default returns the built-in configuration: the administrative hierarchy
// (state, district, block, village), the drainage hierarchy (river, stretch,
// drain, catchment) and the groundwater monitoring wells dataset.
func Default() Config {
	cfg := Config{
		Backend: BackendConfig{
			BaseURL: "http://localhost:9000",
			Timeout: 30 * time.Second,
		},
		MapService: MapServiceConfig{
			BaseURL:   "http://localhost:8080/geoserver",
			Workspace: "myworkspace",
			Timeout:   30 * time.Second,
		},
		Hierarchies: []HierarchyConfig{
			{
				Name:        "admin",
				ConfirmTier: "village",
				Tiers: []TierConfig{
					{
						Name: "state", Layer: "B_State", IDField: "State_Code", ZIndex: 1,
						Source: OptionSource{Endpoint: "/api/basic/", IDKey: "state_code", NameKey: "state_name"},
					},
					{
						Name: "district", Multi: true, Layer: "B_district", IDField: "DISTRICT_C", ZIndex: 2,
						Keys: map[string]string{"state": "STATE_CODE"},
						Source: OptionSource{
							Endpoint: "/api/basic/district/", ParentParam: "state_code",
							IDKey: "district_code", NameKey: "district_name", ParentKey: "state_code",
						},
					},
					{
						Name: "block", Multi: true, Layer: "B_subdistrict", IDField: "SUBDIS_COD", ZIndex: 3,
						Keys: map[string]string{"state": "STATE_CODE", "district": "DISTRICT_C"},
						Source: OptionSource{
							Endpoint: "/api/basic/subdistrict/", ParentParam: "district_code",
							IDKey: "subdistrict_code", NameKey: "subdistrict_name", ParentKey: "district_code",
						},
					},
					{
						Name: "village", Multi: true, Layer: "Village", IDField: "village_co", ZIndex: 4,
						Keys: map[string]string{"district": "DISTRICT_C", "block": "SUBDIS_COD"},
						Source: OptionSource{
							Endpoint: "/api/basic/village/", ParentParam: "subdistrict_code",
							IDKey: "village_code", NameKey: "village_name", ParentKey: "subdistrict_code",
						},
					},
				},
			},
			{
				Name:        "drainage",
				ConfirmTier: "drain",
				Tiers: []TierConfig{
					{
						Name: "river", Layer: "Rivers", IDField: "River_Code", ZIndex: 5, Style: "river_style",
						Source: OptionSource{Endpoint: "/api/drain/rivers/", IDKey: "River_Code", NameKey: "River_Name"},
					},
					{
						Name: "stretch", Multi: true, Optional: true, Layer: "Stretches", IDField: "Stretch_ID", ZIndex: 6,
						Keys: map[string]string{"river": "River_Code"},
						Source: OptionSource{
							Endpoint: "/api/drain/stretches/", ParentParam: "River_Code",
							IDKey: "Stretch_ID", NameKey: "Stretch_Name", ParentKey: "River_Code",
						},
					},
					{
						Name: "drain", Multi: true, Layer: "Drain", IDField: "Drain_No", ZIndex: 7,
						Keys: map[string]string{"river": "River_Code", "stretch": "Stretch_ID"},
						Source: OptionSource{
							Endpoint: "/api/drain/drains/", ParentParam: "parent_ids",
							IDKey: "Drain_No", NameKey: "Drain_Name", ParentKey: "parent_id",
						},
					},
					{
						Name: "catchment", Multi: true, Layer: "Catchment", IDField: "Catchment_ID", ZIndex: 8, Opacity: 0.6,
						Keys: map[string]string{"river": "River_Code", "drain": "Drain_No"},
						Source: OptionSource{
							Endpoint: "/api/drain/catchments/", ParentParam: "Drain_No",
							IDKey: "Catchment_ID", NameKey: "Catchment_Name", ParentKey: "Drain_No",
						},
					},
				},
			},
		},
		Datasets: []DatasetConfig{
			{
				Name:      "wells",
				Hierarchy: "admin",
				ScopeTier: "village",
				Columns: []string{
					"Well_ID", "Village_Code", "Latitude", "Longitude",
					"RL", "Pre_Monsoon", "Post_Monsoon",
				},
				StampColumn:      "YEAR",
				LatColumn:        "Latitude",
				LonColumn:        "Longitude",
				FetchEndpoint:    "/api/gwa/wells/",
				ValidateEndpoint: "/api/gwa/validate-csv/",
				SaveEndpoint:     "/api/gwa/wells/save/",
			},
		},
		BaseLayers: []BaseLayerConfig{
			{Name: "basin", Layer: "basin_boundary", Opacity: 0.4},
		},
		Sessions: SessionConfig{
			MaxSessions:        256,
			ValidationErrorTTL: 5 * time.Second,
		},
	}
	cfg.applyDefaults()
	return cfg
}
