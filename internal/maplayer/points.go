package maplayer

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// PlotResult reports how many records made it into the point overlay.
type PlotResult struct {
	Plotted int `json:"plotted"`
	Skipped int `json:"skipped"`
}

// PlotPoints replaces the point overlay with one feature per record that
// has a valid latitude and longitude. Records are not modified; the ones
// with missing or out-of-range coordinates are only counted.
func (a *Adapter) PlotPoints(records []map[string]any, latKey, lonKey string) PlotResult {
	fc := geojson.NewFeatureCollection()
	var res PlotResult
	var bound orb.Bound
	for _, rec := range records {
		lat, okLat := coordinate(rec[latKey])
		lon, okLon := coordinate(rec[lonKey])
		if !okLat || !okLon || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			res.Skipped++
			continue
		}
		pt := orb.Point{lon, lat}
		f := geojson.NewFeature(pt)
		for k, v := range rec {
			f.Properties[k] = v
		}
		fc.Append(f)
		if res.Plotted == 0 {
			bound = pt.Bound()
		} else {
			bound = bound.Extend(pt)
		}
		res.Plotted++
	}

	a.mu.Lock()
	a.overlay = fc
	a.plot = res
	if res.Plotted > 0 {
		a.fit = bound
		a.fitSet = true
	}
	a.version++
	a.mu.Unlock()

	a.logger.Debug("points plotted", "plotted", res.Plotted, "skipped", res.Skipped)
	a.notify()
	return res
}

// Overlay returns the current point overlay.
func (a *Adapter) Overlay() *geojson.FeatureCollection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.overlay
}

// ClearOverlay removes every plotted point.
func (a *Adapter) ClearOverlay() {
	a.mu.Lock()
	a.overlay = geojson.NewFeatureCollection()
	a.plot = PlotResult{}
	a.version++
	a.mu.Unlock()
	a.notify()
}

func coordinate(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
