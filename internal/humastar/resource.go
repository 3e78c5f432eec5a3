package humastar

import "fmt"

// ActionDef is a reusable action template. Pattern takes the resource path
// segments in order, e.g. "/api/v1/sessions/%s/datasets/%s/save".
type ActionDef struct {
	Rel     string
	Pattern string
	Method  string
	Title   string
}

// Href fills the pattern with args.
func (d ActionDef) Href(args ...any) string {
	return fmt.Sprintf(d.Pattern, args...)
}

// ActionsFor generates the actions of defs whose rel is enabled.
func ActionsFor(defs []ActionDef, enabled func(rel string) bool, args ...any) []Action {
	actions := make([]Action, 0, len(defs))
	for _, d := range defs {
		if enabled != nil && !enabled(d.Rel) {
			continue
		}
		actions = append(actions, Action{
			Rel:    d.Rel,
			Href:   d.Href(args...),
			Method: d.Method,
			Title:  d.Title,
		})
	}
	return actions
}
