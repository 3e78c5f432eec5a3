package humastar

import (
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
)

// Entry is the API entry point every collection links up to.
const Entry = "/health"

// searchPath is the read-only archive query endpoint, advertised as rel="search".
const searchPath = "/api/v1/archive/query"

// LinkSet holds RFC 8288 Link header values keyed by operation path.
type LinkSet struct {
	mu    sync.RWMutex
	links map[string][]string
}

// AutoLinks walks the OpenAPI document and derives hypermedia links between
// its paths. Call it after every route is registered.
//
// A path whose last segment is a {param} is an item; anything else is a
// collection. Items link to their collection, collections to their items
// and to the entry point, and collections sharing a tag link to each other.
// Dashboard (Datastar SSE) operations are left out.
func AutoLinks(api huma.API) *LinkSet {
	ls := &LinkSet{links: map[string][]string{}}
	oapi := api.OpenAPI()

	type node struct {
		path string
		tags []string
	}
	var collections, items []node
	for p, pi := range oapi.Paths {
		tags := primaryTags(pi)
		if slices.Contains(tags, "dashboard") {
			continue
		}
		if isItem(p) {
			items = append(items, node{p, tags})
		} else {
			collections = append(collections, node{p, tags})
		}
	}
	slices.SortFunc(collections, func(a, b node) int { return strings.Compare(a.path, b.path) })
	slices.SortFunc(items, func(a, b node) int { return strings.Compare(a.path, b.path) })

	for _, item := range items {
		parent := path.Dir(item.path)
		if _, ok := oapi.Paths[parent]; ok {
			ls.add(item.path, parent, "collection")
			ls.add(parent, item.path, "item")
		}
		if pi := oapi.Paths[item.path]; pi.Put != nil || pi.Patch != nil {
			ls.add(item.path, item.path, "edit")
		}
	}

	_, hasSearch := oapi.Paths[searchPath]
	for _, c := range collections {
		if c.path == Entry {
			continue
		}
		ls.add(c.path, Entry, "up")
		ls.add(Entry, c.path, lastSegment(c.path))
		if oapi.Paths[c.path].Post != nil {
			ls.add(c.path, c.path, "create-form")
		}
		for _, o := range collections {
			if o.path != c.path && o.path != Entry && shareTag(c.tags, o.tags) {
				ls.add(c.path, o.path, lastSegment(o.path))
			}
		}
	}

	ls.add(Entry, "/openapi.json", "describedby")
	ls.add(Entry, "/openapi.json", "service-desc")
	ls.add(Entry, "/docs", "service-doc")
	if hasSearch {
		ls.add(Entry, searchPath, "search")
	}
	return ls
}

// For returns the links of an operation path.
func (ls *LinkSet) For(p string) []string {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return slices.Clone(ls.links[p])
}

// Transformer returns a Huma Transformer that writes the Link headers of the
// operation, a self link for parameterized paths, pagination links of
// [Pager] bodies and action links of [Actor] bodies.
func (ls *LinkSet) Transformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}

		for _, link := range ls.For(op.Path) {
			ctx.AppendHeader("Link", link)
		}
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}
		if p, ok := v.(Pager); ok {
			for _, link := range p.PaginationLinks(ctx.URL().Path) {
				ctx.AppendHeader("Link", link)
			}
		}
		if a, ok := v.(Actor); ok {
			for _, action := range a.Actions() {
				ctx.AppendHeader("Link", action.LinkHeader())
			}
		}
		return v, nil
	}
}

func (ls *LinkSet) add(from, to, rel string) {
	val := fmt.Sprintf(`<%s>; rel="%s"`, to, rel)
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if !slices.Contains(ls.links[from], val) {
		ls.links[from] = append(ls.links[from], val)
	}
}

func isItem(p string) bool {
	last := lastSegment(p)
	return strings.HasPrefix(last, "{") && strings.HasSuffix(last, "}")
}

func primaryTags(pi *huma.PathItem) []string {
	for _, op := range []*huma.Operation{pi.Get, pi.Post, pi.Put, pi.Patch, pi.Delete} {
		if op != nil && len(op.Tags) > 0 {
			return op.Tags
		}
	}
	return nil
}

func shareTag(a, b []string) bool {
	for _, t := range a {
		if slices.Contains(b, t) {
			return true
		}
	}
	return false
}

func lastSegment(p string) string {
	parts := strings.Split(strings.TrimRight(p, "/"), "/")
	return parts[len(parts)-1]
}
