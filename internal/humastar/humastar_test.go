package humastar

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/require"
)

func TestSignals(t *testing.T) {
	s, err := ParseSignals([]byte(`{"tier":2,"values":["152",179],"one":"09","empty":"","flag":true,"opacity":0.5}`))
	require.NoError(t, err)

	require.Equal(t, 2, s.Int("tier"))
	require.Equal(t, "2", s.String("tier"))
	require.Equal(t, []string{"152", "179"}, s.Strings("values"))
	require.Equal(t, []string{"09"}, s.Strings("one"))
	require.Equal(t, []string{}, s.Strings("empty"))
	require.Equal(t, []string{}, s.Strings("missing"))
	require.True(t, s.Bool("flag"))
	require.Equal(t, 0.5, s.Float("opacity"))
	require.True(t, s.Has("empty"))
	require.NoError(t, s.Require("tier", "values"))
	require.Error(t, s.Require("tier", "dataset"))

	in := &SignalsInput{RawBody: []byte("{")}
	_, err = in.MustParse()
	require.Error(t, err)
}

func TestNumericSignals(t *testing.T) {
	s := Signals{"row": "abc", "tier": "3", "half": 1.5, "opacity": "0.5", "bad": "x", "list": []any{1.0}}

	_, err := s.IntE("row")
	require.Error(t, err)
	_, err = s.IntE("half")
	require.Error(t, err)
	_, err = s.IntE("list")
	require.Error(t, err)
	_, err = s.IntE("missing")
	require.Error(t, err)
	i, err := s.IntE("tier")
	require.NoError(t, err)
	require.Equal(t, 3, i)

	f, err := s.FloatE("opacity")
	require.NoError(t, err)
	require.Equal(t, 0.5, f)
	_, err = s.FloatE("bad")
	require.Error(t, err)
	require.Equal(t, 0.5, s.Float("opacity"))
	require.Equal(t, 0, s.Int("row"))
}

func TestPaginate(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6}

	p := Paginate(items, 2, 3)
	require.Equal(t, []int{2, 3, 4}, p.Data)
	require.Equal(t, []string{
		`</rows?offset=0&limit=3>; rel="first"`,
		`</rows?offset=0&limit=3>; rel="prev"`,
		`</rows?offset=5&limit=3>; rel="next"`,
		`</rows?offset=6&limit=3>; rel="last"`,
	}, p.PaginationLinks("/rows"))

	require.Empty(t, Paginate(items, 50, 3).Data)
	require.Len(t, Paginate(items, 0, 0).Data, 7)
	require.Equal(t, []string{
		`</rows?offset=0&limit=1>; rel="first"`,
		`</rows?offset=0&limit=1>; rel="last"`,
	}, Paginate([]int{}, 0, 0).PaginationLinks("/rows"))
}

func TestActionsFor(t *testing.T) {
	defs := []ActionDef{
		{Rel: "confirm", Pattern: "/s/%s/h/%s/confirm", Method: http.MethodPost, Title: "Confirm selection"},
		{Rel: "reset", Pattern: "/s/%s/h/%s/reset", Method: http.MethodPost},
	}
	actions := ActionsFor(defs, func(rel string) bool { return rel == "reset" }, "s1", "admin")
	require.Equal(t, []Action{{Rel: "reset", Href: "/s/s1/h/admin/reset", Method: http.MethodPost}}, actions)
	require.Equal(t,
		`</s/s1/h/admin/confirm>; rel="confirm"; method="POST"; title="Confirm selection"`,
		ActionsFor(defs, nil, "s1", "admin")[0].LinkHeader())
}

type thingBody struct {
	Name string `json:"name"`
}

func (thingBody) Actions() []Action {
	return []Action{{Rel: "save", Href: "/things/1/save", Method: http.MethodPost}}
}

func TestAutoLinks(t *testing.T) {
	_, api := humatest.New(t)
	tags := huma.OperationTags("things")
	huma.Get(api, "/health", func(ctx context.Context, _ *struct{}) (*struct{}, error) { return nil, nil })
	huma.Get(api, "/api/v1/things", func(ctx context.Context, _ *struct{}) (*struct{}, error) { return nil, nil }, tags)
	huma.Post(api, "/api/v1/things", func(ctx context.Context, _ *struct{}) (*struct{}, error) { return nil, nil }, tags)
	huma.Get(api, "/api/v1/things/{id}", func(ctx context.Context, _ *struct {
		ID string `path:"id"`
	}) (*struct{ Body thingBody }, error) {
		return &struct{ Body thingBody }{Body: thingBody{Name: "one"}}, nil
	}, tags)
	huma.Get(api, "/api/v1/dashboard/{id}", func(ctx context.Context, _ *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		return nil, nil
	}, huma.OperationTags("dashboard"))

	ls := AutoLinks(api)
	require.Contains(t, ls.For("/api/v1/things/{id}"), `</api/v1/things>; rel="collection"`)
	require.Contains(t, ls.For("/api/v1/things"), `</api/v1/things/{id}>; rel="item"`)
	require.Contains(t, ls.For("/api/v1/things"), `</api/v1/things>; rel="create-form"`)
	require.Contains(t, ls.For("/api/v1/things"), `</health>; rel="up"`)
	require.Contains(t, ls.For("/health"), `</api/v1/things>; rel="things"`)
	require.Empty(t, ls.For("/api/v1/dashboard/{id}"))
}

func TestTransformerWritesLinks(t *testing.T) {
	var ls *LinkSet
	config := huma.DefaultConfig("test", "1.0.0")
	config.Transformers = append(config.Transformers, func(ctx huma.Context, status string, v any) (any, error) {
		return ls.Transformer()(ctx, status, v)
	})
	_, api := humatest.New(t, config)
	huma.Get(api, "/api/v1/things/{id}", func(ctx context.Context, _ *struct {
		ID string `path:"id"`
	}) (*struct{ Body thingBody }, error) {
		return &struct{ Body thingBody }{Body: thingBody{Name: "one"}}, nil
	})
	ls = AutoLinks(api)

	resp := api.Get("/api/v1/things/7")
	require.Equal(t, http.StatusOK, resp.Code)
	links := strings.Join(resp.Header().Values("Link"), ",")
	require.Contains(t, links, `</api/v1/things/7>; rel="self"`)
	require.Contains(t, links, `</things/1/save>; rel="save"; method="POST"`)
}
