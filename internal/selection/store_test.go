package selection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var adminTiers = []Tier{
	{Name: "state"},
	{Name: "district", Multi: true},
	{Name: "block", Multi: true},
	{Name: "village", Multi: true},
}

// tableFetch answers immediately from a static parent→options table.
func tableFetch(table map[string][]Option) FetchFunc {
	return func(ctx context.Context, req FetchRequest) ([]Option, error) {
		if req.ScopeTier < 0 {
			return table[""], nil
		}
		var out []Option
		for _, p := range req.ParentIDs {
			out = append(out, table[p]...)
		}
		return out, nil
	}
}

var adminTable = map[string][]Option{
	"":     {{ID: "09", Name: "Uttar Pradesh"}, {ID: "10", Name: "Bihar"}},
	"09":   {{ID: "152", Name: "Varanasi", ParentID: "09"}, {ID: "179", Name: "Mirzapur", ParentID: "09"}},
	"10":   {{ID: "201", Name: "Patna", ParentID: "10"}},
	"152":  {{ID: "0451", Name: "Kashi Vidyapith", ParentID: "152"}},
	"179":  {{ID: "0460", Name: "Chunar", ParentID: "179"}},
	"0451": {{ID: "004512", Name: "Lohta", ParentID: "0451"}, {ID: "004513", Name: "Kotwa", ParentID: "0451"}},
}

func newAdminStore(t *testing.T) *Store {
	t.Helper()
	s := New(Config{Name: "admin", Tiers: adminTiers, ConfirmTier: -1, Fetch: tableFetch(adminTable)})
	t.Cleanup(s.Close)
	s.Init()
	s.Wait()
	return s
}

func TestInitLoadsRootOptions(t *testing.T) {
	s := newAdminStore(t)
	snap := s.Snapshot()
	require.Len(t, snap.Tiers[0].Options, 2)
	require.False(t, snap.Tiers[0].Loading)
	require.Equal(t, -1, snap.Tiers[0].ScopeTier)
	require.Empty(t, snap.Tiers[1].Options)
}

func TestExampleScenario(t *testing.T) {
	s := newAdminStore(t)

	require.NoError(t, s.SetTierSelection(0, []string{"09"}))
	s.Wait()
	require.Len(t, s.Snapshot().Tiers[1].Options, 2)
	require.Equal(t, 0, s.Snapshot().Tiers[1].ScopeTier)

	require.NoError(t, s.SetTierSelection(1, []string{"152", "179"}))
	s.Wait()
	require.Len(t, s.Snapshot().Tiers[2].Options, 2)

	require.NoError(t, s.SetTierSelection(2, []string{"0451"}))
	s.Wait()
	require.Len(t, s.Snapshot().Tiers[3].Options, 2)

	require.NoError(t, s.SetTierSelection(3, []string{"004512"}))
	s.Wait()
	require.NoError(t, s.Confirm())
	require.True(t, s.Locked())

	before := s.Snapshot()
	require.NoError(t, s.SetTierSelection(0, []string{"10"}))
	require.Equal(t, before, s.Snapshot())
}

func TestCascadeClearsBeforeFetchResolves(t *testing.T) {
	release := make(chan struct{})
	blocking := func(ctx context.Context, req FetchRequest) ([]Option, error) {
		if req.Tier == 2 {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return tableFetch(adminTable)(ctx, req)
	}
	s := New(Config{Name: "admin", Tiers: adminTiers, ConfirmTier: -1, Fetch: blocking})
	defer s.Close()
	s.Init()
	s.Wait()

	require.NoError(t, s.SetTierSelection(0, []string{"09"}))
	s.Wait()
	require.NoError(t, s.SetTierSelection(1, []string{"152"}))

	// Block fetch is outstanding; change the state.
	require.NoError(t, s.SetTierSelection(0, []string{"10"}))
	snap := s.Snapshot()
	for i := 1; i < len(snap.Tiers); i++ {
		require.Empty(t, snap.Tiers[i].Selected, "tier %d", i)
	}
	require.Empty(t, snap.Tiers[2].Options)
	require.Empty(t, snap.Tiers[3].Options)

	close(release)
	s.Wait()
	snap = s.Snapshot()
	require.Equal(t, []Option{{ID: "201", Name: "Patna", ParentID: "10"}}, snap.Tiers[1].Options)
	require.Empty(t, snap.Tiers[2].Options)
}

type pending struct {
	req   FetchRequest
	reply chan []Option
}

// gatedFetch hands every request to the test and waits for its reply,
// ignoring cancellation so that late replies reach the store.
type gatedFetch struct {
	calls chan pending
}

func (g *gatedFetch) fetch(ctx context.Context, req FetchRequest) ([]Option, error) {
	p := pending{req: req, reply: make(chan []Option, 1)}
	g.calls <- p
	return <-p.reply, nil
}

func (g *gatedFetch) next(t *testing.T) pending {
	t.Helper()
	select {
	case p := <-g.calls:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no fetch issued")
		return pending{}
	}
}

func TestStaleResponseDiscarded(t *testing.T) {
	g := &gatedFetch{calls: make(chan pending, 8)}
	s := New(Config{Name: "admin", Tiers: adminTiers, Fetch: g.fetch})
	defer s.Close()

	s.Init()
	root := g.next(t)
	root.reply <- adminTable[""]
	s.Wait()

	require.NoError(t, s.SetTierSelection(0, []string{"09"}))
	a := g.next(t)
	require.Equal(t, []string{"09"}, a.req.ParentIDs)

	require.NoError(t, s.SetTierSelection(0, []string{"10"}))
	b := g.next(t)
	require.Equal(t, []string{"10"}, b.req.ParentIDs)

	// B resolves first, A arrives late.
	b.reply <- adminTable["10"]
	a.reply <- adminTable["09"]
	s.Wait()

	snap := s.Snapshot()
	require.Equal(t, []string{"10"}, snap.Tiers[0].Selected)
	require.Equal(t, adminTable["10"], snap.Tiers[1].Options)
	require.False(t, snap.Tiers[1].Loading)
}

func TestFetchErrorIsTierScoped(t *testing.T) {
	fetch := func(ctx context.Context, req FetchRequest) ([]Option, error) {
		if req.Tier == 1 {
			return nil, errors.New("connection refused")
		}
		return tableFetch(adminTable)(ctx, req)
	}
	s := New(Config{Name: "admin", Tiers: adminTiers, Fetch: fetch})
	defer s.Close()
	s.Init()
	s.Wait()

	require.NoError(t, s.SetTierSelection(0, []string{"09"}))
	s.Wait()

	snap := s.Snapshot()
	require.Equal(t, []string{"09"}, snap.Tiers[0].Selected)
	require.Len(t, snap.Tiers[0].Options, 2)
	require.Empty(t, snap.Tiers[1].Options)
	require.Contains(t, snap.Tiers[1].Error, "connection refused")
	require.Empty(t, snap.Tiers[0].Error)

	require.NoError(t, s.ClearError(1))
	require.Empty(t, s.Snapshot().Tiers[1].Error)
}

func TestSetTierSelectionValidation(t *testing.T) {
	s := newAdminStore(t)

	tests := []struct {
		name   string
		tier   int
		values []string
		want   error
	}{
		{"negative tier", -1, []string{"09"}, ErrTierOutOfRange},
		{"tier too deep", 4, []string{"09"}, ErrTierOutOfRange},
		{"single valued tier", 0, []string{"09", "10"}, ErrMultipleValues},
		{"unknown option", 0, []string{"99"}, ErrUnknownOption},
		{"options not loaded", 2, []string{"0451"}, ErrOptionsNotLoaded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := s.Snapshot()
			require.ErrorIs(t, s.SetTierSelection(tt.tier, tt.values), tt.want)
			require.Equal(t, before, s.Snapshot())
		})
	}
}

func TestUnchangedSelectionIsNoop(t *testing.T) {
	s := newAdminStore(t)
	require.NoError(t, s.SetTierSelection(0, []string{"09"}))
	s.Wait()
	require.NoError(t, s.SetTierSelection(1, []string{"152", "179"}))
	s.Wait()
	before := s.Snapshot()

	require.NoError(t, s.SetTierSelection(1, []string{"179", "152", "152"}))
	require.Equal(t, before, s.Snapshot())
}

func TestConfirmRequiresConfirmTier(t *testing.T) {
	s := newAdminStore(t)
	require.NoError(t, s.SetTierSelection(0, []string{"09"}))
	s.Wait()

	require.ErrorIs(t, s.Confirm(), ErrConfirmIncomplete)
	require.False(t, s.Locked())
	require.False(t, s.Snapshot().CanConfirm())
}

func TestLockIdempotence(t *testing.T) {
	s := New(Config{Name: "admin", Tiers: adminTiers, ConfirmTier: 0, Fetch: tableFetch(adminTable)})
	defer s.Close()
	s.Init()
	s.Wait()
	require.NoError(t, s.SetTierSelection(0, []string{"09"}))
	s.Wait()
	require.NoError(t, s.Confirm())

	locked := s.Snapshot()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.SetTierSelection(0, []string{"10"}))
		require.NoError(t, s.SetTierSelection(1, []string{"152"}))
		require.NoError(t, s.Confirm())
	}
	require.Equal(t, locked, s.Snapshot())
}

func TestResetClearsEverything(t *testing.T) {
	s := newAdminStore(t)
	require.NoError(t, s.SetTierSelection(0, []string{"09"}))
	s.Wait()
	require.NoError(t, s.SetTierSelection(1, []string{"152"}))
	s.Wait()
	require.NoError(t, s.SetTierSelection(2, []string{"0451"}))
	s.Wait()
	require.NoError(t, s.SetTierSelection(3, []string{"004512"}))
	s.Wait()
	require.NoError(t, s.Confirm())

	s.Reset()
	snap := s.Snapshot()
	require.False(t, snap.Locked)
	require.Len(t, snap.Tiers[0].Options, 2)
	for i, tier := range snap.Tiers {
		require.Empty(t, tier.Selected, "tier %d", i)
		if i > 0 {
			require.Empty(t, tier.Options, "tier %d", i)
		}
	}
	require.NoError(t, s.SetTierSelection(0, []string{"10"}))
}

func TestOptionalTierScoping(t *testing.T) {
	tiers := []Tier{
		{Name: "river"},
		{Name: "stretch", Multi: true, Optional: true},
		{Name: "drain", Multi: true},
		{Name: "catchment", Multi: true},
	}
	table := map[string][]Option{
		"":   {{ID: "1", Name: "Varuna"}},
		"1":  {{ID: "s1", ParentID: "1"}, {ID: "d1", ParentID: "1"}},
		"s1": {{ID: "d1", ParentID: "s1"}},
		"d1": {{ID: "c1", ParentID: "d1"}},
	}
	var mu sync.Mutex
	var reqs []FetchRequest
	fetch := func(ctx context.Context, req FetchRequest) ([]Option, error) {
		mu.Lock()
		reqs = append(reqs, req)
		mu.Unlock()
		return tableFetch(table)(ctx, req)
	}
	s := New(Config{Name: "drainage", Tiers: tiers, ConfirmTier: 2, Fetch: fetch})
	defer s.Close()
	s.Init()
	s.Wait()

	require.NoError(t, s.SetTierSelection(0, []string{"1"}))
	s.Wait()
	snap := s.Snapshot()
	require.Equal(t, 0, snap.Tiers[1].ScopeTier)
	require.Equal(t, 0, snap.Tiers[2].ScopeTier, "drain is reachable through the empty optional stretch")
	require.Equal(t, -1, snap.Tiers[3].ScopeTier)

	require.NoError(t, s.SetTierSelection(1, []string{"s1"}))
	s.Wait()
	snap = s.Snapshot()
	require.Equal(t, 1, snap.Tiers[2].ScopeTier)
	require.Equal(t, []Option{{ID: "d1", ParentID: "s1"}}, snap.Tiers[2].Options)

	// Dropping the stretch re-scopes drains to the river.
	require.NoError(t, s.SetTierSelection(1, nil))
	s.Wait()
	require.Equal(t, 0, s.Snapshot().Tiers[2].ScopeTier)

	require.NoError(t, s.SetTierSelection(2, []string{"d1"}))
	s.Wait()
	require.NoError(t, s.Confirm())
	require.True(t, s.Locked())
}

func TestSubscribeReceivesOrderedSnapshots(t *testing.T) {
	s := New(Config{Name: "admin", Tiers: adminTiers, Fetch: tableFetch(adminTable)})
	defer s.Close()

	var mu sync.Mutex
	var versions []uint64
	s.Subscribe(func(snap Snapshot) {
		mu.Lock()
		versions = append(versions, snap.Version)
		mu.Unlock()
	})

	s.Init()
	s.Wait()
	require.NoError(t, s.SetTierSelection(0, []string{"09"}))
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, versions)
	for i := 1; i < len(versions); i++ {
		require.GreaterOrEqual(t, versions[i], versions[i-1])
	}
	require.Equal(t, s.Snapshot().Version, versions[len(versions)-1])
}

func TestCloseIgnoresLateResults(t *testing.T) {
	g := &gatedFetch{calls: make(chan pending, 4)}
	s := New(Config{Name: "admin", Tiers: adminTiers, Fetch: g.fetch})

	s.Init()
	root := g.next(t)
	s.Close()
	root.reply <- adminTable[""]
	s.Wait()

	require.Empty(t, s.Snapshot().Tiers[0].Options)
	require.NoError(t, s.SetTierSelection(0, []string{"09"}))
}
