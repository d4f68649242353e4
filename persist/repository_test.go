package persist

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/shaban/fxhost/chain"
	"github.com/shaban/fxhost/internal/testutil"
	"github.com/shaban/fxhost/plugins"
	"github.com/shaban/fxhost/store"
)

func newRepo() (*Repository, *store.Memory) {
	m := store.NewMemory()
	return New(m, nil), m
}

func TestIdentity(t *testing.T) {
	e := chain.Entry{ID: "0b7f3a52-4b8e-4a59-9d0f-3f1f0d0f6a11", Key: "VST3:/Library/A#1.vst3"}
	id := Identity(e)
	key, entryID, ok := ParseIdentity(id)
	require.True(t, ok)
	require.Equal(t, e.Key, key)
	require.Equal(t, e.ID, entryID)

	key, _, ok = ParseIdentity("VST3:/Library/A#1.vst3")
	require.False(t, ok)
	require.Equal(t, plugins.Key("VST3:/Library/A#1.vst3"), key)
}

func TestChainRoundTrip(t *testing.T) {
	ctx := context.Background()
	r, _ := newRepo()

	c := chain.New()
	c.Append("VST3:/a", []byte{0, 1, 2})
	c.Append("LV2:urn:b|c", nil)
	c.Append("VST3:/a", nil)
	_, err := c.SetBypass(1, true)
	require.NoError(t, err)
	c.MoveUp(2)

	require.NoError(t, r.SaveChain(ctx, c))
	got, err := r.LoadChain(ctx, nil)
	require.NoError(t, err)

	if diff := cmp.Diff(c.Entries(), got.Entries()); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
	t.Log("✅ chain survives save/load with duplicates, bypass and state")
}

func TestSaveChainRemovesStaleKeys(t *testing.T) {
	ctx := context.Background()
	r, m := newRepo()

	c := chain.New()
	a := c.Append("VST3:/a", []byte("s"))
	c.Append("VST3:/b", nil)
	require.NoError(t, r.SaveChain(ctx, c))

	_, err := c.Remove(0)
	require.NoError(t, err)
	require.NoError(t, r.SaveChain(ctx, c))

	for k := range m.Snapshot() {
		assert.NotContains(t, k, a.ID, "stale key %s", k)
	}
	got, err := r.LoadChain(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, []plugins.Key{"VST3:/b"}, got.Keys())
}

func TestLoadChainLenient(t *testing.T) {
	ctx := context.Background()
	r, m := newRepo()
	legacy := testutil.Stereo("Legacy")
	catalog := plugins.NewCatalog(legacy, testutil.Stereo("Bare"))

	id1 := "VST3:/x#6f1c2f9e-3a44-4c3a-9d55-8f3f3d5f1a01"
	require.NoError(t, m.Apply(ctx, []store.Op{
		store.Put(KeyActive, plugins.JoinEscaped([]string{id1, "VST3:/fake/Bare", legacy.LegacyKey(), "VST3:/gone"})),
		store.Put(PrefixOrder+id1, "not-a-number"),
		store.Put(PrefixState+id1, "%%%"),
		store.Put(PrefixBypass+"VST3:/fake/Bare", "1"),
		store.Put(PrefixOrder+"VST3:/fake/Bare", "7"),
	}))

	c, err := r.LoadChain(ctx, catalog)
	require.NoError(t, err)
	require.Equal(t, []plugins.Key{"VST3:/x", legacy.Key(), "VST3:/gone", "VST3:/fake/Bare"}, c.Keys())

	es := c.Entries()
	assert.Equal(t, int64(1), es[0].Order, "corrupt order falls back to list position")
	assert.Nil(t, es[0].State, "corrupt state is dropped")
	assert.True(t, es[3].Bypass)
	assert.Equal(t, int64(7), es[3].Order)
	for _, e := range es {
		assert.NotEmpty(t, e.ID)
	}
}

func TestLoadChainEmpty(t *testing.T) {
	r, _ := newRepo()
	c, err := r.LoadChain(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 0, c.Len())
}

func TestCatalogRoundTripSkipsMalformed(t *testing.T) {
	ctx := context.Background()
	r, m := newRepo()

	src := plugins.NewCatalog(testutil.Stereo("A"), testutil.Desc(plugins.FormatLV2, "B", 0, 2))
	require.NoError(t, r.SaveCatalog(ctx, src))
	dst := plugins.NewCatalog()
	require.NoError(t, r.LoadCatalog(ctx, dst))
	require.Equal(t, src.Descriptors(), dst.Descriptors())

	require.NoError(t, m.Set(ctx, KeyPluginList,
		`[{"format":"VST3","fileOrIdentifier":"/ok","name":"ok","numInputs":2,"numOutputs":2},`+
			`{"format":42},{"format":"Nope","fileOrIdentifier":"/x"}]`))
	require.NoError(t, r.LoadCatalog(ctx, dst))
	require.Equal(t, []plugins.Key{"VST3:/ok"}, dst.Descriptors().Keys())

	require.NoError(t, m.Set(ctx, KeyPluginList, `{`))
	require.Error(t, r.LoadCatalog(ctx, dst))
}

func TestBlacklistAndSearchPaths(t *testing.T) {
	ctx := context.Background()
	r, m := newRepo()

	b := plugins.NewBlacklist("VST3:/a|b", `AU:c\d`)
	require.NoError(t, r.SaveBlacklist(ctx, b))
	got := plugins.NewBlacklist()
	require.NoError(t, r.LoadBlacklist(ctx, got))
	require.Equal(t, b.Keys(), got.Keys())

	require.NoError(t, m.Set(ctx, KeyBlacklist, `dangling\`))
	require.Error(t, r.LoadBlacklist(ctx, got))
	require.Equal(t, b.Keys(), got.Keys(), "failed load leaves the set unchanged")

	paths, ok, err := r.LoadSearchPaths(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, paths)

	require.NoError(t, r.SaveSearchPaths(ctx, []string{"/a", "/b c"}))
	v, _, _ := m.Get(ctx, KeySearchPaths)
	require.Equal(t, "/a;/b c", v)
	paths, ok, err = r.LoadSearchPaths(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"/a", "/b c"}, paths)
}

// Saving and reloading preserves the resolved order for any sequence of edits.
func TestChainRoundTripProperty(t *testing.T) {
	keys := []plugins.Key{"VST3:/a", "VST3:/b#x", "LV2:urn:c", `CLAP:/d|e\f`}
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		r, _ := newRepo()
		c := chain.New()
		for i, n := 0, rapid.IntRange(0, 12).Draw(rt, "ops"); i < n; i++ {
			switch rapid.IntRange(0, 3).Draw(rt, "op") {
			case 0:
				c.Append(rapid.SampledFrom(keys).Draw(rt, "key"), rapid.SliceOfN(rapid.Byte(), 0, 4).Draw(rt, "state"))
			case 1:
				if c.Len() > 0 {
					_, _ = c.Remove(rapid.IntRange(0, c.Len()-1).Draw(rt, "rm"))
				}
			case 2:
				c.MoveUp(rapid.IntRange(-1, c.Len()).Draw(rt, "up"))
			case 3:
				if c.Len() > 0 {
					_, _ = c.SetBypass(rapid.IntRange(0, c.Len()-1).Draw(rt, "bp"), rapid.Bool().Draw(rt, "on"))
				}
			}
			if err := r.SaveChain(ctx, c); err != nil {
				rt.Fatal(err)
			}
		}
		got, err := r.LoadChain(ctx, nil)
		if err != nil {
			rt.Fatal(err)
		}
		want := c.Entries()
		for i := range want {
			if len(want[i].State) == 0 {
				want[i].State = nil
			}
		}
		if diff := cmp.Diff(want, got.Entries()); diff != "" {
			rt.Fatalf("mismatch (-want +got):\n%s", diff)
		}
	})
}
