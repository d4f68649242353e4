package host

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shaban/fxhost/graph"
	"github.com/shaban/fxhost/internal/api"
	"github.com/shaban/fxhost/internal/config"
	"github.com/shaban/fxhost/internal/pubsub"
	"github.com/shaban/fxhost/internal/testutil"
	"github.com/shaban/fxhost/persist"
	"github.com/shaban/fxhost/plugins"
	"github.com/shaban/fxhost/reconciler"
	"github.com/shaban/fxhost/scan"
	"github.com/shaban/fxhost/store"
)

type fixture struct {
	cfg  config.Config
	dir  string
	fake *testutil.FakeLoader
	good plugins.Descriptor
	bad  plugins.Descriptor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	cfg.Store.Driver = config.StoreMemory
	cfg.Scan.SearchPaths = []string{dir}
	cfg.Scan.ProbeTimeout = 500 * time.Millisecond
	cfg.Scan.CacheTTL = 0
	cfg.Scan.Debounce = 50 * time.Millisecond
	cfg.Tracing.Enabled = false

	f := &fixture{
		cfg:  cfg,
		dir:  dir,
		fake: testutil.NewFakeLoader(plugins.FormatVST3),
		good: testutil.Stereo("Good"),
		bad:  testutil.Stereo("Bad"),
	}
	f.fake.AddCandidate(dir, f.good, f.bad)
	f.fake.SetBehavior(f.bad.Key(), testutil.Behavior{Err: errors.New("boom")})
	return f
}

func (f *fixture) open(t *testing.T, opts ...Option) *Host {
	t.Helper()
	opts = append([]Option{WithLogger(zap.NewNop()), WithLoader(f.fake)}, opts...)
	h, err := New(context.Background(), f.cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func scanAll(t *testing.T, h *Host) []scan.Event {
	t.Helper()
	run, err := h.Scan(context.Background(), scan.Request{})
	require.NoError(t, err)
	events := run.Collect()
	<-run.Done()
	h.Scanner().WaitPrompts()
	return events
}

func TestNewStartsPassthrough(t *testing.T) {
	f := newFixture(t)
	h := f.open(t)

	assert.True(t, h.Reconciler().Graph().IsPassthrough())
	assert.Equal(t, []string{f.dir}, h.SearchPaths())
	assert.Contains(t, h.Loaders().Formats(), plugins.FormatManifest)
	assert.Contains(t, h.Loaders().Formats(), plugins.FormatVST3)
	t.Log("✅ Fresh host has an empty chain and seeded search paths")
}

func TestScanPersistsCatalogAndBlacklist(t *testing.T) {
	f := newFixture(t)
	mem := store.NewMemory()
	h := f.open(t, WithStore(mem), WithPrompter(scan.Accept))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := h.Events().Subscribe(ctx)

	events := scanAll(t, h)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, scan.ScanComplete, last.Kind)
	assert.Equal(t, 1, last.Count)

	assert.True(t, h.Catalog().Contains(f.good.Key()))
	assert.False(t, h.Catalog().Contains(f.bad.Key()))
	assert.True(t, h.Blacklist().Contains(f.bad.Key()))

	data := mem.Snapshot()
	assert.Contains(t, data[persist.KeyPluginList], f.good.FileOrIdentifier)
	assert.Equal(t, string(f.bad.Key()), data[persist.KeyBlacklist])

	topics := map[pubsub.Topic]bool{}
	testutil.WaitFor(t, time.Second, func() bool {
		for {
			select {
			case ev := <-sub:
				topics[ev.Topic] = true
			default:
				return topics[pubsub.TopicScan] && topics[pubsub.TopicCatalog] && topics[pubsub.TopicBlacklist]
			}
		}
	}, "scan, catalog and blacklist events published")
}

func TestScanBlacklistDecisionRebuildsChain(t *testing.T) {
	f := newFixture(t)
	h := f.open(t, WithPrompter(scan.Accept))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := h.Events().Subscribe(ctx)
	before := h.Reconciler().Version()

	scanAll(t, h)
	require.True(t, h.Blacklist().Contains(f.bad.Key()))
	assert.Greater(t, h.Reconciler().Version(), before, "decision rebuilds like a manual blacklist edit")

	var change BlacklistChange
	testutil.WaitFor(t, time.Second, func() bool {
		for {
			select {
			case ev := <-sub:
				if c, ok := ev.Payload.(BlacklistChange); ok {
					change = c
				}
			default:
				return len(change.Added) > 0
			}
		}
	}, "blacklist change published")
	assert.Equal(t, []plugins.Key{f.bad.Key()}, change.Added)
}

func TestChainSurvivesRestart(t *testing.T) {
	f := newFixture(t)
	f.cfg.Store.Driver = config.StoreSQLite

	h1, err := New(context.Background(), f.cfg, WithLogger(zap.NewNop()), WithLoader(f.fake))
	require.NoError(t, err)
	scanAll(t, h1)

	ctx := context.Background()
	require.NoError(t, h1.Dispatch(ctx, reconciler.Add(f.good.Key())))
	require.NoError(t, h1.Dispatch(ctx, reconciler.Add(f.good.Key())))
	require.NoError(t, h1.Dispatch(ctx, reconciler.Bypass(1, true)))
	require.NoError(t, h1.Close())
	require.NoError(t, h1.Close())

	_, err = os.Stat(filepath.Join(f.cfg.DataDir, "settings.db"))
	require.NoError(t, err)

	h2 := f.open(t)
	entries := h2.Reconciler().Snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, f.good.Key(), entries[0].Key)
	assert.False(t, entries[0].Bypass)
	assert.True(t, entries[1].Bypass)
	assert.NotEqual(t, entries[0].ID, entries[1].ID)
	assert.True(t, h2.Catalog().Contains(f.good.Key()))
	assert.Len(t, h2.Reconciler().Graph().Path(), 1)
	t.Log("✅ Catalog and chain restored from sqlite")
}

func TestBlacklistEditsRebuild(t *testing.T) {
	f := newFixture(t)
	mem := store.NewMemory()
	h := f.open(t, WithStore(mem))
	scanAll(t, h)

	ctx := context.Background()
	require.NoError(t, h.Dispatch(ctx, reconciler.Add(f.good.Key())))
	require.Len(t, h.Reconciler().Graph().Path(), 1)

	added, err := h.AddToBlacklist(ctx, f.good.Key())
	require.NoError(t, err)
	assert.True(t, added)
	g := h.Reconciler().Graph()
	assert.True(t, g.IsPassthrough())
	require.Len(t, g.Skipped, 1)
	assert.Equal(t, graph.ReasonBlacklisted, g.Skipped[0].Reason)
	assert.Equal(t, string(f.good.Key()), mem.Snapshot()[persist.KeyBlacklist])
	testutil.WaitFor(t, time.Second, func() bool { return f.fake.OpenInstances() == 0 }, "instance released")

	added, err = h.AddToBlacklist(ctx, f.good.Key())
	require.NoError(t, err)
	assert.False(t, added)

	removed, err := h.RemoveFromBlacklist(ctx, f.good.Key())
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Len(t, h.Reconciler().Graph().Path(), 1)

	_, err = h.AddToBlacklist(ctx, "VST3:/x")
	require.NoError(t, err)
	require.NoError(t, h.ClearBlacklist(ctx))
	assert.Equal(t, 0, h.Blacklist().Len())
	assert.Equal(t, "", mem.Snapshot()[persist.KeyBlacklist])
}

func TestRemoveFromCatalogSkipsEntry(t *testing.T) {
	f := newFixture(t)
	h := f.open(t)
	scanAll(t, h)

	ctx := context.Background()
	require.NoError(t, h.Dispatch(ctx, reconciler.Add(f.good.Key())))

	removed, err := h.RemoveFromCatalog(ctx, f.good.Key())
	require.NoError(t, err)
	assert.True(t, removed)

	g := h.Reconciler().Graph()
	assert.True(t, g.IsPassthrough())
	require.Len(t, g.Skipped, 1)
	assert.Equal(t, graph.ReasonUnknown, g.Skipped[0].Reason)
	assert.Len(t, h.Reconciler().Snapshot(), 1)

	removed, err = h.RemoveFromCatalog(ctx, f.good.Key())
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestSearchPaths(t *testing.T) {
	f := newFixture(t)
	mem := store.NewMemory()
	h := f.open(t, WithStore(mem))
	assert.Equal(t, f.dir, mem.Snapshot()[persist.KeySearchPaths])

	ctx := context.Background()
	require.NoError(t, h.SetSearchPaths(ctx, []string{"/a/", "/b", "", "/a"}))
	assert.Equal(t, []string{"/a", "/b"}, h.SearchPaths())
	assert.Equal(t, "/a;/b", mem.Snapshot()[persist.KeySearchPaths])

	h2 := f.open(t, WithStore(mem))
	assert.Equal(t, []string{"/a", "/b"}, h2.SearchPaths())
}

func TestWatchRescansChangedPaths(t *testing.T) {
	f := newFixture(t)
	f.cfg.Scan.Watch = true
	f.cfg.Scan.Formats = []string{string(plugins.FormatManifest)}
	h := f.open(t)
	require.True(t, h.Watching())

	manifest := "name: Echo\nvendor: Test\nversion: \"1.0\"\ninputs: 2\noutputs: 2\n"
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "echo.fx.yaml"), []byte(manifest), 0o644))

	testutil.WaitFor(t, 5*time.Second, func() bool {
		return len(h.Catalog().Descriptors().ByName("Echo")) == 1
	}, "manifest picked up by rescan")
	t.Log("✅ New manifest found without a manual scan")
}

func TestAPIBackend(t *testing.T) {
	f := newFixture(t)
	h := f.open(t)
	scanAll(t, h)

	srv := api.NewServer(h.API(), zap.NewNop(), "127.0.0.1:0")
	body := `{"kind":"add","key":"` + string(f.good.Key()) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/actions", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	chain := h.Chain()
	require.Len(t, chain.Entries, 1)
	assert.Equal(t, uint64(2), chain.Version)
	assert.Contains(t, chain.Topology, string(f.good.Key()))

	req = httptest.NewRequest(http.MethodPost, "/api/actions", strings.NewReader(`{"kind":"remove","index":5}`))
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNewRejectsBadStore(t *testing.T) {
	f := newFixture(t)
	f.cfg.Store.Driver = "redis"
	_, err := New(context.Background(), f.cfg, WithLogger(zap.NewNop()))
	assert.Error(t, err)
}
