package scan

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaban/fxhost/internal/testutil"
	"github.com/shaban/fxhost/loader"
	"github.com/shaban/fxhost/plugins"
	"github.com/shaban/fxhost/probe"
)

type fixture struct {
	fake      *testutil.FakeLoader
	catalog   *plugins.Catalog
	blacklist *plugins.Blacklist
	metrics   *Counters
	orch      *Orchestrator
}

func newFixture(t *testing.T, prompter Prompter, cacheTTL time.Duration) *fixture {
	t.Helper()
	fake := testutil.NewFakeLoader(plugins.FormatVST3)
	t.Cleanup(fake.Unblock)
	reg := loader.NewRegistry(fake)
	f := &fixture{
		fake:      fake,
		catalog:   plugins.NewCatalog(),
		blacklist: plugins.NewBlacklist(),
		metrics:   &Counters{},
	}
	f.orch = New(Config{
		Loaders:   reg,
		Prober:    probe.New(probe.Config{Loaders: reg, Policy: probe.TimeoutPolicy{Base: 40 * time.Millisecond}}),
		Catalog:   f.catalog,
		Blacklist: f.blacklist,
		Prompter:  prompter,
		Metrics:   f.metrics,
		CacheTTL:  cacheTTL,
	})
	return f
}

func (f *fixture) scan(t *testing.T, paths ...string) []Event {
	t.Helper()
	run, err := f.orch.Scan(context.Background(), Request{SearchPaths: paths})
	require.NoError(t, err)
	events := run.Collect()
	<-run.Done()
	return events
}

func kinds(events []Event) []Kind {
	out := make([]Kind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestScanTimedOutPlugin(t *testing.T) {
	var asked atomic.Int32
	prompter := PrompterFunc(func(_ context.Context, p Prompt) bool {
		asked.Add(1)
		return false
	})
	f := newFixture(t, prompter, 0)
	slow := testutil.Stereo("Hangs")
	f.fake.AddCandidate("/plugins", slow)
	f.fake.SetBehavior(slow.Key(), testutil.Behavior{Hang: true})

	events := f.scan(t, "/plugins")

	require.Equal(t, []Kind{PathStarted, PluginTested, ScanComplete}, kinds(events))
	require.Equal(t, probe.TimedOut, events[1].Outcome.Status)
	require.Equal(t, slow.Key(), events[1].Descriptor.Key())
	require.Equal(t, 0, events[2].Count)
	require.Zero(t, f.catalog.Len(), "catalog unchanged")

	f.orch.WaitPrompts()
	require.Equal(t, int32(1), asked.Load())
	require.False(t, f.blacklist.Contains(slow.Key()), "declining must not blacklist")
}

func TestScanAddsLoadedPlugins(t *testing.T) {
	f := newFixture(t, nil, 0)
	a, b := testutil.Stereo("A"), testutil.Stereo("B")
	f.fake.AddCandidate("/plugins", a, b)

	events := f.scan(t, "/plugins")
	require.Equal(t, []Kind{PathStarted, PluginTested, PluginTested, ScanComplete}, kinds(events))
	require.Equal(t, 2, events[3].Count)
	require.Equal(t, []plugins.Key{a.Key(), b.Key()}, f.catalog.Descriptors().Keys())

	again := f.scan(t, "/plugins")
	require.Equal(t, []Kind{PathStarted, ScanComplete}, kinds(again), "known plugins are not probed again")
	require.Equal(t, 1, f.fake.Instantiations(a.Key()))
	require.Equal(t, int64(2), f.metrics.Skipped.Load())
}

func TestScanSkipsBlacklisted(t *testing.T) {
	f := newFixture(t, nil, 0)
	bad := testutil.Stereo("Bad")
	f.fake.AddCandidate("/plugins", bad)
	f.blacklist.Add(bad.Key())

	events := f.scan(t, "/plugins")
	require.Equal(t, []Kind{PathStarted, ScanComplete}, kinds(events))
	require.Zero(t, f.fake.Instantiations(bad.Key()), "blacklisted plugins are never instantiated")
}

func TestScanAcceptedPromptBlacklists(t *testing.T) {
	f := newFixture(t, Accept, 0)
	var notified []plugins.Key
	var mu sync.Mutex
	f.orch.cfg.OnBlacklistAdd = func(k plugins.Key) {
		mu.Lock()
		notified = append(notified, k)
		mu.Unlock()
	}
	broken := testutil.Stereo("Broken")
	f.fake.AddCandidate("/plugins", broken)
	f.fake.SetBehavior(broken.Key(), testutil.Behavior{Err: errors.New("bad binary")})

	events := f.scan(t, "/plugins")
	require.Equal(t, probe.Failed, events[1].Outcome.Status)
	f.orch.WaitPrompts()

	require.True(t, f.blacklist.Contains(broken.Key()))
	mu.Lock()
	require.Equal(t, []plugins.Key{broken.Key()}, notified)
	mu.Unlock()

	f.scan(t, "/plugins")
	require.Equal(t, 1, f.fake.Instantiations(broken.Key()))
}

func TestScanDoesNotWaitForPrompt(t *testing.T) {
	release := make(chan struct{})
	prompter := PrompterFunc(func(context.Context, Prompt) bool {
		<-release
		return true
	})
	f := newFixture(t, prompter, 0)
	broken, good := testutil.Stereo("Broken"), testutil.Stereo("Good")
	f.fake.AddCandidate("/plugins", broken, good)
	f.fake.SetBehavior(broken.Key(), testutil.Behavior{Err: errors.New("nope")})

	events := f.scan(t, "/plugins")
	require.Equal(t, ScanComplete, events[len(events)-1].Kind)
	require.True(t, f.catalog.Contains(good.Key()), "next candidate scanned while the prompt is open")
	require.False(t, f.blacklist.Contains(broken.Key()))

	close(release)
	f.orch.WaitPrompts()
	require.True(t, f.blacklist.Contains(broken.Key()))
}

func TestScanCancel(t *testing.T) {
	f := newFixture(t, nil, 0)
	first, second := testutil.Stereo("First"), testutil.Stereo("Second")
	f.fake.AddCandidate("/a", first)
	f.fake.AddCandidate("/b", second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.orch.cfg.OnEvent = func(ev Event) {
		if ev.Kind == PluginTested {
			cancel()
		}
	}

	run, err := f.orch.Scan(ctx, Request{SearchPaths: []string{"/a", "/b"}})
	require.NoError(t, err)
	events := run.Collect()
	<-run.Done()

	require.Equal(t, []Kind{PathStarted, PluginTested, Cancelled}, kinds(events))
	require.Equal(t, 1, events[2].Count)
	require.True(t, f.catalog.Contains(first.Key()), "effects before cancellation stay")
	require.False(t, f.catalog.Contains(second.Key()))
	require.True(t, run.Result().Cancelled)
}

func TestRunCancelFlag(t *testing.T) {
	f := newFixture(t, nil, 0)
	slow := testutil.Stereo("Slow")
	f.fake.AddCandidate("/plugins", slow)
	f.fake.SetBehavior(slow.Key(), testutil.Behavior{Delay: 20 * time.Millisecond})

	run, err := f.orch.Scan(context.Background(), Request{SearchPaths: []string{"/plugins"}})
	require.NoError(t, err)
	run.Cancel()
	events := run.Collect()
	<-run.Done()

	require.NotEmpty(t, events)
	require.Equal(t, Cancelled, events[len(events)-1].Kind)
	require.True(t, run.Result().Cancelled)
}

func TestScanContextCancelAbandonsProbe(t *testing.T) {
	f := newFixture(t, nil, 0)
	f.orch.cfg.Prober = probe.New(probe.Config{Loaders: f.orch.cfg.Loaders, Policy: probe.TimeoutPolicy{Base: time.Minute}})
	slow := testutil.Stereo("Slow")
	f.fake.AddCandidate("/plugins", slow)
	f.fake.SetBehavior(slow.Key(), testutil.Behavior{Hang: true})

	ctx, cancel := context.WithCancel(context.Background())
	run, err := f.orch.Scan(ctx, Request{SearchPaths: []string{"/plugins"}})
	require.NoError(t, err)
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	select {
	case <-run.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scan did not stop after cancellation")
	}
	require.True(t, run.Result().Cancelled)
	require.Zero(t, f.catalog.Len())
}

func TestScanContinuesAfterEnumerationError(t *testing.T) {
	f := newFixture(t, nil, 0)
	ok := testutil.Stereo("Ok")
	f.fake.FailPath("/missing", errors.New("no such directory"))
	f.fake.AddCandidate("/plugins", ok)

	events := f.scan(t, "/missing", "/plugins")
	require.Equal(t, []Kind{PathStarted, PathStarted, PluginTested, ScanComplete}, kinds(events))
	require.Equal(t, 1, events[3].Count)
}

func TestScanCandidateCache(t *testing.T) {
	f := newFixture(t, nil, time.Minute)
	f.fake.AddCandidate("/plugins", testutil.Stereo("A"))

	f.scan(t, "/plugins")
	f.scan(t, "/plugins")
	require.Equal(t, 1, f.fake.FindCalls())
	require.Equal(t, int64(1), f.metrics.CacheHits.Load())

	require.Equal(t, 1, f.orch.Invalidate("/plugins/A.vst3"))
	f.scan(t, "/plugins")
	require.Equal(t, 2, f.fake.FindCalls())

	require.Zero(t, f.orch.Invalidate("/elsewhere"))
}

func TestScanRejectsConcurrentRun(t *testing.T) {
	f := newFixture(t, nil, 0)
	slow := testutil.Stereo("Slow")
	f.fake.AddCandidate("/plugins", slow)
	f.fake.SetBehavior(slow.Key(), testutil.Behavior{Delay: 30 * time.Millisecond})

	run, err := f.orch.Scan(context.Background(), Request{SearchPaths: []string{"/plugins"}})
	require.NoError(t, err)
	_, err = f.orch.Scan(context.Background(), Request{SearchPaths: []string{"/plugins"}})
	require.ErrorIs(t, err, ErrScanRunning)

	run.Collect()
	<-run.Done()
	assert.False(t, f.orch.Running())
}

func TestScanNoFormats(t *testing.T) {
	f := newFixture(t, nil, 0)
	_, err := f.orch.Scan(context.Background(), Request{Formats: []plugins.Format{plugins.FormatLV2}})
	require.ErrorIs(t, err, ErrNoFormats)
}

func TestWithin(t *testing.T) {
	assert.True(t, within("/a/b/c", "/a/b"))
	assert.True(t, within("/a/b", "/a/b"))
	assert.False(t, within("/a/bc", "/a/b"))
	assert.False(t, within("/a", "/a/b"))
}
