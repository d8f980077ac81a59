package client

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulseboard/internal/progress"
)

// recordingPoster captures every delivered event in wire order.
type recordingPoster struct {
	mu     sync.Mutex
	events []progress.Event
	err    error
}

func (p *recordingPoster) Post(_ context.Context, evt progress.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingPoster) recorded() []progress.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.events)
}

type recordingReporter struct {
	mu       sync.Mutex
	advanced []float64
	descs    []string
	closes   int
}

func (r *recordingReporter) Advance(n float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advanced = append(r.advanced, n)
}

func (r *recordingReporter) SetDescription(desc string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descs = append(r.descs, desc)
}

func (r *recordingReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	return nil
}

func countStatus(events []progress.Event, status progress.Status) int {
	n := 0
	for _, evt := range events {
		if evt.Status == status {
			n++
		}
	}
	return n
}

// newTestBar builds a bar with a huge push interval so every assertion runs
// against drain behavior instead of wall-clock timing.
func newTestBar(t *testing.T, poster Poster, mutate func(*Config)) *Bar {
	t.Helper()

	cfg := Config{
		TaskID:       "task-under-test",
		PushInterval: time.Minute,
		Transport:    poster,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	b, err := New(cfg)
	require.NoError(t, err)
	return b
}

func TestBarStartAndCloseBracketTheStream(t *testing.T) {
	t.Parallel()

	poster := &recordingPoster{}
	b := newTestBar(t, poster, nil)
	require.NoError(t, b.Close())

	events := poster.recorded()
	require.Len(t, events, 2)
	require.Equal(t, progress.StatusStart, events[0].Status)
	require.Equal(t, progress.StatusClose, events[1].Status)
	require.Equal(t, "task-under-test", events[0].TaskID)
	require.NotZero(t, events[0].Timestamp)
}

func TestBarStartCarriesInitialState(t *testing.T) {
	t.Parallel()

	poster := &recordingPoster{}
	b := newTestBar(t, poster, func(cfg *Config) {
		cfg.Desc = "loading rows"
		cfg.Total = 100
		cfg.Unit = "rows"
		cfg.Meta = map[string]any{"job": "nightly"}
	})
	require.NoError(t, b.Close())

	start := poster.recorded()[0]
	require.Equal(t, progress.StatusStart, start.Status)
	require.NotNil(t, start.N)
	require.Zero(t, *start.N)
	require.NotNil(t, start.Desc)
	require.Equal(t, "loading rows", *start.Desc)
	require.NotNil(t, start.Total)
	require.Equal(t, 100.0, *start.Total)
	require.NotNil(t, start.Unit)
	require.Equal(t, "rows", *start.Unit)
	require.Equal(t, "nightly", start.Meta["job"])
}

func TestBarCloseDeliversFinalStateUnderThrottle(t *testing.T) {
	t.Parallel()

	poster := &recordingPoster{}
	b := newTestBar(t, poster, func(cfg *Config) {
		cfg.Desc = "step one"
	})

	for range 5 {
		b.Add(1)
	}
	b.SetDescription("step two")
	b.SetTotal(10)
	require.NoError(t, b.Close())

	events := poster.recorded()
	require.Equal(t, 1, countStatus(events, progress.StatusStart))
	require.Equal(t, 1, countStatus(events, progress.StatusClose))
	require.Equal(t, progress.StatusStart, events[0].Status)

	// The minute-long interval blocks timed sends, so everything between
	// start and close is at most the held update plus the coalescing slot.
	require.LessOrEqual(t, len(events), 5)

	last := events[len(events)-1]
	require.Equal(t, progress.StatusClose, last.Status)
	require.NotNil(t, last.N)
	require.Equal(t, 5.0, *last.N)
	require.NotNil(t, last.Desc)
	require.Equal(t, "step two", *last.Desc)
	require.NotNil(t, last.Total)
	require.Equal(t, 10.0, *last.Total)
}

func TestBarUpdatesNeverRegress(t *testing.T) {
	t.Parallel()

	poster := &recordingPoster{}
	b := newTestBar(t, poster, nil)

	for range 20 {
		b.Add(1)
	}
	require.NoError(t, b.Close())

	prev := -1.0
	for _, evt := range poster.recorded() {
		require.NotNil(t, evt.N)
		require.GreaterOrEqual(t, *evt.N, prev)
		prev = *evt.N
	}
}

func TestBarSetReplacesCount(t *testing.T) {
	t.Parallel()

	poster := &recordingPoster{}
	b := newTestBar(t, poster, nil)

	b.Add(3)
	b.Set(42)
	require.NoError(t, b.Close())

	events := poster.recorded()
	last := events[len(events)-1]
	require.Equal(t, progress.StatusClose, last.Status)
	require.Equal(t, 42.0, *last.N)
}

func TestBarFailEmitsErrorAndStreamContinues(t *testing.T) {
	t.Parallel()

	poster := &recordingPoster{}
	b := newTestBar(t, poster, nil)

	b.Add(1)
	b.Fail("disk full")
	b.Add(1)
	require.NoError(t, b.Close())

	events := poster.recorded()
	require.Equal(t, 1, countStatus(events, progress.StatusError))
	require.Equal(t, progress.StatusClose, events[len(events)-1].Status)

	var failure progress.Event
	for _, evt := range events {
		if evt.Status == progress.StatusError {
			failure = evt
		}
	}
	require.Equal(t, "disk full", failure.Meta["error"])

	// The reason lives only on the error event, not on the stream state.
	require.NotContains(t, events[len(events)-1].Meta, "error")
	require.Equal(t, 2.0, *events[len(events)-1].N)
}

func TestBarCloseIsIdempotentAndSilencesMutations(t *testing.T) {
	t.Parallel()

	poster := &recordingPoster{}
	b := newTestBar(t, poster, nil)
	require.NoError(t, b.Close())

	delivered := len(poster.recorded())
	b.Add(1)
	b.Set(9)
	b.SetDescription("late")
	b.SetTotal(5)
	b.Fail("late failure")
	require.NoError(t, b.Close())

	require.Len(t, poster.recorded(), delivered)
}

func TestBarDeliveryFailuresStaySilent(t *testing.T) {
	t.Parallel()

	poster := &recordingPoster{err: errors.New("connection refused")}
	b := newTestBar(t, poster, nil)

	b.Add(1)
	require.NoError(t, b.Close())

	// Every attempt failed, yet the full sequence was still offered.
	events := poster.recorded()
	require.Equal(t, progress.StatusStart, events[0].Status)
	require.Equal(t, progress.StatusClose, events[len(events)-1].Status)
}

func TestBarMirrorsIntoLocalReporter(t *testing.T) {
	t.Parallel()

	mirror := &recordingReporter{}
	poster := &recordingPoster{}
	b := newTestBar(t, poster, func(cfg *Config) {
		cfg.Mirror = mirror
	})

	b.Add(2)
	b.Advance(3)
	b.SetDescription("halfway")
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	require.Equal(t, []float64{2, 3}, mirror.advanced)
	require.Equal(t, []string{"halfway"}, mirror.descs)
	require.Equal(t, 1, mirror.closes)
}

func TestBarGeneratesTaskIDWhenUnset(t *testing.T) {
	t.Parallel()

	poster := &recordingPoster{}
	b := newTestBar(t, poster, func(cfg *Config) {
		cfg.TaskID = ""
	})
	require.Len(t, b.TaskID(), 36)
	require.NoError(t, b.Close())

	for _, evt := range poster.recorded() {
		require.Equal(t, b.TaskID(), evt.TaskID)
	}
}

func TestBarHostMetaAttachesHostFacts(t *testing.T) {
	t.Parallel()

	poster := &recordingPoster{}
	b := newTestBar(t, poster, func(cfg *Config) {
		cfg.Meta = map[string]any{"job": "nightly"}
		cfg.HostMeta = true
	})
	require.NoError(t, b.Close())

	start := poster.recorded()[0]
	require.Equal(t, "nightly", start.Meta["job"])

	host, ok := start.Meta["host"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, host, "pid")
}

func TestBarRequiresServerURLWithoutTransport(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "server url")
}

func TestBarThrottleEventuallySendsHeldUpdate(t *testing.T) {
	t.Parallel()

	poster := &recordingPoster{}
	b := newTestBar(t, poster, func(cfg *Config) {
		cfg.PushInterval = 20 * time.Millisecond
	})

	b.Add(1)
	require.Eventually(t, func() bool {
		return countStatus(poster.recorded(), progress.StatusUpdate) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, b.Close())
}
