package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screa/zerobits-miner/internal/digest"
	"github.com/screa/zerobits-miner/internal/digest/mock_digest"
	"github.com/screa/zerobits-miner/pkg/types"
)

// recorder collects emitted events
type recorder struct {
	mu     sync.Mutex
	events []types.Event
}

func (r *recorder) Emit(e types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Event(nil), r.events...)
}

func (r *recorder) kinds(kind types.EventKind) []types.Event {
	var out []types.Event
	for _, e := range r.snapshot() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// digestWithZeros returns a digest with exactly n leading zero bits
func digestWithZeros(n int) digest.Digest {
	var d digest.Digest
	for i := range d {
		d[i] = 0xff
	}
	for i := 0; i < n/8; i++ {
		d[i] = 0
	}
	if n%8 != 0 {
		d[n/8] = 0xff >> uint(n%8)
	}
	return d
}

func runFor(t *testing.T, w *Worker, cfg types.SearchConfig, target types.Target, d time.Duration) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return w.Run(ctx, cfg, target)
}

func TestNewWorker(t *testing.T) {
	engine, _ := digest.New(digest.SHA256)
	w := NewWorker(2, engine, &recorder{})
	require.NotNil(t, w)

	assert.Equal(t, 2, w.id)
	assert.Equal(t, DefaultStatsInterval, w.statsInterval)
	assert.Equal(t, 0, w.Threshold())
	assert.False(t, w.IsRunning())
	_, ok := w.Best()
	assert.False(t, ok)
}

func TestBatchSize(t *testing.T) {
	tests := []struct {
		rate     int
		expected int
	}{
		{rate: 1, expected: 1},
		{rate: 49, expected: 1},
		{rate: 1000, expected: 20},
		{rate: 51200, expected: 1024},
		{rate: 10000000, expected: 1024},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, BatchSize(tt.rate), "rate %d", tt.rate)
	}
}

func TestRunRejectsInvalidRate(t *testing.T) {
	for _, maxRate := range []int{0, -10} {
		rec := &recorder{}
		engine, _ := digest.New(digest.SHA256)
		w := NewWorker(0, engine, rec)

		err := w.Run(context.Background(), types.SearchConfig{MaxHashesPerSecond: maxRate}, types.Target{})
		assert.True(t, types.IsConfigError(err), "rate %d", maxRate)

		events := rec.snapshot()
		require.Len(t, events, 1)
		assert.Equal(t, types.EventError, events[0].Kind)
		assert.Equal(t, uint64(0), w.Attempts(), "must never run unthrottled")
	}
}

func TestRunLifecycleEvents(t *testing.T) {
	rec := &recorder{}
	engine, _ := digest.New(digest.SHA256)
	w := NewWorker(7, engine, rec)
	w.SetStatsInterval(100 * time.Millisecond)

	err := runFor(t, w, types.SearchConfig{MaxHashesPerSecond: 5000}, types.Target{}, 550*time.Millisecond)
	require.NoError(t, err)

	events := rec.snapshot()
	require.NotEmpty(t, events)
	assert.Equal(t, types.EventStarted, events[0].Kind)
	assert.Equal(t, types.EventStopped, events[len(events)-1].Kind)

	stats := rec.kinds(types.EventStats)
	assert.GreaterOrEqual(t, len(stats), 4)
	last := stats[len(stats)-1]
	assert.Equal(t, 7, last.Stats.UnitID)
	assert.Equal(t, w.Attempts(), last.Stats.TotalHashes, "final sample carries the exact total")

	for _, e := range events {
		assert.Equal(t, 7, e.UnitID)
	}
	assert.False(t, w.IsRunning())
}

func TestThrottleBound(t *testing.T) {
	const maxRate = 2000
	engine, _ := digest.New(digest.SHA256)
	w := NewWorker(0, engine, &recorder{})

	start := time.Now()
	require.NoError(t, runFor(t, w, types.SearchConfig{MaxHashesPerSecond: maxRate}, types.Target{}, time.Second))
	elapsed := time.Since(start).Seconds()

	upper := float64(maxRate)*elapsed*1.05 + float64(BatchSize(maxRate))
	assert.LessOrEqual(t, float64(w.Attempts()), upper)
	assert.Greater(t, float64(w.Attempts()), float64(maxRate)*elapsed*0.5, "loop should run close to its cap")
}

func TestCancellationLatency(t *testing.T) {
	rec := &recorder{}
	engine, _ := digest.New(digest.SHA256)
	w := NewWorker(0, engine, rec)

	// a low rate makes every throttle wait long; cancellation must cut it short
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, types.SearchConfig{MaxHashesPerSecond: 2}, types.Target{}) }()

	time.Sleep(100 * time.Millisecond)
	cancelled := time.Now()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("search loop did not stop within a second of cancellation")
	}
	assert.Less(t, time.Since(cancelled), 250*time.Millisecond)

	count := len(rec.snapshot())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, count, len(rec.snapshot()), "no events after stopped")
}

func TestSetTargetOnlyRaises(t *testing.T) {
	engine, _ := digest.New(digest.SHA256)
	w := NewWorker(0, engine, &recorder{})

	assert.True(t, w.SetTarget(types.Target{LeadingZeros: 30}))
	assert.False(t, w.SetTarget(types.Target{LeadingZeros: 10}), "stale target must be a no-op")
	assert.False(t, w.SetTarget(types.Target{LeadingZeros: 30}))
	assert.Equal(t, 30, w.Threshold())
}

func TestStaleTargetRejectedWhileRunning(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mock_digest.NewMockEngine(ctrl)
	engine.EXPECT().Name().Return("fixed-20").AnyTimes()
	engine.EXPECT().Sum(gomock.Any()).Return(digestWithZeros(20)).AnyTimes()

	rec := &recorder{}
	w := NewWorker(1, engine, rec)
	w.SetTarget(types.Target{LeadingZeros: 30})
	w.SetTarget(types.Target{LeadingZeros: 10})

	require.NoError(t, runFor(t, w, types.SearchConfig{MaxHashesPerSecond: 1000}, types.Target{LeadingZeros: 5}, 200*time.Millisecond))

	assert.Empty(t, rec.kinds(types.EventImproved), "20 zeros never beats the local 30")
	assert.Equal(t, 30, w.Threshold())
}

func TestImprovementsStrictlyIncrease(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mock_digest.NewMockEngine(ctrl)
	engine.EXPECT().Name().Return("scripted").AnyTimes()

	script := []int{5, 3, 8, 8, 2, 12, 12, 1}
	var calls atomic.Int64
	engine.EXPECT().Sum(gomock.Any()).DoAndReturn(func(input []byte) digest.Digest {
		n := calls.Add(1) - 1
		if int(n) < len(script) {
			return digestWithZeros(script[n])
		}
		return digestWithZeros(0)
	}).AnyTimes()

	rec := &recorder{}
	w := NewWorker(0, engine, rec)
	require.NoError(t, runFor(t, w, types.SearchConfig{MaxHashesPerSecond: 1000}, types.Target{}, 150*time.Millisecond))

	improved := rec.kinds(types.EventImproved)
	require.Len(t, improved, 3)
	assert.Equal(t, 5, improved[0].Target.LeadingZeros)
	assert.Equal(t, 8, improved[1].Target.LeadingZeros)
	assert.Equal(t, 12, improved[2].Target.LeadingZeros)
	assert.NotEqual(t, improved[1].Target.Input, improved[2].Target.Input)

	best, ok := w.Best()
	require.True(t, ok)
	assert.Equal(t, improved[2].Target, best)
	assert.Equal(t, 12, w.Threshold())
}

func TestInitialTargetApplied(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mock_digest.NewMockEngine(ctrl)
	engine.EXPECT().Name().Return("fixed-12").AnyTimes()
	engine.EXPECT().Sum(gomock.Any()).Return(digestWithZeros(12)).AnyTimes()

	rec := &recorder{}
	w := NewWorker(0, engine, rec)
	require.NoError(t, runFor(t, w, types.SearchConfig{MaxHashesPerSecond: 500}, types.Target{LeadingZeros: 12}, 100*time.Millisecond))
	assert.Empty(t, rec.kinds(types.EventImproved))
}

func TestEnginePanicIsRuntimeError(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mock_digest.NewMockEngine(ctrl)
	engine.EXPECT().Name().Return("trapping").AnyTimes()
	engine.EXPECT().Sum(gomock.Any()).DoAndReturn(func(input []byte) digest.Digest {
		panic("unreachable executed")
	}).AnyTimes()

	rec := &recorder{}
	w := NewWorker(4, engine, rec)
	err := runFor(t, w, types.SearchConfig{MaxHashesPerSecond: 100}, types.Target{}, time.Second)

	require.Error(t, err)
	assert.True(t, types.IsRuntimeError(err))

	events := rec.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, types.EventStarted, events[0].Kind)
	assert.Equal(t, types.EventError, events[1].Kind)
	assert.Contains(t, events[1].Message(), "unreachable executed")
	assert.False(t, w.IsRunning())
}

func TestRunTwiceConcurrently(t *testing.T) {
	engine, _ := digest.New(digest.SHA256)
	w := NewWorker(0, engine, &recorder{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, types.SearchConfig{MaxHashesPerSecond: 100}, types.Target{}) }()

	require.Eventually(t, w.IsRunning, time.Second, 5*time.Millisecond)
	assert.Equal(t, ErrAlreadyRunning, w.Run(ctx, types.SearchConfig{MaxHashesPerSecond: 100}, types.Target{}))

	cancel()
	require.NoError(t, <-done)
}

func TestCandidatesAreDistinct(t *testing.T) {
	engine, _ := digest.New(digest.SHA256)
	w := NewWorker(0, engine, nil)
	require.NoError(t, w.reseed())

	seen := make(map[string]bool)
	for i := 0; i < 10000; i++ {
		c := string(w.nextCandidate())
		require.False(t, seen[c], "duplicate candidate %q", c)
		seen[c] = true
	}
}
