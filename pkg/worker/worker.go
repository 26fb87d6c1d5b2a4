package worker

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/screa/zerobits-miner/internal/digest"
	"github.com/screa/zerobits-miner/pkg/types"
)

const (
	// DefaultStatsInterval is the wall clock cadence of stats events
	DefaultStatsInterval = time.Second

	batchesPerSecond = 50
	maxBatchSize     = 1024
	seedBytes        = 12
)

// ErrAlreadyRunning is returned by Run while another Run is active
var ErrAlreadyRunning = errors.New("search loop already running")

// Emitter receives the events of a search loop
type Emitter interface {
	Emit(types.Event)
}

// EmitterFunc adapts a function to an Emitter
type EmitterFunc func(types.Event)

// Emit calls f(e)
func (f EmitterFunc) Emit(e types.Event) { f(e) }

// Worker is the search loop of one execution unit
type Worker struct {
	id            int
	engine        digest.Engine
	emitter       Emitter
	statsInterval time.Duration

	threshold atomic.Int64 // local view of the target's leading zeros
	attempts  atomic.Uint64
	best      atomic.Pointer[types.Target]
	running   atomic.Bool

	// candidate buffer: base64 seed followed by a base 36 counter
	input   []byte
	seedLen int
	nonce   uint64
}

// NewWorker creates a new worker instance
func NewWorker(id int, engine digest.Engine, emitter Emitter) *Worker {
	return &Worker{
		id:            id,
		engine:        engine,
		emitter:       emitter,
		statsInterval: DefaultStatsInterval,
	}
}

// SetStatsInterval changes the stats cadence; call before Run
func (w *Worker) SetStatsInterval(d time.Duration) {
	if d > 0 {
		w.statsInterval = d
	}
}

// BatchSize is the number of candidates hashed between throttle waits.
// It is also the limiter burst, so a unit never exceeds its cap by more
// than one batch.
func BatchSize(maxHashesPerSecond int) int {
	n := maxHashesPerSecond / batchesPerSecond
	if n < 1 {
		return 1
	}
	if n > maxBatchSize {
		return maxBatchSize
	}
	return n
}

// Run searches until ctx is cancelled (returns nil) or the loop faults
// (returns a runtime UnitError). An invalid rate cap is rejected with an
// error event before anything is hashed.
func (w *Worker) Run(ctx context.Context, cfg types.SearchConfig, target types.Target) (err error) {
	if err := cfg.Validate(); err != nil {
		w.emit(types.Event{Kind: types.EventError, Err: err})
		return err
	}
	if !w.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer w.running.Store(false)

	if err := w.reseed(); err != nil {
		err = types.NewRuntimeError(w.id, fmt.Errorf("candidate seed: %w", err))
		w.emit(types.Event{Kind: types.EventError, Err: err})
		return err
	}
	w.SetTarget(target)

	batch := BatchSize(cfg.MaxHashesPerSecond)
	limiter := rate.NewLimiter(rate.Limit(cfg.MaxHashesPerSecond), batch)

	ticker := time.NewTicker(w.statsInterval)
	defer ticker.Stop()

	lastCount := w.attempts.Load()
	lastTime := time.Now()

	w.emit(types.Event{Kind: types.EventStarted})

	defer func() {
		if r := recover(); r != nil {
			err = types.NewRuntimeError(w.id, fmt.Errorf("digest engine %s: %v", w.engine.Name(), r))
			w.emit(types.Event{Kind: types.EventError, Err: err})
			return
		}
		w.emitStats(&lastCount, &lastTime)
		w.emit(types.Event{Kind: types.EventStopped})
	}()

	for {
		// the wait is the only blocking point and it is cancellable
		if err := limiter.WaitN(ctx, batch); err != nil {
			if ctx.Err() == nil {
				<-ctx.Done()
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		w.hashBatch(batch)

		select {
		case <-ticker.C:
			w.emitStats(&lastCount, &lastTime)
		default:
		}
	}
}

// SetTarget raises the local threshold to the target's leading zeros.
// Lower or equal targets are ignored; returns whether it was applied.
func (w *Worker) SetTarget(target types.Target) bool {
	zeros := int64(target.LeadingZeros)
	for {
		current := w.threshold.Load()
		if zeros <= current {
			return false
		}
		if w.threshold.CompareAndSwap(current, zeros) {
			return true
		}
	}
}

// Threshold returns the local view of the target's leading zeros
func (w *Worker) Threshold() int {
	return int(w.threshold.Load())
}

// Attempts returns the cumulative number of digests computed
func (w *Worker) Attempts() uint64 {
	return w.attempts.Load()
}

// Best returns the best candidate this worker has reported
func (w *Worker) Best() (types.Target, bool) {
	t := w.best.Load()
	if t == nil {
		return types.Target{}, false
	}
	return *t, true
}

// IsRunning reports whether Run is active
func (w *Worker) IsRunning() bool {
	return w.running.Load()
}

func (w *Worker) hashBatch(n int) {
	for i := 0; i < n; i++ {
		input := w.nextCandidate()
		sum := w.engine.Sum(input)
		zeros := digest.LeadingZeroBits(sum)
		if int64(zeros) > w.threshold.Load() {
			w.improve(input, sum, zeros)
		}
	}
	w.attempts.Add(uint64(n))
}

// improve raises the threshold and reports the candidate, unless a
// concurrent SetTarget already moved the threshold past it
func (w *Worker) improve(input []byte, sum digest.Digest, zeros int) bool {
	for {
		current := w.threshold.Load()
		if int64(zeros) <= current {
			return false
		}
		if w.threshold.CompareAndSwap(current, int64(zeros)) {
			t := types.Target{
				Input:        string(input),
				Digest:       sum,
				LeadingZeros: zeros,
			}
			w.best.Store(&t)
			w.emit(types.Event{Kind: types.EventImproved, Target: t})
			return true
		}
	}
}

func (w *Worker) reseed() error {
	var seed [seedBytes]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return err
	}
	w.seedLen = base64.RawURLEncoding.EncodedLen(seedBytes)
	w.input = make([]byte, w.seedLen, w.seedLen+16)
	base64.RawURLEncoding.Encode(w.input, seed[:])
	w.nonce = 0
	return nil
}

func (w *Worker) nextCandidate() []byte {
	w.nonce++
	w.input = strconv.AppendUint(w.input[:w.seedLen], w.nonce, 36)
	return w.input
}

func (w *Worker) emitStats(lastCount *uint64, lastTime *time.Time) {
	now := time.Now()
	total := w.attempts.Load()

	// Calculate rate safely
	hashRate := 0.0
	if elapsed := now.Sub(*lastTime).Seconds(); elapsed > 0 {
		hashRate = float64(total-*lastCount) / elapsed
	}
	*lastCount = total
	*lastTime = now

	w.emit(types.Event{
		Kind: types.EventStats,
		Stats: types.StatsSample{
			UnitID:      w.id,
			TotalHashes: total,
			HashRate:    hashRate,
			At:          now,
		},
	})
}

func (w *Worker) emit(e types.Event) {
	e.UnitID = w.id
	if w.emitter != nil {
		w.emitter.Emit(e)
	}
}
