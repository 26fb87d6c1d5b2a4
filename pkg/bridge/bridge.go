// Package bridge hosts one search loop in its own execution context and
// translates between the orchestrator's command/event protocol and the
// loop's direct calls.
//
// Each bridge runs a control goroutine that owns all unit state; the search
// loop runs in a second goroutine. Commands are processed in FIFO order.
// start and setTarget commands that arrive before the compute module has
// loaded are queued and replayed once it is ready.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/screa/zerobits-miner/internal/digest"
	"github.com/screa/zerobits-miner/internal/logger"
	"github.com/screa/zerobits-miner/pkg/types"
	"github.com/screa/zerobits-miner/pkg/worker"
)

const (
	// DefaultGracePeriod bounds how long Terminate waits for a graceful stop
	DefaultGracePeriod = 250 * time.Millisecond

	// the global target rises at most once per digest bit in a run, so
	// rebroadcasts plus init and start always fit
	inboxSize = 2 * digest.Size * 8
)

// ErrTerminated is returned when sending to a terminated unit
var ErrTerminated = errors.New("execution unit terminated")

// Loader supplies the digest engine for a compute module path
type Loader interface {
	Load(ctx context.Context, path string) (digest.Engine, error)
}

// LoaderFunc adapts a function to a Loader
type LoaderFunc func(ctx context.Context, path string) (digest.Engine, error)

// Load calls f(ctx, path)
func (f LoaderFunc) Load(ctx context.Context, path string) (digest.Engine, error) {
	return f(ctx, path)
}

// Config holds everything a bridge needs at creation
type Config struct {
	ID            int
	RunID         string
	Loader        Loader
	Out           chan<- types.Event
	Log           *logger.Logger
	StatsInterval time.Duration // zero selects worker.DefaultStatsInterval
}

type request struct {
	cmd types.Command
	ack chan struct{} // stop only: closed once the search loop is idle
}

type loadResult struct {
	engine digest.Engine
	err    error
}

// Bridge is one execution unit
type Bridge struct {
	runID         string
	loader        Loader
	log           *logger.Logger
	out           chan<- types.Event
	statsInterval time.Duration

	inbox  chan request
	dead   chan struct{}
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	mu         sync.Mutex
	terminated bool

	worker atomic.Pointer[worker.Worker]

	// owned by the control goroutine
	unitID     int
	status     types.UnitStatus
	pending    []types.Command
	target     types.Target
	loaded     chan loadResult
	loopDone   chan error
	loopCancel context.CancelFunc
	nextStart  *types.Command
	acks       []chan struct{}
}

// New creates a unit and starts its control goroutine
func New(c Config) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		runID:         c.RunID,
		loader:        c.Loader,
		log:           c.Log,
		out:           c.Out,
		statsInterval: c.StatsInterval,
		inbox:         make(chan request, inboxSize),
		dead:          make(chan struct{}),
		done:          make(chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
		unitID:        c.ID,
		status:        types.StatusCreated,
	}
	go b.run()
	return b
}

// Send queues a command for the unit
func (b *Bridge) Send(cmd types.Command) error {
	return b.send(request{cmd: cmd}, nil)
}

func (b *Bridge) send(req request, timeout <-chan time.Time) error {
	select {
	case <-b.dead:
		return ErrTerminated
	default:
	}
	select {
	case b.inbox <- req:
		return nil
	case <-b.dead:
		return ErrTerminated
	case <-timeout:
		return fmt.Errorf("unit %d inbox full", b.unitID)
	}
}

// Terminate stops the unit, waiting at most grace for the search loop to
// exit before cancelling it outright. After Terminate returns the unit
// never emits another event, even if its compute module is hung.
func (b *Bridge) Terminate(grace time.Duration) {
	timer := time.NewTimer(grace)
	defer timer.Stop()

	ack := make(chan struct{})
	if err := b.send(request{cmd: types.StopCommand(), ack: ack}, timer.C); err == nil {
		select {
		case <-ack:
		case <-timer.C:
			b.log.Warnf("did not stop within %v, terminating", grace)
		}
	}

	b.once.Do(func() { close(b.dead) })
	b.mu.Lock()
	b.terminated = true
	b.mu.Unlock()

	b.cancel()
	<-b.done
}

// Done is closed when the control goroutine has exited
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Threshold returns the unit's local view of the target's leading zeros
func (b *Bridge) Threshold() int {
	if w := b.worker.Load(); w != nil {
		return w.Threshold()
	}
	return 0
}

// Attempts returns the unit's cumulative digest count
func (b *Bridge) Attempts() uint64 {
	if w := b.worker.Load(); w != nil {
		return w.Attempts()
	}
	return 0
}

// Emit relays an event to the orchestrator. It is also the search loop's
// emitter, so the events of one unit share a single FIFO path.
func (b *Bridge) Emit(e types.Event) {
	e.RunID = b.runID

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.terminated {
		return
	}
	select {
	case b.out <- e:
	case <-b.dead:
	}
}

func (b *Bridge) emit(kind types.EventKind, err error) {
	b.Emit(types.Event{Kind: kind, UnitID: b.unitID, Err: err})
}

// control goroutine
func (b *Bridge) run() {
	defer close(b.done)

	for {
		select {
		case <-b.ctx.Done():
			if b.loopCancel != nil {
				b.loopCancel()
			}
			return
		case req := <-b.inbox:
			b.handle(req)
		case res := <-b.loaded:
			b.loaded = nil
			b.initialised(res)
		case err := <-b.loopDone:
			b.loopExited(err)
		}
	}
}

func (b *Bridge) handle(req request) {
	cmd := req.cmd
	b.log.Debugf("command: %s (status: %s)", cmd.Kind, b.status)

	switch cmd.Kind {
	case types.CommandInit:
		b.init(cmd)

	case types.CommandStart:
		switch b.status {
		case types.StatusCreated, types.StatusInitializing:
			b.pending = append(b.pending, cmd)
		case types.StatusErrored:
			b.log.Warnf("start ignored: unit has failed")
		default:
			b.start(cmd)
		}

	case types.CommandSetTarget:
		switch b.status {
		case types.StatusCreated, types.StatusInitializing:
			b.pending = append(b.pending, cmd)
		default:
			b.setTarget(cmd.Target)
		}

	case types.CommandStop:
		if req.ack != nil {
			b.acks = append(b.acks, req.ack)
		}
		b.stop()

	default:
		b.log.Warnf("unknown command: %d", cmd.Kind)
	}
}

func (b *Bridge) init(cmd types.Command) {
	if b.status != types.StatusCreated {
		b.log.Warnf("init ignored: status is %s", b.status)
		return
	}
	b.unitID = cmd.UnitID
	b.status = types.StatusInitializing
	b.log.Infof("loading compute module: %q", cmd.Module)

	loaded := make(chan loadResult, 1)
	b.loaded = loaded
	go func(ctx context.Context, path string) {
		e, err := b.loader.Load(ctx, path)
		loaded <- loadResult{engine: e, err: err}
	}(b.ctx, cmd.Module)
}

func (b *Bridge) initialised(res loadResult) {
	if res.err != nil {
		b.status = types.StatusErrored
		b.pending = nil
		err := types.NewInitError(b.unitID, res.err)
		b.log.Errorf("%v", err)
		b.emit(types.EventError, err)
		return
	}

	w := worker.NewWorker(b.unitID, res.engine, b)
	w.SetStatsInterval(b.statsInterval)
	b.worker.Store(w)
	b.status = types.StatusReady
	b.log.Infof("compute module ready: %s", res.engine.Name())
	b.emit(types.EventInitialized, nil)

	// replay in arrival order
	pending := b.pending
	b.pending = nil
	for _, cmd := range pending {
		b.handle(request{cmd: cmd})
	}
}

func (b *Bridge) start(cmd types.Command) {
	if b.status == types.StatusHashing {
		// a new start supersedes the running search
		b.nextStart = &cmd
		b.loopCancel()
		return
	}

	w := b.worker.Load()
	ctx, cancel := context.WithCancel(b.ctx)
	done := make(chan error, 1)
	b.loopCancel = cancel
	b.loopDone = done
	b.status = types.StatusHashing

	cfg := types.SearchConfig{MaxHashesPerSecond: cmd.MaxHashesPerSecond}
	target := b.target
	b.log.Infof("start: max %d H/s, target %d zeros", cfg.MaxHashesPerSecond, target.LeadingZeros)
	go func() {
		done <- w.Run(ctx, cfg, target)
	}()
}

// setTarget applies a broadcast target. The zero count is recomputed from
// the digest, never taken from the command.
func (b *Bridge) setTarget(t types.Target) {
	t = types.NewTarget(t.Input, t.Digest)
	if t.BetterThan(b.target) {
		b.target = t
	}
	if w := b.worker.Load(); w != nil && w.SetTarget(t) {
		b.log.Debugf("target raised to %d zeros", t.LeadingZeros)
	}
}

func (b *Bridge) stop() {
	b.nextStart = nil

	switch b.status {
	case types.StatusCreated, types.StatusInitializing:
		// keep queued targets, drop queued starts
		kept := b.pending[:0]
		for _, cmd := range b.pending {
			if cmd.Kind != types.CommandStart {
				kept = append(kept, cmd)
			}
		}
		b.pending = kept
		b.emit(types.EventStopped, nil)
	case types.StatusHashing:
		// the search loop emits stopped on exit; acks wait for it
		b.loopCancel()
		return
	case types.StatusErrored:
	default:
		b.status = types.StatusStopped
		b.emit(types.EventStopped, nil)
	}
	b.releaseAcks()
}

func (b *Bridge) loopExited(err error) {
	b.loopCancel()
	b.loopCancel = nil
	b.loopDone = nil

	switch {
	case types.IsRuntimeError(err):
		b.status = types.StatusErrored
		b.nextStart = nil
		b.log.Errorf("search loop failed: %v", err)
	case err != nil:
		// rejected start, the unit is still usable
		b.status = types.StatusReady
		b.log.Warnf("search loop rejected start: %v", err)
	default:
		b.status = types.StatusStopped
		b.log.Info("search loop stopped")
	}

	b.releaseAcks()

	if next := b.nextStart; next != nil && b.status != types.StatusErrored {
		b.nextStart = nil
		b.start(*next)
	}
}

func (b *Bridge) releaseAcks() {
	for _, ack := range b.acks {
		close(ack)
	}
	b.acks = nil
}
