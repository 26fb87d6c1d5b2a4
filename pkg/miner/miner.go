package miner

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/screa/zerobits-miner/internal/digest"
	"github.com/screa/zerobits-miner/internal/logger"
	"github.com/screa/zerobits-miner/pkg/bridge"
	"github.com/screa/zerobits-miner/pkg/types"
)

const eventBufferSize = 1024

// ErrClosed is returned by operations on a closed miner
var ErrClosed = errors.New("miner closed")

// Display receives the results of a run. Calls are made from the miner's
// event loop and must not block.
type Display interface {
	Improved(unitID int, target types.Target)
	Stats(unitID int, sample types.StatsSample)
	UnitError(unitID int, err error)
}

// Option configures a Miner
type Option func(*Miner)

// WithLoader sets the compute module loader used by every unit
func WithLoader(l bridge.Loader) Option {
	return func(m *Miner) { m.loader = l }
}

// WithDisplay sets the display collaborator
func WithDisplay(d Display) Option {
	return func(m *Miner) { m.display = d }
}

// WithGracePeriod bounds how long StopRun waits for each unit
func WithGracePeriod(d time.Duration) Option {
	return func(m *Miner) { m.grace = d }
}

// WithStatsInterval sets the stats cadence of every unit
func WithStatsInterval(d time.Duration) Option {
	return func(m *Miner) { m.statsInterval = d }
}

// WithProgressInterval enables a periodic progress log line
func WithProgressInterval(d time.Duration) Option {
	return func(m *Miner) { m.progressInterval = d }
}

// Miner coordinates a pool of execution units. All pool state and the
// global target are owned by a single event loop goroutine.
type Miner struct {
	log              *logger.Logger
	loader           bridge.Loader
	display          Display
	grace            time.Duration
	statsInterval    time.Duration
	progressInterval time.Duration

	// serialises StartRun, StopRun and Close
	runMu sync.Mutex

	events    chan types.Event
	requests  chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// owned by the event loop
	runID   string
	pool    []*bridge.Bridge
	units   []types.ExecutionUnit
	best    types.Target
	started time.Time
}

// NewMiner creates a new miner and starts its event loop
func NewMiner(log *logger.Logger, opts ...Option) *Miner {
	m := &Miner{
		log:      log,
		loader:   digest.Loader{},
		grace:    bridge.DefaultGracePeriod,
		events:   make(chan types.Event, eventBufferSize),
		requests: make(chan func()),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.display == nil {
		m.display = logDisplay{log: log}
	}
	go m.loop()
	return m
}

// StartRun validates the request, tears down any prior pool and starts
// threadCount units searching with modulePath at maxHashesPerSecond each
func (m *Miner) StartRun(threadCount int, modulePath string, maxHashesPerSecond int) error {
	if threadCount <= 0 {
		return types.ErrInvalidUnitCount
	}
	if err := (types.SearchConfig{MaxHashesPerSecond: maxHashesPerSecond}).Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(modulePath) == "" {
		return types.ErrNoModule
	}

	m.runMu.Lock()
	defer m.runMu.Unlock()

	if err := m.stopRun(); err != nil {
		return err
	}

	runID := uuid.New().String()
	pool := make([]*bridge.Bridge, threadCount)
	for i := range pool {
		var unitLog *logger.Logger
		if m.log != nil {
			unitLog = logger.New(fmt.Sprintf("unit-%d", i))
		}
		pool[i] = bridge.New(bridge.Config{
			ID:            i,
			RunID:         runID,
			Loader:        m.loader,
			Out:           m.events,
			Log:           unitLog,
			StatsInterval: m.statsInterval,
		})
	}

	err := m.do(func() {
		m.runID = runID
		m.pool = pool
		m.best = types.Target{}
		m.started = time.Now()
		m.units = make([]types.ExecutionUnit, threadCount)
		for i := range m.units {
			m.units[i] = types.ExecutionUnit{ID: i, Status: types.StatusCreated}
		}
	})
	if err != nil {
		terminateAll(pool, 0)
		return err
	}

	m.log.Infof("run %s: %d units, module %q, max %d H/s per unit", runID, threadCount, modulePath, maxHashesPerSecond)
	sent := make([]int, 0, len(pool))
	for i, b := range pool {
		if err := b.Send(types.InitCommand(modulePath, i)); err != nil {
			m.log.Errorf("unit %d init: %v", i, err)
			continue
		}
		sent = append(sent, i)
		if err := b.Send(types.StartCommand(maxHashesPerSecond)); err != nil {
			m.log.Errorf("unit %d start: %v", i, err)
		}
	}

	// events that already moved a unit on take precedence
	return m.do(func() {
		if m.runID != runID {
			return
		}
		for _, i := range sent {
			if m.units[i].Status == types.StatusCreated {
				m.units[i].Status = types.StatusInitializing
			}
		}
	})
}

// StopRun stops and terminates every unit of the current pool, then
// records their final events. It is a no-op without a pool.
func (m *Miner) StopRun() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.stopRun()
}

func (m *Miner) stopRun() error {
	var pool []*bridge.Bridge
	var runID string
	if err := m.do(func() { pool, runID = m.pool, m.runID }); err != nil {
		return err
	}
	if len(pool) == 0 {
		return nil
	}

	// the event loop keeps draining while units shut down
	terminateAll(pool, m.grace)

	return m.do(func() {
		m.drain()
		for i := range m.units {
			if m.units[i].Status != types.StatusErrored {
				m.units[i].Status = types.StatusStopped
			}
		}
		m.pool = nil
		m.runID = ""
		m.log.Infof("run %s stopped after %v, best: %d zeros", runID, time.Since(m.started).Round(time.Millisecond), m.best.LeadingZeros)
	})
}

func terminateAll(pool []*bridge.Bridge, grace time.Duration) {
	var wg sync.WaitGroup
	for _, b := range pool {
		wg.Add(1)
		go func(b *bridge.Bridge) {
			defer wg.Done()
			b.Terminate(grace)
		}(b)
	}
	wg.Wait()
}

// Close stops any run and the event loop
func (m *Miner) Close() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	err := m.stopRun()
	if errors.Is(err, ErrClosed) {
		err = nil
	}
	m.closeOnce.Do(func() { close(m.quit) })
	<-m.done
	return err
}

// Best returns the global target of the current or last run
func (m *Miner) Best() types.Target {
	var t types.Target
	_ = m.do(func() { t = m.best })
	return t
}

// Units returns a snapshot of the units of the current or last run
func (m *Miner) Units() []types.ExecutionUnit {
	var units []types.ExecutionUnit
	_ = m.do(func() {
		units = append([]types.ExecutionUnit(nil), m.units...)
	})
	return units
}

// RunID returns the id of the current run, empty when idle
func (m *Miner) RunID() string {
	var id string
	_ = m.do(func() { id = m.runID })
	return id
}

// TotalHashRate sums the most recent hash rate of every unit
func (m *Miner) TotalHashRate() float64 {
	var total float64
	_ = m.do(func() { total = m.totalHashRate() })
	return total
}

func (m *Miner) totalHashRate() float64 {
	total := 0.0
	for _, u := range m.units {
		total += u.Stats.HashRate
	}
	return total
}

// do runs fn on the event loop and waits for it to finish
func (m *Miner) do(fn func()) error {
	ran := make(chan struct{})
	select {
	case m.requests <- func() { fn(); close(ran) }:
	case <-m.done:
		return ErrClosed
	}
	<-ran
	return nil
}

func (m *Miner) loop() {
	defer close(m.done)

	var progress <-chan time.Time
	if m.progressInterval > 0 {
		ticker := time.NewTicker(m.progressInterval)
		defer ticker.Stop()
		progress = ticker.C
	}

	for {
		select {
		case <-m.quit:
			return
		case e := <-m.events:
			m.handle(e)
		case fn := <-m.requests:
			fn()
		case <-progress:
			m.progress()
		}
	}
}

// drain handles every event already queued
func (m *Miner) drain() {
	for {
		select {
		case e := <-m.events:
			m.handle(e)
		default:
			return
		}
	}
}

func (m *Miner) handle(e types.Event) {
	if m.runID == "" || e.RunID != m.runID {
		m.log.Debugf("discarding event from run %q: %s", e.RunID, e)
		return
	}
	if e.UnitID < 0 || e.UnitID >= len(m.units) {
		m.log.Warnf("event from unknown unit: %s", e)
		return
	}
	u := &m.units[e.UnitID]

	switch e.Kind {
	case types.EventInitialized:
		u.Status = types.StatusReady
	case types.EventStarted:
		u.Status = types.StatusHashing
	case types.EventStopped:
		if u.Status != types.StatusErrored {
			u.Status = types.StatusStopped
		}
	case types.EventImproved:
		m.improved(e.UnitID, e.Target)
	case types.EventStats:
		u.Stats = e.Stats
		m.display.Stats(e.UnitID, e.Stats)
	case types.EventError:
		u.Err = e.Err
		if types.IsInitError(e.Err) || types.IsRuntimeError(e.Err) {
			u.Status = types.StatusErrored
		}
		m.log.Errorf("unit %d: %v", e.UnitID, e.Err)
		m.display.UnitError(e.UnitID, e.Err)
	}
}

// improved updates the global target and rebroadcasts it when the
// candidate is strictly better
func (m *Miner) improved(unitID int, t types.Target) {
	if !t.BetterThan(m.best) {
		return
	}
	m.best = t
	m.log.Infof("unit %d: new best %d zeros %s (input: %q)", unitID, t.LeadingZeros, t.DigestHex(), t.Input)

	for i, b := range m.pool {
		err := b.Send(types.SetTargetCommand(t))
		if err != nil && !errors.Is(err, bridge.ErrTerminated) {
			m.log.Warnf("unit %d setTarget: %v", i, err)
		}
	}
	m.display.Improved(unitID, t)
}

// progress logs the run's totals
func (m *Miner) progress() {
	if m.runID == "" {
		return
	}
	var total uint64
	for _, u := range m.units {
		total += u.Stats.TotalHashes
	}
	rate := m.totalHashRate()

	if m.best.LeadingZeros > 0 {
		m.log.Infof("Progress: %d hashes, %.2f hashes/sec, Best so far: %d zeros %s (input: %q)",
			total, rate, m.best.LeadingZeros, m.best.DigestHex(), m.best.Input)
	} else {
		m.log.Infof("Progress: %d hashes, %.2f hashes/sec, No result yet", total, rate)
	}
}

// logDisplay reports through the miner's logger
type logDisplay struct {
	log *logger.Logger
}

func (d logDisplay) Improved(unitID int, t types.Target) {
	d.log.Infof("improved: unit %d, %d zeros", unitID, t.LeadingZeros)
}

func (d logDisplay) Stats(unitID int, s types.StatsSample) {
	d.log.Debugf("stats: unit %d, %d hashes, %.2f H/s", unitID, s.TotalHashes, s.HashRate)
}

func (d logDisplay) UnitError(unitID int, err error) {
	d.log.Warnf("unit %d failed: %v", unitID, err)
}
