// Package display renders the results of a run: improvements as they
// happen and a board of per-unit statistics.
package display

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/screa/zerobits-miner/internal/digest"
	"github.com/screa/zerobits-miner/pkg/types"
)

// DefaultSampleTTL is how long a unit's last stats sample counts as live
const DefaultSampleTTL = 5 * time.Second

// Board records the best result and the latest stats sample of every
// unit. Samples expire, so a unit that stops reporting drops out of the
// live hash rate.
type Board struct {
	out     io.Writer
	samples *cache.Cache

	mu       sync.Mutex
	best     types.Target
	bestUnit int
	finals   map[int]types.StatsSample
	errs     map[int]error
}

// NewBoard creates a board printing improvements and errors to out, which
// may be nil
func NewBoard(out io.Writer, ttl time.Duration) *Board {
	if ttl <= 0 {
		ttl = DefaultSampleTTL
	}
	return &Board{
		out:     out,
		samples: cache.New(ttl, 2*ttl),
		finals:  make(map[int]types.StatsSample),
		errs:    make(map[int]error),
	}
}

func sampleKey(unitID int) string {
	return strconv.Itoa(unitID)
}

// Improved records a new global target
func (b *Board) Improved(unitID int, t types.Target) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t.BetterThan(b.best) {
		b.best = t
		b.bestUnit = unitID
	}
	b.printf("unit %d: %d leading zero bits %s (input: %q)\n", unitID, t.LeadingZeros, t.DigestHex(), t.Input)
}

// Stats records a unit's latest sample
func (b *Board) Stats(unitID int, s types.StatsSample) {
	b.samples.Set(sampleKey(unitID), s, cache.DefaultExpiration)

	b.mu.Lock()
	b.finals[unitID] = s
	b.mu.Unlock()
}

// UnitError records a unit failure
func (b *Board) UnitError(unitID int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.errs[unitID] = err
	b.printf("unit %d failed: %v\n", unitID, err)
}

// Reset clears the board for a new run
func (b *Board) Reset() {
	b.samples.Flush()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.best = types.Target{}
	b.bestUnit = 0
	b.finals = make(map[int]types.StatsSample)
	b.errs = make(map[int]error)
}

// Best returns the best target seen and the unit that found it
func (b *Board) Best() (int, types.Target, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bestUnit, b.best, !b.best.IsZero()
}

// Samples returns the live samples ordered by unit
func (b *Board) Samples() []types.StatsSample {
	items := b.samples.Items()
	samples := make([]types.StatsSample, 0, len(items))
	for _, item := range items {
		if s, ok := item.Object.(types.StatsSample); ok {
			samples = append(samples, s)
		}
	}
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].UnitID < samples[j].UnitID
	})
	return samples
}

// TotalRate sums the hash rate of the live samples
func (b *Board) TotalRate() float64 {
	total := 0.0
	for _, s := range b.Samples() {
		total += s.HashRate
	}
	return total
}

// Status renders the live aggregate: units reporting, their combined hash
// rate and the best result so far
func (b *Board) Status() string {
	samples := b.Samples()
	var total uint64
	for _, s := range samples {
		total += s.TotalHashes
	}
	status := fmt.Sprintf("Progress: %d units reporting, %d hashes, %.2f hashes/sec", len(samples), total, b.TotalRate())

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.best.IsZero() {
		return status + ", No result yet"
	}
	return status + fmt.Sprintf(", Best so far: %d zeros (unit %d)", b.best.LeadingZeros, b.bestUnit)
}

// Summary renders the best result and every unit's last sample, live or
// not, for the end of a run
func (b *Board) Summary() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var sb strings.Builder
	if b.best.IsZero() {
		sb.WriteString("No result found.\n")
	} else {
		fmt.Fprintf(&sb, "Best: %d leading zero bits, %d hex digits (unit %d)\n",
			b.best.LeadingZeros, digest.LeadingZeroNibbles(b.best.Digest), b.bestUnit)
		fmt.Fprintf(&sb, "Input: %s\n", b.best.Input)
		fmt.Fprintf(&sb, "Digest: %s\n", b.best.DigestHex())
	}

	ids := make([]int, 0, len(b.finals)+len(b.errs))
	seen := make(map[int]bool)
	for id := range b.finals {
		ids = append(ids, id)
		seen[id] = true
	}
	for id := range b.errs {
		if !seen[id] {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	var total uint64
	for _, id := range ids {
		if err, ok := b.errs[id]; ok {
			fmt.Fprintf(&sb, "  unit %d: failed: %v\n", id, err)
			continue
		}
		s := b.finals[id]
		total += s.TotalHashes
		fmt.Fprintf(&sb, "  unit %d: %d hashes, %.2f hashes/sec\n", id, s.TotalHashes, s.HashRate)
	}
	fmt.Fprintf(&sb, "Total: %d hashes\n", total)
	return sb.String()
}

func (b *Board) printf(format string, args ...interface{}) {
	if b.out != nil {
		fmt.Fprintf(b.out, format, args...)
	}
}
