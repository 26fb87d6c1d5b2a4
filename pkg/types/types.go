package types

import (
	"time"

	"github.com/screa/zerobits-miner/internal/digest"
)

// Target is a candidate input paired with its digest and leading zero
// count. As the global target it is the best result known to a run; the
// zero value means no result yet.
type Target struct {
	Input        string
	Digest       digest.Digest
	LeadingZeros int
}

// NewTarget builds a target from an already computed digest
func NewTarget(input string, d digest.Digest) Target {
	return Target{
		Input:        input,
		Digest:       d,
		LeadingZeros: digest.LeadingZeroBits(d),
	}
}

// DigestHex returns the digest in hex
func (t Target) DigestHex() string {
	return t.Digest.String()
}

// IsZero reports whether the target holds no result
func (t Target) IsZero() bool {
	return t.LeadingZeros == 0 && t.Input == "" && t.Digest.IsZero()
}

// BetterThan reports whether t has strictly more leading zeros than other
func (t Target) BetterThan(other Target) bool {
	return t.LeadingZeros > other.LeadingZeros
}

// SearchConfig is the per-start configuration of a search loop
type SearchConfig struct {
	MaxHashesPerSecond int
}

// Validate rejects a missing or negative rate cap
func (c SearchConfig) Validate() error {
	if c.MaxHashesPerSecond <= 0 {
		return ErrInvalidHashRate
	}
	return nil
}

// StatsSample is a periodic throughput sample from one unit
type StatsSample struct {
	UnitID      int
	TotalHashes uint64
	HashRate    float64 // hashes/sec over the preceding interval
	At          time.Time
}

// UnitStatus is the lifecycle status of an execution unit
type UnitStatus int

// Unit statuses
const (
	StatusCreated UnitStatus = iota
	StatusInitializing
	StatusReady
	StatusHashing
	StatusStopped
	StatusErrored
)

func (s UnitStatus) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusInitializing:
		return "initializing"
	case StatusReady:
		return "ready"
	case StatusHashing:
		return "hashing"
	case StatusStopped:
		return "stopped"
	case StatusErrored:
		return "errored"
	default:
		return "*unknown*"
	}
}

// ExecutionUnit is the orchestrator's record of one unit in a pool
type ExecutionUnit struct {
	ID     int
	Status UnitStatus
	Stats  StatsSample
	Err    error
}
