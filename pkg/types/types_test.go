package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/screa/zerobits-miner/internal/digest"
)

func TestNewTarget(t *testing.T) {
	d := digest.Digest{0x00, 0x00, 0x0f, 0xff}

	target := NewTarget("abc", d)
	assert.Equal(t, 20, target.LeadingZeros)
	assert.Equal(t, "abc", target.Input)
	assert.Equal(t, d.String(), target.DigestHex())
	assert.False(t, target.IsZero())
}

func TestTargetBetterThan(t *testing.T) {
	low := Target{LeadingZeros: 10}
	high := Target{LeadingZeros: 20}

	assert.True(t, high.BetterThan(low))
	assert.False(t, low.BetterThan(high))
	assert.False(t, high.BetterThan(high), "equal targets are not an improvement")
	assert.True(t, Target{}.IsZero())
	assert.False(t, high.IsZero())
}

func TestSearchConfigValidate(t *testing.T) {
	assert.NoError(t, SearchConfig{MaxHashesPerSecond: 1}.Validate())
	assert.Equal(t, ErrInvalidHashRate, SearchConfig{}.Validate())
	assert.Equal(t, ErrInvalidHashRate, SearchConfig{MaxHashesPerSecond: -5}.Validate())
}

func TestErrorClasses(t *testing.T) {
	cause := errors.New("boom")

	initErr := NewInitError(3, cause)
	assert.True(t, IsInitError(initErr))
	assert.False(t, IsRuntimeError(initErr))
	assert.True(t, errors.Is(initErr, cause))
	assert.Contains(t, initErr.Error(), "unit 3")

	runErr := fmt.Errorf("relay: %w", NewRuntimeError(1, cause))
	assert.True(t, IsRuntimeError(runErr))
	assert.False(t, IsInitError(runErr))

	assert.True(t, IsConfigError(fmt.Errorf("start: %w", ErrInvalidUnitCount)))
	assert.False(t, IsConfigError(cause))
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "hashing", StatusHashing.String())
	assert.Equal(t, "*unknown*", UnitStatus(100).String())
	assert.Equal(t, "setTarget", CommandSetTarget.String())
	assert.Equal(t, "improved", EventImproved.String())
	assert.Equal(t, "boom", Event{Kind: EventError, Err: errors.New("boom")}.Message())
	assert.Equal(t, "", Event{Kind: EventStats}.Message())
}
