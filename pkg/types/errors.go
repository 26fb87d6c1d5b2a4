package types

import (
	"errors"
	"fmt"
)

// ConfigError is an invalid run configuration, reported before any unit
// starts
type ConfigError string

func (e ConfigError) Error() string { return string(e) }

// Configuration errors
var (
	ErrInvalidUnitCount = ConfigError("unit count must be positive")
	ErrInvalidHashRate  = ConfigError("maximum hash rate must be positive")
	ErrNoModule         = ConfigError("compute module must be specified")
)

// IsConfigError reports whether err is, or wraps, a ConfigError
func IsConfigError(err error) bool {
	var c ConfigError
	return errors.As(err, &c)
}

// UnitErrorKind classifies a failure inside one execution unit
type UnitErrorKind int

// Unit failures
const (
	InitFailure    UnitErrorKind = iota // compute module failed to load
	RuntimeFailure                      // digest or search loop fault while running
)

func (k UnitErrorKind) String() string {
	switch k {
	case InitFailure:
		return "init"
	case RuntimeFailure:
		return "runtime"
	default:
		return "*unknown*"
	}
}

// UnitError is a failure isolated to a single unit
type UnitError struct {
	Kind   UnitErrorKind
	UnitID int
	Err    error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("unit %d %s error: %v", e.UnitID, e.Kind, e.Err)
}

func (e *UnitError) Unwrap() error { return e.Err }

// NewInitError wraps a compute module load failure
func NewInitError(unitID int, err error) error {
	return &UnitError{Kind: InitFailure, UnitID: unitID, Err: err}
}

// NewRuntimeError wraps a fault raised while hashing
func NewRuntimeError(unitID int, err error) error {
	return &UnitError{Kind: RuntimeFailure, UnitID: unitID, Err: err}
}

// IsInitError reports whether err is a unit initialisation failure
func IsInitError(err error) bool {
	var u *UnitError
	return errors.As(err, &u) && u.Kind == InitFailure
}

// IsRuntimeError reports whether err is a unit runtime failure
func IsRuntimeError(err error) bool {
	var u *UnitError
	return errors.As(err, &u) && u.Kind == RuntimeFailure
}
