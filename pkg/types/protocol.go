package types

import "fmt"

// CommandKind identifies an orchestrator to unit command
type CommandKind int

// Commands
const (
	CommandInit CommandKind = iota
	CommandStart
	CommandStop
	CommandSetTarget
)

func (k CommandKind) String() string {
	switch k {
	case CommandInit:
		return "init"
	case CommandStart:
		return "start"
	case CommandStop:
		return "stop"
	case CommandSetTarget:
		return "setTarget"
	default:
		return "*unknown*"
	}
}

// Command is a control message sent to an execution unit.
//
// Only the fields relevant to Kind are set: Module and UnitID for init,
// MaxHashesPerSecond for start and Target for setTarget.
type Command struct {
	Kind               CommandKind
	Module             string
	UnitID             int
	MaxHashesPerSecond int
	Target             Target
}

// InitCommand loads a compute module and assigns the unit identity
func InitCommand(module string, unitID int) Command {
	return Command{Kind: CommandInit, Module: module, UnitID: unitID}
}

// StartCommand begins hashing with a rate cap
func StartCommand(maxHashesPerSecond int) Command {
	return Command{Kind: CommandStart, MaxHashesPerSecond: maxHashesPerSecond}
}

// StopCommand requests a graceful halt
func StopCommand() Command {
	return Command{Kind: CommandStop}
}

// SetTargetCommand raises the unit's local target
func SetTargetCommand(target Target) Command {
	return Command{Kind: CommandSetTarget, Target: target}
}

// EventKind identifies a unit to orchestrator event
type EventKind int

// Events
const (
	EventInitialized EventKind = iota
	EventStarted
	EventStopped
	EventImproved
	EventStats
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventInitialized:
		return "initialized"
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventImproved:
		return "improved"
	case EventStats:
		return "stats"
	case EventError:
		return "error"
	default:
		return "*unknown*"
	}
}

// Event is a message emitted by an execution unit. RunID is stamped by the
// bridge so the orchestrator can discard events from a superseded pool.
type Event struct {
	Kind   EventKind
	RunID  string
	UnitID int
	Target Target      // improved
	Stats  StatsSample // stats
	Err    error       // error
}

// Message returns the error message of an error event
func (e Event) Message() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e Event) String() string {
	switch e.Kind {
	case EventImproved:
		return fmt.Sprintf("unit %d improved: %d zeros %s (input: %q)", e.UnitID, e.Target.LeadingZeros, e.Target.DigestHex(), e.Target.Input)
	case EventStats:
		return fmt.Sprintf("unit %d stats: %d hashes, %.2f H/s", e.UnitID, e.Stats.TotalHashes, e.Stats.HashRate)
	case EventError:
		return fmt.Sprintf("unit %d error: %s", e.UnitID, e.Message())
	default:
		return fmt.Sprintf("unit %d %s", e.UnitID, e.Kind)
	}
}
