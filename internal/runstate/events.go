package runstate

import (
	"time"

	"github.com/hochfrequenz/heal-dash/internal/domain"
)

// Event is a normalized state change fed to Store.Update. Events are passed
// by value and the set of implementations is closed.
type Event interface {
	isEvent()
}

// LogEvent replaces the last log line
type LogEvent struct {
	Message   string
	Timestamp time.Time
}

// TimelineUpdate upserts an iteration. Zero-valued fields leave the existing
// entry's value in place.
type TimelineUpdate struct {
	Iteration int
	Status    domain.TimelineStatus
	Timestamp time.Time
	Message   string
	Duration  *float64
	RawLog    *string
}

// FixFound records a fix unless one already exists for the same file and line
type FixFound struct {
	Fix domain.Fix
}

// FilesDiscovered replaces the discovered file list
type FilesDiscovered struct {
	Files []string
}

// RunComplete is the terminal transition of a run
type RunComplete struct {
	FinalStatus      domain.FinalStatus
	TimeTakenSeconds float64
	CommitsCount     int
	// TotalFailures is nil when the backend did not report it
	TotalFailures *int
}

// StatusChange sets the connection status directly
type StatusChange struct {
	Status domain.ConnectionStatus
}

func (LogEvent) isEvent()        {}
func (TimelineUpdate) isEvent()  {}
func (FixFound) isEvent()        {}
func (FilesDiscovered) isEvent() {}
func (RunComplete) isEvent()     {}
func (StatusChange) isEvent()    {}

// EventType returns the wire name of an event kind, used in logs
func EventType(ev Event) string {
	switch ev.(type) {
	case LogEvent:
		return "log"
	case TimelineUpdate:
		return "timeline_update"
	case FixFound:
		return "fix_found"
	case FilesDiscovered:
		return "files_discovered"
	case RunComplete:
		return "run_complete"
	case StatusChange:
		return "status_change"
	default:
		return "unknown"
	}
}
