package domain

import "strings"

// Mode selects where inference for a run happens
type Mode string

const (
	ModeAPI              Mode = "api"
	ModeBrowserInference Mode = "browser-inference"
)

// ParseMode accepts the canonical mode names plus the "webllm" and "local"
// aliases used by the backend and older configs.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "api", "server":
		return ModeAPI, true
	case "browser-inference", "webllm", "local":
		return ModeBrowserInference, true
	default:
		return "", false
	}
}

// WireValue returns the mode string the healing backend expects
func (m Mode) WireValue() string {
	if m == ModeBrowserInference {
		return "webllm"
	}
	return "api"
}

// ConnectionStatus tracks the client's view of the backend link
type ConnectionStatus string

const (
	ConnIdle       ConnectionStatus = "idle"
	ConnConnecting ConnectionStatus = "connecting"
	ConnStreaming  ConnectionStatus = "streaming"
	ConnCompleted  ConnectionStatus = "completed"
)

// FinalStatus is the outcome reported by the backend when a run ends
type FinalStatus string

const (
	FinalPending FinalStatus = "PENDING"
	FinalPassed  FinalStatus = "PASSED"
	FinalFailed  FinalStatus = "FAILED"
	FinalError   FinalStatus = "ERROR"
)

// IsTerminal reports whether the status ends a run
func (s FinalStatus) IsTerminal() bool {
	switch s {
	case FinalPassed, FinalFailed, FinalError:
		return true
	}
	return false
}

// BugType classifies a fix
type BugType string

const (
	BugSyntax      BugType = "SYNTAX"
	BugLogic       BugType = "LOGIC"
	BugImport      BugType = "IMPORT"
	BugTypeError   BugType = "TYPE_ERROR"
	BugLinting     BugType = "LINTING"
	BugIndentation BugType = "INDENTATION"
	BugUnknown     BugType = "UNKNOWN"
)

// ParseBugType maps backend labels onto the known bug types
func ParseBugType(s string) BugType {
	switch t := BugType(strings.ToUpper(strings.TrimSpace(s))); t {
	case BugSyntax, BugLogic, BugImport, BugTypeError, BugLinting, BugIndentation:
		return t
	case "TYPE":
		return BugTypeError
	default:
		return BugUnknown
	}
}

// FixStatus records whether the backend managed to apply a fix
type FixStatus string

const (
	FixFixed  FixStatus = "Fixed"
	FixFailed FixStatus = "Failed"
)

// ParseFixStatus is lenient about case; anything unrecognised counts as failed
func ParseFixStatus(s string) FixStatus {
	if strings.EqualFold(strings.TrimSpace(s), "fixed") {
		return FixFixed
	}
	return FixFailed
}

// TimelineStatus is the outcome of one CI iteration
type TimelineStatus string

const (
	IterationPassed TimelineStatus = "passed"
	IterationFailed TimelineStatus = "failed"
)

// TaskType selects the system prompt for an inference task
type TaskType string

const (
	TaskErrorParse  TaskType = "error_parse"
	TaskFixGenerate TaskType = "fix_generate"
)
