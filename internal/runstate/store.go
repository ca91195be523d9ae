// Package runstate holds the single source of truth for a healing run.
//
// All mutation funnels through the Store's methods; Update is the one entry
// point for normalized events coming from the poller and the inference
// coordinator. Consumers read deep-copied Snapshots and learn about changes
// through Subscribe.
package runstate

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hochfrequenz/heal-dash/internal/domain"
	"github.com/hochfrequenz/heal-dash/internal/score"
)

// View is the screen the dashboard shows
type View string

const (
	ViewLanding View = "landing"
	ViewRun     View = "run"
)

// InputField names a settable RunInputs field
type InputField string

const (
	FieldRepoURL    InputField = "repoUrl"
	FieldTeamName   InputField = "teamName"
	FieldLeaderName InputField = "leaderName"
	FieldMode       InputField = "mode"
)

// UIState is presentation state that has no bearing on run invariants
type UIState struct {
	View              View   `json:"view"`
	SelectedIteration *int   `json:"selectedIteration,omitempty"`
	DrawerOpen        bool   `json:"drawerOpen"`
	ErrorMessage      string `json:"errorMessage,omitempty"`
}

// Snapshot is a point-in-time copy of the store
type Snapshot struct {
	Version   uint64                 `json:"version"`
	AttemptID string                 `json:"attemptId,omitempty"`
	Inputs    domain.RunInputs       `json:"inputs"`
	Run       domain.RunState        `json:"run"`
	Summary   domain.Summary         `json:"summary"`
	Score     domain.Score           `json:"score"`
	Fixes     []domain.Fix           `json:"fixes"`
	Timeline  []domain.TimelineEntry `json:"timeline"`
	UI        UIState                `json:"ui"`
}

// Store is a mutex-guarded run state container
type Store struct {
	mu    sync.RWMutex
	state Snapshot

	subsMu sync.Mutex
	subs   map[chan struct{}]struct{}

	now   func() time.Time
	newID func() string
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source used for completedAt
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides the attempt id generator
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// New creates a store in the pre-run state
func New(opts ...Option) *Store {
	s := &Store{
		subs:  make(map[chan struct{}]struct{}),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state = Snapshot{
		Inputs:  domain.RunInputs{Mode: domain.ModeAPI},
		Run:     defaultRun(),
		Summary: defaultSummary(),
		Score:   defaultScore(),
		UI:      UIState{View: ViewLanding},
	}
	return s
}

func defaultRun() domain.RunState {
	return domain.RunState{ConnectionStatus: domain.ConnIdle, Files: []string{}}
}

func defaultSummary() domain.Summary {
	return domain.Summary{FinalStatus: domain.FinalPending}
}

func defaultScore() domain.Score {
	return domain.Score{Base: score.Base, Total: score.Base}
}

// Snapshot returns a deep copy of the current state
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// RunID returns the backend run id, or "" before the backend accepted the run
func (s *Store) RunID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Run.RunID
}

// Subscribe returns a channel that receives a value after state changes.
// Notifications coalesce: a slow reader sees one pending signal, never a
// backlog. Call the returned func to unsubscribe.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, ch)
			s.subsMu.Unlock()
		})
	}
}

func (s *Store) notify() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// mutate runs fn under the write lock and notifies subscribers when fn
// reports a change.
func (s *Store) mutate(fn func(st *Snapshot) bool) bool {
	s.mu.Lock()
	changed := fn(&s.state)
	if changed {
		s.state.Version++
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
	return changed
}

// SetInput assigns one input field. It is a no-op while a run is active.
func (s *Store) SetInput(field InputField, value string) {
	s.mutate(func(st *Snapshot) bool {
		if st.Run.IsRunning {
			return false
		}
		switch field {
		case FieldRepoURL:
			st.Inputs.RepoURL = value
		case FieldTeamName:
			st.Inputs.TeamName = value
		case FieldLeaderName:
			st.Inputs.LeaderName = value
		default:
			return false
		}
		return true
	})
}

// SetMode selects the inference mode. It is a no-op while a run is active.
func (s *Store) SetMode(mode domain.Mode) {
	s.mutate(func(st *Snapshot) bool {
		if st.Run.IsRunning {
			return false
		}
		st.Inputs.Mode = mode
		return true
	})
}

// SetInputs replaces all inputs at once. It is a no-op while a run is active.
func (s *Store) SetInputs(in domain.RunInputs) {
	s.mutate(func(st *Snapshot) bool {
		if st.Run.IsRunning {
			return false
		}
		if in.Mode == "" {
			in.Mode = domain.ModeAPI
		}
		st.Inputs = in
		return true
	})
}

// InitiateRun clears all run-scoped state and marks a new attempt as
// connecting. Call once per attempt, before the backend accepts the run.
func (s *Store) InitiateRun() string {
	var attemptID string
	s.mutate(func(st *Snapshot) bool {
		attemptID = s.newID()
		st.AttemptID = attemptID
		st.Run = defaultRun()
		st.Run.IsRunning = true
		st.Run.ConnectionStatus = domain.ConnConnecting
		st.Run.LastLog = "Initializing context..."
		st.Summary = defaultSummary()
		st.Score = defaultScore()
		st.Fixes = nil
		st.Timeline = nil
		st.UI = UIState{View: ViewRun}
		return true
	})
	return attemptID
}

// StartRun records the identifiers the backend assigned to the run
func (s *Store) StartRun(runID, branchName string) {
	s.mutate(func(st *Snapshot) bool {
		st.Run.RunID = runID
		st.Run.BranchName = branchName
		st.Run.ConnectionStatus = domain.ConnStreaming
		return true
	})
}

// AbortRun ends an attempt the backend never accepted
func (s *Store) AbortRun(message string) {
	s.mutate(func(st *Snapshot) bool {
		if st.Run.ConnectionStatus == domain.ConnCompleted {
			return false
		}
		st.Run.IsRunning = false
		st.Run.ConnectionStatus = domain.ConnIdle
		st.Run.LastLog = message
		st.UI.ErrorMessage = message
		return true
	})
}

// Update folds one event into the state. Unknown events are ignored.
func (s *Store) Update(ev Event) {
	s.mutate(func(st *Snapshot) bool {
		return st.apply(ev, s.now)
	})
}

// ApplyFor folds events only if runID is still the current run. It reports
// whether the batch was applied; results of a superseded run are dropped.
func (s *Store) ApplyFor(runID string, events ...Event) bool {
	applied := false
	s.mutate(func(st *Snapshot) bool {
		if runID == "" || st.Run.RunID != runID {
			return false
		}
		applied = true
		changed := false
		for _, ev := range events {
			if st.apply(ev, s.now) {
				changed = true
			}
		}
		return changed
	})
	return applied
}

// SelectIteration opens the detail drawer for iteration n
func (s *Store) SelectIteration(n int) {
	s.mutate(func(st *Snapshot) bool {
		st.UI.SelectedIteration = &n
		st.UI.DrawerOpen = true
		return true
	})
}

// CloseDrawer hides the iteration detail drawer
func (s *Store) CloseDrawer() {
	s.mutate(func(st *Snapshot) bool {
		if !st.UI.DrawerOpen {
			return false
		}
		st.UI.DrawerOpen = false
		return true
	})
}

// SetActiveFile focuses a file in the workspace view
func (s *Store) SetActiveFile(path string) {
	s.mutate(func(st *Snapshot) bool {
		if st.Run.ActiveFile == path {
			return false
		}
		st.Run.ActiveFile = path
		return true
	})
}

// ResetRun returns to the landing view and clears the text inputs. Fixes,
// timeline and summary of the previous run stay until the next InitiateRun.
func (s *Store) ResetRun() {
	s.mutate(func(st *Snapshot) bool {
		st.UI.View = ViewLanding
		st.Inputs.RepoURL = ""
		st.Inputs.TeamName = ""
		st.Inputs.LeaderName = ""
		return true
	})
}

func (st *Snapshot) apply(ev Event, now func() time.Time) bool {
	switch e := ev.(type) {
	case LogEvent:
		st.Run.LastLog = e.Message
		return true

	case TimelineUpdate:
		return st.applyTimeline(e)

	case FixFound:
		for _, f := range st.Fixes {
			if f.File == e.Fix.File && f.Line == e.Fix.Line {
				return false
			}
		}
		st.Fixes = append(st.Fixes, e.Fix)
		st.Summary.TotalFixes = len(st.Fixes)
		st.Run.ActiveFile = e.Fix.File
		return true

	case FilesDiscovered:
		files := uniqueFiles(e.Files)
		changed := !slices.Equal(st.Run.Files, files)
		st.Run.Files = files
		if st.Run.ActiveFile == "" && len(files) > 0 {
			st.Run.ActiveFile = files[0]
			changed = true
		}
		return changed

	case RunComplete:
		st.Run.IsRunning = false
		st.Run.ConnectionStatus = domain.ConnCompleted
		if st.Run.CompletedAt == nil {
			t := now()
			st.Run.CompletedAt = &t
		}
		st.Summary.FinalStatus = e.FinalStatus
		st.Summary.TimeTakenSeconds = e.TimeTakenSeconds
		st.Summary.CommitsCount = e.CommitsCount
		if e.TotalFailures != nil && *e.TotalFailures != 0 {
			st.Summary.TotalFailures = *e.TotalFailures
		}
		st.Score = score.Calculate(st.Summary.TimeTakenSeconds, st.Summary.CommitsCount)
		return true

	case StatusChange:
		if st.Run.ConnectionStatus == domain.ConnCompleted || st.Run.ConnectionStatus == e.Status {
			return false
		}
		st.Run.ConnectionStatus = e.Status
		return true
	}
	return false
}

// applyTimeline upserts by iteration and keeps the list ordered by iteration
// number regardless of arrival order.
func (st *Snapshot) applyTimeline(e TimelineUpdate) bool {
	if e.Iteration == 0 {
		return false
	}

	idx, found := slices.BinarySearchFunc(st.Timeline, e.Iteration, func(t domain.TimelineEntry, it int) int {
		return t.Iteration - it
	})
	if found {
		entry := &st.Timeline[idx]
		if e.Status != "" {
			entry.Status = e.Status
		}
		if !e.Timestamp.IsZero() {
			entry.Timestamp = e.Timestamp
		}
		if e.Message != "" {
			entry.Message = e.Message
		}
		if e.Duration != nil {
			entry.Duration = e.Duration
		}
		if e.RawLog != nil {
			entry.RawLog = e.RawLog
		}
	} else {
		st.Timeline = slices.Insert(st.Timeline, idx, domain.TimelineEntry{
			Iteration: e.Iteration,
			Status:    e.Status,
			Timestamp: e.Timestamp,
			Message:   e.Message,
			Duration:  e.Duration,
			RawLog:    e.RawLog,
		})
	}
	st.Summary.IterationsUsed = len(st.Timeline)
	return true
}

func uniqueFiles(files []string) []string {
	out := make([]string, 0, len(files))
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func (st Snapshot) clone() Snapshot {
	out := st
	out.Run.Files = slices.Clone(st.Run.Files)
	if st.Run.CompletedAt != nil {
		t := *st.Run.CompletedAt
		out.Run.CompletedAt = &t
	}
	out.Fixes = slices.Clone(st.Fixes)
	out.Timeline = slices.Clone(st.Timeline)
	if st.UI.SelectedIteration != nil {
		n := *st.UI.SelectedIteration
		out.UI.SelectedIteration = &n
	}
	return out
}
