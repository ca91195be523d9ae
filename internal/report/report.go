// Package report hands the final state of each completed run to sinks.
package report

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/hochfrequenz/heal-dash/internal/domain"
	"github.com/hochfrequenz/heal-dash/internal/runstate"
	"github.com/rs/zerolog"
)

// Report is the frozen outcome of one run attempt
type Report struct {
	AttemptID   string                 `json:"attemptId"`
	RunID       string                 `json:"runId"`
	BranchName  string                 `json:"branchName"`
	Inputs      domain.RunInputs       `json:"inputs"`
	Summary     domain.Summary         `json:"summary"`
	Score       domain.Score           `json:"score"`
	Fixes       []domain.Fix           `json:"fixes"`
	Timeline    []domain.TimelineEntry `json:"timeline"`
	Files       []string               `json:"files"`
	CompletedAt time.Time              `json:"completedAt"`
}

// FromSnapshot builds a report. ok is false unless the snapshot holds a
// completed run.
func FromSnapshot(s runstate.Snapshot) (r Report, ok bool) {
	if s.Run.ConnectionStatus != domain.ConnCompleted || s.AttemptID == "" {
		return Report{}, false
	}
	r = Report{
		AttemptID:  s.AttemptID,
		RunID:      s.Run.RunID,
		BranchName: s.Run.BranchName,
		Inputs:     s.Inputs,
		Summary:    s.Summary,
		Score:      s.Score,
		Fixes:      slices.Clone(s.Fixes),
		Timeline:   slices.Clone(s.Timeline),
		Files:      slices.Clone(s.Run.Files),
	}
	if s.Run.CompletedAt != nil {
		r.CompletedAt = *s.Run.CompletedAt
	}
	return r, true
}

// Key identifies the report in external stores: the backend run id when
// known, else the attempt id.
func (r Report) Key() string {
	if r.RunID != "" {
		return r.RunID
	}
	return r.AttemptID
}

// Sink receives completed run reports
type Sink interface {
	Name() string
	Deliver(ctx context.Context, r Report) error
}

// DeliverTimeout bounds the delivery of one report to all sinks
const DeliverTimeout = 30 * time.Second

// Reporter watches a store and delivers each completed attempt once
type Reporter struct {
	store  *runstate.Store
	sinks  []Sink
	logger zerolog.Logger

	mu       sync.Mutex
	reported map[string]struct{}
}

// NewReporter creates a reporter delivering to sinks in order
func NewReporter(store *runstate.Store, logger zerolog.Logger, sinks ...Sink) *Reporter {
	return &Reporter{
		store:    store,
		sinks:    sinks,
		logger:   logger.With().Str("component", "reporter").Logger(),
		reported: make(map[string]struct{}),
	}
}

// Run delivers reports until ctx is cancelled
func (r *Reporter) Run(ctx context.Context) error {
	changes, unsubscribe := r.store.Subscribe()
	defer unsubscribe()

	r.check(ctx)
	for {
		select {
		case <-ctx.Done():
			// A completion can land just before shutdown
			r.check(ctx)
			return nil
		case <-changes:
			r.check(ctx)
		}
	}
}

func (r *Reporter) check(ctx context.Context) {
	rep, ok := FromSnapshot(r.store.Snapshot())
	if !ok {
		return
	}

	r.mu.Lock()
	if _, done := r.reported[rep.AttemptID]; done {
		r.mu.Unlock()
		return
	}
	r.reported[rep.AttemptID] = struct{}{}
	r.mu.Unlock()

	// Sinks finish even when the caller is shutting down
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DeliverTimeout)
	defer cancel()
	r.Deliver(dctx, rep)
}

// Deliver sends rep to every sink. Sink failures are logged and do not stop
// delivery to the remaining sinks.
func (r *Reporter) Deliver(ctx context.Context, rep Report) {
	for _, s := range r.sinks {
		if err := s.Deliver(ctx, rep); err != nil {
			r.logger.Warn().Err(err).Str("sink", s.Name()).Str("attempt_id", rep.AttemptID).Msg("failed to deliver report")
			continue
		}
		r.logger.Debug().Str("sink", s.Name()).Str("attempt_id", rep.AttemptID).Msg("report delivered")
	}
}
