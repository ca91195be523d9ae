// Package poller mirrors backend run status into the run state store.
package poller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hochfrequenz/heal-dash/internal/backend"
	"github.com/hochfrequenz/heal-dash/internal/clock"
	"github.com/hochfrequenz/heal-dash/internal/domain"
	"github.com/hochfrequenz/heal-dash/internal/runstate"
	"github.com/rs/zerolog"
)

// DefaultInterval is the status polling period
const DefaultInterval = 2 * time.Second

const seenCacheSize = 4096

// StatusClient is the subset of the backend client the poller needs
type StatusClient interface {
	Status(ctx context.Context, runID string) (*backend.StatusResponse, error)
	Results(ctx context.Context, runID string) (*backend.ResultsResponse, error)
}

// Poller follows the store: while a run is active and has a backend id it
// polls that run's status and feeds the result back as events.
type Poller struct {
	store    *runstate.Store
	client   StatusClient
	logger   zerolog.Logger
	interval time.Duration
	ticker   clock.TickerFunc
	now      func() time.Time

	mu      sync.Mutex
	armedID string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Poller
type Option func(*Poller)

// WithInterval sets the polling period
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithTicker replaces the ticker source
func WithTicker(t clock.TickerFunc) Option {
	return func(p *Poller) { p.ticker = t }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

// WithClock sets the time source for log timestamps and timeline fallbacks
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// New creates a Poller
func New(store *runstate.Store, client StatusClient, opts ...Option) *Poller {
	p := &Poller{
		store:    store,
		client:   client,
		logger:   zerolog.Nop(),
		interval: DefaultInterval,
		ticker:   clock.Real,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With().Str("component", "poller").Logger()
	return p
}

// Run supervises the polling loop until ctx is cancelled. The loop is armed
// whenever the store reports a running run with a backend id, re-armed when
// that id changes and torn down otherwise.
func (p *Poller) Run(ctx context.Context) error {
	changes, unsubscribe := p.store.Subscribe()
	defer unsubscribe()
	defer p.disarm()

	p.reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
			p.reconcile(ctx)
		}
	}
}

// ArmedRun returns the run id the loop currently polls, or ""
func (p *Poller) ArmedRun() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.armedID
}

func (p *Poller) reconcile(ctx context.Context) {
	snap := p.store.Snapshot()
	want := ""
	if snap.Run.IsRunning && snap.Run.RunID != "" {
		want = snap.Run.RunID
	}

	p.mu.Lock()
	current := p.armedID
	p.mu.Unlock()
	if want == current {
		return
	}

	p.disarm()
	if want != "" {
		p.arm(ctx, want)
	}
}

func (p *Poller) arm(parent context.Context, runID string) {
	seen, err := newSeenSet()
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to create dedup cache")
		return
	}

	ctx, cancel := context.WithCancel(parent)
	p.mu.Lock()
	p.armedID = runID
	p.cancel = cancel
	p.mu.Unlock()

	p.logger.Info().Str("run_id", runID).Msg("starting status sync")
	p.store.ApplyFor(runID, runstate.StatusChange{Status: domain.ConnStreaming})

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop(ctx, runID, seen)
	}()
}

// disarm cancels the loop and waits for it, so no poll result lands in the
// store once it returns.
func (p *Poller) disarm() {
	p.mu.Lock()
	cancel := p.cancel
	runID := p.armedID
	p.cancel = nil
	p.armedID = ""
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
	p.logger.Debug().Str("run_id", runID).Msg("status sync stopped")
}

func (p *Poller) loop(ctx context.Context, runID string, seen *seenSet) {
	ticks, stop := p.ticker(p.interval)
	defer stop()

	if p.cycle(ctx, runID, seen) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			if p.cycle(ctx, runID, seen) {
				return
			}
		}
	}
}

// cycle runs one poll and reports whether the run completed
func (p *Poller) cycle(ctx context.Context, runID string, seen *seenSet) (done bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Str("run_id", runID).Interface("panic", r).Msg("poll cycle panicked")
			done = false
		}
	}()

	status, err := p.client.Status(ctx, runID)
	if err != nil {
		switch {
		case errors.Is(err, backend.ErrNotFound):
			p.logger.Debug().Str("run_id", runID).Msg("status not available yet")
		case ctx.Err() != nil:
		default:
			p.logger.Warn().Err(err).Str("run_id", runID).Msg("polling sync error")
		}
		return false
	}

	events := p.translate(status, seen)

	if status.Terminal() {
		complete, err := p.completion(ctx, runID, domain.FinalStatus(status.Status))
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn().Err(err).Str("run_id", runID).Msg("failed to fetch results, retrying next poll")
			}
		} else {
			events = append(events, complete)
			done = true
		}
	}

	if ctx.Err() != nil || len(events) == 0 {
		return false
	}
	if !p.store.ApplyFor(runID, events...) {
		p.logger.Debug().Str("run_id", runID).Strs("events", eventKinds(events)).Msg("discarding status for superseded run")
		return true
	}
	p.logger.Debug().Str("run_id", runID).Strs("events", eventKinds(events)).Msg("applied status")
	if done {
		p.logger.Info().Str("run_id", runID).Str("status", status.Status).Msg("run complete")
	}
	return done
}

// completion fetches the run results. A missing or non-terminal final_status
// falls back to the terminal status seen in the same cycle.
func (p *Poller) completion(ctx context.Context, runID string, seen domain.FinalStatus) (runstate.RunComplete, error) {
	res, err := p.client.Results(ctx, runID)
	if err != nil {
		return runstate.RunComplete{}, err
	}

	final := domain.FinalStatus(strings.ToUpper(res.FinalStatus))
	if !final.IsTerminal() {
		p.logger.Debug().Str("run_id", runID).Str("final_status", res.FinalStatus).
			Str("status", string(seen)).Msg("results lack a terminal status, using polled status")
		final = seen
	}

	ev := runstate.RunComplete{
		FinalStatus:      final,
		TimeTakenSeconds: res.TimeTakenSeconds,
		CommitsCount:     res.TotalFixes,
	}
	if res.TotalFailures != nil && *res.TotalFailures != 0 {
		n := *res.TotalFailures
		ev.TotalFailures = &n
	}
	return ev, nil
}

// translate turns one status payload into store events, skipping fixes and
// timeline entries this arm has already emitted.
func (p *Poller) translate(st *backend.StatusResponse, seen *seenSet) []runstate.Event {
	var events []runstate.Event
	now := p.now()

	if st.CurrentStep != "" {
		events = append(events, runstate.LogEvent{
			Message:   fmt.Sprintf("Engine executing: %s...", strings.ToUpper(st.CurrentStep)),
			Timestamp: now,
		})
	}

	if len(st.SourceFiles) > 0 {
		events = append(events, runstate.FilesDiscovered{Files: st.SourceFiles})
	}

	for _, f := range st.AppliedFixes {
		key := fmt.Sprintf("%s:%d:%s", f.File, f.Line, f.BugType)
		if seen.fixes.Contains(key) {
			continue
		}
		seen.fixes.Add(key, struct{}{})
		events = append(events, runstate.FixFound{Fix: domain.Fix{
			File:          f.File,
			BugType:       domain.ParseBugType(f.BugType),
			Line:          f.Line,
			CommitMessage: f.CommitMessage,
			Description:   f.ChangesSummary,
			Status:        domain.ParseFixStatus(f.Status),
		}})
	}

	for _, it := range st.CICDTimeline {
		key := fmt.Sprintf("%d:%s", it.Iteration, it.Status)
		if seen.timeline.Contains(key) {
			continue
		}
		seen.timeline.Add(key, struct{}{})

		msg := it.Details
		if msg == "" {
			msg = fmt.Sprintf("Iteration %d complete.", it.Iteration)
		}
		events = append(events, runstate.TimelineUpdate{
			Iteration: it.Iteration,
			Status:    domain.TimelineStatus(strings.ToLower(it.Status)),
			Timestamp: parseTimestamp(it.Timestamp, now),
			Message:   msg,
			Duration:  it.Duration,
			RawLog:    it.RawLog,
		})
	}

	return events
}

func parseTimestamp(s string, fallback time.Time) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return fallback
}

type seenSet struct {
	fixes    *lru.Cache[string, struct{}]
	timeline *lru.Cache[string, struct{}]
}

func newSeenSet() (*seenSet, error) {
	fixes, err := lru.New[string, struct{}](seenCacheSize)
	if err != nil {
		return nil, err
	}
	timeline, err := lru.New[string, struct{}](seenCacheSize)
	if err != nil {
		return nil, err
	}
	return &seenSet{fixes: fixes, timeline: timeline}, nil
}

func eventKinds(events []runstate.Event) []string {
	kinds := make([]string, len(events))
	for i, ev := range events {
		kinds[i] = runstate.EventType(ev)
	}
	return kinds
}
