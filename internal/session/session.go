// Package session launches healing runs and drives the loops that follow
// them.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hochfrequenz/heal-dash/internal/backend"
	"github.com/hochfrequenz/heal-dash/internal/domain"
	"github.com/hochfrequenz/heal-dash/internal/runstate"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrRunActive is returned when a launch is attempted during a run
var ErrRunActive = errors.New("a healing run is already in progress")

// Starter asks the backend to start a run
type Starter interface {
	StartRun(ctx context.Context, in domain.RunInputs) (backend.RunHandle, error)
}

// Loop is a long-running component driven by the store
type Loop interface {
	Run(ctx context.Context) error
}

// Session ties a store to its backend and loops
type Session struct {
	store   *runstate.Store
	starter Starter
	loops   []Loop
	logger  zerolog.Logger

	launchMu sync.Mutex
}

// New creates a session. loops typically are the poller, the inference
// coordinator and the reporter.
func New(store *runstate.Store, starter Starter, logger zerolog.Logger, loops ...Loop) *Session {
	return &Session{
		store:   store,
		starter: starter,
		loops:   loops,
		logger:  logger.With().Str("component", "session").Logger(),
	}
}

// Store returns the session's store
func (s *Session) Store() *runstate.Store {
	return s.store
}

// Run drives every loop until ctx is cancelled or one of them fails
func (s *Session) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, l := range s.loops {
		g.Go(func() error {
			return l.Run(ctx)
		})
	}
	return g.Wait()
}

// Launch validates in, resets the store for a new attempt and asks the
// backend to start it. It returns the attempt id. Validation errors leave
// the store untouched; a backend refusal aborts the attempt.
func (s *Session) Launch(ctx context.Context, in domain.RunInputs) (string, error) {
	if err := runstate.ValidateInputs(in); err != nil {
		return "", err
	}
	in.Mode, _ = domain.ParseMode(string(in.Mode))

	s.launchMu.Lock()
	defer s.launchMu.Unlock()

	if s.store.Snapshot().Run.IsRunning {
		return "", ErrRunActive
	}

	s.store.SetInputs(in)
	attemptID := s.store.InitiateRun()
	s.logger.Info().Str("attempt_id", attemptID).Str("repo", in.RepoURL).Str("mode", string(in.Mode)).Msg("launching run")

	handle, err := s.starter.StartRun(ctx, in)
	if err != nil {
		s.store.AbortRun(err.Error())
		s.logger.Error().Err(err).Str("attempt_id", attemptID).Msg("backend refused run")
		return attemptID, err
	}

	s.store.StartRun(handle.RunID, handle.BranchName)
	s.logger.Info().Str("attempt_id", attemptID).Str("run_id", handle.RunID).Str("branch", handle.BranchName).Msg("run started")
	return attemptID, nil
}

// Await blocks until the attempt completes or is aborted and returns the
// final snapshot.
func (s *Session) Await(ctx context.Context, attemptID string) (runstate.Snapshot, error) {
	changes, unsubscribe := s.store.Subscribe()
	defer unsubscribe()

	for {
		snap := s.store.Snapshot()
		if snap.AttemptID != attemptID {
			return snap, fmt.Errorf("attempt %s was superseded by %s", attemptID, snap.AttemptID)
		}
		if snap.Run.ConnectionStatus == domain.ConnCompleted {
			return snap, nil
		}
		if !snap.Run.IsRunning {
			return snap, fmt.Errorf("attempt %s aborted: %s", attemptID, snap.UI.ErrorMessage)
		}

		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-changes:
		}
	}
}

// LaunchAndAwait starts a run and waits for its outcome
func (s *Session) LaunchAndAwait(ctx context.Context, in domain.RunInputs) (runstate.Snapshot, error) {
	attemptID, err := s.Launch(ctx, in)
	if err != nil {
		return s.store.Snapshot(), err
	}
	return s.Await(ctx, attemptID)
}
