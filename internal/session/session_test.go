package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hochfrequenz/heal-dash/internal/backend"
	"github.com/hochfrequenz/heal-dash/internal/domain"
	"github.com/hochfrequenz/heal-dash/internal/runstate"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStarter struct {
	calls atomic.Int32
	err   error
}

func (f *fakeStarter) StartRun(_ context.Context, in domain.RunInputs) (backend.RunHandle, error) {
	f.calls.Add(1)
	if f.err != nil {
		return backend.RunHandle{}, f.err
	}
	return backend.RunHandle{RunID: "run-1", BranchName: in.BranchName()}, nil
}

var validInputs = domain.RunInputs{
	RepoURL:    "https://github.com/acme/widgets",
	TeamName:   "Rift",
	LeaderName: "Lead",
}

func TestLaunch(t *testing.T) {
	store := runstate.New()
	starter := &fakeStarter{}
	s := New(store, starter, zerolog.Nop())

	attempt, err := s.Launch(context.Background(), validInputs)
	require.NoError(t, err)

	snap := store.Snapshot()
	assert.Equal(t, attempt, snap.AttemptID)
	assert.Equal(t, "run-1", snap.Run.RunID)
	assert.Equal(t, "RIFT_LEAD_AI_Fix", snap.Run.BranchName)
	assert.Equal(t, domain.ConnStreaming, snap.Run.ConnectionStatus)
	assert.Equal(t, domain.ModeAPI, snap.Inputs.Mode)

	_, err = s.Launch(context.Background(), validInputs)
	assert.ErrorIs(t, err, ErrRunActive)
	assert.Equal(t, int32(1), starter.calls.Load())
}

func TestLaunch_ValidationLeavesStoreUntouched(t *testing.T) {
	store := runstate.New()
	starter := &fakeStarter{}
	s := New(store, starter, zerolog.Nop())
	before := store.Snapshot()

	_, err := s.Launch(context.Background(), domain.RunInputs{RepoURL: "not a url"})
	var verr *runstate.ValidationError
	require.ErrorAs(t, err, &verr)

	assert.Equal(t, before, store.Snapshot())
	assert.Equal(t, int32(0), starter.calls.Load())
}

func TestLaunch_BackendRefusalAborts(t *testing.T) {
	store := runstate.New()
	s := New(store, &fakeStarter{err: errors.New("repository is private")}, zerolog.Nop())

	_, err := s.Launch(context.Background(), validInputs)
	require.Error(t, err)

	snap := store.Snapshot()
	assert.False(t, snap.Run.IsRunning)
	assert.Equal(t, domain.ConnIdle, snap.Run.ConnectionStatus)
	assert.Equal(t, "repository is private", snap.UI.ErrorMessage)
}

func TestLaunchAndAwait(t *testing.T) {
	store := runstate.New()
	s := New(store, &fakeStarter{}, zerolog.Nop())

	go func() {
		for !store.ApplyFor("run-1", runstate.RunComplete{FinalStatus: domain.FinalPassed, TimeTakenSeconds: 10}) {
			time.Sleep(time.Millisecond)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := s.LaunchAndAwait(ctx, validInputs)
	require.NoError(t, err)
	assert.Equal(t, domain.FinalPassed, snap.Summary.FinalStatus)
}

type countingLoop struct {
	started atomic.Int32
	err     error
}

func (l *countingLoop) Run(ctx context.Context) error {
	l.started.Add(1)
	if l.err != nil {
		return l.err
	}
	<-ctx.Done()
	return nil
}

func TestRun_StopsAllLoopsOnFailure(t *testing.T) {
	ok := &countingLoop{}
	failing := &countingLoop{err: errors.New("boom")}
	s := New(runstate.New(), &fakeStarter{}, zerolog.Nop(), ok, failing)

	err := s.Run(context.Background())
	assert.EqualError(t, err, "boom")
	assert.Equal(t, int32(1), ok.started.Load())
	assert.Equal(t, int32(1), failing.started.Load())
}
