package poller

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hochfrequenz/heal-dash/internal/backend"
	"github.com/hochfrequenz/heal-dash/internal/clock"
	"github.com/hochfrequenz/heal-dash/internal/domain"
	"github.com/hochfrequenz/heal-dash/internal/runstate"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type fakeClient struct {
	mu          sync.Mutex
	statuses    []*backend.StatusResponse
	statusErrs  []error
	results     *backend.ResultsResponse
	resultsErrs []error
	statusCalls map[string]int
	resultCalls int
}

func newFakeClient() *fakeClient {
	return &fakeClient{statusCalls: make(map[string]int)}
}

func (f *fakeClient) Status(_ context.Context, runID string) (*backend.StatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls[runID]++
	if len(f.statusErrs) > 0 {
		err := f.statusErrs[0]
		f.statusErrs = f.statusErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(f.statuses) == 0 {
		return &backend.StatusResponse{}, nil
	}
	st := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return st, nil
}

func (f *fakeClient) Results(context.Context, string) (*backend.ResultsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resultCalls++
	if len(f.resultsErrs) > 0 {
		err := f.resultsErrs[0]
		f.resultsErrs = f.resultsErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.results, nil
}

func (f *fakeClient) calls(runID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls[runID]
}

func (f *fakeClient) resultsCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resultCalls
}

func startRun(store *runstate.Store, runID string) {
	store.InitiateRun()
	store.StartRun(runID, "RIFT_LEAD_AI_Fix")
}

func runPoller(t *testing.T, p *Poller) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, p.Run(ctx))
	}()
	stop := func() {
		cancel()
		<-done
	}
	t.Cleanup(stop)
	return stop
}

func TestTranslate_DedupesFixesAndTimeline(t *testing.T) {
	p := New(runstate.New(), newFakeClient(), WithClock(func() time.Time { return time.Unix(0, 0) }))
	seen, err := newSeenSet()
	require.NoError(t, err)

	st := &backend.StatusResponse{
		CurrentStep: "analyzing",
		SourceFiles: []string{"a.py"},
		AppliedFixes: []backend.AppliedFix{
			{File: "a.py", Line: 1, BugType: "SYNTAX", Status: "Fixed"},
		},
		CICDTimeline: []backend.TimelineItem{
			{Iteration: 1, Status: "FAILED", Timestamp: "2026-01-02T03:04:05Z"},
		},
	}

	first := p.translate(st, seen)
	require.Len(t, first, 4)
	assert.Equal(t, runstate.LogEvent{Message: "Engine executing: ANALYZING...", Timestamp: time.Unix(0, 0)}, first[0])
	tl, ok := first[3].(runstate.TimelineUpdate)
	require.True(t, ok)
	assert.Equal(t, domain.IterationFailed, tl.Status)
	assert.Equal(t, "Iteration 1 complete.", tl.Message)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), tl.Timestamp)

	second := p.translate(st, seen)
	require.Len(t, second, 2, "repeated fixes and timeline entries are not re-emitted")
	assert.Equal(t, "log", runstate.EventType(second[0]))
	assert.Equal(t, "files_discovered", runstate.EventType(second[1]))

	st.CICDTimeline[0].Status = "PASSED"
	third := p.translate(st, seen)
	require.Len(t, third, 3)
	tl, ok = third[2].(runstate.TimelineUpdate)
	require.True(t, ok)
	assert.Equal(t, domain.IterationPassed, tl.Status)
}

func TestTranslate_FixKeyIncludesBugType(t *testing.T) {
	p := New(runstate.New(), newFakeClient())
	seen, err := newSeenSet()
	require.NoError(t, err)

	events := p.translate(&backend.StatusResponse{AppliedFixes: []backend.AppliedFix{
		{File: "a.py", Line: 1, BugType: "SYNTAX"},
		{File: "a.py", Line: 1, BugType: "LOGIC"},
		{File: "a.py", Line: 1, BugType: "SYNTAX"},
	}}, seen)

	assert.Len(t, events, 2)
}

func TestPoller_CompletesRun(t *testing.T) {
	store := runstate.New()
	client := newFakeClient()
	failures := 2
	client.statuses = []*backend.StatusResponse{{
		Status:       "PASSED",
		AppliedFixes: []backend.AppliedFix{{File: "a.py", Line: 4, BugType: "LOGIC", Status: "fixed"}},
		CICDTimeline: []backend.TimelineItem{{Iteration: 1, Status: "passed", Details: "green"}},
	}}
	client.results = &backend.ResultsResponse{FinalStatus: "PASSED", TimeTakenSeconds: 280, TotalFixes: 10, TotalFailures: &failures}

	p := New(store, client, WithTicker(clock.NewManual().Ticker))
	startRun(store, "run-1")
	runPoller(t, p)

	require.Eventually(t, func() bool {
		return store.Snapshot().Run.ConnectionStatus == domain.ConnCompleted
	}, waitFor, 5*time.Millisecond)

	snap := store.Snapshot()
	assert.False(t, snap.Run.IsRunning)
	assert.Equal(t, domain.FinalPassed, snap.Summary.FinalStatus)
	assert.Equal(t, 10, snap.Summary.CommitsCount)
	assert.Equal(t, 2, snap.Summary.TotalFailures)
	assert.Equal(t, 110.0, snap.Score.Total)
	require.Len(t, snap.Fixes, 1)
	assert.Equal(t, domain.FixFixed, snap.Fixes[0].Status)
	require.Len(t, snap.Timeline, 1)
	assert.Equal(t, "green", snap.Timeline[0].Message)

	require.Eventually(t, func() bool { return p.ArmedRun() == "" }, waitFor, 5*time.Millisecond)
	assert.Equal(t, 1, client.calls("run-1"))
}

func TestPoller_CompletesWithPolledStatusWhenResultsLackOne(t *testing.T) {
	store := runstate.New()
	client := newFakeClient()
	client.statuses = []*backend.StatusResponse{{Status: "FAILED", CurrentStep: "verify"}}
	client.results = &backend.ResultsResponse{TimeTakenSeconds: 120, TotalFixes: 2}

	var logs bytes.Buffer
	logger := zerolog.New(&logs)
	p := New(store, client, WithTicker(clock.NewManual().Ticker), WithLogger(logger))
	startRun(store, "run-1")
	stop := runPoller(t, p)

	require.Eventually(t, func() bool {
		return store.Snapshot().Run.ConnectionStatus == domain.ConnCompleted
	}, waitFor, 5*time.Millisecond)

	snap := store.Snapshot()
	assert.Equal(t, domain.FinalFailed, snap.Summary.FinalStatus)
	assert.Equal(t, 2, snap.Summary.CommitsCount)
	assert.Equal(t, 1, client.resultsCalls())

	stop()
	assert.Contains(t, logs.String(), `"events":["log","run_complete"]`)
}

func TestPoller_ResultsFailureRetriesNextTick(t *testing.T) {
	store := runstate.New()
	client := newFakeClient()
	client.statuses = []*backend.StatusResponse{{Status: "FAILED", CurrentStep: "verify"}}
	client.results = &backend.ResultsResponse{FinalStatus: "FAILED", TimeTakenSeconds: 400, TotalFixes: 3}
	client.resultsErrs = []error{errors.New("connection reset")}

	clk := clock.NewManual()
	p := New(store, client, WithTicker(clk.Ticker))
	startRun(store, "run-1")
	runPoller(t, p)

	require.Eventually(t, func() bool {
		return store.Snapshot().Run.LastLog == "Engine executing: VERIFY..."
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, 1, client.resultsCalls())
	snap := store.Snapshot()
	assert.True(t, snap.Run.IsRunning)
	assert.Equal(t, domain.ConnStreaming, snap.Run.ConnectionStatus)
	assert.Equal(t, domain.FinalPending, snap.Summary.FinalStatus)

	require.True(t, clk.Tick(waitFor))

	require.Eventually(t, func() bool {
		return store.Snapshot().Summary.FinalStatus == domain.FinalFailed
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, 100.0, store.Snapshot().Score.Total)
}

func TestPoller_NotFoundIsIgnored(t *testing.T) {
	store := runstate.New()
	client := newFakeClient()
	client.statusErrs = []error{backend.ErrNotFound, nil}
	client.statuses = []*backend.StatusResponse{{CurrentStep: "clone"}}

	clk := clock.NewManual()
	p := New(store, client, WithTicker(clk.Ticker))
	startRun(store, "run-1")
	runPoller(t, p)

	require.True(t, clk.Tick(waitFor))
	require.Eventually(t, func() bool {
		return store.Snapshot().Run.LastLog == "Engine executing: CLONE..."
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, "run-1", p.ArmedRun())
}

func TestPoller_RearmsOnNewRunAndStopsOnCancel(t *testing.T) {
	store := runstate.New()
	client := newFakeClient()

	clk := clock.NewManual()
	p := New(store, client, WithTicker(clk.Ticker))
	startRun(store, "run-1")
	stop := runPoller(t, p)

	require.Eventually(t, func() bool { return client.calls("run-1") == 1 }, waitFor, 5*time.Millisecond)

	startRun(store, "run-2")
	require.Eventually(t, func() bool {
		return p.ArmedRun() == "run-2" && client.calls("run-2") == 1
	}, waitFor, 5*time.Millisecond)

	stop()
	assert.Equal(t, "", p.ArmedRun())
	assert.False(t, clk.Tick(50*time.Millisecond), "no loop may receive ticks after teardown")
	assert.Equal(t, 1, client.calls("run-1"))
	assert.Equal(t, 1, client.calls("run-2"))
}

func TestPoller_IdleWithoutRunID(t *testing.T) {
	store := runstate.New()
	client := newFakeClient()
	p := New(store, client, WithTicker(clock.NewManual().Ticker))

	store.InitiateRun()
	runPoller(t, p)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "", p.ArmedRun())
	assert.Equal(t, domain.ConnConnecting, store.Snapshot().Run.ConnectionStatus)
}
