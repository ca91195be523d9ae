package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/heal-dash/internal/config"
	"github.com/hochfrequenz/heal-dash/internal/domain"
	"github.com/hochfrequenz/heal-dash/internal/report"
	"github.com/hochfrequenz/heal-dash/internal/runstate"
)

func TestPrintReport(t *testing.T) {
	r := report.Report{
		AttemptID:  "attempt-1",
		RunID:      "run-1",
		BranchName: "RIFT_ANA_AI_Fix",
		Inputs:     domain.RunInputs{RepoURL: "https://github.com/acme/widgets"},
		Summary: domain.Summary{
			FinalStatus:      domain.FinalPassed,
			TotalFixes:       2,
			CommitsCount:     2,
			IterationsUsed:   1,
			TimeTakenSeconds: 95,
		},
		Score: domain.Score{Base: 100, SpeedBonus: 10, Total: 110},
		Fixes: []domain.Fix{
			{File: "app.py", Line: 4, BugType: domain.BugSyntax, Status: domain.FixFixed, CommitMessage: "fix colon"},
		},
		Timeline: []domain.TimelineEntry{
			{Iteration: 1, Status: domain.IterationPassed, Timestamp: time.Now(), Message: "Iteration 1 complete."},
		},
		CompletedAt: time.Now().Add(-time.Minute),
	}

	var buf bytes.Buffer
	printReport(&buf, r, true)
	out := buf.String()

	for _, want := range []string{"run-1", "RIFT_ANA_AI_Fix", "PASSED", "1m35s", "110", "app.py", "Iteration 1 complete."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printReport(&buf, r, false)
	if strings.Contains(buf.String(), "app.py") {
		t.Error("summary output should not list fixes")
	}
}

func TestPrintSnapshot_Incomplete(t *testing.T) {
	s := runstate.New(runstate.WithIDGenerator(func() string { return "attempt-7" }))
	s.SetInputs(domain.RunInputs{RepoURL: "https://github.com/acme/widgets", TeamName: "A", LeaderName: "B"})
	s.InitiateRun()
	s.AbortRun("backend unreachable")

	var buf bytes.Buffer
	printSnapshot(&buf, s.Snapshot())
	if !strings.Contains(buf.String(), "attempt-7 did not complete") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestNewEngine(t *testing.T) {
	cfg := config.Default().Inference
	e, err := newEngine(cfg)
	if err != nil {
		t.Fatalf("newEngine: %v", err)
	}
	if !strings.HasPrefix(e.Name(), "gemini:") {
		t.Errorf("Name = %q", e.Name())
	}

	cfg.Provider = "webgpu"
	if _, err := newEngine(cfg); err == nil {
		t.Error("expected error for unknown provider")
	}
}
