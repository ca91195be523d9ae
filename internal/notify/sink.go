package notify

import (
	"context"
	"fmt"

	"github.com/hochfrequenz/heal-dash/internal/domain"
	"github.com/hochfrequenz/heal-dash/internal/report"
)

// FromReport builds the completion notification for a run
func FromReport(r report.Report) Notification {
	n := Notification{
		RunID:   r.Key(),
		RepoURL: r.Inputs.RepoURL,
		Message: fmt.Sprintf("%s · %d fixes · %d iterations · score %.0f",
			r.BranchName, r.Summary.TotalFixes, r.Summary.IterationsUsed, r.Score.Total),
	}

	switch r.Summary.FinalStatus {
	case domain.FinalPassed:
		n.Type = NotifySuccess
		n.Title = "Healing run passed"
	case domain.FinalFailed:
		n.Type = NotifyWarning
		n.Title = "Healing run failed"
	case domain.FinalError:
		n.Type = NotifyError
		n.Title = "Healing run errored"
	default:
		n.Type = NotifyInfo
		n.Title = "Healing run finished"
	}
	return n
}

// Sink adapts a Notifier to report delivery
type Sink struct {
	Notifier Notifier
}

// Name implements report.Sink
func (Sink) Name() string { return "notify" }

// Deliver implements report.Sink
func (s Sink) Deliver(_ context.Context, r report.Report) error {
	return s.Notifier.Send(FromReport(r))
}
