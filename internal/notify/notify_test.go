package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hochfrequenz/heal-dash/internal/domain"
	"github.com/hochfrequenz/heal-dash/internal/report"
)

func TestSlackMessage_Build(t *testing.T) {
	msg := SlackMessage{
		Text: "Healing run passed",
		Attachments: []SlackAttachment{
			{
				Color: "good",
				Title: "run-42",
				Text:  "RIFT_LEAD_AI_Fix · 3 fixes",
			},
		},
	}

	payload, err := msg.ToJSON()
	if err != nil {
		t.Fatal(err)
	}

	if len(payload) == 0 {
		t.Error("Payload should not be empty")
	}
}

func TestSlackNotifier_Send(t *testing.T) {
	var got SlackMessage
	// Mock Slack server
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL)
	err := notifier.Send(Notification{
		Title:   "Test",
		Message: "Test message",
		Type:    NotifyInfo,
		RunID:   "run-1",
		RepoURL: "https://github.com/acme/widgets",
	})

	if err != nil {
		t.Errorf("Send failed: %v", err)
	}
	if got.Attachments[0].Title != "run-1" {
		t.Errorf("Title = %q, want run-1", got.Attachments[0].Title)
	}
	if got.Attachments[0].Text != "Test message\nhttps://github.com/acme/widgets" {
		t.Errorf("Text = %q", got.Attachments[0].Text)
	}
}

func TestSlackNotifier_Disabled(t *testing.T) {
	if err := NewSlackNotifier("").Send(Notification{Title: "x"}); err != nil {
		t.Errorf("disabled notifier returned %v", err)
	}
}

func TestFromReport(t *testing.T) {
	tests := []struct {
		status    domain.FinalStatus
		wantType  NotificationType
		wantTitle string
	}{
		{domain.FinalPassed, NotifySuccess, "Healing run passed"},
		{domain.FinalFailed, NotifyWarning, "Healing run failed"},
		{domain.FinalError, NotifyError, "Healing run errored"},
	}

	for _, tt := range tests {
		r := report.Report{
			AttemptID:  "a1",
			RunID:      "run-1",
			BranchName: "RIFT_LEAD_AI_Fix",
			Summary:    domain.Summary{FinalStatus: tt.status, TotalFixes: 3, IterationsUsed: 2},
			Score:      domain.Score{Total: 110},
		}
		n := FromReport(r)
		if n.Type != tt.wantType || n.Title != tt.wantTitle {
			t.Errorf("FromReport(%s) = %v %q", tt.status, n.Type, n.Title)
		}
		if n.RunID != "run-1" {
			t.Errorf("RunID = %q", n.RunID)
		}
		if n.Message != "RIFT_LEAD_AI_Fix · 3 fixes · 2 iterations · score 110" {
			t.Errorf("Message = %q", n.Message)
		}
	}
}

func TestSink_Deliver(t *testing.T) {
	var called []string
	sink := Sink{Notifier: &mockNotifier{name: "m", calls: &called}}

	if err := sink.Deliver(context.Background(), report.Report{AttemptID: "a1"}); err != nil {
		t.Fatal(err)
	}
	if len(called) != 1 {
		t.Errorf("Expected 1 call, got %d", len(called))
	}
}

func TestAppleScriptQuote(t *testing.T) {
	if got := appleScriptQuote(`say "hi" \ now`); got != `say \"hi\" \\ now` {
		t.Errorf("appleScriptQuote = %s", got)
	}
}

func TestNotificationTypeColors(t *testing.T) {
	tests := []struct {
		typ  NotificationType
		want string
	}{
		{NotifySuccess, "good"},
		{NotifyWarning, "warning"},
		{NotifyError, "danger"},
		{NotifyInfo, "#439FE0"},
	}

	for _, tt := range tests {
		got := SlackColor(tt.typ)
		if got != tt.want {
			t.Errorf("SlackColor(%v) = %s, want %s", tt.typ, got, tt.want)
		}
	}
}

func TestMultiNotifier(t *testing.T) {
	var called []string

	mock1 := &mockNotifier{name: "mock1", calls: &called}
	mock2 := &mockNotifier{name: "mock2", calls: &called}

	multi := NewMultiNotifier(mock1, mock2)
	multi.Send(Notification{Title: "Test"})

	if len(called) != 2 {
		t.Errorf("Expected 2 calls, got %d", len(called))
	}
}

type mockNotifier struct {
	name  string
	calls *[]string
}

func (m *mockNotifier) Send(n Notification) error {
	*m.calls = append(*m.calls, m.name)
	return nil
}
