package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBranchName(t *testing.T) {
	tests := []struct {
		team, leader string
		want         string
	}{
		{"Rift Organisers", "Saiyam Kumar", "RIFT_ORGANISERS_SAIYAM_KUMAR_AI_Fix"},
		{"code  warriors", "ana\tlee", "CODE_WARRIORS_ANA_LEE_AI_Fix"},
		{"", "", "RIFT_LEAD_AI_Fix"},
		{"team", "", "TEAM_LEAD_AI_Fix"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, BranchName(tt.team, tt.leader))
		})
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in     string
		want   Mode
		wantOK bool
	}{
		{"api", ModeAPI, true},
		{"", ModeAPI, true},
		{"browser-inference", ModeBrowserInference, true},
		{"WebLLM", ModeBrowserInference, true},
		{"local", ModeBrowserInference, true},
		{"gpu", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseMode(tt.in)
		assert.Equal(t, tt.wantOK, ok, "ParseMode(%q) ok", tt.in)
		assert.Equal(t, tt.want, got, "ParseMode(%q)", tt.in)
	}

	assert.Equal(t, "webllm", ModeBrowserInference.WireValue())
	assert.Equal(t, "api", ModeAPI.WireValue())
}

func TestParseBugType(t *testing.T) {
	assert.Equal(t, BugSyntax, ParseBugType("syntax"))
	assert.Equal(t, BugTypeError, ParseBugType("TYPE"))
	assert.Equal(t, BugTypeError, ParseBugType("TYPE_ERROR"))
	assert.Equal(t, BugUnknown, ParseBugType("RUNTIME"))
}

func TestFinalStatus_IsTerminal(t *testing.T) {
	assert.True(t, FinalPassed.IsTerminal())
	assert.True(t, FinalFailed.IsTerminal())
	assert.True(t, FinalError.IsTerminal())
	assert.False(t, FinalPending.IsTerminal())
	assert.False(t, FinalStatus("RUNNING").IsTerminal())
}
