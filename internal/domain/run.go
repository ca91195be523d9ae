package domain

import (
	"regexp"
	"strings"
	"time"
)

// RunInputs are the user-supplied parameters of a healing run
type RunInputs struct {
	RepoURL    string `json:"repoUrl" toml:"repo_url"`
	TeamName   string `json:"teamName" toml:"team_name"`
	LeaderName string `json:"leaderName" toml:"leader_name"`
	Mode       Mode   `json:"mode" toml:"mode"`
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// BranchName mirrors the backend's branch naming convention
func (in RunInputs) BranchName() string {
	return BranchName(in.TeamName, in.LeaderName)
}

// BranchName returns TEAM_LEADER_AI_Fix, upper-cased with whitespace runs
// replaced by underscores.
func BranchName(team, leader string) string {
	if team == "" {
		team = "RIFT"
	}
	if leader == "" {
		leader = "LEAD"
	}
	safeTeam := whitespaceRun.ReplaceAllString(strings.ToUpper(team), "_")
	safeLeader := whitespaceRun.ReplaceAllString(strings.ToUpper(leader), "_")
	return safeTeam + "_" + safeLeader + "_AI_Fix"
}

// RunState is the lifecycle of the current run as seen by the client
type RunState struct {
	RunID            string           `json:"runId,omitempty"`
	BranchName       string           `json:"branchName,omitempty"`
	IsRunning        bool             `json:"isRunning"`
	ConnectionStatus ConnectionStatus `json:"connectionStatus"`
	CompletedAt      *time.Time       `json:"completedAt,omitempty"`
	Files            []string         `json:"files"`
	ActiveFile       string           `json:"activeFile,omitempty"`
	LastLog          string           `json:"lastLog,omitempty"`
}

// Summary holds the aggregate counters of a run
type Summary struct {
	TotalFailures    int         `json:"totalFailures"`
	TotalFixes       int         `json:"totalFixes"`
	FinalStatus      FinalStatus `json:"finalStatus"`
	TimeTakenSeconds float64     `json:"timeTakenSeconds"`
	CommitsCount     int         `json:"commitsCount"`
	IterationsUsed   int         `json:"iterationsUsed"`
}

// Score is the points breakdown of a finished run
type Score struct {
	Base          float64 `json:"base"`
	SpeedBonus    float64 `json:"speedBonus"`
	CommitPenalty float64 `json:"commitPenalty"`
	Total         float64 `json:"total"`
}

// Fix is one code change applied by the backend
type Fix struct {
	File          string    `json:"file"`
	BugType       BugType   `json:"bugType"`
	Line          int       `json:"line"`
	CommitMessage string    `json:"commitMessage"`
	Description   string    `json:"description"`
	Status        FixStatus `json:"status"`
}

// TimelineEntry is one CI/CD iteration
type TimelineEntry struct {
	Iteration int            `json:"iteration"`
	Status    TimelineStatus `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	Duration  *float64       `json:"duration,omitempty"`
	RawLog    *string        `json:"rawLog,omitempty"`
}
