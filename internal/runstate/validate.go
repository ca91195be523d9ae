package runstate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hochfrequenz/heal-dash/internal/domain"
)

var githubURLRegex = regexp.MustCompile(`^https?://(www\.)?github\.com/[\w-]+/[\w.-]+/?$`)

// ValidationError lists the invalid input fields with a message for each
type ValidationError struct {
	Fields map[InputField]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[InputField(k)]))
	}
	return "invalid run inputs: " + strings.Join(parts, "; ")
}

// ValidateInputs checks inputs before a run may be initiated
func ValidateInputs(in domain.RunInputs) error {
	fields := make(map[InputField]string)
	if !githubURLRegex.MatchString(in.RepoURL) {
		fields[FieldRepoURL] = "please enter a valid GitHub repository URL"
	}
	if strings.TrimSpace(in.TeamName) == "" {
		fields[FieldTeamName] = "team name is required"
	}
	if strings.TrimSpace(in.LeaderName) == "" {
		fields[FieldLeaderName] = "leader name is required"
	}
	if _, ok := domain.ParseMode(string(in.Mode)); !ok {
		fields[FieldMode] = fmt.Sprintf("unknown mode %q", in.Mode)
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
