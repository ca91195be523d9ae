package schedule

import (
	"fmt"

	"github.com/hochfrequenz/heal-dash/internal/domain"
	"github.com/hochfrequenz/heal-dash/internal/runstate"
)

// Job is a recurring healing run
type Job struct {
	Name       string `toml:"name"`
	Cron       string `toml:"cron"`
	RepoURL    string `toml:"repo_url"`
	TeamName   string `toml:"team_name"`
	LeaderName string `toml:"leader_name"`
	Mode       string `toml:"mode"`
}

// Config holds all scheduled jobs
type Config struct {
	Jobs []Job `toml:"job"`
}

// Inputs returns the run inputs the job launches with
func (j Job) Inputs() domain.RunInputs {
	mode, _ := domain.ParseMode(j.Mode)
	return domain.RunInputs{
		RepoURL:    j.RepoURL,
		TeamName:   j.TeamName,
		LeaderName: j.LeaderName,
		Mode:       mode,
	}
}

// Validate checks if the job is valid
func (j *Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if j.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(j.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if _, ok := domain.ParseMode(j.Mode); !ok {
		return fmt.Errorf("unknown mode %q", j.Mode)
	}
	if err := runstate.ValidateInputs(j.Inputs()); err != nil {
		return err
	}
	return nil
}

// Validate checks every job and rejects duplicate names
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Jobs))
	for i := range c.Jobs {
		if err := c.Jobs[i].Validate(); err != nil {
			return fmt.Errorf("job %d: %w", i, err)
		}
		if seen[c.Jobs[i].Name] {
			return fmt.Errorf("job %d: duplicate name %q", i, c.Jobs[i].Name)
		}
		seen[c.Jobs[i].Name] = true
	}
	return nil
}
