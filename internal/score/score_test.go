package score

import (
	"testing"

	"github.com/hochfrequenz/heal-dash/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestCalculate(t *testing.T) {
	tests := []struct {
		name    string
		time    float64
		commits int
		want    domain.Score
	}{
		{"fast run", 280, 10, domain.Score{Base: 100, SpeedBonus: 10, CommitPenalty: 0, Total: 110}},
		{"at threshold with excess commits", 300, 22, domain.Score{Base: 100, SpeedBonus: 0, CommitPenalty: 4, Total: 96}},
		{"no commits", 50, 0, domain.Score{Base: 100, SpeedBonus: 10, CommitPenalty: 0, Total: 110}},
		{"exactly twenty commits", 600, 20, domain.Score{Base: 100, SpeedBonus: 0, CommitPenalty: 0, Total: 100}},
		{"total goes negative", 900, 100, domain.Score{Base: 100, SpeedBonus: 0, CommitPenalty: 160, Total: -60}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Calculate(tt.time, tt.commits))
		})
	}
}

func TestSimulate(t *testing.T) {
	tests := []struct {
		name    string
		time    float64
		commits int
		want    domain.Score
	}{
		{"slider defaults", 45, 12, domain.Score{Base: 100, SpeedBonus: 127, CommitPenalty: 6, Total: 221}},
		{"slow run has no bonus", 400, 0, domain.Score{Base: 100, SpeedBonus: 0, CommitPenalty: 0, Total: 100}},
		{"odd commit count rounds", 299, 3, domain.Score{Base: 100, SpeedBonus: 0, CommitPenalty: 1.5, Total: 99}},
		{"clamped at zero", 1000, 500, domain.Score{Base: 100, SpeedBonus: 0, CommitPenalty: 250, Total: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Simulate(tt.time, tt.commits))
		})
	}
}

func TestCalculateAndSimulateDiffer(t *testing.T) {
	assert.NotEqual(t, Calculate(45, 12), Simulate(45, 12))
}
