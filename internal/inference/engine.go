// Package inference runs backend-queued language model tasks on a locally
// owned engine while a run is in local-inference mode.
package inference

import (
	"context"
	"errors"
)

// EngineState is the lifecycle state of the coordinator's engine
type EngineState string

const (
	EngineIdle    EngineState = "idle"
	EngineLoading EngineState = "loading"
	EngineReady   EngineState = "ready"
	EngineError   EngineState = "error"
)

// ErrEngineNotReady is returned when a task runs before the engine loaded
var ErrEngineNotReady = errors.New("inference engine not initialized")

// LoadProgress reports model acquisition progress
type LoadProgress struct {
	Fraction float64 // 0..1
	Text     string
}

// ChatRequest is one system+user exchange
type ChatRequest struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Engine is a language model the coordinator owns exclusively
type Engine interface {
	// Load acquires the model. progress may be called any number of times.
	Load(ctx context.Context, progress func(LoadProgress)) error
	Chat(ctx context.Context, req ChatRequest) (string, error)
	Name() string
}
