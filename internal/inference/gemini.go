package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiEngine runs tasks against the Gemini API
type GeminiEngine struct {
	apiKey string
	model  string

	mu  sync.RWMutex
	cli *genai.Client
}

// NewGeminiEngine creates an engine; nothing is contacted until Load
func NewGeminiEngine(apiKey, model string) *GeminiEngine {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiEngine{apiKey: apiKey, model: model}
}

func (g *GeminiEngine) Name() string { return "gemini:" + g.model }

// Load creates the client and checks that the model exists
func (g *GeminiEngine) Load(ctx context.Context, progress func(LoadProgress)) error {
	report := func(f float64, text string) {
		if progress != nil {
			progress(LoadProgress{Fraction: f, Text: text})
		}
	}

	report(0, "creating client")
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("create gemini client: %w", err)
	}

	report(0.5, "checking model "+g.model)
	if _, err := cli.Models.Get(ctx, g.model, nil); err != nil {
		return fmt.Errorf("model %s unavailable: %w", g.model, err)
	}

	g.mu.Lock()
	g.cli = cli
	g.mu.Unlock()
	report(1, "model ready")
	return nil
}

// Chat sends one system+user exchange and returns the reply text
func (g *GeminiEngine) Chat(ctx context.Context, req ChatRequest) (string, error) {
	g.mu.RLock()
	cli := g.cli
	g.mu.RUnlock()
	if cli == nil {
		return "", ErrEngineNotReady
	}

	temp := float32(req.Temperature)
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}

	resp, err := cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: req.User}}}},
		cfg,
	)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini returned no candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}
