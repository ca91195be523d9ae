package inference

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/hochfrequenz/heal-dash/internal/clock"
	"github.com/hochfrequenz/heal-dash/internal/domain"
	"github.com/hochfrequenz/heal-dash/internal/prompts"
	"github.com/hochfrequenz/heal-dash/internal/runstate"
	"github.com/rs/zerolog"
)

// DefaultInterval is the pending-task polling period
const DefaultInterval = 2 * time.Second

const logPrefix = "[Inference]"

// TaskClient is the subset of the backend client the coordinator needs
type TaskClient interface {
	PendingTask(ctx context.Context, runID string) (*domain.InferenceTask, error)
	SubmitResult(ctx context.Context, runID, taskID string, result any) error
}

// Status is a point-in-time view of the coordinator for display
type Status struct {
	State       EngineState `json:"state"`
	Engine      string      `json:"engine"`
	Progress    int         `json:"progress"`
	CurrentTask string      `json:"currentTask,omitempty"`
}

// Coordinator loads the engine when a local-inference run becomes active and
// then drains the run's pending tasks one at a time.
type Coordinator struct {
	store    *runstate.Store
	client   TaskClient
	engine   Engine
	prompts  *prompts.Loader
	logger   zerolog.Logger
	interval time.Duration
	ticker   clock.TickerFunc
	now      func() time.Time
	gate     Gate

	mu        sync.Mutex
	state     EngineState
	progress  int
	failedRun string
	armedID   string
	cancel    context.CancelFunc

	loopWG sync.WaitGroup
	loadWG sync.WaitGroup
	wake   chan struct{}
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithInterval sets the task polling period
func WithInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithTicker replaces the ticker source
func WithTicker(t clock.TickerFunc) Option {
	return func(c *Coordinator) { c.ticker = t }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithPrompts replaces the embedded prompt loader
func WithPrompts(l *prompts.Loader) Option {
	return func(c *Coordinator) { c.prompts = l }
}

// NewCoordinator creates a coordinator owning engine
func NewCoordinator(store *runstate.Store, client TaskClient, engine Engine, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		client:   client,
		engine:   engine,
		prompts:  prompts.NewLoader(),
		logger:   zerolog.Nop(),
		interval: DefaultInterval,
		ticker:   clock.Real,
		now:      time.Now,
		state:    EngineIdle,
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "inference").Logger()
	return c
}

// Status returns the engine state and the task in flight
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:       c.state,
		Engine:      c.engine.Name(),
		Progress:    c.progress,
		CurrentTask: c.gate.Task(),
	}
}

// Run supervises engine loading and the task loop until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	changes, unsubscribe := c.store.Subscribe()
	defer unsubscribe()
	defer c.loadWG.Wait()
	defer c.disarm()

	c.reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
		case <-c.wake:
		}
		c.reconcile(ctx)
	}
}

func (c *Coordinator) reconcile(ctx context.Context) {
	snap := c.store.Snapshot()
	runID := snap.Run.RunID
	if snap.Inputs.Mode != domain.ModeBrowserInference || runID == "" || !snap.Run.IsRunning {
		c.disarm()
		return
	}

	c.mu.Lock()
	state := c.state
	failedRun := c.failedRun
	armed := c.armedID
	c.mu.Unlock()

	switch state {
	case EngineIdle:
		c.load(ctx, runID)
	case EngineError:
		if failedRun != runID {
			c.load(ctx, runID)
		}
	case EngineReady:
		if armed != runID {
			c.disarm()
			c.arm(ctx, runID)
		}
	}
}

func (c *Coordinator) load(ctx context.Context, runID string) {
	c.mu.Lock()
	c.state = EngineLoading
	c.progress = 0
	c.mu.Unlock()

	c.logger.Info().Str("engine", c.engine.Name()).Str("run_id", runID).Msg("loading engine")

	c.loadWG.Add(1)
	go func() {
		defer c.loadWG.Done()

		err := c.engine.Load(ctx, func(p LoadProgress) {
			pct := int(math.Round(p.Fraction * 100))
			c.mu.Lock()
			c.progress = pct
			c.mu.Unlock()
			c.log(runID, fmt.Sprintf("%s Loading model… %d%% — %s", logPrefix, pct, p.Text))
		})

		c.mu.Lock()
		if err != nil {
			c.state = EngineError
			c.failedRun = runID
		} else {
			c.state = EngineReady
			c.progress = 100
		}
		c.mu.Unlock()

		if err != nil {
			c.logger.Error().Err(err).Str("run_id", runID).Msg("engine init failed")
			c.log(runID, fmt.Sprintf("%s Failed to load model: %v", logPrefix, err))
		} else {
			c.logger.Info().Str("engine", c.engine.Name()).Msg("engine ready")
			c.log(runID, logPrefix+" Model loaded — ready to process tasks locally")
		}

		select {
		case c.wake <- struct{}{}:
		default:
		}
	}()
}

func (c *Coordinator) arm(parent context.Context, runID string) {
	ctx, cancel := context.WithCancel(parent)
	c.mu.Lock()
	c.armedID = runID
	c.cancel = cancel
	c.mu.Unlock()

	c.logger.Debug().Str("run_id", runID).Msg("task loop armed")

	c.loopWG.Add(1)
	go func() {
		defer c.loopWG.Done()
		c.loop(ctx, runID)
	}()
}

// disarm stops the task loop and waits for any in-flight task. The engine
// stays loaded for the next run.
func (c *Coordinator) disarm() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.armedID = ""
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	c.loopWG.Wait()
}

func (c *Coordinator) loop(ctx context.Context, runID string) {
	ticks, stop := c.ticker(c.interval)
	defer stop()

	c.tick(ctx, runID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			c.tick(ctx, runID)
		}
	}
}

// tick claims the gate before fetching, so while a task is being executed
// or submitted no further fetch happens.
func (c *Coordinator) tick(ctx context.Context, runID string) {
	if ctx.Err() != nil || !c.gate.Claim() {
		return
	}

	c.loopWG.Add(1)
	go func() {
		defer c.loopWG.Done()
		defer c.gate.Release()
		c.poll(ctx, runID)
	}()
}

func (c *Coordinator) poll(ctx context.Context, runID string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Str("run_id", runID).Interface("panic", r).Msg("task cycle panicked")
		}
	}()

	task, err := c.client.PendingTask(ctx, runID)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn().Err(err).Str("run_id", runID).Msg("poll error")
		}
		return
	}
	if task == nil {
		return
	}
	c.process(ctx, runID, task)
}

func (c *Coordinator) process(ctx context.Context, runID string, task *domain.InferenceTask) {
	c.gate.Assign(task.TaskID)

	c.log(runID, fmt.Sprintf("%s Processing task: %s (%s)", logPrefix, task.TaskType, task.TaskID))

	result, err := c.execute(ctx, task)
	if err == nil {
		err = c.client.SubmitResult(ctx, runID, task.TaskID, result)
	}
	if err == nil {
		c.logger.Info().Str("task_id", task.TaskID).Str("task_type", string(task.TaskType)).Msg("task submitted")
		c.log(runID, fmt.Sprintf("%s ✔ Task %s completed & submitted", logPrefix, task.TaskID))
		return
	}

	if ctx.Err() != nil {
		return
	}
	c.logger.Warn().Err(err).Str("task_id", task.TaskID).Msg("task processing error")
	if serr := c.client.SubmitResult(ctx, runID, task.TaskID, map[string]any{"error": err.Error()}); serr != nil {
		c.logger.Debug().Err(serr).Str("task_id", task.TaskID).Msg("failed to report task error")
	}
	c.log(runID, fmt.Sprintf("%s ✖ Task %s failed: %v", logPrefix, task.TaskID, err))
}

// execute runs one task on the engine. Structured tasks must yield JSON;
// other tasks fall back to {"text": reply}.
func (c *Coordinator) execute(ctx context.Context, task *domain.InferenceTask) (any, error) {
	c.mu.Lock()
	ready := c.state == EngineReady
	c.mu.Unlock()
	if !ready {
		return nil, ErrEngineNotReady
	}

	prompt, structured, err := c.prompts.ForTask(task.TaskType)
	if err != nil {
		return nil, err
	}

	system := prompt.System
	if !structured && task.SystemPrompt != "" {
		system = task.SystemPrompt
	}

	raw, err := c.engine.Chat(ctx, ChatRequest{
		System:      system,
		User:        task.Prompt,
		Temperature: prompt.Temperature,
		MaxTokens:   prompt.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	v, err := ExtractJSON(raw)
	if err != nil {
		if structured {
			return nil, err
		}
		return map[string]any{"text": raw}, nil
	}
	return v, nil
}

// log reports progress through the run's log line; it is dropped when the
// run has been superseded.
func (c *Coordinator) log(runID, message string) {
	c.store.ApplyFor(runID, runstate.LogEvent{Message: message, Timestamp: c.now()})
}
