// Package executor drives the ordered steps of one story through an
// external step runner, checkpointing every outcome into the pipeline
// manager so a crashed run can resume where it left off.
package executor

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/flowline-dev/flowline/internal/model"
	"github.com/flowline-dev/flowline/internal/pipeline"
)

// Runner is the external step runner: the sole place where actual
// agent/model work happens. Implementations must honor ctx cancellation.
type Runner interface {
	Run(ctx context.Context, stepCtx model.StepContext, def model.StepDefinition) (*model.StepResult, error)
}

// ProgressFunc is invoked synchronously at step start, completion, and
// failure, and once per step a resume skips over an existing checkpoint.
// It runs on the executor's own goroutine and must not block.
type ProgressFunc func(stepID string, index, total int, status string)

// Executor runs a story's steps in order against a Runner.
type Executor struct {
	mgr      *pipeline.Manager
	runner   Runner
	failFast bool
	progress ProgressFunc
	logger   *log.Logger
	logLevel pipeline.LogLevel
}

type Option func(*Executor)

// WithFailFast makes the first failing step halt the story and mark it
// failed. Without it, remaining steps run regardless of failures.
func WithFailFast(v bool) Option {
	return func(e *Executor) { e.failFast = v }
}

func WithProgress(fn ProgressFunc) Option {
	return func(e *Executor) { e.progress = fn }
}

func WithLogger(logger *log.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

func WithLogLevel(level pipeline.LogLevel) Option {
	return func(e *Executor) { e.logLevel = level }
}

func New(mgr *pipeline.Manager, runner Runner, opts ...Option) *Executor {
	e := &Executor{
		mgr:      mgr,
		runner:   runner,
		logger:   log.New(os.Stderr, "", 0),
		logLevel: pipeline.LogLevelInfo,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteStory runs the given steps in order. Each step gets an isolated
// context carrying only its own definition fields plus the output paths
// accumulated from prior successful steps. Every outcome is checkpointed
// before the next step starts. Runner errors and panics become failed
// results; they never propagate as errors from this call.
func (e *Executor) ExecuteStory(ctx context.Context, storyID string, steps []model.StepDefinition, storyPath string) ([]model.StepResult, error) {
	story, ok := e.mgr.Story(storyID)
	if !ok {
		return nil, &pipeline.NotFoundError{StoryID: storyID}
	}
	if len(steps) == 0 {
		return []model.StepResult{}, nil
	}

	if story.Status != model.StatusInProgress {
		if err := e.mgr.UpdateStoryStatus(storyID, model.StatusInProgress); err != nil {
			return nil, err
		}
	}

	var results []model.StepResult
	var previousOutputs []string
	total := len(steps)
	allSucceeded := true

	for i, def := range steps {
		e.report(def.ID, i, total, "starting")
		e.log(pipeline.LogLevelInfo, "step_start story=%s step=%s index=%d total=%d",
			storyID, def.ID, i, total)

		stepCtx := model.StepContext{
			StepID:          def.ID,
			StoryID:         storyID,
			StoryPath:       storyPath,
			AgentID:         def.AgentID,
			Model:           def.Model,
			TokenBudget:     def.TokenBudget,
			PreviousOutputs: append([]string(nil), previousOutputs...),
		}

		result := e.runStep(ctx, stepCtx, def)

		var currentStep *string
		if !result.IsSuccess() {
			failing := def.ID
			currentStep = &failing
		}
		if err := e.mgr.CheckpointStep(storyID, result.Record(def.AgentID), currentStep); err != nil {
			return results, fmt.Errorf("checkpoint step %s: %w", def.ID, err)
		}
		results = append(results, *result)

		if result.IsSuccess() {
			previousOutputs = append(previousOutputs, result.FilesModified...)
			previousOutputs = append(previousOutputs, result.FilesCreated...)
			e.report(def.ID, i, total, model.StepStatusCompleted)
			e.log(pipeline.LogLevelInfo, "step_completed story=%s step=%s tokens=%d",
				storyID, def.ID, result.TokensUsed)
			continue
		}

		allSucceeded = false
		e.report(def.ID, i, total, model.StepStatusFailed)
		e.log(pipeline.LogLevelError, "step_failed story=%s step=%s error=%s",
			storyID, def.ID, errorText(result.Error))

		if e.failFast {
			if err := e.mgr.UpdateStoryStatus(storyID, model.StatusFailed); err != nil {
				return results, err
			}
			return results, nil
		}
	}

	if allSucceeded {
		if err := e.mgr.UpdateStoryStatus(storyID, model.StatusInReview); err != nil {
			return results, err
		}
	}
	return results, nil
}

// ResumeStory re-runs only the steps whose ids are absent from the
// story's checkpoint history. An already-completed step is never
// re-invoked; it is reported to the progress callback as skipped.
// If nothing remains, the story status is left untouched.
func (e *Executor) ResumeStory(ctx context.Context, storyID string, fullSteps []model.StepDefinition, storyPath string) ([]model.StepResult, error) {
	story, ok := e.mgr.Story(storyID)
	if !ok {
		return nil, &pipeline.NotFoundError{StoryID: storyID}
	}

	var remaining []model.StepDefinition
	for i, def := range fullSteps {
		if story.HasCompletedStep(def.ID) {
			e.report(def.ID, i, len(fullSteps), model.StepStatusSkipped)
			e.log(pipeline.LogLevelDebug, "resume_skip story=%s step=%s", storyID, def.ID)
			continue
		}
		remaining = append(remaining, def)
	}
	if len(remaining) == 0 {
		e.log(pipeline.LogLevelInfo, "resume_noop story=%s steps=%d", storyID, len(fullSteps))
		return []model.StepResult{}, nil
	}

	e.log(pipeline.LogLevelInfo, "resume story=%s remaining=%d of=%d",
		storyID, len(remaining), len(fullSteps))
	return e.ExecuteStory(ctx, storyID, remaining, storyPath)
}

type runOutcome struct {
	result *model.StepResult
	err    error
}

// runStep invokes the runner, bounding the call with the definition's
// timeout when one is set. Errors, panics, and deadline expiry all come
// back as failed results.
func (e *Executor) runStep(ctx context.Context, stepCtx model.StepContext, def model.StepDefinition) *model.StepResult {
	startedAt := time.Now().UTC().Format(time.RFC3339)

	runCtx := ctx
	if def.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, def.Timeout)
		defer cancel()
	}

	ch := make(chan runOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- runOutcome{err: fmt.Errorf("runner panic: %v", r)}
			}
		}()
		result, err := e.runner.Run(runCtx, stepCtx, def)
		ch <- runOutcome{result: result, err: err}
	}()

	select {
	case out := <-ch:
		return e.normalize(out, def, startedAt)
	case <-runCtx.Done():
		var msg string
		if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			msg = fmt.Sprintf("step timed out after %s", def.Timeout)
		} else {
			msg = fmt.Sprintf("step cancelled: %v", runCtx.Err())
		}
		return failedResult(def, startedAt, msg)
	}
}

func (e *Executor) normalize(out runOutcome, def model.StepDefinition, startedAt string) *model.StepResult {
	if out.err != nil {
		return failedResult(def, startedAt, out.err.Error())
	}
	if out.result == nil {
		return failedResult(def, startedAt, "runner returned no result")
	}

	result := out.result
	if result.StepID == "" {
		result.StepID = def.ID
	}
	if result.ModelUsed == "" {
		result.ModelUsed = def.Model
	}
	if result.StartedAt == "" {
		result.StartedAt = startedAt
	}
	if result.CompletedAt == "" {
		result.CompletedAt = time.Now().UTC().Format(time.RFC3339)
	}
	return result
}

func failedResult(def model.StepDefinition, startedAt, errMsg string) *model.StepResult {
	return &model.StepResult{
		StepID:      def.ID,
		Status:      model.StepStatusFailed,
		ModelUsed:   def.Model,
		StartedAt:   startedAt,
		CompletedAt: time.Now().UTC().Format(time.RFC3339),
		Error:       &errMsg,
	}
}

func errorText(err *string) string {
	if err == nil {
		return ""
	}
	return *err
}

func (e *Executor) report(stepID string, index, total int, status string) {
	if e.progress != nil {
		e.progress(stepID, index, total, status)
	}
}

func (e *Executor) log(level pipeline.LogLevel, format string, args ...any) {
	if level < e.logLevel {
		return
	}
	levelStr := "INFO"
	switch level {
	case pipeline.LogLevelDebug:
		levelStr = "DEBUG"
	case pipeline.LogLevelWarn:
		levelStr = "WARN"
	case pipeline.LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	e.logger.Printf("%s %s executor: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
