// Package engine owns the task-execution control loop: it drives a remote
// coding-agent session until the requested change is verifiably complete or
// the iteration budget runs out.
//
// Success is decided exclusively from structured signals. The server-side
// files-changed count is the only evidence that work occurred, and tool exit
// codes are the only evidence of tool failure. Response text is surfaced to
// humans but never used for classification.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/opencode-pilot/ocp/internal/events"
	"github.com/opencode-pilot/ocp/internal/interpret"
	"github.com/opencode-pilot/ocp/internal/opencode"
	"github.com/opencode-pilot/ocp/internal/state"
	"github.com/opencode-pilot/ocp/internal/telemetry"
)

const (
	defaultMaxIterations   = 10
	defaultNoProgressLimit = 3
	defaultRetryBackoff    = 2 * time.Second

	finishReasonStop = "stop"
)

// Status is the terminal classification of one task execution.
type Status string

const (
	// StatusCompleted indicates verified file changes exist.
	StatusCompleted Status = "completed"
	// StatusMaxIterations indicates the iteration budget ran out with no changes.
	StatusMaxIterations Status = "max_iterations"
	// StatusFailed indicates no changes and at least one failed tool invocation.
	StatusFailed Status = "failed"
	// StatusCompletedNoChanges indicates a clean exit that produced no changes.
	StatusCompletedNoChanges Status = "completed_no_changes"
)

// SessionAPI is the remote surface the engine drives. *opencode.Client
// satisfies it; tests substitute scripted fakes.
type SessionAPI interface {
	CreateSession(ctx context.Context, opts opencode.CreateSessionOpts) (*opencode.Session, error)
	GetSession(ctx context.Context, id string) (*opencode.Session, error)
	GetSessionDiff(ctx context.Context, id string) ([]opencode.FileDiff, error)
	SendMessage(ctx context.Context, id, text string) (*opencode.MessageResponse, error)
	AbortSession(ctx context.Context, id string) bool
}

// TaskRequest describes one task execution.
type TaskRequest struct {
	Task             string
	WorkingDirectory string
	MaxIterations    int
	ContinueOnError  bool
}

// TaskResult is the immutable outcome of one task execution.
type TaskResult struct {
	Status       Status
	SessionID    string
	Iterations   int
	FilesChanged int
	Additions    int
	Deletions    int
	Diffs        []opencode.FileDiff
	Actions      []interpret.ToolAction
	Log          []string
	Output       string
	ErrorMessage string
}

// Config carries the engine defaults sourced from configuration.
type Config struct {
	MaxIterations   int
	NoProgressLimit int
	RetryBackoff    time.Duration
}

// Option customizes engine construction.
type Option func(*Engine)

// WithLogger configures the structured logger used for loop tracing.
func WithLogger(logger *log.Logger) Option {
	return func(engine *Engine) {
		if logger != nil {
			engine.logger = logger
		}
	}
}

// WithBus configures the event bus that receives task lifecycle events.
func WithBus(bus events.Bus) Option {
	return func(engine *Engine) {
		if bus != nil {
			engine.bus = bus
		}
	}
}

// Engine executes tasks against a remote agent session. Each Execute call
// owns its own session and loop state; an Engine is safe for concurrent use.
type Engine struct {
	api    SessionAPI
	cfg    Config
	logger *log.Logger
	bus    events.Bus
	sleep  func(time.Duration)
}

// New validates configuration and builds a task execution engine.
func New(api SessionAPI, cfg Config, options ...Option) (*Engine, error) {
	if api == nil {
		return nil, errors.New("session api is required")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.NoProgressLimit <= 0 {
		cfg.NoProgressLimit = defaultNoProgressLimit
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}

	engine := &Engine{
		api:    api,
		cfg:    cfg,
		logger: log.New(io.Discard),
		sleep:  time.Sleep,
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(engine)
	}
	return engine, nil
}

// taskRun accumulates the mutable loop state for one Execute call.
type taskRun struct {
	sessionID  string
	iterations int
	actions    []interpret.ToolAction
	log        []string
	lastOutput string
}

func (r *taskRun) logf(format string, args ...any) {
	r.log = append(r.log, fmt.Sprintf(format, args...))
}

// Execute drives one task to a terminal classification. Only session
// creation failures and unrecovered transport failures return an error;
// every other outcome is absorbed into the TaskResult.
func (e *Engine) Execute(ctx context.Context, req TaskRequest) (*TaskResult, error) {
	if e == nil {
		return nil, errors.New("engine is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(req.Task) == "" {
		return nil, errors.New("task description is required")
	}

	maxIterations := req.MaxIterations
	if maxIterations <= 0 {
		maxIterations = e.cfg.MaxIterations
	}

	machine := state.NewMachine()
	run := &taskRun{}

	session, err := e.api.CreateSession(ctx, opencode.CreateSessionOpts{
		Title:     sessionTitle(req.Task),
		Directory: req.WorkingDirectory,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	run.sessionID = session.ID
	e.advance(machine, run, state.PhaseIterating, "session created")

	logger := e.logger.With("session_id", session.ID)
	logger.With("max_iterations", maxIterations).Info("task started")
	e.publish(events.Event{
		Type:      events.EventTypeTaskStarted,
		SessionID: session.ID,
		Message:   sessionTitle(req.Task),
		Severity:  events.SeverityInfo,
	})

	filesChanged, err := e.iterate(ctx, logger, machine, run, req, maxIterations)
	if err != nil {
		return nil, err
	}

	summary, diffs := e.finalize(ctx, logger, run)
	if summary.Files == 0 && filesChanged > 0 {
		// The loop observed changes the final fetch could not confirm;
		// trust the last authoritative read.
		summary.Files = filesChanged
	}

	result := e.classifyResult(run, summary, diffs, maxIterations)
	e.advance(machine, run, state.PhaseDone, "result classified")
	result.Log = append(result.Log, phaseLines(machine)...)

	logger.With(
		"status", string(result.Status),
		"iterations", result.Iterations,
		"files_changed", result.FilesChanged,
	).Info("task finished")
	e.publish(events.Event{
		Type:      events.EventTypeTaskCompleted,
		SessionID: run.sessionID,
		Iteration: run.iterations,
		Message:   string(result.Status),
		Severity:  events.SeverityInfo,
	})

	return result, nil
}

// iterate runs the prompt/interpret loop and returns the last authoritative
// files-changed count it observed.
func (e *Engine) iterate(
	ctx context.Context,
	logger *log.Logger,
	machine *state.Machine,
	run *taskRun,
	req TaskRequest,
	maxIterations int,
) (int, error) {
	prompt, err := BuildInitialPrompt(req.Task, req.WorkingDirectory)
	if err != nil {
		return 0, err
	}

	noProgress := 0
	filesChanged := 0

	for i := 1; i <= maxIterations; i++ {
		run.iterations = i

		turnCtx, turn := telemetry.StartAgentTurn(ctx, telemetry.AgentTurnRequest{
			SessionID: run.sessionID,
			Iteration: i,
			Prompt:    prompt,
		})

		response, err := e.api.SendMessage(turnCtx, run.sessionID, prompt)
		if err != nil {
			turn.End("", filesChanged, err)
			if retryErr := e.retryTransportFailure(logger, run, req, i, maxIterations, err); retryErr != nil {
				return 0, retryErr
			}
			prompt = mustContinuationPrompt()
			continue
		}

		if text := interpret.Text(response); text != "" {
			run.lastOutput = text
		}
		actions := interpret.ToolActions(response)
		run.actions = append(run.actions, actions...)
		for _, action := range actions {
			turn.RecordToolAction(action.Tool, action.HasError)
		}

		finish := response.Info.Finish

		if failed := interpret.FirstError(actions); failed != nil {
			run.logf("iteration %d: tool %s failed (exit %s)", i, failed.Tool, exitCodeString(failed))
			logger.With("iteration", i, "tool", failed.Tool).Warn("tool invocation failed")
			e.publish(events.Event{
				Type:      events.EventTypeToolError,
				SessionID: run.sessionID,
				Iteration: i,
				Message:   failed.Tool,
				Severity:  events.SeverityError,
			})

			if req.ContinueOnError {
				corrective, promptErr := BuildToolErrorPrompt(*failed)
				if promptErr != nil {
					return 0, promptErr
				}
				prompt = corrective
				noProgress = 0
				turn.End(finish, filesChanged, nil)
				continue
			}
			// Without continue-on-error the failure is not escalated here;
			// finish-reason handling below decides what happens.
		}

		fresh, err := e.api.GetSession(ctx, run.sessionID)
		if err != nil {
			turn.End(finish, filesChanged, err)
			if retryErr := e.retryTransportFailure(logger, run, req, i, maxIterations, err); retryErr != nil {
				return 0, retryErr
			}
			prompt = mustContinuationPrompt()
			continue
		}
		filesChanged = fresh.Summary.Files
		turn.End(finish, filesChanged, nil)

		run.logf("iteration %d: finish=%s files_changed=%d", i, nonEmpty(finish, "none"), filesChanged)
		e.publish(events.Event{
			Type:      events.EventTypeIterationCompleted,
			SessionID: run.sessionID,
			Iteration: i,
			Message:   fmt.Sprintf("finish=%s files=%d", nonEmpty(finish, "none"), filesChanged),
			Severity:  events.SeverityInfo,
		})

		if finish == finishReasonStop {
			if filesChanged > 0 {
				run.logf("iteration %d: verified %d changed files, stopping", i, filesChanged)
				break
			}

			noProgress++
			if noProgress >= e.cfg.NoProgressLimit {
				run.logf("iteration %d: no progress after %d stop responses, giving up", i, noProgress)
				break
			}

			if interpret.HasWriteActions(run.actions) {
				prompt, err = BuildVerifyEditsPrompt(req.Task)
			} else {
				prompt, err = BuildUseWriteToolsPrompt(req.Task)
			}
			if err != nil {
				return 0, err
			}
			continue
		}

		// Any non-stop finish reason: keep going. With continue-on-error a
		// generic continuation replaces the prompt; otherwise the current
		// prompt is re-sent and the iteration budget bounds the loop.
		if req.ContinueOnError {
			prompt = mustContinuationPrompt()
		}
	}

	e.advance(machine, run, state.PhaseFinalizing, "loop exited")
	return filesChanged, nil
}

// retryTransportFailure implements the mid-loop transport error policy. A
// nil return means the engine backed off and the loop should retry on the
// next iteration; a non-nil return is fatal for the task.
func (e *Engine) retryTransportFailure(
	logger *log.Logger,
	run *taskRun,
	req TaskRequest,
	iteration, maxIterations int,
	cause error,
) error {
	run.logf("iteration %d: request failed: %v", iteration, cause)
	logger.With("iteration", iteration, "error", cause).Warn("transport failure")

	if !req.ContinueOnError || iteration >= maxIterations {
		// Best-effort cleanup so the server stops spending tokens on a
		// session nobody will read.
		if e.api.AbortSession(context.Background(), run.sessionID) {
			logger.Info("session aborted")
		}
		return fmt.Errorf("session %s request failed: %w", run.sessionID, cause)
	}

	e.publish(events.Event{
		Type:      events.EventTypeTransportRetry,
		SessionID: run.sessionID,
		Iteration: iteration,
		Message:   cause.Error(),
		Severity:  events.SeverityWarn,
	})
	e.sleep(e.cfg.RetryBackoff)
	return nil
}

// finalize always attempts the final summary and diff fetch. Failures here
// are logged and zeroed; the task outcome is still reported.
func (e *Engine) finalize(
	ctx context.Context,
	logger *log.Logger,
	run *taskRun,
) (opencode.SessionSummary, []opencode.FileDiff) {
	var summary opencode.SessionSummary

	session, err := e.api.GetSession(ctx, run.sessionID)
	if err != nil {
		run.logf("finalize: session fetch failed: %v", err)
		logger.With("error", err).Warn("final summary fetch failed")
	} else {
		summary = session.Summary
	}

	diffs, err := e.api.GetSessionDiff(ctx, run.sessionID)
	if err != nil {
		run.logf("finalize: diff fetch failed: %v", err)
		logger.With("error", err).Warn("final diff fetch failed")
		diffs = nil
	}

	return summary, diffs
}

func (e *Engine) classifyResult(
	run *taskRun,
	summary opencode.SessionSummary,
	diffs []opencode.FileDiff,
	maxIterations int,
) *TaskResult {
	result := &TaskResult{
		SessionID:    run.sessionID,
		Iterations:   run.iterations,
		FilesChanged: summary.Files,
		Additions:    summary.Additions,
		Deletions:    summary.Deletions,
		Diffs:        diffs,
		Actions:      run.actions,
		Log:          append([]string{}, run.log...),
		Output:       run.lastOutput,
	}

	failed := interpret.FirstError(run.actions)
	switch {
	case result.FilesChanged > 0:
		result.Status = StatusCompleted
	case failed != nil:
		result.Status = StatusFailed
		result.ErrorMessage = fmt.Sprintf("tool %s failed (exit %s)", failed.Tool, exitCodeString(failed))
	case run.iterations >= maxIterations:
		result.Status = StatusMaxIterations
		result.ErrorMessage = fmt.Sprintf("no verified changes after %d iterations", run.iterations)
	default:
		result.Status = StatusCompletedNoChanges
	}
	return result
}

func (e *Engine) advance(machine *state.Machine, run *taskRun, to state.Phase, reason string) {
	if err := machine.Advance(to, reason); err != nil {
		// The lifecycle is linear and engine-driven; an illegal transition
		// is a programming error worth surfacing in the trace.
		run.logf("phase error: %v", err)
	}
}

func (e *Engine) publish(event events.Event) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(event)
}

func phaseLines(machine *state.Machine) []string {
	records := machine.History()
	lines := make([]string, 0, len(records))
	for _, record := range records {
		lines = append(lines, fmt.Sprintf("phase: %s -> %s (%s)", record.From, record.To, record.Reason))
	}
	return lines
}

func mustContinuationPrompt() string {
	prompt, err := BuildContinuationPrompt()
	if err != nil {
		// The template is embedded and takes no data; failure means a
		// broken build, not a runtime condition.
		return "Please continue working on the task until it is complete.\n"
	}
	return prompt
}

func sessionTitle(task string) string {
	title := strings.Join(strings.Fields(task), " ")
	if len(title) > 80 {
		title = title[:77] + "..."
	}
	return title
}

func exitCodeString(action *interpret.ToolAction) string {
	if action == nil || action.ExitCode == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d", *action.ExitCode)
}
