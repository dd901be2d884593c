// Package executor runs one experiment to the tool-invocation boundary:
// resolve its tool, invoke it under a timeout with bounded retries on
// transient failures, record the run, and advance the experiment's
// lifecycle state.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nembal/fullsend-fabric/internal/experiment"
	"github.com/nembal/fullsend-fabric/internal/store"
)

// Config tunes retry and timeout behavior.
type Config struct {
	ToolTimeout    time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	ResultsChannel string
}

// Executor ties a ToolLoader to the store's experiment/run bookkeeping.
type Executor struct {
	store  store.Store
	loader ToolLoader
	cfg    Config
}

// New builds an Executor. Zero-valued Config fields fall back to
// reasonable defaults (120s timeout, 3 attempts, 1s/10s backoff).
func New(s store.Store, loader ToolLoader, cfg Config) *Executor {
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = 120 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.ResultsChannel == "" {
		cfg.ResultsChannel = "fullsend:experiment_results"
	}
	return &Executor{store: s, loader: loader, cfg: cfg}
}

// Run executes expID's configured tool and records the outcome. It
// returns an error only when the experiment hash cannot be read or the
// experiment cannot be moved to "running"; an archived experiment is
// skipped with a log line and a nil error. Tool failures are recorded as
// Run data and reported via the results channel, not returned.
func (x *Executor) Run(ctx context.Context, expID string) error {
	exp, err := experiment.Load(ctx, x.store, expID)
	if err != nil {
		return fmt.Errorf("executor: load %s: %w", expID, err)
	}

	if exp.State == experiment.StateArchived {
		log.Printf("executor: %s is archived, refusing to start a new run", expID)
		return nil
	}

	if err := experiment.Transition(ctx, x.store, expID, experiment.StateRunning); err != nil {
		return fmt.Errorf("executor: %s: %w", expID, err)
	}

	runID := fmt.Sprintf("%s:%d", expID, time.Now().Unix())
	log.Printf("executor: starting run %s", runID)

	tool, err := x.loader.Load(exp.Tool)
	if err != nil {
		x.handleFailure(ctx, expID, runID, err, failureDetails{})
		return nil
	}

	start := time.Now()
	result, err := x.runWithRetry(ctx, exp.Tool, tool, exp.Params)
	duration := time.Since(start)

	if err != nil {
		x.handleFailure(ctx, expID, runID, err, failureDetailsFor(err, x.cfg.ToolTimeout))
		return nil
	}

	x.handleSuccess(ctx, expID, runID, result, duration)
	return nil
}

// runWithRetry invokes tool under the configured timeout, retrying up to
// RetryAttempts times when the failure is a *TransientToolError. Any
// other error fails fast after the first attempt.
func (x *Executor) runWithRetry(ctx context.Context, toolName string, tool Tool, params map[string]interface{}) (interface{}, error) {
	delay := x.cfg.RetryBaseDelay
	var lastErr error

	for attempt := 1; attempt <= x.cfg.RetryAttempts; attempt++ {
		runCtx, cancel := context.WithTimeout(ctx, x.cfg.ToolTimeout)
		result, err := tool(runCtx, params)
		cancel()

		if err == nil {
			return result, nil
		}

		if runCtx.Err() == context.DeadlineExceeded {
			return nil, &ToolTimeoutError{Tool: toolName, TimeoutSeconds: int(x.cfg.ToolTimeout.Seconds())}
		}

		var transient *TransientToolError
		if !errors.As(err, &transient) {
			return nil, &ToolError{Tool: toolName, Err: err}
		}

		lastErr = err
		if attempt == x.cfg.RetryAttempts {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, &ToolError{Tool: toolName, Err: ctx.Err()}
		}
		delay *= 2
		if delay > x.cfg.RetryMaxDelay {
			delay = x.cfg.RetryMaxDelay
		}
	}

	return nil, &ToolRetryExhaustedError{Tool: toolName, Attempts: x.cfg.RetryAttempts, LastError: lastErr}
}

func (x *Executor) handleSuccess(ctx context.Context, expID, runID string, result interface{}, duration time.Duration) {
	summary, err := json.Marshal(summarizeResult(result))
	if err != nil {
		log.Printf("executor: marshal result summary for %s: %v", runID, err)
		summary = []byte(`{}`)
	}

	if err := saveRunResult(ctx, x.store, runID, map[string]string{
		"status":           "completed",
		"duration_seconds": fmt.Sprintf("%f", duration.Seconds()),
		"result_summary":   string(summary),
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		log.Printf("executor: save run result for %s: %v", runID, err)
	}

	if err := experiment.Transition(ctx, x.store, expID, experiment.StateRun); err != nil {
		log.Printf("executor: transition %s to run: %v", expID, err)
	}

	publishResult(ctx, x.store, x.cfg.ResultsChannel, map[string]interface{}{
		"type":          "experiment_completed",
		"experiment_id": expID,
		"run_id":        runID,
		"status":        "success",
		"duration":      duration.Seconds(),
	})

	log.Printf("executor: run %s completed in %s", runID, duration)
}

type failureDetails struct {
	isTimeout      bool
	timeoutSeconds int
	retryAttempts  int
	lastError      error
}

func failureDetailsFor(err error, toolTimeout time.Duration) failureDetails {
	var timeoutErr *ToolTimeoutError
	if errors.As(err, &timeoutErr) {
		return failureDetails{isTimeout: true, timeoutSeconds: timeoutErr.TimeoutSeconds}
	}
	var retryErr *ToolRetryExhaustedError
	if errors.As(err, &retryErr) {
		return failureDetails{retryAttempts: retryErr.Attempts, lastError: retryErr.LastError}
	}
	return failureDetails{}
}

func (x *Executor) handleFailure(ctx context.Context, expID, runID string, err error, details failureDetails) {
	errorType := classifyErrorType(err)

	fields := map[string]string{
		"status":     "failed",
		"error":      err.Error(),
		"error_type": errorType,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
	if details.isTimeout {
		fields["timeout_seconds"] = fmt.Sprintf("%d", details.timeoutSeconds)
	}
	if details.retryAttempts > 0 {
		fields["retry_attempts"] = fmt.Sprintf("%d", details.retryAttempts)
		if details.lastError != nil {
			fields["last_transient_error"] = details.lastError.Error()
			fields["last_transient_error_type"] = classifyErrorType(details.lastError)
		}
	}

	if saveErr := saveRunResult(ctx, x.store, runID, fields); saveErr != nil {
		log.Printf("executor: save failure result for %s: %v", runID, saveErr)
	}

	// An experiment archived by the Dispatcher mid-run must not be pulled
	// back to "failed" — archive is terminal by convention.
	exp, loadErr := experiment.Load(ctx, x.store, expID)
	if loadErr == nil && exp.State != experiment.StateArchived {
		if transErr := experiment.Transition(ctx, x.store, expID, experiment.StateFailed); transErr != nil {
			log.Printf("executor: transition %s to failed: %v", expID, transErr)
		}
	}

	notification := map[string]interface{}{
		"type":          "experiment_failed",
		"experiment_id": expID,
		"run_id":        runID,
		"error":         err.Error(),
		"error_type":    errorType,
	}
	if details.isTimeout {
		notification["timeout_seconds"] = details.timeoutSeconds
	}
	if details.retryAttempts > 0 {
		notification["retry_attempts"] = details.retryAttempts
	}
	publishResult(ctx, x.store, x.cfg.ResultsChannel, notification)

	log.Printf("executor: run %s failed: %s (%s)", runID, err, errorType)
}

func classifyErrorType(err error) string {
	var notFound *ToolNotFoundError
	if errors.As(err, &notFound) {
		return "ToolNotFoundError"
	}
	var timeout *ToolTimeoutError
	if errors.As(err, &timeout) {
		return "ToolTimeoutError"
	}
	var retryExhausted *ToolRetryExhaustedError
	if errors.As(err, &retryExhausted) {
		return "ToolRetryExhaustedError"
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return "ToolError"
	}
	return "Error"
}

func saveRunResult(ctx context.Context, s store.Store, runID string, fields map[string]string) error {
	if err := s.HSet(ctx, store.ExperimentRunKey(runID), fields); err != nil {
		return fmt.Errorf("executor: save run %s: %w", runID, err)
	}
	return nil
}

func publishResult(ctx context.Context, s store.Store, channel string, result map[string]interface{}) {
	encoded, err := json.Marshal(result)
	if err != nil {
		log.Printf("executor: marshal result for publish: %v", err)
		return
	}
	if err := s.Publish(ctx, channel, string(encoded)); err != nil {
		log.Printf("executor: publish result: %v", err)
	}
}

// summarizeResult mirrors the Python runner's summarize_result: pass
// maps through, collapse slices to a count, stringify and truncate
// anything else.
func summarizeResult(result interface{}) map[string]interface{} {
	switch v := result.(type) {
	case map[string]interface{}:
		return v
	case []interface{}:
		return map[string]interface{}{"items": len(v), "type": "list"}
	case nil:
		return map[string]interface{}{"value": ""}
	default:
		s := fmt.Sprintf("%v", v)
		if len(s) > 500 {
			s = s[:500]
		}
		return map[string]interface{}{"value": s}
	}
}
