package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"cityflow/internal/pipeline"
	"cityflow/internal/telemetry"
	"cityflow/internal/types"
)

const (
	// jobType is the job_history label of a daily run.
	jobType = "daily_processing"

	// lockTTL covers a full Lambda execution with margin.
	lockTTL = 15 * time.Minute

	statusSuccess = "success"
	statusFailed  = "failed"
	statusSkipped = "skipped"
)

// RunRequest asks for one day to be processed. An empty Date means today
// (UTC); a day without data falls back to the latest day available.
type RunRequest struct {
	Date string `json:"date"`
}

// Result is what an invocation reports back.
type Result struct {
	Status  string            `json:"status"`
	Date    string            `json:"date"`
	RunID   string            `json:"run_id,omitempty"`
	Summary *pipeline.Summary `json:"summary,omitempty"`
}

// Runner is the daily orchestrator.
type Runner interface {
	ResolveDate(ctx context.Context, desired string) (string, error)
	Run(ctx context.Context, date string) (*pipeline.Output, error)
}

// JobLocker abstracts the distributed lock.
type JobLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID string, workerID string) error
}

// JobHistorian abstracts the job history recording.
type JobHistorian interface {
	Start(ctx context.Context, jobType string, runID string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, err error) error
}

// RunRecorder publishes run metrics.
type RunRecorder interface {
	RecordRun(ctx context.Context, s telemetry.RunStats)
}

// RunNotifier announces finished runs.
type RunNotifier interface {
	Publish(ctx context.Context, msg telemetry.RunCompleted) error
}

// Handler holds the dependencies of the processor. Runner is required; the
// lock, history, metrics and notifier are optional and skipped when nil.
type Handler struct {
	Runner     Runner
	JobLock    JobLocker
	JobHistory JobHistorian
	Metrics    RunRecorder
	Notifier   RunNotifier
	Clock      types.Clock
	WorkerID   string
	NewRunID   func() string
	Logger     *slog.Logger
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func (h *Handler) clock() types.Clock {
	if h.Clock == nil {
		return types.RealClock{}
	}
	return h.Clock
}

func (h *Handler) newRunID() string {
	if h.NewRunID == nil {
		return uuid.NewString()
	}
	return h.NewRunID()
}

// Handle processes one day:
//  1. Resolve the processing date.
//  2. Acquire the lock "daily:<date>"; a held lock is a conflict.
//  3. Record the job start, run the orchestrator, record the outcome.
//  4. Publish run metrics and the completion message.
func (h *Handler) Handle(ctx context.Context, req RunRequest) (Result, error) {
	logger := h.logger()
	clock := h.clock()

	desired := strings.TrimSpace(req.Date)
	if desired == "" {
		desired = clock.Now().UTC().Format(time.DateOnly)
	}
	date, err := h.Runner.ResolveDate(ctx, desired)
	if err != nil {
		return Result{Status: statusFailed, Date: desired}, err
	}

	runID := h.newRunID()
	ctx = types.WithRunID(ctx, runID)
	res := Result{Date: date, RunID: runID}
	logger = logger.With("date", date, "run_id", runID)

	lockID := "daily:" + date
	if h.JobLock != nil {
		acquired, err := h.JobLock.Acquire(ctx, lockID, h.WorkerID, lockTTL)
		if err != nil {
			logger.ErrorContext(ctx, "failed to acquire job lock", "lock_id", lockID, "error", err)
			res.Status = statusFailed
			return res, fmt.Errorf("acquiring job lock %s: %w", lockID, err)
		}
		if !acquired {
			logger.InfoContext(ctx, "job lock not acquired, another worker is processing", "lock_id", lockID)
			res.Status = statusSkipped
			return res, types.NewAppErrorWithDetails(types.ErrCodeConflictRunInProgress,
				fmt.Sprintf("daily run for %s already in progress", date), nil,
				map[string]any{"lock_id": lockID})
		}
		defer func() {
			if err := h.JobLock.Release(context.WithoutCancel(ctx), lockID, h.WorkerID); err != nil {
				logger.ErrorContext(ctx, "failed to release job lock", "lock_id", lockID, "error", err)
			}
		}()
	}

	var jobID int64
	if h.JobHistory != nil {
		jobID, err = h.JobHistory.Start(ctx, jobType, runID)
		if err != nil {
			// history is best effort; the run goes on without it
			logger.ErrorContext(ctx, "failed to start job history", "error", err)
			jobID = 0
		}
	}

	start := clock.Now()
	out, runErr := h.Runner.Run(ctx, date)
	elapsed := clock.Now().Sub(start)

	res.Status = statusSuccess
	if runErr != nil {
		res.Status = statusFailed
	}
	items := 0
	if out != nil {
		items = out.Metrics.Len()
		summary := out.Summary
		res.Summary = &summary
	}

	if jobID != 0 {
		if err := h.JobHistory.Finish(context.WithoutCancel(ctx), jobID, res.Status, items, runErr); err != nil {
			logger.ErrorContext(ctx, "failed to finish job history", "job_id", jobID, "error", err)
		}
	}
	h.report(ctx, res, out, runErr, elapsed)

	if runErr != nil {
		logger.ErrorContext(ctx, "daily run failed", "error", runErr, "duration", elapsed)
		return res, fmt.Errorf("daily run for %s failed: %w", date, runErr)
	}
	logger.InfoContext(ctx, "daily run complete", "metrics", items, "duration", elapsed)
	return res, nil
}

// report publishes telemetry for a finished run. Failures are logged only.
func (h *Handler) report(ctx context.Context, res Result, out *pipeline.Output, runErr error, elapsed time.Duration) {
	ctx = context.WithoutCancel(ctx)
	stats := telemetry.RunStats{Succeeded: runErr == nil, Duration: elapsed}
	msg := telemetry.RunCompleted{
		RunID:        res.RunID,
		Date:         res.Date,
		Status:       res.Status,
		Metrics:      []string{},
		Correlations: []string{},
		FinishedAt:   h.clock().Now().UTC(),
	}
	if out != nil {
		stats.Metrics = out.Metrics.Len()
		stats.QualityFailures = out.Summary.QualityFailures
		msg.QualityFailures = out.Summary.QualityFailures
		for _, name := range out.Metrics.Names() {
			msg.Metrics = append(msg.Metrics, string(name))
		}
		for _, name := range out.Correlations.Names() {
			msg.Correlations = append(msg.Correlations, string(name))
		}
	}
	if runErr != nil {
		msg.Error = runErr.Error()
	}

	if h.Metrics != nil {
		h.Metrics.RecordRun(ctx, stats)
	}
	if h.Notifier != nil {
		if err := h.Notifier.Publish(ctx, msg); err != nil {
			h.logger().ErrorContext(ctx, "failed to publish run completion", "run_id", res.RunID, "error", err)
		}
	}
}

// HandleEvent is the Lambda entry point. It accepts an SQS batch of
// RunRequest bodies, an EventBridge event whose detail is a RunRequest, or a
// bare RunRequest from a direct invocation.
func (h *Handler) HandleEvent(ctx context.Context, raw json.RawMessage) (any, error) {
	var probe struct {
		Records    []json.RawMessage `json:"Records"`
		DetailType string            `json:"detail-type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidPayload, "invalid event payload", err)
	}

	switch {
	case len(probe.Records) > 0:
		var ev events.SQSEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, types.NewAppError(types.ErrCodeValidationInvalidPayload, "invalid SQS event", err)
		}
		return h.handleSQS(ctx, ev), nil

	case probe.DetailType != "":
		var ev events.CloudWatchEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, types.NewAppError(types.ErrCodeValidationInvalidPayload, "invalid EventBridge event", err)
		}
		var req RunRequest
		if len(ev.Detail) > 0 && string(ev.Detail) != "null" {
			if err := json.Unmarshal(ev.Detail, &req); err != nil {
				return nil, types.NewAppError(types.ErrCodeValidationInvalidPayload, "invalid event detail", err)
			}
		}
		res, err := h.Handle(ctx, req)
		if isConflict(err) {
			// a scheduled trigger overlapping a running day is not retried
			return res, nil
		}
		return res, err
	}

	var req RunRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidPayload, "invalid run request", err)
	}
	return h.Handle(ctx, req)
}

// handleSQS processes every record and reports the failed ones so only they
// are redelivered. Undecodable bodies are dropped.
func (h *Handler) handleSQS(ctx context.Context, ev events.SQSEvent) events.SQSEventResponse {
	resp := events.SQSEventResponse{BatchItemFailures: []events.SQSBatchItemFailure{}}
	for _, rec := range ev.Records {
		var req RunRequest
		if err := json.Unmarshal([]byte(rec.Body), &req); err != nil {
			h.logger().WarnContext(ctx, "dropping undecodable run request",
				"message_id", rec.MessageId,
				"error", err,
			)
			continue
		}
		if _, err := h.Handle(ctx, req); err != nil {
			resp.BatchItemFailures = append(resp.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp
}

func isConflict(err error) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictRunInProgress
}
