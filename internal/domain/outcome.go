package domain

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

// PrintedMessage is the notification text for a successful print.
func PrintedMessage(fileName string, deleted bool) string {
	return "File Printed: " + fileName + "\n\n File Deleted: " + strconv.FormatBool(deleted)
}

// PrintErrorMessage is the notification text for a failed print.
func PrintErrorMessage(detail string) string {
	return "Error Printing File: " + detail
}

// OutcomeHandler reconciles a backend outcome with the source file and the user.
type OutcomeHandler struct {
	notifier Notifier
	repo     JobRepository
	remove   func(string) error
	logger   *slog.Logger
}

// NewOutcomeHandler creates a handler. repo may be nil when no history is kept.
func NewOutcomeHandler(notifier Notifier, repo JobRepository, logger *slog.Logger) *OutcomeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutcomeHandler{
		notifier: notifier,
		repo:     repo,
		remove:   os.Remove,
		logger:   logger,
	}
}

// OnOutcome deletes the source file after a successful print, or leaves it in
// place on failure. Exactly one notification is emitted per call.
func (h *OutcomeHandler) OnOutcome(ctx context.Context, job *PrintJob, outcome JobOutcome) {
	log := h.logger.With("job_id", job.ID, "file", job.FileName())

	if outcome.Succeeded {
		deleted := true
		if err := h.remove(job.SourcePath); err != nil {
			deleted = false
			log.Warn("file printed but not deleted", "error", fmt.Errorf("%w: %v", ErrDeletionFailed, err))
		} else {
			log.Info("file printed and deleted")
		}
		h.record(ctx, job.ID, StatusPrinted, deleted, "")
		h.notifier.Notify(PrintedMessage(job.FileName(), deleted))
		return
	}

	status := StatusFailed
	cause := ErrRemoteFailure
	if outcome.TimedOut {
		status = StatusTimedOut
		cause = ErrDispatchTimeout
	}
	log.Error("print failed", "error", cause, "detail", outcome.ErrorDetail)
	h.record(ctx, job.ID, status, false, outcome.ErrorDetail)
	h.notifier.Notify(PrintErrorMessage(outcome.ErrorDetail))
}

// OnUnreachable handles a submission that failed before reaching the backend.
func (h *OutcomeHandler) OnUnreachable(ctx context.Context, job *PrintJob, err error) {
	h.logger.Error("dispatch failed", "job_id", job.ID, "file", job.FileName(), "error", err)
	h.record(ctx, job.ID, StatusUnreachable, false, err.Error())
	h.notifier.Notify(PrintErrorMessage(err.Error()))
}

func (h *OutcomeHandler) record(ctx context.Context, id string, status JobStatus, deleted bool, reason string) {
	if h.repo == nil {
		return
	}
	if err := h.repo.Resolve(ctx, id, status, deleted, reason); err != nil {
		h.logger.Warn("failed to record job outcome", "job_id", id, "status", status, "error", err)
	}
}
