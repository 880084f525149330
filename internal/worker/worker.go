// Package worker orchestrates one job end to end: fetch ticket, gate, select
// message, claim, draft, annotate. All side effects funnel through injected
// dependencies so the state machine is testable without a network.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"halcyon/internal/dedupe"
	"halcyon/internal/draft"
	"halcyon/internal/gorgias"
	"halcyon/internal/policy"
	"halcyon/internal/queue"
)

const missingTextPlaceholder = "(no text content found)"

// TicketService is the slice of the Gorgias client the worker needs.
type TicketService interface {
	GetTicket(ctx context.Context, ticketID int) (*gorgias.Ticket, error)
	CreateInternalNote(ctx context.Context, ticketID int, noteText, noteHTML string) (int, error)
}

// Archiver persists a copy of posted notes for audit. Optional; failures are
// logged and never fail the job.
type Archiver interface {
	StoreNote(ctx context.Context, ticketID, messageID int, note string) error
}

// Worker processes ticket jobs. Stateless apart from its dependencies; safe
// for concurrent Process calls.
type Worker struct {
	tickets     TicketService
	claims      dedupe.Store
	drafter     draft.Drafter
	archive     Archiver // may be nil
	outcomes    *OutcomeLog
	maxAttempts int
}

func New(tickets TicketService, claims dedupe.Store, drafter draft.Drafter, archive Archiver, outcomes *OutcomeLog, maxAttempts int) *Worker {
	return &Worker{
		tickets:     tickets,
		claims:      claims,
		drafter:     drafter,
		archive:     archive,
		outcomes:    outcomes,
		maxAttempts: maxAttempts,
	}
}

// Process runs the per-job state machine and reports whether the job should
// be retried. Skips are successes; only unrecovered errors fail the job, and
// only transient ones within the attempt budget request a retry.
func (w *Worker) Process(ctx context.Context, job queue.Job, attempt int) bool {
	start := time.Now()

	ticket, err := w.tickets.GetTicket(ctx, job.TicketID)
	if err != nil {
		if errors.Is(err, gorgias.ErrNotFound) {
			// No amount of retrying fixes a missing ticket.
			return w.fail(job, 0, attempt, start, err, false)
		}
		return w.fail(job, 0, attempt, start, err, true)
	}

	if ok, reason := policy.IsEligible(ticket); !ok {
		status := StatusSkippedStatus
		if reason == policy.SkipSpam {
			status = StatusSkippedSpam
		}
		log.Info().Int("ticketID", job.TicketID).Str("reason", string(reason)).Msg("Skipping ineligible ticket")
		w.record(job, 0, attempt, start, status, "")
		return false
	}

	latest := policy.SelectActionableMessage(ticket)
	if latest == nil {
		log.Info().Int("ticketID", job.TicketID).Msg("No incoming customer message found")
		w.record(job, 0, attempt, start, StatusSkippedNoMessage, "")
		return false
	}

	claimed, err := w.claims.Claim(ctx, job.TicketID, latest.ID)
	if err != nil {
		// Store outage is retryable; it never counts as "unclaimed".
		return w.fail(job, latest.ID, attempt, start, err, true)
	}
	if !claimed {
		log.Info().Int("ticketID", job.TicketID).Int("messageID", latest.ID).Msg("Duplicate event; already processed")
		w.record(job, latest.ID, attempt, start, StatusSkippedDuplicate, "")
		return false
	}

	messageText := latest.StrippedText
	if messageText == "" {
		messageText = latest.BodyText
	}
	if messageText == "" {
		messageText = missingTextPlaceholder
	}

	proposal := w.drafter.Draft(ticket, messageText)
	note := draft.ComposeNote(ticket, latest.ID, messageText, proposal)

	if _, err := w.tickets.CreateInternalNote(ctx, job.TicketID, note, ""); err != nil {
		// The claim is intentionally not rolled back: a failed post after a
		// successful claim forecloses reprocessing of this message. Never
		// double-post; tolerate the rare missed draft.
		retryable := !errors.Is(err, gorgias.ErrNotFound)
		return w.fail(job, latest.ID, attempt, start, err, retryable)
	}

	if w.archive != nil {
		if err := w.archive.StoreNote(ctx, job.TicketID, latest.ID, note); err != nil {
			log.Warn().Err(err).Int("ticketID", job.TicketID).Int("messageID", latest.ID).Msg("Could not archive posted note")
		}
	}

	log.Info().Int("ticketID", job.TicketID).Int("messageID", latest.ID).Msg("Posted internal-note draft")
	w.record(job, latest.ID, attempt, start, StatusDone, "")
	return false
}

// fail decides between retry and terminal failure. Transient errors within
// the attempt budget are handed back to the queue; everything else is
// recorded as a permanent failure.
func (w *Worker) fail(job queue.Job, messageID, attempt int, start time.Time, err error, retryable bool) bool {
	if retryable && attempt < w.maxAttempts {
		log.Warn().
			Err(err).
			Str("jobID", job.ID).
			Int("ticketID", job.TicketID).
			Int("attempt", attempt).
			Int("maxAttempts", w.maxAttempts).
			Msg("Job attempt failed, will retry")
		return true
	}

	log.Error().
		Err(err).
		Str("jobID", job.ID).
		Int("ticketID", job.TicketID).
		Int("attempt", attempt).
		Bool("retryable", retryable).
		Msg("Job failed permanently")
	w.record(job, messageID, attempt, start, StatusFailed, err.Error())
	return false
}

func (w *Worker) record(job queue.Job, messageID, attempt int, start time.Time, status Status, errMsg string) {
	if w.outcomes == nil {
		return
	}
	w.outcomes.Record(Outcome{
		JobID:      job.ID,
		TicketID:   job.TicketID,
		MessageID:  messageID,
		Status:     status,
		Error:      errMsg,
		Attempt:    attempt,
		DurationMs: time.Since(start).Milliseconds(),
		FinishedAt: time.Now().UTC(),
	})
}
