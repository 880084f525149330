// Package handlers holds the thin HTTP surface: webhook intake, health and
// status endpoints. Intake does nothing but authenticate, validate and
// enqueue; all real work happens in the worker.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"halcyon/internal/queue"
	"halcyon/internal/worker"
)

const secretHeader = "X-Halcyon-Secret"

// Enqueuer is the slice of the queue the intake endpoint needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) error
}

// WebhookHandler accepts ticket events from the helpdesk's HTTP integration.
type WebhookHandler struct {
	queue  Enqueuer
	secret string
}

func NewWebhookHandler(q Enqueuer, secret string) *WebhookHandler {
	if q == nil {
		log.Fatal().Msg("Enqueuer cannot be nil for WebhookHandler")
	}
	return &WebhookHandler{queue: q, secret: secret}
}

// webhookPayload covers the id spellings the helpdesk integration can be
// configured to send: ticket_id, ticketId, or a nested ticket object.
type webhookPayload struct {
	TicketID    *int `json:"ticket_id"`
	TicketIDAlt *int `json:"ticketId"`
	Ticket      *struct {
		ID int `json:"id"`
	} `json:"ticket"`
}

func (p *webhookPayload) resolveTicketID() int {
	switch {
	case p.TicketID != nil:
		return *p.TicketID
	case p.TicketIDAlt != nil:
		return *p.TicketIDAlt
	case p.Ticket != nil:
		return p.Ticket.ID
	default:
		return 0
	}
}

// Handle authenticates the event, extracts the ticket id and enqueues a job.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(secretHeader) != h.secret {
		log.Warn().Str("remote", r.RemoteAddr).Msg("Webhook rejected: invalid secret")
		respondWithJSON(w, http.StatusUnauthorized, map[string]interface{}{"ok": false, "error": "Invalid webhook secret"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		log.Error().Err(err).Msg("Failed to read webhook body")
		respondWithJSON(w, http.StatusInternalServerError, map[string]interface{}{"ok": false, "error": "Failed to read request body"})
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn().Err(err).Msg("Webhook rejected: invalid JSON payload")
		respondWithJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "Invalid payload"})
		return
	}

	ticketID := payload.resolveTicketID()
	if ticketID <= 0 {
		log.Warn().Msg("Webhook rejected: missing ticket id")
		respondWithJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "Missing ticket id"})
		return
	}

	job := queue.Job{
		ID:         uuid.NewString(),
		TicketID:   ticketID,
		ReceivedAt: time.Now().UTC(),
		Raw:        json.RawMessage(body),
	}
	if err := h.queue.Enqueue(r.Context(), job); err != nil {
		log.Error().Err(err).Int("ticketID", ticketID).Msg("Failed to enqueue webhook job")
		respondWithJSON(w, http.StatusInternalServerError, map[string]interface{}{"ok": false, "error": "Failed to enqueue"})
		return
	}

	log.Info().Str("jobID", job.ID).Int("ticketID", ticketID).Msg("Queued ticket event")
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "queued": true, "ticketId": ticketID})
}

// Health reports liveness.
func Health(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// StatusHandler exposes recently retained job outcomes for operators.
type StatusHandler struct {
	outcomes *worker.OutcomeLog
}

func NewStatusHandler(outcomes *worker.OutcomeLog) *StatusHandler {
	return &StatusHandler{outcomes: outcomes}
}

func (h *StatusHandler) Handle(w http.ResponseWriter, _ *http.Request) {
	completed, failed := h.outcomes.Snapshot()
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"completed": completed,
		"failed":    failed,
	})
}

func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
