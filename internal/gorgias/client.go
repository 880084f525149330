package gorgias

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Failure taxonomy for Gorgias API calls. Callers classify with errors.Is.
var (
	ErrNotFound     = errors.New("gorgias: not found")
	ErrUnauthorized = errors.New("gorgias: unauthorized")
	ErrRateLimited  = errors.New("gorgias: rate limited")
	ErrUnavailable  = errors.New("gorgias: unavailable")
)

const (
	requestTimeout = 30 * time.Second

	// Rate-limit retry budget: maxAttempts calls total per logical request.
	maxAttempts = 5
	baseBackoff = 2 * time.Second
	maxHintWait = 60 * time.Second
)

// Client is a typed wrapper around the Gorgias ticket API. It keeps no state
// between calls and is safe for concurrent use.
type Client struct {
	httpClient  *resty.Client
	senderEmail string
}

// NewClient creates a Gorgias client for the given subdomain, authenticating
// with basic auth (agent email + API key). senderEmail is the agent identity
// attached to internal notes.
func NewClient(domain, email, apiKey, senderEmail string) (*Client, error) {
	if domain == "" {
		return nil, fmt.Errorf("gorgias domain cannot be empty")
	}
	if email == "" || apiKey == "" {
		return nil, fmt.Errorf("gorgias credentials cannot be empty")
	}
	if senderEmail == "" {
		return nil, fmt.Errorf("gorgias sender email cannot be empty")
	}

	// Redirects are followed by default, which matters for merged tickets
	// (the API answers 301 for the old ticket id).
	httpClient := resty.New().
		SetBaseURL(fmt.Sprintf("https://%s.gorgias.com/api", domain)).
		SetBasicAuth(email, apiKey).
		SetTimeout(requestTimeout)

	log.Info().Str("domain", domain).Str("email", email).Msg("Gorgias client configured")

	return &Client{httpClient: httpClient, senderEmail: senderEmail}, nil
}

// GetTicket fetches a ticket with its messages.
func (c *Client) GetTicket(ctx context.Context, ticketID int) (*Ticket, error) {
	url := fmt.Sprintf("/tickets/%d", ticketID)

	resp, err := c.doWithRetry(ctx, "GetTicket", func() (*resty.Response, error) {
		return c.httpClient.R().
			SetContext(ctx).
			SetResult(&Ticket{}).
			Get(url)
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, statusError("GetTicket", resp)
	}

	ticket := resp.Result().(*Ticket)
	log.Debug().Int("ticketID", ticket.ID).Int("messageCount", len(ticket.Messages)).Msg("Fetched Gorgias ticket")
	return ticket, nil
}

type noteSender struct {
	Email string `json:"email"`
}

type internalNotePayload struct {
	Channel   string     `json:"channel"`
	FromAgent bool       `json:"from_agent"`
	Sender    noteSender `json:"sender"`
	BodyText  string     `json:"body_text"`
	BodyHTML  string     `json:"body_html"`
}

type createdMessage struct {
	ID int `json:"id"`
}

// CreateInternalNote posts an agent-only note on a ticket and returns the
// created message id. The channel is always "internal-note" and from_agent is
// always true: nothing posted through this method can ever reach the customer.
// When noteHTML is empty, the escaped plain text is wrapped in <pre>.
func (c *Client) CreateInternalNote(ctx context.Context, ticketID int, noteText, noteHTML string) (int, error) {
	url := fmt.Sprintf("/tickets/%d/messages", ticketID)

	if noteHTML == "" {
		noteHTML = "<pre>" + html.EscapeString(noteText) + "</pre>"
	}

	payload := internalNotePayload{
		Channel:   "internal-note",
		FromAgent: true,
		Sender:    noteSender{Email: c.senderEmail},
		BodyText:  noteText,
		BodyHTML:  noteHTML,
	}

	resp, err := c.doWithRetry(ctx, "CreateInternalNote", func() (*resty.Response, error) {
		return c.httpClient.R().
			SetContext(ctx).
			SetBody(payload).
			SetResult(&createdMessage{}).
			Post(url)
	})
	if err != nil {
		return 0, err
	}
	if resp.IsError() {
		return 0, statusError("CreateInternalNote", resp)
	}

	created := resp.Result().(*createdMessage)
	log.Info().Int("ticketID", ticketID).Int("noteID", created.ID).Msg("Posted internal note")
	return created.ID, nil
}

// doWithRetry runs fn, retrying on HTTP 429 with a bounded attempt counter.
// The wait per retry is the server's Retry-After hint when it parses (capped
// at maxHintWait), otherwise baseBackoff multiplied by the attempt number.
// Transport-level failures are not retried here; the queue's redelivery
// policy governs those.
func (c *Client) doWithRetry(ctx context.Context, op string, fn func() (*resty.Response, error)) (*resty.Response, error) {
	for attempt := 1; ; attempt++ {
		resp, err := fn()
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
		}

		if resp.StatusCode() != http.StatusTooManyRequests {
			return resp, nil
		}
		if attempt >= maxAttempts {
			return nil, fmt.Errorf("%s: %w after %d attempts", op, ErrRateLimited, attempt)
		}

		wait := retryWait(resp.Header().Get("Retry-After"), attempt)
		log.Warn().
			Str("op", op).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("Gorgias rate-limited (429), retrying")

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w: %v", op, ErrUnavailable, ctx.Err())
		case <-time.After(wait):
		}
	}
}

func retryWait(retryAfter string, attempt int) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && secs >= 0 {
		wait := time.Duration(secs) * time.Second
		if wait > maxHintWait {
			wait = maxHintWait
		}
		return wait
	}
	return baseBackoff * time.Duration(attempt)
}

func statusError(op string, resp *resty.Response) error {
	log.Error().
		Str("op", op).
		Int("statusCode", resp.StatusCode()).
		Str("responseBody", resp.String()).
		Msg("Gorgias API returned an error")

	switch resp.StatusCode() {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w (status %s)", op, ErrNotFound, resp.Status())
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w (status %s)", op, ErrUnauthorized, resp.Status())
	default:
		return fmt.Errorf("%s: %w (status %s)", op, ErrUnavailable, resp.Status())
	}
}
