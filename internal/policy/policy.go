// Package policy decides whether and on which message the pipeline may act.
// Everything here is pure: no I/O, no state, safe for concurrent use.
package policy

import (
	"strings"
	"time"

	"halcyon/internal/gorgias"
)

// SkipReason identifies which gate declined a ticket.
type SkipReason string

const (
	SkipSpam      SkipReason = "spam"
	SkipStatus    SkipReason = "status"
	SkipNoMessage SkipReason = "no_incoming_message"
)

// IsEligible applies the conservative pre-checks before any selection or
// external action: spam tickets and non-open tickets are never acted on.
// Gates are evaluated in order; the first failing gate is the reported reason.
func IsEligible(t *gorgias.Ticket) (bool, SkipReason) {
	if t.Spam {
		return false, SkipSpam
	}
	if strings.ToLower(t.Status) != "open" {
		return false, SkipStatus
	}
	return true, ""
}

// SelectActionableMessage returns the latest public customer message on the
// ticket, or nil when there is none. Recency is the parsed created_datetime;
// when either timestamp being compared is missing or unparsable, the higher
// message id wins. Id order approximates recency for backfilled messages;
// that is a documented assumption, not a guarantee.
func SelectActionableMessage(t *gorgias.Ticket) *gorgias.TicketMessage {
	var best *gorgias.TicketMessage
	for i := range t.Messages {
		m := &t.Messages[i]
		if !m.Public || m.FromAgent {
			continue
		}
		if best == nil || newer(m, best) {
			best = m
		}
	}
	return best
}

func newer(a, b *gorgias.TicketMessage) bool {
	at, aok := parseWhen(a.CreatedDatetime)
	bt, bok := parseWhen(b.CreatedDatetime)
	if aok && bok && !at.Equal(bt) {
		return at.After(bt)
	}
	return a.ID > b.ID
}

func parseWhen(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
