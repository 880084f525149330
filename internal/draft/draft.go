// Package draft produces proposed reply content for a ticket. Drafts are only
// ever embedded in internal notes for human review; nothing here is sent to a
// customer.
package draft

import (
	"fmt"

	"halcyon/internal/gorgias"
)

// Proposal is a drafted reply: a subject line and a body.
type Proposal struct {
	Subject string
	Body    string
}

// Drafter produces a reply proposal from ticket context and the customer's
// message text. Implementations must be pure (no network, no side effects);
// the worker calls Draft at most once per job.
type Drafter interface {
	Draft(t *gorgias.Ticket, messageText string) Proposal
}

// Baseline is the intentionally safe and boring default drafter. A smarter
// drafting backend can be swapped in without touching the pipeline.
type Baseline struct{}

func (Baseline) Draft(t *gorgias.Ticket, messageText string) Proposal {
	subject := "Re: your request"
	if t.Subject != "" {
		subject = "Re: " + t.Subject
	}
	body := "Thanks for reaching out — I’m on it.\n\n" +
		"To help you fastest, please reply with:\n" +
		"1) Your order number (if applicable)\n" +
		"2) A quick description of what you want to happen next (refund, replacement, status update)\n\n" +
		"Once I have that, I can take the next step right away."
	return Proposal{Subject: subject, Body: body}
}

// ComposeNote renders the internal-note body: the source message excerpt plus
// the drafted reply, for an agent to review.
func ComposeNote(t *gorgias.Ticket, messageID int, messageText string, p Proposal) string {
	return fmt.Sprintf(
		"AI Assist (DRY-RUN)\n"+
			"Ticket: #%d\n"+
			"Latest customer msg id: %d\n"+
			"---\n"+
			"Customer said:\n%s\n"+
			"---\n"+
			"Proposed reply:\nSubject: %s\n\n%s\n",
		t.ID, messageID, messageText, p.Subject, p.Body)
}
