package gorgias

// TicketMessage is a single message on a ticket as returned by the Gorgias API.
// Body fields are optional on the wire; an empty string means absent.
type TicketMessage struct {
	ID              int    `json:"id"`
	TicketID        int    `json:"ticket_id"`
	Public          bool   `json:"public"`
	FromAgent       bool   `json:"from_agent"`
	Subject         string `json:"subject,omitempty"`
	BodyText        string `json:"body_text,omitempty"`
	StrippedText    string `json:"stripped_text,omitempty"`
	BodyHTML        string `json:"body_html,omitempty"`
	StrippedHTML    string `json:"stripped_html,omitempty"`
	CreatedDatetime string `json:"created_datetime,omitempty"`
}

// Ticket is the ticket object, messages included. Tickets are read-only to
// this service: fetched fresh per job and never cached or written back.
type Ticket struct {
	ID                          int             `json:"id"`
	Status                      string          `json:"status"`
	Spam                        bool            `json:"spam"`
	Channel                     string          `json:"channel,omitempty"`
	Subject                     string          `json:"subject,omitempty"`
	LastReceivedMessageDatetime string          `json:"last_received_message_datetime,omitempty"`
	LastMessageDatetime         string          `json:"last_message_datetime,omitempty"`
	Messages                    []TicketMessage `json:"messages"`
}
