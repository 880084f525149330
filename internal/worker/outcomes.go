package worker

import (
	"sync"
	"time"
)

// Status is the terminal state of a job attempt.
type Status string

const (
	StatusDone             Status = "done"
	StatusSkippedSpam      Status = "skipped_spam"
	StatusSkippedStatus    Status = "skipped_status"
	StatusSkippedNoMessage Status = "skipped_no_message"
	StatusSkippedDuplicate Status = "skipped_duplicate"
	StatusFailed           Status = "failed"
)

// Outcome records how a job ended, for operational inspection. Skips are
// successful outcomes with a reason code, not failures.
type Outcome struct {
	JobID      string    `json:"jobId"`
	TicketID   int       `json:"ticketId"`
	MessageID  int       `json:"messageId,omitempty"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Attempt    int       `json:"attempt"`
	DurationMs int64     `json:"durationMs"`
	FinishedAt time.Time `json:"finishedAt"`
}

// OutcomeLog retains a bounded number of recent terminal outcomes, newest
// last. Retention is an operational convenience only; dropping old entries
// never affects correctness.
type OutcomeLog struct {
	mu           sync.RWMutex
	completed    []Outcome
	failed       []Outcome
	maxCompleted int
	maxFailed    int
}

func NewOutcomeLog(maxCompleted, maxFailed int) *OutcomeLog {
	return &OutcomeLog{maxCompleted: maxCompleted, maxFailed: maxFailed}
}

func (l *OutcomeLog) Record(o Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if o.Status == StatusFailed {
		l.failed = appendBounded(l.failed, o, l.maxFailed)
	} else {
		l.completed = appendBounded(l.completed, o, l.maxCompleted)
	}
}

func appendBounded(s []Outcome, o Outcome, max int) []Outcome {
	s = append(s, o)
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}

// Snapshot returns copies of the retained outcomes.
func (l *OutcomeLog) Snapshot() (completed, failed []Outcome) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	completed = make([]Outcome, len(l.completed))
	copy(completed, l.completed)
	failed = make([]Outcome, len(l.failed))
	copy(failed, l.failed)
	return completed, failed
}
