package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"halcyon/internal/dedupe"
	"halcyon/internal/draft"
	"halcyon/internal/gorgias"
	"halcyon/internal/queue"
)

type mockTicketService struct {
	getTicketFunc func(ctx context.Context, ticketID int) (*gorgias.Ticket, error)
	noteFunc      func(ctx context.Context, ticketID int, noteText, noteHTML string) (int, error)
	noteCalls     int
	lastNote      string
}

func (m *mockTicketService) GetTicket(ctx context.Context, ticketID int) (*gorgias.Ticket, error) {
	return m.getTicketFunc(ctx, ticketID)
}

func (m *mockTicketService) CreateInternalNote(ctx context.Context, ticketID int, noteText, noteHTML string) (int, error) {
	m.noteCalls++
	m.lastNote = noteText
	if m.noteFunc != nil {
		return m.noteFunc(ctx, ticketID, noteText, noteHTML)
	}
	return 900 + m.noteCalls, nil
}

type failingStore struct{}

func (failingStore) Claim(context.Context, int, int) (bool, error) {
	return false, fmt.Errorf("claim: %w: connection refused", dedupe.ErrStoreUnavailable)
}
func (failingStore) Close() error { return nil }

func openTicket(id int, messages ...gorgias.TicketMessage) *gorgias.Ticket {
	return &gorgias.Ticket{ID: id, Status: "open", Subject: "Need help", Messages: messages}
}

func customerMessage(id int, text string) gorgias.TicketMessage {
	return gorgias.TicketMessage{ID: id, Public: true, FromAgent: false, StrippedText: text}
}

func newTestWorker(tickets TicketService, store dedupe.Store) (*Worker, *OutcomeLog) {
	outcomes := NewOutcomeLog(100, 100)
	return New(tickets, store, draft.Baseline{}, nil, outcomes, 5), outcomes
}

func testJob(ticketID int) queue.Job {
	return queue.Job{ID: "job-1", TicketID: ticketID, ReceivedAt: time.Now().UTC()}
}

func lastOutcome(t *testing.T, outcomes *OutcomeLog, failed bool) Outcome {
	t.Helper()
	completed, failedOutcomes := outcomes.Snapshot()
	list := completed
	if failed {
		list = failedOutcomes
	}
	if len(list) == 0 {
		t.Fatal("expected a recorded outcome")
	}
	return list[len(list)-1]
}

func TestProcess_PostsExactlyOneAnnotation(t *testing.T) {
	tickets := &mockTicketService{
		getTicketFunc: func(ctx context.Context, ticketID int) (*gorgias.Ticket, error) {
			return openTicket(42, customerMessage(7, "where is my order?")), nil
		},
	}
	w, outcomes := newTestWorker(tickets, dedupe.NewMemoryStore())

	retry := w.Process(context.Background(), testJob(42), 1)
	if retry {
		t.Fatal("successful job must not request retry")
	}
	if tickets.noteCalls != 1 {
		t.Fatalf("expected exactly one annotation, got %d", tickets.noteCalls)
	}
	if !strings.Contains(tickets.lastNote, "where is my order?") {
		t.Errorf("note missing customer text:\n%s", tickets.lastNote)
	}
	if !strings.Contains(tickets.lastNote, "Subject: Re: Need help") {
		t.Errorf("note missing drafted subject:\n%s", tickets.lastNote)
	}

	o := lastOutcome(t, outcomes, false)
	if o.Status != StatusDone || o.TicketID != 42 || o.MessageID != 7 {
		t.Errorf("unexpected outcome %+v", o)
	}
}

func TestProcess_ReplayedJobSkipsDuplicate(t *testing.T) {
	tickets := &mockTicketService{
		getTicketFunc: func(ctx context.Context, ticketID int) (*gorgias.Ticket, error) {
			return openTicket(42, customerMessage(7, "hello")), nil
		},
	}
	store := dedupe.NewMemoryStore()
	w, outcomes := newTestWorker(tickets, store)

	if retry := w.Process(context.Background(), testJob(42), 1); retry {
		t.Fatal("first run must succeed")
	}
	if retry := w.Process(context.Background(), testJob(42), 1); retry {
		t.Fatal("replay must not request retry")
	}

	if tickets.noteCalls != 1 {
		t.Fatalf("replay must not post again, got %d annotations", tickets.noteCalls)
	}
	if o := lastOutcome(t, outcomes, false); o.Status != StatusSkippedDuplicate {
		t.Errorf("expected %s, got %s", StatusSkippedDuplicate, o.Status)
	}
}

func TestProcess_SpamTicketNeverPosts(t *testing.T) {
	ticket := openTicket(42, customerMessage(7, "buy now"))
	ticket.Spam = true
	tickets := &mockTicketService{
		getTicketFunc: func(ctx context.Context, ticketID int) (*gorgias.Ticket, error) {
			return ticket, nil
		},
	}
	// A failing store proves the claim path is never reached for spam.
	w, outcomes := newTestWorker(tickets, failingStore{})

	if retry := w.Process(context.Background(), testJob(42), 1); retry {
		t.Fatal("spam skip is terminal, not a retry")
	}
	if tickets.noteCalls != 0 {
		t.Fatalf("spam ticket must never be annotated, got %d posts", tickets.noteCalls)
	}
	if o := lastOutcome(t, outcomes, false); o.Status != StatusSkippedSpam {
		t.Errorf("expected %s, got %s", StatusSkippedSpam, o.Status)
	}
}

func TestProcess_NonOpenTicketNeverPosts(t *testing.T) {
	ticket := openTicket(42, customerMessage(7, "hi"))
	ticket.Status = "CLOSED"
	tickets := &mockTicketService{
		getTicketFunc: func(ctx context.Context, ticketID int) (*gorgias.Ticket, error) {
			return ticket, nil
		},
	}
	w, outcomes := newTestWorker(tickets, failingStore{})

	if retry := w.Process(context.Background(), testJob(42), 1); retry {
		t.Fatal("status skip is terminal, not a retry")
	}
	if tickets.noteCalls != 0 {
		t.Fatal("closed ticket must never be annotated")
	}
	if o := lastOutcome(t, outcomes, false); o.Status != StatusSkippedStatus {
		t.Errorf("expected %s, got %s", StatusSkippedStatus, o.Status)
	}
}

func TestProcess_NoCustomerMessageSkips(t *testing.T) {
	agentOnly := gorgias.TicketMessage{ID: 1, Public: true, FromAgent: true, BodyText: "agent reply"}
	tickets := &mockTicketService{
		getTicketFunc: func(ctx context.Context, ticketID int) (*gorgias.Ticket, error) {
			return openTicket(42, agentOnly), nil
		},
	}
	w, outcomes := newTestWorker(tickets, dedupe.NewMemoryStore())

	if retry := w.Process(context.Background(), testJob(42), 1); retry {
		t.Fatal("no-message skip is terminal")
	}
	if tickets.noteCalls != 0 {
		t.Fatal("nothing to act on, nothing may be posted")
	}
	if o := lastOutcome(t, outcomes, false); o.Status != StatusSkippedNoMessage {
		t.Errorf("expected %s, got %s", StatusSkippedNoMessage, o.Status)
	}
}

func TestProcess_StoreUnavailableRetries(t *testing.T) {
	tickets := &mockTicketService{
		getTicketFunc: func(ctx context.Context, ticketID int) (*gorgias.Ticket, error) {
			return openTicket(42, customerMessage(7, "hi")), nil
		},
	}
	w, _ := newTestWorker(tickets, failingStore{})

	if retry := w.Process(context.Background(), testJob(42), 1); !retry {
		t.Fatal("store outage must be retried, never treated as unclaimed")
	}
	if tickets.noteCalls != 0 {
		t.Fatal("no annotation may be posted without a claim")
	}
}

func TestProcess_TicketNotFoundFailsPermanently(t *testing.T) {
	tickets := &mockTicketService{
		getTicketFunc: func(ctx context.Context, ticketID int) (*gorgias.Ticket, error) {
			return nil, fmt.Errorf("GetTicket: %w", gorgias.ErrNotFound)
		},
	}
	w, outcomes := newTestWorker(tickets, dedupe.NewMemoryStore())

	if retry := w.Process(context.Background(), testJob(42), 1); retry {
		t.Fatal("not-found is permanent, retrying cannot fix it")
	}
	if o := lastOutcome(t, outcomes, true); o.Status != StatusFailed {
		t.Errorf("expected %s, got %s", StatusFailed, o.Status)
	}
}

func TestProcess_FetchUnavailableRetriesThenExhausts(t *testing.T) {
	tickets := &mockTicketService{
		getTicketFunc: func(ctx context.Context, ticketID int) (*gorgias.Ticket, error) {
			return nil, fmt.Errorf("GetTicket: %w", gorgias.ErrUnavailable)
		},
	}
	w, outcomes := newTestWorker(tickets, dedupe.NewMemoryStore())

	if retry := w.Process(context.Background(), testJob(42), 1); !retry {
		t.Fatal("transient fetch failure within budget must retry")
	}
	if retry := w.Process(context.Background(), testJob(42), 5); retry {
		t.Fatal("attempt budget exhausted, job must fail permanently")
	}
	if o := lastOutcome(t, outcomes, true); o.Status != StatusFailed || o.Attempt != 5 {
		t.Errorf("unexpected outcome %+v", o)
	}
}

func TestProcess_FailedPostDoesNotReleaseClaim(t *testing.T) {
	postErr := true
	tickets := &mockTicketService{
		getTicketFunc: func(ctx context.Context, ticketID int) (*gorgias.Ticket, error) {
			return openTicket(42, customerMessage(7, "hi")), nil
		},
	}
	tickets.noteFunc = func(ctx context.Context, ticketID int, noteText, noteHTML string) (int, error) {
		if postErr {
			return 0, fmt.Errorf("CreateInternalNote: %w", gorgias.ErrUnavailable)
		}
		return 901, nil
	}
	store := dedupe.NewMemoryStore()
	w, outcomes := newTestWorker(tickets, store)

	if retry := w.Process(context.Background(), testJob(42), 1); !retry {
		t.Fatal("transient post failure must request retry")
	}

	// The retry finds the claim already taken: the conservative bias is to
	// never risk a double post, accepting the missed draft.
	postErr = false
	if retry := w.Process(context.Background(), testJob(42), 2); retry {
		t.Fatal("duplicate skip is terminal")
	}
	if tickets.noteCalls != 1 {
		// one failed call, and no second one on the retry
		t.Fatalf("expected 1 note call (failed, retry skipped), got %d", tickets.noteCalls)
	}
	if o := lastOutcome(t, outcomes, false); o.Status != StatusSkippedDuplicate {
		t.Errorf("expected %s, got %s", StatusSkippedDuplicate, o.Status)
	}
}

func TestProcess_MissingTextUsesPlaceholder(t *testing.T) {
	msg := gorgias.TicketMessage{ID: 7, Public: true, FromAgent: false, BodyHTML: "<p>only html</p>"}
	tickets := &mockTicketService{
		getTicketFunc: func(ctx context.Context, ticketID int) (*gorgias.Ticket, error) {
			return openTicket(42, msg), nil
		},
	}
	w, _ := newTestWorker(tickets, dedupe.NewMemoryStore())

	if retry := w.Process(context.Background(), testJob(42), 1); retry {
		t.Fatal("missing text must not fail the job")
	}
	if !strings.Contains(tickets.lastNote, missingTextPlaceholder) {
		t.Errorf("note should carry the placeholder text:\n%s", tickets.lastNote)
	}
}

func TestProcess_TextPriorityPrefersStripped(t *testing.T) {
	msg := gorgias.TicketMessage{ID: 7, Public: true, FromAgent: false, BodyText: "raw > quoted", StrippedText: "stripped"}
	tickets := &mockTicketService{
		getTicketFunc: func(ctx context.Context, ticketID int) (*gorgias.Ticket, error) {
			return openTicket(42, msg), nil
		},
	}
	w, _ := newTestWorker(tickets, dedupe.NewMemoryStore())

	w.Process(context.Background(), testJob(42), 1)
	if !strings.Contains(tickets.lastNote, "stripped") || strings.Contains(tickets.lastNote, "raw > quoted") {
		t.Errorf("expected stripped text to win:\n%s", tickets.lastNote)
	}
}

type flakyArchiver struct{ calls int }

func (a *flakyArchiver) StoreNote(context.Context, int, int, string) error {
	a.calls++
	return errors.New("bucket gone")
}

func TestProcess_ArchiveFailureDoesNotFailJob(t *testing.T) {
	tickets := &mockTicketService{
		getTicketFunc: func(ctx context.Context, ticketID int) (*gorgias.Ticket, error) {
			return openTicket(42, customerMessage(7, "hi")), nil
		},
	}
	outcomes := NewOutcomeLog(10, 10)
	archiver := &flakyArchiver{}
	w := New(tickets, dedupe.NewMemoryStore(), draft.Baseline{}, archiver, outcomes, 5)

	if retry := w.Process(context.Background(), testJob(42), 1); retry {
		t.Fatal("archive failure must not retry the job")
	}
	if archiver.calls != 1 {
		t.Fatalf("expected archiver to be called once, got %d", archiver.calls)
	}
	if o := lastOutcome(t, outcomes, false); o.Status != StatusDone {
		t.Errorf("expected %s, got %s", StatusDone, o.Status)
	}
}

func TestOutcomeLog_BoundedRetention(t *testing.T) {
	l := NewOutcomeLog(3, 2)
	for i := 0; i < 10; i++ {
		l.Record(Outcome{JobID: fmt.Sprintf("c%d", i), Status: StatusDone})
		l.Record(Outcome{JobID: fmt.Sprintf("f%d", i), Status: StatusFailed})
	}
	completed, failed := l.Snapshot()
	if len(completed) != 3 || len(failed) != 2 {
		t.Fatalf("expected 3 completed / 2 failed retained, got %d/%d", len(completed), len(failed))
	}
	if completed[len(completed)-1].JobID != "c9" || failed[len(failed)-1].JobID != "f9" {
		t.Error("expected newest outcomes to be retained")
	}
}
