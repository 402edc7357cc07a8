package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/newsletter/go/internal/email"
	"github.com/mcdev12/newsletter/go/internal/models"
)

type fakeRow struct {
	id       string
	delivery uuid.UUID
	issueID  uuid.UUID
	email    string
	nRetries int
	hidden   time.Time
	locked   bool
}

// fakeQueue locks rows like FOR UPDATE SKIP LOCKED: a locked row is invisible to
// other dequeuers until it is released or deleted.
type fakeQueue struct {
	mu          sync.Mutex
	rows        []*fakeRow
	deadLetters []models.DeadLetter
	seq         int
	deliveryIDs []string // in insertion order
	dequeues    int
	now         func() time.Time

	dequeueErr error
	deleteErr  error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{now: time.Now}
}

func (q *fakeQueue) add(issueID uuid.UUID, emails ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range emails {
		q.seq++
		row := &fakeRow{id: fmt.Sprintf("(0,%d)", q.seq), delivery: uuid.New(), issueID: issueID, email: e}
		q.rows = append(q.rows, row)
		q.deliveryIDs = append(q.deliveryIDs, row.delivery.String())
	}
}

func (q *fakeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.rows)
}

func (q *fakeQueue) dequeueCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dequeues
}

func (q *fakeQueue) lockedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, r := range q.rows {
		if r.locked {
			n++
		}
	}
	return n
}

func (q *fakeQueue) find(id string) (int, *fakeRow) {
	for i, r := range q.rows {
		if r.id == id {
			return i, r
		}
	}
	return -1, nil
}

func (q *fakeQueue) DequeueOne(context.Context) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dequeues++
	if q.dequeueErr != nil {
		return nil, q.dequeueErr
	}
	for _, r := range q.rows {
		if r.locked || r.hidden.After(q.now()) {
			continue
		}
		r.locked = true
		return &Task{DeliveryID: r.delivery, IssueID: r.issueID, SubscriberEmail: r.email, NRetries: r.nRetries, rowID: r.id}, nil
	}
	return nil, nil
}

func (q *fakeQueue) DeleteAndCommit(_ context.Context, task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	i, r := q.find(task.rowID)
	if r == nil || !r.locked {
		return errors.New("task not locked")
	}
	if q.deleteErr != nil {
		r.locked = false
		return q.deleteErr
	}
	q.rows = append(q.rows[:i], q.rows[i+1:]...)
	return nil
}

func (q *fakeQueue) Release(task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, r := q.find(task.rowID); r != nil {
		r.locked = false
	}
	return nil
}

func (q *fakeQueue) Reschedule(_ context.Context, task *Task, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, r := q.find(task.rowID)
	if r == nil {
		return errors.New("task not found")
	}
	r.nRetries++
	r.hidden = q.now().Add(delay)
	r.locked = false
	return nil
}

func (q *fakeQueue) DeadLetter(_ context.Context, task *Task, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	i, r := q.find(task.rowID)
	if r == nil {
		return errors.New("task not found")
	}
	q.deadLetters = append(q.deadLetters, models.DeadLetter{
		IssueID:         r.issueID,
		SubscriberEmail: r.email,
		NRetries:        r.nRetries + 1,
		LastError:       reason,
	})
	q.rows = append(q.rows[:i], q.rows[i+1:]...)
	return nil
}

func (q *fakeQueue) PendingCount(context.Context) (int, error) {
	return q.len(), nil
}

type fakeIssues struct {
	issues map[uuid.UUID]*models.NewsletterIssue
	err    error
}

func newFakeIssues(issues ...*models.NewsletterIssue) *fakeIssues {
	f := &fakeIssues{issues: map[uuid.UUID]*models.NewsletterIssue{}}
	for _, i := range issues {
		f.issues[i.ID] = i
	}
	return f
}

func (f *fakeIssues) GetIssue(_ context.Context, id uuid.UUID) (*models.NewsletterIssue, error) {
	if f.err != nil {
		return nil, f.err
	}
	issue, ok := f.issues[id]
	if !ok {
		return nil, fmt.Errorf("issue %s not found", id)
	}
	return issue, nil
}

type sentEmail struct {
	recipient string
	subject   string
	msgID     string
}

type fakeSender struct {
	mu       sync.Mutex
	sent     []sentEmail
	attempts []string       // message id of every Send call, failed or not
	failures map[string]int // recipient -> remaining failures
	inFlight map[string]int
	overlap  bool
	delay    time.Duration
}

func newFakeSender() *fakeSender {
	return &fakeSender{failures: map[string]int{}, inFlight: map[string]int{}}
}

func (s *fakeSender) failTimes(recipient string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[recipient] = n
}

func (s *fakeSender) Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error {
	msgID := email.MessageID(ctx)
	s.mu.Lock()
	s.attempts = append(s.attempts, msgID)
	if s.failures[recipient] > 0 {
		s.failures[recipient]--
		s.mu.Unlock()
		return errors.New("503 service unavailable")
	}
	s.inFlight[recipient]++
	if s.inFlight[recipient] > 1 {
		s.overlap = true
	}
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight[recipient]--
	s.sent = append(s.sent, sentEmail{recipient: recipient, subject: subject, msgID: msgID})
	return nil
}

func (s *fakeSender) messageIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sent))
	for _, e := range s.sent {
		ids = append(ids, e.msgID)
	}
	return ids
}

func (s *fakeSender) sentTo() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]int{}
	for _, e := range s.sent {
		out[e.recipient]++
	}
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Publish(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) statuses() []EventStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventStatus, len(s.events))
	for i, e := range s.events {
		out[i] = e.Status
	}
	return out
}
