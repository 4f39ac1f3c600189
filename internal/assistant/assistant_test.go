package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jredh-dev/nexus-relay/internal/apperr"
)

// fakeBackend replays a fixed status sequence and records every call.
type fakeBackend struct {
	mu        sync.Mutex
	statuses  []RunStatus
	getRuns   int
	sessions  int
	added     []string
	startedOn []string
	latest    string
	failStart error
}

func (f *fakeBackend) CreateSession(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions++
	return "thread_new", nil
}

func (f *fakeBackend) AddUserMessage(ctx context.Context, sessionID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, text)
	f.latest = text
	return nil
}

func (f *fakeBackend) StartRun(ctx context.Context, sessionID, assistantID string) (Run, error) {
	if f.failStart != nil {
		return Run{}, f.failStart
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startedOn = append(f.startedOn, sessionID+"/"+assistantID)
	return Run{ID: "run_1", Status: RunQueued}, nil
}

func (f *fakeBackend) GetRun(ctx context.Context, sessionID, runID string) (Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.getRuns
	f.getRuns++
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	s := f.statuses[i]
	if s == RunCompleted {
		f.latest = "assistant says hi"
	}
	return Run{ID: runID, Status: s}, nil
}

func (f *fakeBackend) LatestMessage(ctx context.Context, sessionID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, nil
}

// instantClock fires immediately and counts waits.
type instantClock struct {
	waits int
}

func (c *instantClock) After(d time.Duration) <-chan time.Time {
	c.waits++
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func newCoordinator(t *testing.T, b Backend, opts Options) (*Coordinator, *instantClock) {
	t.Helper()
	clock := &instantClock{}
	opts.Clock = clock
	if opts.AssistantID == "" {
		opts.AssistantID = "asst_default"
	}
	c, err := New(b, opts)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	return c, clock
}

func TestGetReply_PollsUntilCompleted(t *testing.T) {
	b := &fakeBackend{statuses: []RunStatus{RunQueued, RunInProgress, RunCompleted}}
	c, clock := newCoordinator(t, b, Options{})

	res, err := c.GetReply(context.Background(), "thread_1", "hi", "")
	if err != nil {
		t.Fatalf("get reply: %v", err)
	}
	if b.getRuns != 3 {
		t.Errorf("expected 3 status fetches, got %d", b.getRuns)
	}
	if clock.waits != 3 {
		t.Errorf("expected 3 waits, got %d", clock.waits)
	}
	if res.Polls != 3 {
		t.Errorf("expected Polls=3, got %d", res.Polls)
	}
	if res.Reply != "assistant says hi" {
		t.Errorf("reply = %q", res.Reply)
	}
	if res.RunStatus != RunCompleted {
		t.Errorf("status = %q", res.RunStatus)
	}
	if res.SessionID != "thread_1" {
		t.Errorf("session = %q", res.SessionID)
	}
	if b.sessions != 0 {
		t.Errorf("expected no new session, created %d", b.sessions)
	}
	if len(b.startedOn) != 1 || b.startedOn[0] != "thread_1/asst_default" {
		t.Errorf("runs started: %v", b.startedOn)
	}
}

func TestGetReply_CreatesSessionWhenEmpty(t *testing.T) {
	b := &fakeBackend{statuses: []RunStatus{RunCompleted}}
	c, _ := newCoordinator(t, b, Options{})

	res, err := c.GetReply(context.Background(), "", "hi", "asst_other")
	if err != nil {
		t.Fatalf("get reply: %v", err)
	}
	if b.sessions != 1 {
		t.Errorf("expected 1 session created, got %d", b.sessions)
	}
	if res.SessionID != "thread_new" {
		t.Errorf("session = %q", res.SessionID)
	}
	if b.startedOn[0] != "thread_new/asst_other" {
		t.Errorf("run started on %q", b.startedOn[0])
	}
}

func TestGetReply_FailedRunReturnsLatestMessage(t *testing.T) {
	// A failed run adds no assistant message, so the newest message is the
	// user's own text.
	b := &fakeBackend{statuses: []RunStatus{RunInProgress, RunFailed}}
	c, _ := newCoordinator(t, b, Options{})

	res, err := c.GetReply(context.Background(), "thread_1", "are you there", "")
	if err != nil {
		t.Fatalf("get reply: %v", err)
	}
	if res.RunStatus != RunFailed {
		t.Errorf("status = %q, want failed", res.RunStatus)
	}
	if res.Reply != "are you there" {
		t.Errorf("reply = %q, want the user's message", res.Reply)
	}
}

func TestGetReply_StopsAtRequiresAction(t *testing.T) {
	b := &fakeBackend{statuses: []RunStatus{RunRequiresAction, RunCompleted}}
	c, _ := newCoordinator(t, b, Options{})

	res, err := c.GetReply(context.Background(), "thread_1", "hi", "")
	if err != nil {
		t.Fatalf("get reply: %v", err)
	}
	if b.getRuns != 1 {
		t.Errorf("expected 1 fetch, got %d", b.getRuns)
	}
	if res.RunStatus != RunRequiresAction {
		t.Errorf("status = %q", res.RunStatus)
	}
}

func TestGetReply_TimesOut(t *testing.T) {
	b := &fakeBackend{statuses: []RunStatus{RunInProgress}}
	c, _ := newCoordinator(t, b, Options{
		PollInterval: time.Second,
		PollTimeout:  5 * time.Second,
	})

	_, err := c.GetReply(context.Background(), "thread_1", "hi", "")
	if !errors.Is(err, apperr.Timeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
	if b.getRuns != 5 {
		t.Errorf("expected 5 fetches before giving up, got %d", b.getRuns)
	}
}

func TestGetReply_ContextCancelled(t *testing.T) {
	b := &fakeBackend{statuses: []RunStatus{RunInProgress}}
	c, err := New(b, Options{AssistantID: "asst", PollInterval: time.Hour})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.GetReply(ctx, "thread_1", "hi", "")
	if !errors.Is(err, apperr.Timeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
}

func TestGetReply_NoAssistant(t *testing.T) {
	c, err := New(&fakeBackend{}, Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = c.GetReply(context.Background(), "thread_1", "hi", "")
	if !errors.Is(err, apperr.Validation) {
		t.Errorf("expected Validation, got %v", err)
	}
}

func TestGetReply_StartRunFails(t *testing.T) {
	b := &fakeBackend{statuses: []RunStatus{RunCompleted}, failStart: errors.New("boom")}
	c, _ := newCoordinator(t, b, Options{})

	_, err := c.GetReply(context.Background(), "thread_1", "hi", "")
	if !errors.Is(err, apperr.Upstream) {
		t.Errorf("expected Upstream, got %v", err)
	}
}

func TestGetReply_Template(t *testing.T) {
	b := &fakeBackend{statuses: []RunStatus{RunCompleted}}
	c, _ := newCoordinator(t, b, Options{Template: ShortReplyTemplate})

	if _, err := c.GetReply(context.Background(), "thread_1", "what time is it", ""); err != nil {
		t.Fatalf("get reply: %v", err)
	}
	if len(b.added) != 1 {
		t.Fatalf("expected 1 message added, got %d", len(b.added))
	}
	if !strings.HasPrefix(b.added[0], "what time is it\n\n") {
		t.Errorf("message not wrapped: %q", b.added[0])
	}
	if !strings.Contains(b.added[0], "no more than 3 sentences") {
		t.Errorf("missing instruction: %q", b.added[0])
	}
}

func TestNew_BadTemplate(t *testing.T) {
	if _, err := New(&fakeBackend{}, Options{Template: "{{.Body"}); err == nil {
		t.Error("expected parse error")
	}
}

func TestRunStatusTerminal(t *testing.T) {
	tests := []struct {
		status RunStatus
		want   bool
	}{
		{RunQueued, false},
		{RunInProgress, false},
		{RunCancelling, false},
		{RunCompleted, true},
		{RunFailed, true},
		{RunRequiresAction, true},
		{RunCancelled, true},
		{RunExpired, true},
		{RunIncomplete, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}
