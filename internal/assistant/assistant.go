// Package assistant drives one turn against a hosted assistant: make sure a
// session exists, add the user's message, start a run, poll the run until it
// settles and read back the newest message.
package assistant

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/template"
	"time"

	"github.com/jredh-dev/nexus-relay/internal/apperr"
	"github.com/jredh-dev/nexus-relay/internal/logging"
)

// RunStatus mirrors the hosted service's run states.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelling     RunStatus = "cancelling"
	RunCancelled      RunStatus = "cancelled"
	RunFailed         RunStatus = "failed"
	RunCompleted      RunStatus = "completed"
	RunIncomplete     RunStatus = "incomplete"
	RunExpired        RunStatus = "expired"
)

// Terminal reports whether polling should stop at s.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunRequiresAction, RunCancelled, RunExpired, RunIncomplete:
		return true
	}
	return false
}

// Run is one processing invocation on a session.
type Run struct {
	ID     string
	Status RunStatus
}

// Backend is the hosted assistant API.
type Backend interface {
	CreateSession(ctx context.Context) (string, error)
	AddUserMessage(ctx context.Context, sessionID, text string) error
	StartRun(ctx context.Context, sessionID, assistantID string) (Run, error)
	GetRun(ctx context.Context, sessionID, runID string) (Run, error)
	// LatestMessage returns the text of the newest message on the session.
	LatestMessage(ctx context.Context, sessionID string) (string, error)
}

// Clock abstracts waiting between polls.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// ShortReplyTemplate keeps replies SMS-sized and strips source citations.
const ShortReplyTemplate = `{{.Body}}

Respond in no more than 3 sentences. Do not include sources, citations or annotation markers in your response.`

// Options configures a Coordinator.
type Options struct {
	AssistantID  string        // used when a call names no assistant
	PollInterval time.Duration // default 1s
	PollTimeout  time.Duration // default 120s; bounds the number of polls
	Template     string        // text/template over {{.Body}}; default passes the body through
	Clock        Clock
}

// Result is the outcome of one turn.
type Result struct {
	SessionID string    `json:"thread_id"`
	RunID     string    `json:"run_id"`
	RunStatus RunStatus `json:"run_status"`
	Reply     string    `json:"reply"`
	Polls     int       `json:"polls"`
}

// Coordinator runs turns against a Backend.
type Coordinator struct {
	backend     Backend
	assistantID string
	interval    time.Duration
	maxPolls    int
	tmpl        *template.Template
	clock       Clock
}

// New validates opts and returns a Coordinator.
func New(b Backend, opts Options) (*Coordinator, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 120 * time.Second
	}
	if opts.Template == "" {
		opts.Template = "{{.Body}}"
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	tmpl, err := template.New("message").Parse(opts.Template)
	if err != nil {
		return nil, fmt.Errorf("parse message template: %w", err)
	}

	maxPolls := int(opts.PollTimeout / opts.PollInterval)
	if opts.PollTimeout%opts.PollInterval != 0 {
		maxPolls++
	}

	return &Coordinator{
		backend:     b,
		assistantID: opts.AssistantID,
		interval:    opts.PollInterval,
		maxPolls:    maxPolls,
		tmpl:        tmpl,
		clock:       opts.Clock,
	}, nil
}

// NewSession creates an external session.
func (c *Coordinator) NewSession(ctx context.Context) (string, error) {
	id, err := c.backend.CreateSession(ctx)
	if err != nil {
		return "", apperr.Wrap(apperr.Upstream, "assistant.CreateSession", err)
	}
	return id, nil
}

// GetReply submits body on sessionID and waits for the assistant's answer.
// An empty sessionID creates a new session; callers holding a thread should
// always pass the thread's stored session. An empty assistantID uses the
// configured default.
//
// A run that ends failed or requires_action still yields the newest message
// on the session, which may be the user's own turn. Result.RunStatus tells
// the caller which case it got.
func (c *Coordinator) GetReply(ctx context.Context, sessionID, body, assistantID string) (*Result, error) {
	if assistantID == "" {
		assistantID = c.assistantID
	}
	if assistantID == "" {
		return nil, apperr.Errorf(apperr.Validation, "assistant.GetReply", "no assistant id configured")
	}

	if sessionID == "" {
		id, err := c.NewSession(ctx)
		if err != nil {
			return nil, err
		}
		sessionID = id
	}

	text, err := c.render(body)
	if err != nil {
		return nil, err
	}
	if err := c.backend.AddUserMessage(ctx, sessionID, text); err != nil {
		return nil, apperr.Wrap(apperr.Upstream, "assistant.AddUserMessage", err)
	}

	run, err := c.backend.StartRun(ctx, sessionID, assistantID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, "assistant.StartRun", err)
	}

	run, polls, err := c.poll(ctx, sessionID, run)
	if err != nil {
		return nil, err
	}
	if run.Status != RunCompleted {
		logging.Warnf("assistant: run %s on %s ended %s; returning latest message anyway", run.ID, sessionID, run.Status)
	}

	reply, err := c.backend.LatestMessage(ctx, sessionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, "assistant.LatestMessage", err)
	}

	return &Result{
		SessionID: sessionID,
		RunID:     run.ID,
		RunStatus: run.Status,
		Reply:     reply,
		Polls:     polls,
	}, nil
}

// poll waits one interval, fetches the run and repeats until the status is
// terminal or maxPolls fetches have been made.
func (c *Coordinator) poll(ctx context.Context, sessionID string, run Run) (Run, int, error) {
	for polls := 1; polls <= c.maxPolls; polls++ {
		select {
		case <-c.clock.After(c.interval):
		case <-ctx.Done():
			return run, polls - 1, apperr.Wrap(apperr.Timeout, "assistant.poll", ctx.Err())
		}

		next, err := c.backend.GetRun(ctx, sessionID, run.ID)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return run, polls, apperr.Wrap(apperr.Timeout, "assistant.poll", err)
			}
			return run, polls, apperr.Wrap(apperr.Upstream, "assistant.GetRun", err)
		}
		run = next
		logging.Debugf("assistant: run %s poll %d/%d: %s", run.ID, polls, c.maxPolls, run.Status)
		if run.Status.Terminal() {
			return run, polls, nil
		}
	}
	return run, c.maxPolls, apperr.Errorf(apperr.Timeout, "assistant.poll",
		"run %s still %s after %d polls", run.ID, run.Status, c.maxPolls)
}

func (c *Coordinator) render(body string) (string, error) {
	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, struct{ Body string }{body}); err != nil {
		return "", apperr.Wrap(apperr.Validation, "assistant.render", err)
	}
	return buf.String(), nil
}
