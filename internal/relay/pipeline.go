package relay

import (
	"context"
	"log"

	"github.com/jredh-dev/nexus-relay/internal/apperr"
	"github.com/jredh-dev/nexus-relay/internal/assistant"
	"github.com/jredh-dev/nexus-relay/internal/models"
	"github.com/jredh-dev/nexus-relay/internal/phone"
	"github.com/jredh-dev/nexus-relay/internal/sms"
	"github.com/jredh-dev/nexus-relay/internal/store"
)

// Coordinator is the assistant side of a turn.
type Coordinator interface {
	SessionCreator
	GetReply(ctx context.Context, sessionID, body, assistantID string) (*assistant.Result, error)
}

// Turn is one completed inbound/outbound exchange.
type Turn struct {
	Thread   *models.Thread
	Inbound  *models.Message
	Outbound *models.Message
	Result   *assistant.Result
}

// Pipeline runs turns for every channel.
type Pipeline struct {
	store    store.Store
	resolver *Resolver
	coord    Coordinator
}

func NewPipeline(s store.Store, coord Coordinator) *Pipeline {
	return &Pipeline{
		store:    s,
		resolver: NewResolver(s, coord),
		coord:    coord,
	}
}

// Resolver exposes the pipeline's thread resolver.
func (p *Pipeline) Resolver() *Resolver { return p.resolver }

// Handle runs one turn for number, which is normalized to E.164 first. The
// order is fixed: log inbound, get the reply, log
// outbound, deliver. A delivery failure leaves both log entries in place and
// still returns the Turn alongside the error.
func (p *Pipeline) Handle(ctx context.Context, ch Channel, number, body string) (*Turn, error) {
	number = phone.Normalize(number)
	if number == "" || body == "" {
		return nil, apperr.Errorf(apperr.Validation, "relay.Handle", "phone_number and message_body are required")
	}

	thread, err := p.resolver.Resolve(ctx, number)
	if err != nil {
		return nil, err
	}

	in := &models.Message{
		ThreadID:    thread.ID,
		PhoneNumber: number,
		Body:        body,
		Direction:   models.Inbound,
	}
	if err := p.store.AppendMessage(ctx, in); err != nil {
		return nil, err
	}

	res, err := p.coord.GetReply(ctx, thread.AssistantSessionID, body, "")
	if err != nil {
		return nil, err
	}

	out := &models.Message{
		ThreadID:    thread.ID,
		PhoneNumber: number,
		Body:        res.Reply,
		Direction:   models.Outbound,
	}
	if err := p.store.AppendMessage(ctx, out); err != nil {
		return nil, err
	}

	turn := &Turn{Thread: thread, Inbound: in, Outbound: out, Result: res}
	if err := ch.Deliver(ctx, out); err != nil {
		return turn, apperr.Wrap(apperr.Delivery, "relay."+ch.Name(), err)
	}
	log.Printf("relay: %s turn on thread %s (run %s, %s, %d polls)", ch.Name(), thread.ID, res.RunID, res.RunStatus, res.Polls)
	return turn, nil
}

// Relay sends operator or automation messages to a phone number that already
// has a thread.
type Relay struct {
	store  store.Store
	sender sms.Sender
}

func NewRelay(s store.Store, sender sms.Sender) *Relay {
	return &Relay{store: s, sender: sender}
}

// Send logs body as an outbound message on number's thread, then delivers it.
// An unknown phone number is NotFound and nothing is logged. The log entry
// stays even if delivery fails.
func (r *Relay) Send(ctx context.Context, number, body string) (*models.Message, error) {
	number = phone.Normalize(number)
	if number == "" || body == "" {
		return nil, apperr.Errorf(apperr.Validation, "relay.Send", "user_number and message_body are required")
	}

	thread, err := r.store.ThreadByPhone(ctx, number)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		ThreadID:    thread.ID,
		PhoneNumber: number,
		Body:        body,
		Direction:   models.Outbound,
	}
	if err := r.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}

	if err := r.sender.Send(ctx, sms.OutboundMessage{ID: msg.ID, To: number, Body: body}); err != nil {
		return msg, apperr.Wrap(apperr.Delivery, "relay.Send", err)
	}
	return msg, nil
}
