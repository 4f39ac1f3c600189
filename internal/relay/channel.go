package relay

import (
	"context"

	"github.com/jredh-dev/nexus-relay/internal/models"
	"github.com/jredh-dev/nexus-relay/internal/sms"
)

// Channel delivers a logged outbound message back to the user.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, msg *models.Message) error
}

// Twilio answers inline: the HTTP handler renders the reply as TwiML, so
// there is nothing left to deliver.
type Twilio struct{}

func (Twilio) Name() string { return "twilio" }

func (Twilio) Deliver(ctx context.Context, msg *models.Message) error { return nil }

// OpenPhone delivers through an SMS sender, normally a ChunkedSender over the
// Zapier webhook.
type OpenPhone struct {
	Sender sms.Sender
}

func (OpenPhone) Name() string { return "openphone" }

func (o OpenPhone) Deliver(ctx context.Context, msg *models.Message) error {
	return o.Sender.Send(ctx, sms.OutboundMessage{
		ID:   msg.ID,
		To:   msg.PhoneNumber,
		Body: msg.Body,
	})
}
