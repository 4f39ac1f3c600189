// Package notify forwards message-log events to the automation webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/jredh-dev/nexus-relay/internal/apperr"
	"github.com/jredh-dev/nexus-relay/internal/models"
)

// MissingParameters is the notifier's validation message.
const MissingParameters = "Missing parameters"

// Event is a message-log event. Fields stay raw JSON so values received as
// JSON are forwarded exactly as they arrived.
type Event struct {
	ThreadID    json.RawMessage `json:"thread_id"`
	PhoneNumber json.RawMessage `json:"phone_number"`
	MessageBody json.RawMessage `json:"message_body"`
	MessageType json.RawMessage `json:"message_type"`
}

// NewEvent builds the event for a logged message.
func NewEvent(m *models.Message) Event {
	return Event{
		ThreadID:    quote(m.ThreadID),
		PhoneNumber: quote(m.PhoneNumber),
		MessageBody: quote(m.Body),
		MessageType: quote(string(m.Direction)),
	}
}

func quote(s string) json.RawMessage {
	b, _ := encode(s)
	return b
}

// Encode returns the event as compact JSON with <, > and & left as is.
func (e Event) Encode() ([]byte, error) {
	return encode(e)
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Parse reads an event from a JSON or form-encoded body. Any other content
// type yields an empty event, which fails Validate.
func Parse(contentType string, body []byte) (Event, error) {
	var ev Event
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "application/json":
		if err := json.Unmarshal(body, &ev); err != nil {
			return ev, apperr.Wrap(apperr.Validation, "notify.Parse", err)
		}
	case "application/x-www-form-urlencoded":
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return ev, apperr.Wrap(apperr.Validation, "notify.Parse", err)
		}
		ev.ThreadID = formField(form, "thread_id")
		ev.PhoneNumber = formField(form, "phone_number")
		ev.MessageBody = formField(form, "message_body")
		ev.MessageType = formField(form, "message_type")
	}
	return ev, nil
}

func formField(form url.Values, key string) json.RawMessage {
	if _, ok := form[key]; !ok {
		return nil
	}
	return quote(form.Get(key))
}

// Validate fails when any field is missing, null, empty, false or zero.
func (e Event) Validate() error {
	for _, f := range []json.RawMessage{e.ThreadID, e.PhoneNumber, e.MessageBody, e.MessageType} {
		if blank(f) {
			return apperr.Errorf(apperr.Validation, "notify.Validate", MissingParameters)
		}
	}
	return nil
}

func blank(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return true
	}
	switch string(raw) {
	case "null", `""`, "false", "0":
		return true
	}
	return false
}

// Reply is the webhook's answer.
type Reply struct {
	Status int
	Body   []byte
}

// OK reports a 2xx status.
func (r *Reply) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Forwarder posts events to the automation webhook.
type Forwarder struct {
	webhookURL string
	httpClient *http.Client
}

func NewForwarder(webhookURL string) *Forwarder {
	return &Forwarder{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Forward validates ev and posts it as JSON. Failing to reach the webhook is
// Upstream; a non-2xx answer is returned as a Reply, not an error.
func (f *Forwarder) Forward(ctx context.Context, ev Event) (*Reply, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	if f.webhookURL == "" {
		return nil, apperr.Errorf(apperr.Upstream, "notify.Forward", "notify webhook not configured")
	}

	body, err := ev.Encode()
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.webhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, "notify.Forward", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, "notify.Forward", err)
	}
	return &Reply{Status: resp.StatusCode, Body: respBody}, nil
}
