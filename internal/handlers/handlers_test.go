package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jredh-dev/nexus-relay/internal/assistant"
	"github.com/jredh-dev/nexus-relay/internal/dedupe"
	"github.com/jredh-dev/nexus-relay/internal/models"
	"github.com/jredh-dev/nexus-relay/internal/relay"
	"github.com/jredh-dev/nexus-relay/internal/sms"
	"github.com/jredh-dev/nexus-relay/internal/store"
	"github.com/jredh-dev/nexus-relay/internal/token"
	"github.com/jredh-dev/nexus-relay/internal/twilio"
)

// echoBackend answers every run immediately with "echo: <last user text>".
type echoBackend struct {
	mu       sync.Mutex
	sessions int
	last     map[string]string
	status   assistant.RunStatus
}

func newEchoBackend() *echoBackend {
	return &echoBackend{last: map[string]string{}, status: assistant.RunCompleted}
}

func (b *echoBackend) CreateSession(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions++
	return "thread_" + string(rune('a'+b.sessions-1)), nil
}

func (b *echoBackend) AddUserMessage(ctx context.Context, sessionID, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last[sessionID] = text
	return nil
}

func (b *echoBackend) StartRun(ctx context.Context, sessionID, assistantID string) (assistant.Run, error) {
	return assistant.Run{ID: "run_1", Status: assistant.RunQueued}, nil
}

func (b *echoBackend) GetRun(ctx context.Context, sessionID, runID string) (assistant.Run, error) {
	return assistant.Run{ID: runID, Status: b.status}, nil
}

func (b *echoBackend) LatestMessage(ctx context.Context, sessionID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return "echo: " + b.last[sessionID], nil
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sms.OutboundMessage
	fail bool
}

func (s *recordingSender) Send(ctx context.Context, msg sms.OutboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	if s.fail {
		return context.DeadlineExceeded
	}
	return nil
}

type fixture struct {
	store   store.Store
	backend *echoBackend
	sender  *recordingSender
	handler *Handler
}

func testFixture(t *testing.T) *fixture {
	t.Helper()
	path := t.TempDir() + "/test.db"
	st, err := store.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
		os.Remove(path)
	})

	backend := newEchoBackend()
	coord, err := assistant.New(backend, assistant.Options{
		AssistantID:  "asst_test",
		PollInterval: time.Millisecond,
		PollTimeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}

	sender := &recordingSender{}
	chunked := &sms.ChunkedSender{Next: sender, Size: 1600}
	h := New(Deps{
		Store:     st,
		Pipeline:  relay.NewPipeline(st, coord),
		Relay:     relay.NewRelay(st, chunked),
		Assistant: coord,
		OpenPhone: relay.OpenPhone{Sender: chunked},
		Dedupe:    dedupe.NewMemory(time.Hour),
		ChunkSize: 1600,
	})
	return &fixture{store: st, backend: backend, sender: sender, handler: h}
}

func testRouter(h *Handler, auth *token.Service) *chi.Mux {
	r := chi.NewRouter()
	h.Routes(r, token.Middleware(auth), twilio.RequireSignature("", ""))
	return r
}

func postJSON(r http.Handler, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if len(header) == 2 {
		req.Header.Set(header[0], header[1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func postForm(r http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func messagesFor(t *testing.T, st store.Store, phone string) []*models.Message {
	t.Helper()
	thread, err := st.ThreadByPhone(context.Background(), phone)
	if err != nil {
		t.Fatalf("thread for %s: %v", phone, err)
	}
	msgs, err := st.MessagesByThread(context.Background(), thread.ID)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	return msgs
}

func TestOpenPhoneInbound(t *testing.T) {
	f := testFixture(t)
	r := testRouter(f.handler, nil)

	w := postJSON(r, "/openphoneInbound", `{"message_body":"hi","phone_number":"+15551234567"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["response"] != "Inbound message processed and response sent via OpenPhone" {
		t.Errorf("response = %q", resp["response"])
	}

	msgs := messagesFor(t, f.store, "+15551234567")
	if len(msgs) != 2 || msgs[0].Direction != models.Inbound || msgs[1].Direction != models.Outbound {
		t.Fatalf("unexpected log: %+v", msgs)
	}
	if msgs[1].Body != "echo: hi" {
		t.Errorf("reply = %q", msgs[1].Body)
	}
	if len(f.sender.sent) != 1 || f.sender.sent[0].To != "+15551234567" || f.sender.sent[0].Body != "echo: hi" {
		t.Errorf("delivered %+v", f.sender.sent)
	}
}

func TestOpenPhoneInbound_SecondMessageReusesThread(t *testing.T) {
	f := testFixture(t)
	r := testRouter(f.handler, nil)

	postJSON(r, "/openphoneInbound", `{"message_body":"one","phone_number":"+15551234567"}`)
	postJSON(r, "/openphoneInbound", `{"message_body":"two","phone_number":"+15551234567"}`)

	if f.backend.sessions != 1 {
		t.Errorf("expected 1 assistant session, got %d", f.backend.sessions)
	}
	if msgs := messagesFor(t, f.store, "+15551234567"); len(msgs) != 4 {
		t.Errorf("expected 4 messages, got %d", len(msgs))
	}
}

func TestOpenPhoneInbound_MissingFields(t *testing.T) {
	f := testFixture(t)
	r := testRouter(f.handler, nil)

	for _, body := range []string{`{"phone_number":"+1"}`, `{"message_body":"hi"}`, `not json`} {
		w := postJSON(r, "/openphoneInbound", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, w.Code)
		}
	}
}

func TestOpenPhoneInbound_DeliveryFailure(t *testing.T) {
	f := testFixture(t)
	f.sender.fail = true
	r := testRouter(f.handler, nil)

	w := postJSON(r, "/openphoneInbound", `{"message_body":"hi","phone_number":"+15551234567"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Failed to send message via OpenPhone") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestSMSIncomingMessage(t *testing.T) {
	f := testFixture(t)
	r := testRouter(f.handler, nil)

	w := postForm(r, "/smsIncomingMessage", url.Values{"From": {"+15557654321"}, "Body": {"hello"}, "MessageSid": {"SM1"}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/xml" {
		t.Errorf("content-type = %s", ct)
	}
	if !strings.Contains(w.Body.String(), "<Message>echo: hello</Message>") {
		t.Errorf("body = %s", w.Body.String())
	}
	if len(f.sender.sent) != 0 {
		t.Error("twilio replies are inline; nothing should go through the sender")
	}
	msgs := messagesFor(t, f.store, "+15557654321")
	if len(msgs) != 2 {
		t.Errorf("expected 2 messages, got %d", len(msgs))
	}
}

func TestSMSIncomingMessage_DuplicateSid(t *testing.T) {
	f := testFixture(t)
	r := testRouter(f.handler, nil)
	form := url.Values{"From": {"+15557654321"}, "Body": {"hello"}, "MessageSid": {"SM42"}}

	postForm(r, "/smsIncomingMessage", form)
	w := postForm(r, "/smsIncomingMessage", form)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "<Message>") {
		t.Errorf("duplicate should get an empty response: %s", w.Body.String())
	}
	msgs := messagesFor(t, f.store, "+15557654321")
	if len(msgs) != 2 {
		t.Errorf("duplicate must not log again, got %d messages", len(msgs))
	}
}

func TestSMSIncomingMessage_RetryAfterFailure(t *testing.T) {
	f := testFixture(t)
	f.backend.status = assistant.RunInProgress
	r := testRouter(f.handler, nil)
	form := url.Values{"From": {"+15557654321"}, "Body": {"hello"}, "MessageSid": {"SM43"}}

	if w := postForm(r, "/smsIncomingMessage", form); w.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504 on the first delivery, got %d", w.Code)
	}

	f.backend.status = assistant.RunCompleted
	w := postForm(r, "/smsIncomingMessage", form)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on retry, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<Message>echo: hello</Message>") {
		t.Errorf("retry should get the reply: %s", w.Body.String())
	}
}

func TestSMSIncomingMessage_LongReplySplit(t *testing.T) {
	f := testFixture(t)
	f.handler.chunkSize = 10
	r := testRouter(f.handler, nil)

	w := postForm(r, "/smsIncomingMessage", url.Values{"From": {"+15557654321"}, "Body": {"0123456789abc"}})
	if got := strings.Count(w.Body.String(), "<Message>"); got != 2 {
		t.Errorf("expected 2 <Message> elements, got %d:\n%s", got, w.Body.String())
	}
}

func TestSMSIncomingMessage_Failure(t *testing.T) {
	f := testFixture(t)
	r := testRouter(f.handler, nil)

	w := postForm(r, "/smsIncomingMessage", url.Values{"From": {"+15557654321"}})
	if w.Code < 400 {
		t.Fatalf("expected an error status, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content-type = %s", ct)
	}
}

func TestSendMessageZapier(t *testing.T) {
	f := testFixture(t)
	r := testRouter(f.handler, nil)
	f.store.UpsertThread(context.Background(), "+15551234567", "thread_x")

	w := postJSON(r, "/send_message_zapier", `{"user_number":"+15551234567","message_body":"from ops"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(f.sender.sent) != 1 || f.sender.sent[0].Body != "from ops" {
		t.Errorf("delivered %+v", f.sender.sent)
	}
	msgs := messagesFor(t, f.store, "+15551234567")
	if len(msgs) != 1 || msgs[0].Direction != models.Outbound {
		t.Errorf("log = %+v", msgs)
	}
}

func TestSendMessageZapier_UnknownNumber(t *testing.T) {
	f := testFixture(t)
	r := testRouter(f.handler, nil)

	w := postJSON(r, "/send_message_zapier", `{"user_number":"+15550000000","message_body":"hi"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if len(f.sender.sent) != 0 {
		t.Error("nothing should be delivered")
	}
}

func TestSendMessageZapier_DeliveryFailure(t *testing.T) {
	f := testFixture(t)
	f.sender.fail = true
	r := testRouter(f.handler, nil)
	f.store.UpsertThread(context.Background(), "+15551234567", "thread_x")

	w := postJSON(r, "/send_message_zapier", `{"user_number":"+15551234567","message_body":"hi"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if msgs := messagesFor(t, f.store, "+15551234567"); len(msgs) != 1 {
		t.Errorf("log entry should remain, got %d", len(msgs))
	}
}

func TestRunAssistant(t *testing.T) {
	f := testFixture(t)
	r := testRouter(f.handler, nil)

	w := postJSON(r, "/runAssistant", `{"sThread":"","sMessage":"ping","sAssistant":"asst_other"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res assistant.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Reply != "echo: ping" || res.SessionID == "" || res.RunStatus != assistant.RunCompleted {
		t.Errorf("result = %+v", res)
	}
}

func TestRunAssistant_Timeout(t *testing.T) {
	f := testFixture(t)
	f.backend.status = assistant.RunInProgress
	r := testRouter(f.handler, nil)

	w := postJSON(r, "/runAssistant", `{"sThread":"thread_z","sMessage":"ping"}`)
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", w.Code)
	}
}

func TestThreadMessages(t *testing.T) {
	f := testFixture(t)
	r := testRouter(f.handler, nil)
	postJSON(r, "/openphoneInbound", `{"message_body":"hi","phone_number":"+15551234567"}`)

	req := httptest.NewRequest(http.MethodGet, "/threads/%2B15551234567/messages", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp threadMessagesResp
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Thread.PhoneNumber != "+15551234567" || len(resp.Messages) != 2 {
		t.Errorf("resp = %+v", resp)
	}

	req = httptest.NewRequest(http.MethodGet, "/threads/%2B15550000000/messages", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown number: expected 404, got %d", w.Code)
	}
}

func TestInternalEndpointsRequireToken(t *testing.T) {
	f := testFixture(t)
	auth := token.New("test-key", "relay.test")
	r := testRouter(f.handler, auth)

	w := postJSON(r, "/runAssistant", `{"sMessage":"ping"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	tok, err := auth.GenerateToken("ops", nil, time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	w = postJSON(r, "/runAssistant", `{"sMessage":"ping"}`, "Authorization", "Bearer "+tok)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d: %s", w.Code, w.Body.String())
	}

	// Public webhooks stay open.
	w = postJSON(r, "/openphoneInbound", `{"message_body":"hi","phone_number":"+15551234567"}`)
	if w.Code != http.StatusOK {
		t.Errorf("openphoneInbound should not need a token, got %d", w.Code)
	}
}
