// nexus-relay - Assistant-backed SMS relay
// Copyright (C) 2026  nexus contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jredh-dev/nexus-relay/internal/apperr"
	"github.com/jredh-dev/nexus-relay/internal/assistant"
	"github.com/jredh-dev/nexus-relay/internal/dedupe"
	"github.com/jredh-dev/nexus-relay/internal/models"
	"github.com/jredh-dev/nexus-relay/internal/phone"
	"github.com/jredh-dev/nexus-relay/internal/relay"
	"github.com/jredh-dev/nexus-relay/internal/sms"
	"github.com/jredh-dev/nexus-relay/internal/store"
	"github.com/jredh-dev/nexus-relay/internal/twilio"
)

// Replier answers a message on an assistant session.
type Replier interface {
	GetReply(ctx context.Context, sessionID, body, assistantID string) (*assistant.Result, error)
}

// Deps are the collaborators a Handler needs. Dedupe is optional.
type Deps struct {
	Store     store.Store
	Pipeline  *relay.Pipeline
	Relay     *relay.Relay
	Assistant Replier
	OpenPhone relay.Channel
	Dedupe    dedupe.Deduper
	ChunkSize int
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	store     store.Store
	pipeline  *relay.Pipeline
	relay     *relay.Relay
	assistant Replier
	openPhone relay.Channel
	dedupe    dedupe.Deduper
	chunkSize int
}

// New creates a new Handler.
func New(d Deps) *Handler {
	if d.ChunkSize <= 0 {
		d.ChunkSize = sms.MaxSegment
	}
	return &Handler{
		store:     d.Store,
		pipeline:  d.Pipeline,
		relay:     d.Relay,
		assistant: d.Assistant,
		openPhone: d.OpenPhone,
		dedupe:    d.Dedupe,
		chunkSize: d.ChunkSize,
	}
}

// Routes registers every endpoint on r. auth guards the internal endpoints
// and signed guards the Twilio webhook; either may be a passthrough.
func (h *Handler) Routes(r chi.Router, auth, signed func(http.Handler) http.Handler) {
	r.Post("/openphoneInbound", h.OpenPhoneInbound)
	r.With(signed).Post("/smsIncomingMessage", h.SMSIncomingMessage)

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Post("/send_message_zapier", h.SendMessageZapier)
		r.Post("/runAssistant", h.RunAssistant)
		r.Get("/threads/{phone}/messages", h.ThreadMessages)
	})
}

// --- Inbound webhooks ---

type openPhoneReq struct {
	MessageBody string `json:"message_body"`
	PhoneNumber string `json:"phone_number"`
}

// OpenPhoneInbound runs a turn for a message forwarded by the OpenPhone Zap
// and delivers the reply through the Zapier webhook.
// POST /openphoneInbound
func (h *Handler) OpenPhoneInbound(w http.ResponseWriter, r *http.Request) {
	var req openPhoneReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PhoneNumber == "" || req.MessageBody == "" {
		jsonError(w, "phone_number and message_body are required", http.StatusBadRequest)
		return
	}

	_, err := h.pipeline.Handle(r.Context(), h.openPhone, req.PhoneNumber, req.MessageBody)
	if errors.Is(err, apperr.Delivery) {
		log.Printf("error sending reply to %s via OpenPhone: %v", req.PhoneNumber, err)
		jsonError(w, "Failed to send message via OpenPhone", http.StatusInternalServerError)
		return
	}
	if err != nil {
		log.Printf("error handling OpenPhone message from %s: %v", req.PhoneNumber, err)
		jsonError(w, "Failed to process incoming message", apperr.HTTPStatus(err))
		return
	}

	jsonOK(w, http.StatusOK, map[string]string{
		"response": "Inbound message processed and response sent via OpenPhone",
	})
}

// SMSIncomingMessage runs a turn for a Twilio webhook and answers with the
// reply as TwiML. A MessageSid seen before gets an empty response, unless
// the earlier turn failed, in which case Twilio's retry runs the turn again.
// POST /smsIncomingMessage
func (h *Handler) SMSIncomingMessage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	from := r.FormValue("From")
	body := r.FormValue("Body")
	sid := r.FormValue("MessageSid")

	if sid != "" && h.dedupe != nil {
		first, err := h.dedupe.First(r.Context(), sid)
		if err != nil {
			log.Printf("dedupe check for %s failed, processing anyway: %v", sid, err)
		} else if !first {
			log.Printf("duplicate Twilio delivery %s from %s ignored", sid, from)
			twilio.Write(w)
			return
		}
	}

	turn, err := h.pipeline.Handle(r.Context(), relay.Twilio{}, from, body)
	if err != nil {
		log.Printf("error handling Twilio message from %s: %v", from, err)
		h.forget(sid)
		http.Error(w, "Failed to process incoming message", apperr.HTTPStatus(err))
		return
	}

	if err := twilio.Write(w, sms.Chunk(turn.Outbound.Body, h.chunkSize)...); err != nil {
		log.Printf("error writing TwiML: %v", err)
	}
}

// forget releases a MessageSid after a failed turn. The request context may
// already be done, so it gets its own short deadline.
func (h *Handler) forget(sid string) {
	if sid == "" || h.dedupe == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.dedupe.Forget(ctx, sid); err != nil {
		log.Printf("could not release %s for retry: %v", sid, err)
	}
}

// --- Internal API ---

type sendReq struct {
	UserNumber  string `json:"user_number"`
	MessageBody string `json:"message_body"`
}

// SendMessageZapier sends a message to a phone number that already has a
// thread.
// POST /send_message_zapier
func (h *Handler) SendMessageZapier(w http.ResponseWriter, r *http.Request) {
	var req sendReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	_, err := h.relay.Send(r.Context(), req.UserNumber, req.MessageBody)
	switch {
	case err == nil:
		jsonOK(w, http.StatusOK, map[string]string{"response": "Message sent via Zapier"})
	case errors.Is(err, apperr.NotFound):
		jsonError(w, "Thread not found for this phone number", http.StatusNotFound)
	case errors.Is(err, apperr.Delivery):
		log.Printf("error delivering to %s: %v", req.UserNumber, err)
		jsonError(w, "Failed to send message via Zapier", http.StatusInternalServerError)
	default:
		log.Printf("error relaying to %s: %v", req.UserNumber, err)
		jsonError(w, err.Error(), apperr.HTTPStatus(err))
	}
}

type runAssistantReq struct {
	Thread    string `json:"sThread"`
	Message   string `json:"sMessage"`
	Assistant string `json:"sAssistant"`
}

// RunAssistant runs one assistant turn outside any phone thread.
// POST /runAssistant
func (h *Handler) RunAssistant(w http.ResponseWriter, r *http.Request) {
	var req runAssistantReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		jsonError(w, "sMessage is required", http.StatusBadRequest)
		return
	}

	res, err := h.assistant.GetReply(r.Context(), req.Thread, req.Message, req.Assistant)
	if err != nil {
		log.Printf("error running assistant: %v", err)
		jsonError(w, err.Error(), apperr.HTTPStatus(err))
		return
	}
	jsonOK(w, http.StatusOK, res)
}

type threadMessagesResp struct {
	Thread   *models.Thread    `json:"thread"`
	Messages []*models.Message `json:"messages"`
}

// ThreadMessages returns a phone number's thread and its messages, oldest
// first.
// GET /threads/{phone}/messages
func (h *Handler) ThreadMessages(w http.ResponseWriter, r *http.Request) {
	raw, err := url.PathUnescape(chi.URLParam(r, "phone"))
	number := phone.Normalize(raw)
	if err != nil || number == "" {
		jsonError(w, "invalid phone number", http.StatusBadRequest)
		return
	}

	thread, err := h.store.ThreadByPhone(r.Context(), number)
	if err != nil {
		if !errors.Is(err, apperr.NotFound) {
			log.Printf("error fetching thread for %s: %v", number, err)
		}
		jsonError(w, "thread not found", apperr.HTTPStatus(err))
		return
	}

	messages, err := h.store.MessagesByThread(r.Context(), thread.ID)
	if err != nil {
		log.Printf("error listing messages for thread %s: %v", thread.ID, err)
		jsonError(w, "failed to list messages", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	jsonOK(w, http.StatusOK, threadMessagesResp{Thread: thread, Messages: messages})
}

// --- helpers ---

func jsonOK(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
