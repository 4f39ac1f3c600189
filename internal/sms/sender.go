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

package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sender is the interface any SMS backend must implement.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) error
}

// ZapierSender hands messages to a Zapier catch hook, which sends them from
// the OpenPhone number.
type ZapierSender struct {
	webhookURL string
	fromNumber string
	httpClient *http.Client
}

// NewZapierSender creates a ZapierSender posting to webhookURL. fromNumber
// is the OpenPhone number in E.164 format.
func NewZapierSender(webhookURL, fromNumber string) *ZapierSender {
	return &ZapierSender{
		webhookURL: webhookURL,
		fromNumber: fromNumber,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// zapierRequest is the JSON body the Zap expects.
type zapierRequest struct {
	UserNumber  string `json:"user_number"`
	MessageBody string `json:"message_body"`
	From        string `json:"from"`
}

// Send posts msg to the webhook. Any non-2xx answer is an error; the caller
// decides whether to retry.
func (s *ZapierSender) Send(ctx context.Context, msg OutboundMessage) error {
	if s.webhookURL == "" {
		return fmt.Errorf("zapier delivery webhook not configured")
	}

	from := msg.From
	if from == "" {
		from = s.fromNumber
	}
	body, err := json.Marshal(zapierRequest{
		UserNumber:  msg.To,
		MessageBody: msg.Body,
		From:        from,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("zapier returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
