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

package main

import (
	"context"
	"fmt"
	"log"

	"github.com/jredh-dev/nexus-relay/config"
	"github.com/jredh-dev/nexus-relay/internal/assistant"
	"github.com/jredh-dev/nexus-relay/internal/dedupe"
	"github.com/jredh-dev/nexus-relay/internal/events"
	"github.com/jredh-dev/nexus-relay/internal/logging"
	"github.com/jredh-dev/nexus-relay/internal/sms"
	"github.com/jredh-dev/nexus-relay/internal/store"
	"github.com/jredh-dev/nexus-relay/internal/token"
)

// openStore opens the configured backend. With Kafka brokers configured every
// logged message is also published as an event.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.DB.Driver, err)
	}
	logging.Debugf("relay: using %s store", cfg.DB.Driver)

	if len(cfg.Kafka.Brokers) == 0 {
		return st, nil
	}
	log.Printf("relay: publishing message events to %q on %v", cfg.Kafka.Topic, cfg.Kafka.Brokers)
	return events.WithEvents(st, events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)), nil
}

func newCoordinator(cfg *config.Config) (*assistant.Coordinator, error) {
	if cfg.Assistant.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if cfg.Assistant.AssistantID == "" {
		log.Printf("relay: ASSISTANT_ID not set; /runAssistant callers must pass sAssistant")
	}
	return assistant.New(
		assistant.NewOpenAI(cfg.Assistant.APIKey, cfg.Assistant.BaseURL),
		assistant.Options{
			AssistantID:  cfg.Assistant.AssistantID,
			PollInterval: cfg.Assistant.PollInterval,
			PollTimeout:  cfg.Assistant.PollTimeout,
			Template:     cfg.Assistant.ReplyTemplate,
		},
	)
}

func newSender(cfg *config.Config) sms.Sender {
	if cfg.Zapier.DeliveryWebhookURL == "" {
		log.Printf("relay: ZAPIER_DELIVERY_WEBHOOK_URL not set; OpenPhone replies will fail")
	}
	return &sms.ChunkedSender{
		Next: sms.NewZapierSender(cfg.Zapier.DeliveryWebhookURL, cfg.Zapier.FromNumber),
		Size: cfg.Zapier.ChunkSize,
	}
}

// newDeduper prefers Redis and falls back to process memory.
func newDeduper(ctx context.Context, cfg *config.Config) (dedupe.Deduper, func(), error) {
	if cfg.Redis.Addr == "" {
		return dedupe.NewMemory(cfg.Redis.DedupeTTL), func() {}, nil
	}
	r, err := dedupe.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.DedupeTTL)
	if err != nil {
		return nil, nil, err
	}
	return r, func() { r.Close() }, nil
}

// newAuth returns nil, which disables bearer auth, when no key is set.
func newAuth(cfg *config.Config) *token.Service {
	if cfg.JWT.SigningKey == "" {
		return nil
	}
	return token.New(cfg.JWT.SigningKey, cfg.JWT.Issuer)
}

func describe(cfg *config.Config, addr string) {
	log.Printf("  OpenPhone: http://localhost%s/openphoneInbound", addr)
	log.Printf("  Twilio:    http://localhost%s/smsIncomingMessage (signature check: %v)", addr, cfg.Twilio.AuthToken != "")
	log.Printf("  Internal:  http://localhost%s/send_message_zapier, /runAssistant, /threads/{phone}/messages (auth: %v)", addr, cfg.JWT.SigningKey != "")
	logging.Debugf("relay: poll every %s for up to %s", cfg.Assistant.PollInterval, cfg.Assistant.PollTimeout)
}

