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

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/jredh-dev/nexus-relay/internal/notify"
)

// maxRetries is the number of forward attempts before an event is routed to
// the DLQ.
const maxRetries = 3

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Forwarder delivers an event to the automation webhook.
type Forwarder interface {
	Forward(ctx context.Context, ev notify.Event) (*notify.Reply, error)
}

// Consumer reads message-log events and forwards them through the notifier.
// Offsets are committed after each record is handled, either forwarded or
// written to the DLQ, giving at-least-once delivery to the webhook.
type Consumer struct {
	reader  messageReader
	dlq     messageWriter
	fwd     Forwarder
	topic   string
	backoff func(attempt int) time.Duration
}

// NewConsumer creates a Consumer for topic on brokers. Exhausted records go
// to topic+"-dlq".
func NewConsumer(brokers []string, topic, groupID string, fwd Forwarder) *Consumer {
	if topic == "" {
		topic = Topic
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       1 << 20, // 1 MiB
		CommitInterval: 0,       // explicit commits only
		StartOffset:    kafka.LastOffset,
	})

	dlq := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic + DLQSuffix,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}

	return newConsumer(reader, dlq, fwd, topic)
}

func newConsumer(r messageReader, dlq messageWriter, fwd Forwarder, topic string) *Consumer {
	return &Consumer{
		reader: r,
		dlq:    dlq,
		fwd:    fwd,
		topic:  topic,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt) * 2 * time.Second
		},
	}
}

// Run blocks, consuming events until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	log.Printf("relay-consumer: consuming from topic %q", c.topic)

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch: %w", err)
		}

		if err := c.dispatch(ctx, m); err != nil {
			if ctx.Err() != nil {
				log.Printf("relay-consumer: stopped while handling key=%s; left uncommitted", string(m.Key))
				return nil
			}
			log.Printf("relay-consumer: routed event key=%s to DLQ: %v", string(m.Key), err)
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			log.Printf("relay-consumer: commit failed (event may be redelivered): %v", err)
		}
	}
}

// Close releases all Kafka resources.
func (c *Consumer) Close() error {
	rerr := c.reader.Close()
	werr := c.dlq.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}

// dispatch forwards the event up to maxRetries times with linear backoff.
// Malformed events go straight to the DLQ.
func (c *Consumer) dispatch(ctx context.Context, m kafka.Message) error {
	var ev notify.Event
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		return c.sendToDLQ(ctx, m, fmt.Errorf("unmarshal: %w", err))
	}
	if err := ev.Validate(); err != nil {
		return c.sendToDLQ(ctx, m, err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		lastErr = c.forward(ctx, ev)
		if lastErr == nil {
			log.Printf("relay-consumer: forwarded key=%s (attempt %d)", string(m.Key), attempt)
			return nil
		}

		log.Printf("relay-consumer: attempt %d/%d failed for key=%s: %v", attempt, maxRetries, string(m.Key), lastErr)

		if attempt < maxRetries {
			select {
			case <-time.After(c.backoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return c.sendToDLQ(ctx, m, lastErr)
}

func (c *Consumer) forward(ctx context.Context, ev notify.Event) error {
	reply, err := c.fwd.Forward(ctx, ev)
	if err != nil {
		return err
	}
	if !reply.OK() {
		return fmt.Errorf("webhook returned %d: %s", reply.Status, string(reply.Body))
	}
	return nil
}

// sendToDLQ writes the original record to the dead-letter topic.
func (c *Consumer) sendToDLQ(ctx context.Context, original kafka.Message, reason error) error {
	err := c.dlq.WriteMessages(ctx, kafka.Message{
		Key:   original.Key,
		Value: original.Value,
	})
	if err != nil {
		log.Printf("relay-consumer: CRITICAL: could not write to DLQ: %v", err)
	}
	return reason
}
