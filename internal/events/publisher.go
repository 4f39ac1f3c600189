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

// Package events publishes message-log events to Kafka and consumes them on
// the notifier side.
package events

import (
	"context"
	"fmt"
	"log"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/jredh-dev/nexus-relay/internal/models"
	"github.com/jredh-dev/nexus-relay/internal/notify"
	"github.com/jredh-dev/nexus-relay/internal/store"
)

const (
	// Topic carries one event per logged message.
	Topic = "relay-messages"

	// DLQSuffix names the dead-letter topic for a given events topic.
	DLQSuffix = "-dlq"
)

// Publisher sends a message-log event.
type Publisher interface {
	Publish(ctx context.Context, m *models.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by thread id, so one thread's events
// stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
}

// PublishBatchTimeout caps how long a synchronous publish waits for its
// batch to fill. Publishing sits on the request path.
const PublishBatchTimeout = 10 * time.Millisecond

// NewKafkaPublisher creates a publisher for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: newPublishWriter(brokers, topic)}
}

func newPublishWriter(brokers []string, topic string) *kafka.Writer {
	if topic == "" {
		topic = Topic
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: PublishBatchTimeout,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, m *models.Message) error {
	value, err := notify.NewEvent(m).Encode()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(m.ThreadID),
		Value: value,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Store publishes every appended message after it has been written. Publish
// failures are logged; the message log is the source of truth.
type Store struct {
	store.Store
	pub Publisher
}

// WithEvents wraps s so appends are published through pub.
func WithEvents(s store.Store, pub Publisher) *Store {
	return &Store{Store: s, pub: pub}
}

func (s *Store) AppendMessage(ctx context.Context, m *models.Message) error {
	if err := s.Store.AppendMessage(ctx, m); err != nil {
		return err
	}
	if err := s.pub.Publish(ctx, m); err != nil {
		log.Printf("relay: publish event for message %s failed: %v", m.ID, err)
	}
	return nil
}

// Close closes the publisher and then the wrapped store.
func (s *Store) Close() error {
	perr := s.pub.Close()
	serr := s.Store.Close()
	if serr != nil {
		return serr
	}
	return perr
}
