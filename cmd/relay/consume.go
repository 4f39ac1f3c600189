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
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jredh-dev/nexus-relay/config"
	"github.com/jredh-dev/nexus-relay/internal/events"
	"github.com/jredh-dev/nexus-relay/internal/notify"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Forward message-log events from Kafka to the notifier webhook",
	Long: `consume reads the events published by "relay serve" when KAFKA_BROKERS is
set and forwards each one to ZAPIER_NOTIFY_WEBHOOK_URL. Events that still fail
after three attempts are written to the <topic>-dlq topic.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if len(cfg.Kafka.Brokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required")
		}
		if cfg.Notifier.WebhookURL == "" {
			return fmt.Errorf("ZAPIER_NOTIFY_WEBHOOK_URL is required")
		}

		consumer := events.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID,
			notify.NewForwarder(cfg.Notifier.WebhookURL))
		defer func() {
			if err := consumer.Close(); err != nil {
				log.Printf("relay-consumer: error closing consumer: %v", err)
			}
		}()

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		log.Printf("relay-consumer: starting (brokers=%v topic=%s group=%s)", cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID)
		if err := consumer.Run(ctx); err != nil {
			return err
		}
		log.Println("relay-consumer: shutdown complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(consumeCmd)
}

