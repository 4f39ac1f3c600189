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
	"log"

	"github.com/spf13/cobra"

	"github.com/jredh-dev/nexus-relay/config"
	"github.com/jredh-dev/nexus-relay/internal/notify"
	"github.com/jredh-dev/nexus-relay/internal/server"
)

var notifierCmd = &cobra.Command{
	Use:   "notifier",
	Short: "Run the message-log notifier endpoint",
	Long: `notifier accepts message-log events (JSON or form-encoded thread_id,
phone_number, message_body and message_type) on POST / and forwards them to
ZAPIER_NOTIFY_WEBHOOK_URL.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.Notifier.WebhookURL == "" {
			log.Printf("notifier: ZAPIER_NOTIFY_WEBHOOK_URL not set; every event will fail with 502")
		}

		srv := server.New(server.Options{})
		srv.Router.Method("POST", "/", notify.NewHandler(notify.NewForwarder(cfg.Notifier.WebhookURL)))

		addr := ":" + cfg.Notifier.Port
		log.Printf("notifier starting on %s", addr)
		return srv.ListenAndServe(cmd.Context(), addr)
	},
}

func init() {
	rootCmd.AddCommand(notifierCmd)
}
