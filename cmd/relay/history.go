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

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jredh-dev/nexus-relay/config"
	"github.com/jredh-dev/nexus-relay/internal/models"
	"github.com/jredh-dev/nexus-relay/internal/phone"
)

type history struct {
	Thread   *models.Thread    `yaml:"thread"`
	Messages []*models.Message `yaml:"messages"`
}

var historyCmd = &cobra.Command{
	Use:   "history <phone>",
	Short: "Print a phone number's conversation as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		// History reads the log directly; no events are published.
		cfg.Kafka.Brokers = nil

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		thread, err := st.ThreadByPhone(ctx, phone.Normalize(args[0]))
		if err != nil {
			return err
		}
		messages, err := st.MessagesByThread(ctx, thread.ID)
		if err != nil {
			return err
		}

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		if err := enc.Encode(history{Thread: thread, Messages: messages}); err != nil {
			return fmt.Errorf("encode history: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
