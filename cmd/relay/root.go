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
	"os"

	"github.com/spf13/cobra"

	"github.com/jredh-dev/nexus-relay/config"
	"github.com/jredh-dev/nexus-relay/internal/logging"
)

var (
	verbose   bool
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Assistant-backed SMS relay",
	Long: `relay answers text messages with a hosted assistant.

Inbound messages arrive from Twilio (/smsIncomingMessage) or from OpenPhone
through Zapier (/openphoneInbound). Each phone number gets one conversation
thread and one assistant session; every inbound and outbound message is
logged.

Configuration comes from the environment, optionally seeded from a YAML file
named by RELAY_CONFIG. In development (ENV unset or "development") a .env
file in the working directory is loaded first.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.SetVerbose(verbose)
		return config.LoadDotEnv()
	},
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}
