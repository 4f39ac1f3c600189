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
	"time"

	"github.com/spf13/cobra"

	"github.com/jredh-dev/nexus-relay/config"
	"github.com/jredh-dev/nexus-relay/internal/token"
)

var (
	tokenClient string
	tokenScopes []string
	tokenTTL    time.Duration
	tokenNewKey bool
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the internal endpoints",
	Long: `token signs a JWT with RELAY_SIGNING_KEY for use as
"Authorization: Bearer <token>" on /send_message_zapier, /runAssistant and
/threads. With --new-key it prints a fresh signing key instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if tokenNewKey {
			key, err := token.GenerateSigningKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, key)
			return nil
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.JWT.SigningKey == "" {
			return fmt.Errorf("RELAY_SIGNING_KEY is not set")
		}
		tok, err := token.New(cfg.JWT.SigningKey, cfg.JWT.Issuer).GenerateToken(tokenClient, tokenScopes, tokenTTL)
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}
		fmt.Fprintln(out, tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenClient, "client", "zapier", "Client name recorded in the token")
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scope", nil, "Scopes to record (repeatable)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 90*24*time.Hour, "Token lifetime")
	tokenCmd.Flags().BoolVar(&tokenNewKey, "new-key", false, "Print a new random signing key and exit")
	rootCmd.AddCommand(tokenCmd)
}
