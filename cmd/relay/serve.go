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
	"time"

	"github.com/spf13/cobra"

	"github.com/jredh-dev/nexus-relay/config"
	"github.com/jredh-dev/nexus-relay/internal/handlers"
	"github.com/jredh-dev/nexus-relay/internal/relay"
	"github.com/jredh-dev/nexus-relay/internal/server"
	"github.com/jredh-dev/nexus-relay/internal/token"
	"github.com/jredh-dev/nexus-relay/internal/twilio"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}

		coord, err := newCoordinator(cfg)
		if err != nil {
			st.Close()
			return err
		}

		dd, closeDedupe, err := newDeduper(ctx, cfg)
		if err != nil {
			st.Close()
			return err
		}

		sender := newSender(cfg)
		h := handlers.New(handlers.Deps{
			Store:     st,
			Pipeline:  relay.NewPipeline(st, coord),
			Relay:     relay.NewRelay(st, sender),
			Assistant: coord,
			OpenPhone: relay.OpenPhone{Sender: sender},
			Dedupe:    dd,
			ChunkSize: cfg.Zapier.ChunkSize,
		})

		// Requests wait on assistant runs.
		srv := server.New(server.Options{RequestTimeout: cfg.Assistant.PollTimeout + 30*time.Second})
		h.Routes(srv.Router,
			token.Middleware(newAuth(cfg)),
			twilio.RequireSignature(cfg.Twilio.AuthToken, cfg.Twilio.PublicURL),
		)
		srv.OnStop(func() {
			closeDedupe()
			if err := st.Close(); err != nil {
				log.Printf("relay: error closing store: %v", err)
			}
		})

		addr := ":" + cfg.Server.Port
		log.Printf("nexus-relay %s starting on %s", version, addr)
		describe(cfg, addr)
		return srv.ListenAndServe(ctx, addr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
