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

// Package sms delivers outbound text messages through pluggable backends.
package sms

// OutboundMessage is one text to deliver.
//
// JSON schema:
//
//	{
//	  "id":   "550e8400-e29b-41d4-a716-446655440000",
//	  "to":   "+15551234567",
//	  "body": "hello world",
//	  "from": "+15550001234"
//	}
type OutboundMessage struct {
	// ID correlates the delivery with the logged Message.
	ID string `json:"id"`

	// To is the E.164-formatted destination phone number.
	To string `json:"to"`

	// Body is the UTF-8 message text. Senders may split it; see ChunkedSender.
	Body string `json:"body"`

	// From overrides the sender's configured number when set.
	From string `json:"from,omitempty"`
}
