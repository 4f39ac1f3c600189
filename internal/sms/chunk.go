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

package sms

import (
	"context"
	"fmt"
)

// MaxSegment is the longest body a single send carries.
const MaxSegment = 1600

// Chunk splits body into pieces of at most size runes. An empty body yields
// one empty chunk so callers always send something.
func Chunk(body string, size int) []string {
	if size <= 0 {
		size = MaxSegment
	}
	runes := []rune(body)
	if len(runes) <= size {
		return []string{body}
	}
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for len(runes) > 0 {
		n := size
		if len(runes) < n {
			n = len(runes)
		}
		chunks = append(chunks, string(runes[:n]))
		runes = runes[n:]
	}
	return chunks
}

// ChunkedSender splits long bodies and sends the pieces in order through
// Next, stopping at the first failure.
type ChunkedSender struct {
	Next Sender
	Size int
}

func (c *ChunkedSender) Send(ctx context.Context, msg OutboundMessage) error {
	chunks := Chunk(msg.Body, c.Size)
	for i, body := range chunks {
		part := msg
		part.Body = body
		if err := c.Next.Send(ctx, part); err != nil {
			if len(chunks) == 1 {
				return err
			}
			return fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	return nil
}
