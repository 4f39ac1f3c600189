// Package relay runs a conversation turn for any channel: resolve the
// phone number's thread, log the inbound text, ask the assistant, log the
// reply and hand it to the channel for delivery.
package relay

import (
	"context"
	"errors"

	"github.com/jredh-dev/nexus-relay/internal/apperr"
	"github.com/jredh-dev/nexus-relay/internal/logging"
	"github.com/jredh-dev/nexus-relay/internal/models"
	"github.com/jredh-dev/nexus-relay/internal/store"
)

// SessionCreator opens a new assistant session.
type SessionCreator interface {
	NewSession(ctx context.Context) (string, error)
}

// Resolver maps a phone number to its Thread, creating the thread and its
// assistant session on first contact.
type Resolver struct {
	store    store.Store
	sessions SessionCreator
}

func NewResolver(s store.Store, sessions SessionCreator) *Resolver {
	return &Resolver{store: s, sessions: sessions}
}

// Resolve returns the thread for phone. A thread that already has a session
// is returned as stored. Otherwise a session is created and written with an
// atomic upsert; if a concurrent request got there first its session wins
// and ours is left unused.
func (r *Resolver) Resolve(ctx context.Context, phone string) (*models.Thread, error) {
	t, err := r.store.ThreadByPhone(ctx, phone)
	switch {
	case err == nil && t.AssistantSessionID != "":
		return t, nil
	case err != nil && !errors.Is(err, apperr.NotFound):
		return nil, err
	}

	sessionID, err := r.sessions.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	t, err = r.store.UpsertThread(ctx, phone, sessionID)
	if err != nil {
		return nil, err
	}
	if t.AssistantSessionID != sessionID {
		logging.Warnf("relay: thread %s already had session %s; session %s is unused", t.ID, t.AssistantSessionID, sessionID)
	}
	return t, nil
}
