// Package store persists threads and the append-only message log.
//
// Three backends share one contract: SQLite for local and single-node use,
// Postgres through gorm for Supabase-style deployments, and Firestore.
package store

import (
	"context"
	"fmt"

	"github.com/jredh-dev/nexus-relay/config"
	"github.com/jredh-dev/nexus-relay/internal/models"
)

// Store is the persistence collaborator used by the relay.
//
// Lookups that find nothing return an error wrapping apperr.NotFound.
type Store interface {
	// ThreadByPhone returns the thread for an exact phone number match.
	ThreadByPhone(ctx context.Context, phone string) (*models.Thread, error)

	// UpsertThread atomically creates the thread for phone, or fills in its
	// session id if the existing row has none. An already assigned session id
	// is never overwritten. The stored thread is returned.
	UpsertThread(ctx context.Context, phone, sessionID string) (*models.Thread, error)

	// AppendMessage logs m. ID and CreatedAt are assigned when empty.
	AppendMessage(ctx context.Context, m *models.Message) error

	// MessagesByThread returns a thread's messages oldest first.
	MessagesByThread(ctx context.Context, threadID string) ([]*models.Message, error)

	Close() error
}

// Open connects to the backend named by cfg.DB.Driver.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.DB.Driver {
	case "", "sqlite":
		return OpenSQLite(cfg.DB.Path)
	case "postgres":
		return OpenPostgres(cfg.DB.DSN)
	case "firestore":
		return OpenFirestore(ctx, cfg.Firebase)
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.DB.Driver)
	}
}
