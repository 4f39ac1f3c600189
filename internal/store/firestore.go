package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jredh-dev/nexus-relay/config"
	"github.com/jredh-dev/nexus-relay/internal/apperr"
	"github.com/jredh-dev/nexus-relay/internal/models"
)

const (
	threadsCollection  = "threads"
	messagesCollection = "messages"
)

// Firestore stores threads keyed by phone number, which makes the phone
// number unique without a secondary index.
type Firestore struct {
	client *firestore.Client
}

// OpenFirestore builds a client from the Firebase settings. With UseEmulator
// the client talks to FIRESTORE_EMULATOR_HOST.
func OpenFirestore(ctx context.Context, cfg config.FirebaseConfig) (*Firestore, error) {
	if cfg.UseEmulator {
		os.Setenv("FIRESTORE_EMULATOR_HOST", cfg.EmulatorFirestoreHost)
	}

	var opts []option.ClientOption
	if cfg.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath))
	}

	var (
		client *firestore.Client
		err    error
	)
	if cfg.FirestoreDatabase == "" || cfg.FirestoreDatabase == firestore.DefaultDatabaseID {
		app, appErr := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
		if appErr != nil {
			return nil, fmt.Errorf("init firebase app: %w", appErr)
		}
		client, err = app.Firestore(ctx)
	} else {
		client, err = firestore.NewClientWithDatabase(ctx, cfg.ProjectID, cfg.FirestoreDatabase, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("connect firestore: %w", err)
	}
	return NewFirestore(client), nil
}

// NewFirestore wraps an existing client.
func NewFirestore(client *firestore.Client) *Firestore {
	return &Firestore{client: client}
}

func (f *Firestore) Close() error {
	return f.client.Close()
}

func (f *Firestore) threadRef(phone string) *firestore.DocumentRef {
	return f.client.Collection(threadsCollection).Doc(phone)
}

func (f *Firestore) ThreadByPhone(ctx context.Context, phone string) (*models.Thread, error) {
	snap, err := f.threadRef(phone).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, apperr.Wrap(apperr.NotFound, "store.ThreadByPhone", fmt.Errorf("no thread for %s", phone))
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, "store.ThreadByPhone", err)
	}
	var t models.Thread
	if err := snap.DataTo(&t); err != nil {
		return nil, apperr.Wrap(apperr.Upstream, "store.ThreadByPhone", err)
	}
	return &t, nil
}

func (f *Firestore) UpsertThread(ctx context.Context, phone, sessionID string) (*models.Thread, error) {
	ref := f.threadRef(phone)
	var out models.Thread
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
			out = models.Thread{
				ID:                 uuid.New().String(),
				PhoneNumber:        phone,
				AssistantSessionID: sessionID,
				CreatedAt:          time.Now().UTC(),
			}
			return tx.Create(ref, out)
		case err != nil:
			return err
		}
		if err := snap.DataTo(&out); err != nil {
			return err
		}
		if out.AssistantSessionID != "" {
			return nil
		}
		out.AssistantSessionID = sessionID
		return tx.Update(ref, []firestore.Update{{Path: "assistant_session_id", Value: sessionID}})
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, "store.UpsertThread", err)
	}
	return &out, nil
}

func (f *Firestore) AppendMessage(ctx context.Context, m *models.Message) error {
	stamp(m)
	if _, err := f.client.Collection(messagesCollection).Doc(m.ID).Create(ctx, m); err != nil {
		return apperr.Wrap(apperr.Upstream, "store.AppendMessage", err)
	}
	return nil
}

func (f *Firestore) MessagesByThread(ctx context.Context, threadID string) ([]*models.Message, error) {
	iter := f.client.Collection(messagesCollection).
		Where("thread_id", "==", threadID).
		OrderBy("created_at", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var messages []*models.Message
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.Upstream, "store.MessagesByThread", err)
		}
		m := &models.Message{}
		if err := snap.DataTo(m); err != nil {
			return nil, apperr.Wrap(apperr.Upstream, "store.MessagesByThread", err)
		}
		messages = append(messages, m)
	}
	return messages, nil
}
