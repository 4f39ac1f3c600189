package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/jredh-dev/nexus-relay/internal/apperr"
	"github.com/jredh-dev/nexus-relay/internal/models"
)

// Gorm is a Store over any gorm dialect. Production uses Postgres.
type Gorm struct {
	db *gorm.DB
}

// OpenPostgres connects to dsn and migrates the threads and messages tables.
func OpenPostgres(dsn string) (*Gorm, error) {
	if dsn == "" {
		return nil, errors.New("postgres store requires DATABASE_URL")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewGorm(db)
}

// NewGorm wraps an open gorm connection and migrates the schema.
func NewGorm(db *gorm.DB) (*Gorm, error) {
	if err := db.AutoMigrate(&models.Thread{}, &models.Message{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Gorm{db: db}, nil
}

func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (g *Gorm) ThreadByPhone(ctx context.Context, phone string) (*models.Thread, error) {
	var t models.Thread
	err := g.db.WithContext(ctx).First(&t, "phone_number = ?", phone).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Wrap(apperr.NotFound, "store.ThreadByPhone", fmt.Errorf("no thread for %s", phone))
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, "store.ThreadByPhone", err)
	}
	return &t, nil
}

func (g *Gorm) UpsertThread(ctx context.Context, phone, sessionID string) (*models.Thread, error) {
	var out models.Thread
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t := models.Thread{
			ID:                 uuid.New().String(),
			PhoneNumber:        phone,
			AssistantSessionID: sessionID,
			CreatedAt:          time.Now().UTC(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "phone_number"}},
			DoNothing: true,
		}).Create(&t).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Thread{}).
			Where("phone_number = ? AND assistant_session_id = ''", phone).
			Update("assistant_session_id", sessionID).Error; err != nil {
			return err
		}
		return tx.First(&out, "phone_number = ?", phone).Error
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, "store.UpsertThread", err)
	}
	return &out, nil
}

func (g *Gorm) AppendMessage(ctx context.Context, m *models.Message) error {
	stamp(m)
	if err := g.db.WithContext(ctx).Create(m).Error; err != nil {
		return apperr.Wrap(apperr.Upstream, "store.AppendMessage", err)
	}
	return nil
}

func (g *Gorm) MessagesByThread(ctx context.Context, threadID string) ([]*models.Message, error) {
	var messages []*models.Message
	err := g.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at asc").
		Find(&messages).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, "store.MessagesByThread", err)
	}
	return messages, nil
}
