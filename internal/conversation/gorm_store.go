package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbpkg "apphub.local/matrix-bots/internal/db"
	"apphub.local/matrix-bots/internal/ids"
)

const maxUpdateAttempts = 32

// GormStore keeps one row per (instance, user) and guards read-modify-write
// cycles with a version column.
type GormStore struct {
	db       *gorm.DB
	settings settings
}

func NewGormStore(driver, dsn string, log zerolog.Logger, opts ...Option) (*GormStore, error) {
	gormDB, err := dbpkg.OpenGorm(driver, dsn, log)
	if err != nil {
		return nil, fmt.Errorf("open gorm store: %w", err)
	}
	if normalized := strings.ToLower(strings.TrimSpace(driver)); normalized == "" || normalized == dbpkg.DriverSQLite {
		sqlDB, err := gormDB.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return NewGormStoreWithDB(gormDB, opts...)
}

func NewGormStoreWithDB(gormDB *gorm.DB, opts ...Option) (*GormStore, error) {
	store := &GormStore{db: gormDB, settings: newSettings(opts)}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *GormStore) migrate() error {
	if err := s.db.AutoMigrate(&contextRow{}); err != nil {
		return fmt.Errorf("migrate conversation contexts: %w", err)
	}
	return nil
}

var _ Store = (*GormStore)(nil)

func (s *GormStore) GetOrCreate(ctx context.Context, instanceID, userID string) (Context, error) {
	if err := validateKey(instanceID, userID); err != nil {
		return Context{}, err
	}
	row, err := s.getOrCreateRow(ctx, instanceID, userID)
	if err != nil {
		return Context{}, err
	}
	return row.toContext()
}

func (s *GormStore) Read(ctx context.Context, instanceID, userID string) ([]Turn, error) {
	if err := validateKey(instanceID, userID); err != nil {
		return nil, err
	}

	var row contextRow
	err := s.db.WithContext(ctx).
		Where("instance_id = ? AND user_id = ?", instanceID, userID).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return []Turn{}, nil
		}
		return nil, fmt.Errorf("read conversation: %w", err)
	}
	rec, err := row.toContext()
	if err != nil {
		return nil, err
	}
	return rec.Turns, nil
}

func (s *GormStore) AppendExchange(ctx context.Context, instanceID, userID, userMessage, reply string, at time.Time) (Context, error) {
	if err := validateKey(instanceID, userID); err != nil {
		return Context{}, err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		row, err := s.getOrCreateRow(ctx, instanceID, userID)
		if err != nil {
			return Context{}, err
		}
		rec, err := row.toContext()
		if err != nil {
			return Context{}, err
		}

		rec.Turns = Prune(append(rec.Turns, exchange(userMessage, reply, at)...), s.settings.maxTurns)
		rec.UpdatedAt = s.settings.now()
		encoded, err := json.Marshal(rec.Turns)
		if err != nil {
			return Context{}, fmt.Errorf("marshal turns: %w", err)
		}

		res := s.db.WithContext(ctx).Model(&contextRow{}).
			Where("id = ? AND version = ?", row.ID, row.Version).
			Updates(map[string]any{
				"turns_json": string(encoded),
				"version":    row.Version + 1,
				"updated_at": rec.UpdatedAt,
			})
		if res.Error != nil {
			return Context{}, fmt.Errorf("append exchange: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return rec, nil
		}
	}
	return Context{}, fmt.Errorf("append exchange for %s/%s: %w", instanceID, userID, ErrConflict)
}

func (s *GormStore) Clear(ctx context.Context, instanceID, userID string) (bool, error) {
	if err := validateKey(instanceID, userID); err != nil {
		return false, err
	}

	res := s.db.WithContext(ctx).Model(&contextRow{}).
		Where("instance_id = ? AND user_id = ?", instanceID, userID).
		Updates(map[string]any{
			"turns_json": "[]",
			"version":    gorm.Expr("version + 1"),
			"updated_at": s.settings.now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("clear conversation: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.Close()
}

// getOrCreateRow inserts an empty row unless one exists, then reads it back.
// The unique key makes concurrent first contacts converge on one row.
func (s *GormStore) getOrCreateRow(ctx context.Context, instanceID, userID string) (contextRow, error) {
	now := s.settings.now()
	candidate := contextRow{
		ID:           ids.New(),
		InstanceID:   instanceID,
		UserID:       userID,
		TurnsJSON:    "[]",
		AppStateJSON: "{}",
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "instance_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&candidate).Error
	if err != nil {
		return contextRow{}, fmt.Errorf("create conversation: %w", err)
	}

	var row contextRow
	err = s.db.WithContext(ctx).
		Where("instance_id = ? AND user_id = ?", instanceID, userID).
		Take(&row).Error
	if err != nil {
		return contextRow{}, fmt.Errorf("get conversation: %w", err)
	}
	return row, nil
}
