// Package localstore is the per-device note cache backed by SQLite.
package localstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"memo-sync/internal/domain"
	"memo-sync/pkg/logger"
)

// Store keeps notes and the last reconciliation timestamp. Reads on an
// unavailable store degrade to empty results; writes fail with
// domain.ErrStorageUnavailable.
type Store struct {
	mu     sync.RWMutex
	db     *gorm.DB
	logger *zap.Logger
}

// Open creates or opens the SQLite database at path.
func Open(path string, lg *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	// One connection serializes writers and keeps in-memory databases shared.
	sqlDB.SetMaxOpenConns(1)

	return New(db, lg)
}

// New wraps an existing gorm handle and migrates the schema. A nil db yields
// an unavailable store.
func New(db *gorm.DB, lg *zap.Logger) (*Store, error) {
	s := &Store{db: db, logger: logger.OrNop(lg)}
	if db == nil {
		return s, nil
	}
	if err := db.AutoMigrate(&noteModel{}, &syncMetaModel{}); err != nil {
		return nil, fmt.Errorf("migrate local store: %w", err)
	}
	return s, nil
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx)
}

func (s *Store) readConn(ctx context.Context, op string) *gorm.DB {
	db := s.conn(ctx)
	if db == nil {
		s.logger.Warn("local store unavailable", zap.String(logger.FieldAction, op))
	}
	return db
}

// GetAll returns live notes, newest first.
func (s *Store) GetAll(ctx context.Context) ([]*domain.Note, error) {
	db := s.readConn(ctx, "getAll")
	if db == nil {
		return []*domain.Note{}, nil
	}

	var models []noteModel
	if err := db.Where("deleted = ?", 0).Order("created_at DESC").Find(&models).Error; err != nil {
		s.logger.Warn("read notes failed", zap.Error(err))
		return []*domain.Note{}, nil
	}
	return toDomainList(models), nil
}

// GetByID returns the raw record, tombstone or not.
func (s *Store) GetByID(ctx context.Context, id string) (*domain.Note, error) {
	db := s.readConn(ctx, "getById")
	if db == nil {
		return nil, domain.ErrNoteNotFound
	}

	var m noteModel
	err := db.Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNoteNotFound
	}
	if err != nil {
		s.logger.Warn("read note failed", zap.String(logger.FieldNoteID, id), zap.Error(err))
		return nil, fmt.Errorf("read note %s: %w", id, err)
	}
	return m.toDomain(), nil
}

// Upsert inserts note or replaces the record with the same id.
func (s *Store) Upsert(ctx context.Context, note *domain.Note) error {
	db := s.conn(ctx)
	if db == nil {
		return domain.ErrStorageUnavailable
	}

	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(toModel(note)).Error
	if err != nil {
		return fmt.Errorf("upsert note %s: %w", note.ID, err)
	}
	return nil
}

// SoftDelete tombstones id and returns the updated record. A missing id is
// logged and reported as domain.ErrNoteNotFound without writing.
func (s *Store) SoftDelete(ctx context.Context, id string) (*domain.Note, error) {
	db := s.conn(ctx)
	if db == nil {
		return nil, domain.ErrStorageUnavailable
	}

	var updated *domain.Note
	err := db.Transaction(func(tx *gorm.DB) error {
		var m noteModel
		if err := tx.Where("id = ?", id).Take(&m).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		m.Deleted = 1
		m.Version++
		m.LastEdited = &now
		m.SyncStatus = string(domain.SyncStatusPending)
		if err := tx.Save(&m).Error; err != nil {
			return err
		}
		updated = m.toDomain()
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Info("soft delete of unknown note", zap.String(logger.FieldNoteID, id))
		return nil, domain.ErrNoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("soft delete %s: %w", id, err)
	}
	return updated, nil
}

// ListPending returns every pending record, tombstones included.
func (s *Store) ListPending(ctx context.Context) ([]*domain.Note, error) {
	return s.listByStatus(ctx, "listPending", domain.SyncStatusPending)
}

// ListUnsynced returns pending records and records whose last push failed.
func (s *Store) ListUnsynced(ctx context.Context) ([]*domain.Note, error) {
	return s.listByStatus(ctx, "listUnsynced", domain.SyncStatusPending, domain.SyncStatusError)
}

func (s *Store) listByStatus(ctx context.Context, op string, statuses ...domain.SyncStatus) ([]*domain.Note, error) {
	db := s.readConn(ctx, op)
	if db == nil {
		return []*domain.Note{}, nil
	}

	values := make([]string, 0, len(statuses))
	for _, st := range statuses {
		values = append(values, string(st))
	}

	var models []noteModel
	if err := db.Where("sync_status IN ?", values).Order("created_at ASC").Find(&models).Error; err != nil {
		s.logger.Warn("list notes failed", zap.String(logger.FieldAction, op), zap.Error(err))
		return []*domain.Note{}, nil
	}
	return toDomainList(models), nil
}

// ListAll returns every record including tombstones.
func (s *Store) ListAll(ctx context.Context) ([]*domain.Note, error) {
	db := s.readConn(ctx, "listAll")
	if db == nil {
		return []*domain.Note{}, nil
	}

	var models []noteModel
	if err := db.Order("created_at ASC").Find(&models).Error; err != nil {
		s.logger.Warn("list notes failed", zap.Error(err))
		return []*domain.Note{}, nil
	}
	return toDomainList(models), nil
}

// MarkSynced sets id synced; unknown ids are ignored.
func (s *Store) MarkSynced(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, domain.SyncStatusSynced)
}

// MarkSyncedAt sets id synced only if the stored version is still version.
// It reports whether the record was updated.
func (s *Store) MarkSyncedAt(ctx context.Context, id string, version int64) (bool, error) {
	db := s.conn(ctx)
	if db == nil {
		return false, domain.ErrStorageUnavailable
	}

	res := db.Model(&noteModel{}).
		Where("id = ? AND version = ?", id, version).
		Update("sync_status", string(domain.SyncStatusSynced))
	if res.Error != nil {
		return false, fmt.Errorf("mark synced %s: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) MarkError(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, domain.SyncStatusError)
}

func (s *Store) setStatus(ctx context.Context, id string, status domain.SyncStatus) error {
	db := s.conn(ctx)
	if db == nil {
		return domain.ErrStorageUnavailable
	}

	err := db.Model(&noteModel{}).Where("id = ?", id).Update("sync_status", string(status)).Error
	if err != nil {
		return fmt.Errorf("set status of %s: %w", id, err)
	}
	return nil
}

// GetLastSyncTimestamp returns the zero time when no reconciliation has
// completed yet.
func (s *Store) GetLastSyncTimestamp(ctx context.Context) (time.Time, error) {
	db := s.readConn(ctx, "getLastSync")
	if db == nil {
		return time.Time{}, nil
	}

	var m syncMetaModel
	err := db.Where(&syncMetaModel{Key: domain.LastSyncKey}).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		s.logger.Warn("read last sync failed", zap.Error(err))
		return time.Time{}, nil
	}

	ts, err := time.Parse(time.RFC3339Nano, m.Value)
	if err != nil {
		s.logger.Warn("corrupt last sync timestamp", zap.String("value", m.Value))
		return time.Time{}, nil
	}
	return ts, nil
}

func (s *Store) SetLastSyncTimestamp(ctx context.Context, ts time.Time) error {
	db := s.conn(ctx)
	if db == nil {
		return domain.ErrStorageUnavailable
	}

	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&syncMetaModel{Key: domain.LastSyncKey, Value: ts.UTC().Format(time.RFC3339Nano)}).Error
	if err != nil {
		return fmt.Errorf("set last sync: %w", err)
	}
	return nil
}

// Close releases the database. Later calls see an unavailable store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	s.db = nil
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
