package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"memo-sync/internal/domain"
	"memo-sync/internal/repository"
	"memo-sync/internal/websocket"
	"memo-sync/pkg/logger"
)

// Broadcaster delivers change notifications to connected devices.
type Broadcaster interface {
	BroadcastToUser(username string, message *websocket.Message, excludeDeviceID string) error
}

// NoteService applies pushes to the authoritative note set.
type NoteService struct {
	mu          sync.Mutex
	store       repository.NoteStore
	stats       *StatsService
	broadcaster Broadcaster
	logger      *zap.Logger
}

func NewNoteService(store repository.NoteStore, stats *StatsService, broadcaster Broadcaster, lg *zap.Logger) *NoteService {
	return &NoteService{
		store:       store,
		stats:       stats,
		broadcaster: broadcaster,
		logger:      logger.OrNop(lg),
	}
}

// List returns every stored note, tombstones included.
func (s *NoteService) List(ctx context.Context) ([]*domain.Note, error) {
	notes, err := s.store.ReadNotes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read notes: %w", err)
	}
	return notes, nil
}

// Sync stores note unless the stored copy is at the same or a newer version,
// in which case a *domain.ConflictError carrying the stored copy is returned.
// Re-sending the exact stored record is accepted without a write.
func (s *NoteService) Sync(ctx context.Context, username, deviceID string, note *domain.Note) error {
	if note == nil || note.ID == "" || note.Version < 1 {
		return ErrInvalidNote
	}

	incoming := note.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	notes, err := s.store.ReadNotes(ctx)
	if err != nil {
		return fmt.Errorf("failed to read notes: %w", err)
	}

	for _, existing := range notes {
		if existing.ID != incoming.ID {
			continue
		}
		if existing.Version >= incoming.Version {
			if existing.Equal(incoming) {
				return nil
			}
			return &domain.ConflictError{ServerNote: existing}
		}
		break
	}

	if err := s.store.SaveNote(ctx, incoming); err != nil {
		return fmt.Errorf("failed to save note: %w", err)
	}

	s.logger.Debug("note accepted",
		zap.String(logger.FieldNoteID, incoming.ID),
		zap.Int64(logger.FieldVersion, incoming.Version))

	if s.stats != nil {
		updated := append([]*domain.Note{}, notes...)
		replaced := false
		for i, existing := range updated {
			if existing.ID == incoming.ID {
				updated[i] = incoming
				replaced = true
				break
			}
		}
		if !replaced {
			updated = append(updated, incoming)
		}
		if err := s.stats.Refresh(ctx, updated); err != nil {
			s.logger.Warn("stats refresh failed", zap.Error(err))
		}
	}

	s.broadcast(username, deviceID, incoming)
	return nil
}

func (s *NoteService) broadcast(username, deviceID string, note *domain.Note) {
	if s.broadcaster == nil {
		return
	}

	msg, err := websocket.NewMessage(websocket.TypeNoteUpdate, &domain.NoteEvent{
		ID:      note.ID,
		Version: note.Version,
		Deleted: note.Deleted,
	})
	if err != nil {
		s.logger.Warn("build change message failed", zap.Error(err))
		return
	}

	if err := s.broadcaster.BroadcastToUser(username, msg, deviceID); err != nil {
		s.logger.Warn("broadcast failed", zap.Error(err))
	}
}
