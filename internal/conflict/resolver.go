// Package conflict settles pushes the server rejected as stale.
package conflict

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"memo-sync/internal/domain"
	"memo-sync/pkg/logger"
)

type Outcome int

const (
	// RemoteWins means the server copy replaced the local record.
	RemoteWins Outcome = iota + 1
	// LocalWins means the local record stays pending with a version past the
	// server's.
	LocalWins
)

func (o Outcome) String() string {
	switch o {
	case RemoteWins:
		return "remote_wins"
	case LocalWins:
		return "local_wins"
	default:
		return "unknown"
	}
}

type Store interface {
	GetByID(ctx context.Context, id string) (*domain.Note, error)
	Upsert(ctx context.Context, note *domain.Note) error
}

// Resolver compares edit timestamps; the newer record is authoritative and
// ties go to the server.
type Resolver struct {
	store  Store
	logger *zap.Logger
}

func NewResolver(store Store, lg *zap.Logger) *Resolver {
	return &Resolver{store: store, logger: logger.OrNop(lg)}
}

// Resolve settles a conflict between the pushed snapshot and the server's
// current record. The stored local record is preferred over the snapshot
// since it may have been edited while the push was in flight.
func (r *Resolver) Resolve(ctx context.Context, pushed, server *domain.Note) (Outcome, error) {
	if server == nil {
		return 0, errors.New("resolve conflict: missing server record")
	}

	local, err := r.store.GetByID(ctx, server.ID)
	switch {
	case errors.Is(err, domain.ErrNoteNotFound):
		local = pushed
	case err != nil:
		return 0, fmt.Errorf("resolve conflict %s: %w", server.ID, err)
	}

	if local == nil || !local.EditedAt().After(server.EditedAt()) {
		winner := server.Clone()
		winner.Normalize()
		winner.SyncStatus = domain.SyncStatusSynced
		if err := r.store.Upsert(ctx, winner); err != nil {
			return 0, fmt.Errorf("resolve conflict %s: %w", server.ID, err)
		}
		r.log(RemoteWins, local, server)
		return RemoteWins, nil
	}

	kept := local.Clone()
	if kept.Version <= server.Version {
		kept.Version = server.Version + 1
	}
	kept.SyncStatus = domain.SyncStatusPending
	if err := r.store.Upsert(ctx, kept); err != nil {
		return 0, fmt.Errorf("resolve conflict %s: %w", server.ID, err)
	}
	r.log(LocalWins, kept, server)
	return LocalWins, nil
}

func (r *Resolver) log(outcome Outcome, local, server *domain.Note) {
	fields := []zap.Field{
		zap.String(logger.FieldNoteID, server.ID),
		zap.String(logger.FieldAction, outcome.String()),
		zap.Int64("server_version", server.Version),
	}
	if local != nil {
		fields = append(fields, zap.Int64("local_version", local.Version))
	}
	r.logger.Info("conflict resolved", fields...)
}
