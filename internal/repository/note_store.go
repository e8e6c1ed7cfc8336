package repository

import (
	"context"

	"memo-sync/internal/domain"
)

// NoteStore persists the authoritative note set and the activity stats.
// Reads of data that was never written return an empty set or zero stats.
// Implementations are not required to serialize concurrent writers; callers
// hold their own lock around read-modify-write sequences.
type NoteStore interface {
	ReadNotes(ctx context.Context) ([]*domain.Note, error)
	SaveNote(ctx context.Context, note *domain.Note) error
	ReadStats(ctx context.Context) (*domain.Stats, error)
	WriteStats(ctx context.Context, stats *domain.Stats) error
	Close() error
}

func emptyStats() *domain.Stats {
	return &domain.Stats{ActivityData: []domain.ActivityData{}, TotalDays: 0}
}

// upsertNote replaces the note with the same id, or appends it, keeping the
// existing order of the set.
func upsertNote(notes []*domain.Note, note *domain.Note) []*domain.Note {
	for i, existing := range notes {
		if existing.ID == note.ID {
			notes[i] = note
			return notes
		}
	}
	return append(notes, note)
}
