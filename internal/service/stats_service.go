package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"memo-sync/internal/domain"
	"memo-sync/internal/repository"
)

const activityWindowDays = 14

type StatsService struct {
	mu    sync.Mutex
	store repository.NoteStore
	now   func() time.Time
}

func NewStatsService(store repository.NoteStore) *StatsService {
	return &StatsService{store: store, now: time.Now}
}

// Get recomputes the stats from the stored notes, persists and returns them.
func (s *StatsService) Get(ctx context.Context) (*domain.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	notes, err := s.store.ReadNotes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read notes: %w", err)
	}

	stats := ComputeStats(notes, s.now())
	if err := s.store.WriteStats(ctx, stats); err != nil {
		return nil, fmt.Errorf("failed to write stats: %w", err)
	}
	return stats, nil
}

// Refresh persists the stats of an already loaded note set.
func (s *StatsService) Refresh(ctx context.Context, notes []*domain.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.WriteStats(ctx, ComputeStats(notes, s.now())); err != nil {
		return fmt.Errorf("failed to write stats: %w", err)
	}
	return nil
}

// ComputeStats counts live notes per creation day over the 14 days ending at
// now, oldest first. TotalDays is the number of distinct creation days among
// all live notes. Days are UTC calendar dates.
func ComputeStats(notes []*domain.Note, now time.Time) *domain.Stats {
	perDay := make(map[string]int)
	for _, n := range notes {
		if n.IsDeleted() {
			continue
		}
		perDay[dayKey(n.CreatedAt)]++
	}

	today := now.UTC()
	activity := make([]domain.ActivityData, 0, activityWindowDays)
	for i := activityWindowDays - 1; i >= 0; i-- {
		day := dayKey(today.AddDate(0, 0, -i))
		activity = append(activity, domain.ActivityData{Date: day, Count: perDay[day]})
	}

	return &domain.Stats{
		ActivityData: activity,
		TotalDays:    len(perDay),
	}
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
