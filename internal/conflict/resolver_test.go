package conflict

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memo-sync/internal/domain"
)

type memStore struct {
	notes  map[string]*domain.Note
	getErr error
}

func newMemStore(notes ...*domain.Note) *memStore {
	s := &memStore{notes: map[string]*domain.Note{}}
	for _, n := range notes {
		s.notes[n.ID] = n.Clone()
	}
	return s
}

func (s *memStore) GetByID(ctx context.Context, id string) (*domain.Note, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	n, ok := s.notes[id]
	if !ok {
		return nil, domain.ErrNoteNotFound
	}
	return n.Clone(), nil
}

func (s *memStore) Upsert(ctx context.Context, note *domain.Note) error {
	s.notes[note.ID] = note.Clone()
	return nil
}

var base = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func edited(id string, version int64, content string, at time.Time) *domain.Note {
	return &domain.Note{
		ID:         id,
		Content:    content,
		Tags:       []string{},
		Links:      []string{},
		Version:    version,
		CreatedAt:  base,
		LastEdited: &at,
	}
}

func TestRemoteNewerWins(t *testing.T) {
	local := edited("u", 4, "local", base.Add(time.Minute))
	local.SyncStatus = domain.SyncStatusPending
	server := edited("u", 5, "remote", base.Add(time.Hour))
	store := newMemStore(local)

	outcome, err := NewResolver(store, nil).Resolve(context.Background(), local, server)
	require.NoError(t, err)
	assert.Equal(t, RemoteWins, outcome)

	got := store.notes["u"]
	assert.Equal(t, "remote", got.Content)
	assert.Equal(t, int64(5), got.Version)
	assert.Equal(t, domain.SyncStatusSynced, got.SyncStatus)
}

func TestTieGoesToServer(t *testing.T) {
	local := edited("u", 2, "local", base)
	server := edited("u", 2, "remote", base)
	store := newMemStore(local)

	outcome, err := NewResolver(store, nil).Resolve(context.Background(), local, server)
	require.NoError(t, err)
	assert.Equal(t, RemoteWins, outcome)
	assert.Equal(t, "remote", store.notes["u"].Content)
}

func TestLocalNewerStaysPending(t *testing.T) {
	local := edited("u", 3, "local", base.Add(time.Hour))
	local.SyncStatus = domain.SyncStatusPending
	server := edited("u", 5, "remote", base.Add(time.Minute))
	store := newMemStore(local)

	outcome, err := NewResolver(store, nil).Resolve(context.Background(), local, server)
	require.NoError(t, err)
	assert.Equal(t, LocalWins, outcome)

	got := store.notes["u"]
	assert.Equal(t, "local", got.Content)
	assert.Equal(t, int64(6), got.Version)
	assert.Equal(t, domain.SyncStatusPending, got.SyncStatus)
}

func TestUsesStoredRecordOverSnapshot(t *testing.T) {
	pushed := edited("u", 3, "pushed", base.Add(time.Minute))
	current := edited("u", 8, "edited since", base.Add(2*time.Hour))
	current.SyncStatus = domain.SyncStatusPending
	server := edited("u", 5, "remote", base.Add(time.Hour))
	store := newMemStore(current)

	outcome, err := NewResolver(store, nil).Resolve(context.Background(), pushed, server)
	require.NoError(t, err)
	assert.Equal(t, LocalWins, outcome)

	got := store.notes["u"]
	assert.Equal(t, "edited since", got.Content)
	assert.Equal(t, int64(8), got.Version, "a version already past the server is kept")
}

func TestFallsBackToSnapshotWhenMissing(t *testing.T) {
	pushed := edited("u", 1, "pushed", base)
	server := edited("u", 1, "remote", base.Add(time.Second))
	store := newMemStore()

	outcome, err := NewResolver(store, nil).Resolve(context.Background(), pushed, server)
	require.NoError(t, err)
	assert.Equal(t, RemoteWins, outcome)
	assert.Equal(t, "remote", store.notes["u"].Content)
}

func TestResolveErrors(t *testing.T) {
	r := NewResolver(newMemStore(), nil)
	_, err := r.Resolve(context.Background(), edited("u", 1, "x", base), nil)
	assert.Error(t, err)

	store := newMemStore()
	store.getErr = domain.ErrStorageUnavailable
	_, err = NewResolver(store, nil).Resolve(context.Background(), edited("u", 1, "x", base), edited("u", 2, "y", base))
	assert.True(t, errors.Is(err, domain.ErrStorageUnavailable))
}
