package syncengine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memo-sync/internal/connectivity"
	"memo-sync/internal/credential"
	"memo-sync/internal/domain"
	"memo-sync/internal/localstore"
)

// fakeRemote applies the server sync rule to an in-memory note set and
// records the order of calls.
type fakeRemote struct {
	mu        sync.Mutex
	notes     map[string]*domain.Note
	pingErr   error
	fetchErr  error
	pushErr   error
	pushes    []*domain.Note
	conflicts int
	events    []string

	// block, when set, holds every push until it is closed.
	block   chan struct{}
	started chan string

	// fetchBlock, when set, holds the next FetchNotes until it is closed.
	fetchBlock   chan struct{}
	fetchStarted chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{notes: map[string]*domain.Note{}}
}

func (r *fakeRemote) record(ev string) {
	r.events = append(r.events, ev)
}

func (r *fakeRemote) Ping(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pingErr
}

func (r *fakeRemote) FetchNotes(ctx context.Context) ([]*domain.Note, error) {
	r.mu.Lock()
	r.record("fetch")
	block, started := r.fetchBlock, r.fetchStarted
	r.fetchBlock, r.fetchStarted = nil, nil
	r.mu.Unlock()

	if started != nil {
		close(started)
	}
	if block != nil {
		<-block
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	out := make([]*domain.Note, 0, len(r.notes))
	for _, n := range r.notes {
		out = append(out, n.Clone())
	}
	return out, nil
}

func (r *fakeRemote) FetchStats(ctx context.Context) (*domain.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	return &domain.Stats{ActivityData: []domain.ActivityData{}, TotalDays: len(r.notes)}, nil
}

func (r *fakeRemote) PushNote(ctx context.Context, note *domain.Note) error {
	r.mu.Lock()
	block, started := r.block, r.started
	r.mu.Unlock()

	if started != nil {
		started <- note.ID
	}
	if block != nil {
		<-block
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("push:" + note.ID)
	r.pushes = append(r.pushes, note.Clone())
	if r.pushErr != nil {
		return r.pushErr
	}
	if stored, ok := r.notes[note.ID]; ok && stored.Version >= note.Version && !stored.Equal(note) {
		r.conflicts++
		return &domain.ConflictError{ServerNote: stored.Clone()}
	}
	r.notes[note.ID] = note.Clone()
	return nil
}

func (r *fakeRemote) set(fn func(r *fakeRemote)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

func (r *fakeRemote) conflictCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conflicts
}

func (r *fakeRemote) pushCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pushes)
}

func (r *fakeRemote) lastPush() *domain.Note {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pushes) == 0 {
		return nil
	}
	return r.pushes[len(r.pushes)-1]
}

func (r *fakeRemote) note(id string) *domain.Note {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.notes[id]; ok {
		return n.Clone()
	}
	return nil
}

func (r *fakeRemote) eventsSince(i int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.events[i:]...)
}

func (r *fakeRemote) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type harness struct {
	engine *Engine
	store  *localstore.Store
	remote *fakeRemote
	creds  *credential.Static
}

func newHarness(t *testing.T, remote *fakeRemote, debounce time.Duration, opts ...Option) *harness {
	t.Helper()

	store, err := localstore.Open(filepath.Join(t.TempDir(), "notes.db"), nil)
	require.NoError(t, err)

	creds := credential.NewStatic("token")
	e := New(Config{Debounce: debounce}, store, remote, creds, opts...)

	t.Cleanup(func() {
		e.Close()
		e.Wait()
		store.Close()
	})
	return &harness{engine: e, store: store, remote: remote, creds: creds}
}

func (h *harness) stored(t *testing.T, id string) *domain.Note {
	t.Helper()
	n, err := h.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	return n
}

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func TestStatusStartsInitializing(t *testing.T) {
	h := newHarness(t, newFakeRemote(), time.Hour)
	assert.Equal(t, StatusInitializing, h.engine.Status())

	h.remote.set(func(r *fakeRemote) { r.pingErr = &domain.ConnectivityError{Op: "ping", Err: errors.New("down")} })
	assert.Equal(t, connectivity.StateOffline, h.engine.CheckConnectivity(context.Background()))
	assert.Equal(t, StatusOffline, h.engine.Status())

	assert.ErrorIs(t, h.engine.Reconcile(context.Background()), domain.ErrOffline)
}

func TestOnlineTransitionReconciles(t *testing.T) {
	remote := newFakeRemote()
	remote.notes["r"] = &domain.Note{ID: "r", Content: "from server", Version: 3, CreatedAt: time.Now().UTC()}

	var statuses []Status
	var stats []*domain.Stats
	h := newHarness(t, remote, time.Hour,
		WithStatusListener(func(s Status) { statuses = append(statuses, s) }),
		WithStatsListener(func(s *domain.Stats) { stats = append(stats, s) }),
	)

	h.engine.CheckConnectivity(context.Background())

	got := h.stored(t, "r")
	assert.Equal(t, "from server", got.Content)
	assert.Equal(t, domain.SyncStatusSynced, got.SyncStatus)
	assert.Equal(t, []string{}, got.Tags)

	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].TotalDays)
	assert.Equal(t, StatusIdle, h.engine.Status())
	assert.Contains(t, statuses, StatusSyncing)

	last, err := h.store.GetLastSyncTimestamp(context.Background())
	require.NoError(t, err)
	assert.False(t, last.IsZero())
}

func TestDebounceCoalescesEdits(t *testing.T) {
	h := newHarness(t, newFakeRemote(), 200*time.Millisecond)
	ctx := context.Background()
	h.engine.CheckConnectivity(ctx)

	n, err := h.engine.CreateNote(ctx, "draft 0", []string{"t"}, nil)
	require.NoError(t, err)
	for i := 1; i <= 4; i++ {
		_, err := h.engine.UpdateNote(ctx, n.ID, fmt.Sprintf("draft %d", i), nil, nil)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return h.remote.pushCount() == 1 }, waitFor, tick)
	require.Eventually(t, func() bool {
		return h.stored(t, n.ID).SyncStatus == domain.SyncStatusSynced
	}, waitFor, tick)

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, h.remote.pushCount())

	pushed := h.remote.lastPush()
	assert.Equal(t, "draft 4", pushed.Content)
	assert.Equal(t, int64(5), pushed.Version)
	assert.Empty(t, pushed.SyncStatus)
}

func TestPushesWaitForFirstReconciliation(t *testing.T) {
	h := newHarness(t, newFakeRemote(), 10*time.Millisecond)
	ctx := context.Background()

	n, err := h.engine.CreateNote(ctx, "before start", nil, nil)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, h.remote.pushCount())
	assert.Equal(t, domain.SyncStatusPending, h.stored(t, n.ID).SyncStatus)

	h.engine.CheckConnectivity(ctx)

	require.Eventually(t, func() bool { return h.remote.note(n.ID) != nil }, waitFor, tick)
	assert.Equal(t, []string{"fetch", "push:" + n.ID}, h.remote.eventsSince(0))
}

func TestReconnectReconcilesBeforePushing(t *testing.T) {
	h := newHarness(t, newFakeRemote(), 10*time.Millisecond)
	ctx := context.Background()
	h.engine.CheckConnectivity(ctx)

	n, err := h.engine.CreateNote(ctx, "v1", nil, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return h.stored(t, n.ID).SyncStatus == domain.SyncStatusSynced
	}, waitFor, tick)

	h.remote.set(func(r *fakeRemote) { r.pingErr = &domain.ConnectivityError{Op: "ping", Err: errors.New("down")} })
	h.engine.CheckConnectivity(ctx)
	assert.Equal(t, StatusOffline, h.engine.Status())

	mark := h.remote.eventCount()
	_, err = h.engine.UpdateNote(ctx, n.ID, "edited offline", nil, nil)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, h.remote.eventsSince(mark), "no network traffic while offline")

	h.remote.set(func(r *fakeRemote) { r.pingErr = nil })
	h.engine.CheckConnectivity(ctx)

	require.Eventually(t, func() bool {
		return h.stored(t, n.ID).SyncStatus == domain.SyncStatusSynced
	}, waitFor, tick)
	assert.Equal(t, []string{"fetch", "push:" + n.ID}, h.remote.eventsSince(mark))
	assert.Equal(t, "edited offline", h.remote.note(n.ID).Content)
}

func TestReconnectDuringReconciliationStartsOver(t *testing.T) {
	remote := newFakeRemote()
	h := newHarness(t, remote, 10*time.Millisecond)
	ctx := context.Background()
	h.engine.CheckConnectivity(ctx)

	release := make(chan struct{})
	fetching := make(chan struct{})
	remote.set(func(r *fakeRemote) {
		r.fetchBlock = release
		r.fetchStarted = fetching
	})

	done := make(chan error, 1)
	go func() { done <- h.engine.Reconcile(ctx) }()
	select {
	case <-fetching:
	case <-time.After(waitFor):
		t.Fatal("fetch never started")
	}

	remote.set(func(r *fakeRemote) { r.pingErr = &domain.ConnectivityError{Op: "ping", Err: errors.New("down")} })
	require.Equal(t, connectivity.StateOffline, h.engine.CheckConnectivity(ctx))
	remote.set(func(r *fakeRemote) { r.pingErr = nil })
	require.Equal(t, connectivity.StateOnline, h.engine.CheckConnectivity(ctx))

	mark := remote.eventCount()
	n, err := h.engine.CreateNote(ctx, "written around the reconnect", nil, nil)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, remote.pushCount())

	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("reconciliation never finished")
	}

	require.Eventually(t, func() bool {
		return h.stored(t, n.ID).SyncStatus == domain.SyncStatusSynced
	}, waitFor, tick)
	assert.Equal(t, []string{"fetch", "push:" + n.ID}, remote.eventsSince(mark),
		"a fresh fetch runs after the reconnect and before the push")
}

func TestSameNotePushesDoNotOverlap(t *testing.T) {
	remote := newFakeRemote()
	h := newHarness(t, remote, 10*time.Millisecond)
	ctx := context.Background()
	h.engine.CheckConnectivity(ctx)

	release := make(chan struct{})
	started := make(chan string, 4)
	remote.set(func(r *fakeRemote) {
		r.block = release
		r.started = started
	})

	n, err := h.engine.CreateNote(ctx, "v1", nil, nil)
	require.NoError(t, err)
	select {
	case id := <-started:
		assert.Equal(t, n.ID, id)
	case <-time.After(waitFor):
		t.Fatal("push never started")
	}

	_, err = h.engine.UpdateNote(ctx, n.ID, "v2", nil, nil)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, started, "second push waits for the first")
	assert.Zero(t, remote.pushCount())

	close(release)
	require.Eventually(t, func() bool {
		got := h.stored(t, n.ID)
		return got.Version == 2 && got.SyncStatus == domain.SyncStatusSynced
	}, waitFor, tick)

	assert.Equal(t, 2, remote.pushCount())
	last := remote.lastPush()
	assert.Equal(t, "v2", last.Content)
	assert.Equal(t, int64(2), last.Version)
	assert.Equal(t, "v2", remote.note(n.ID).Content)
}

func TestConflictRemoteNewerWins(t *testing.T) {
	remote := newFakeRemote()
	h := newHarness(t, remote, 10*time.Millisecond)
	ctx := context.Background()
	h.engine.CheckConnectivity(ctx)

	created := time.Now().UTC().Add(-time.Hour)
	u := &domain.Note{ID: "u", Content: "v3", Tags: []string{}, Links: []string{}, Version: 3, CreatedAt: created, SyncStatus: domain.SyncStatusSynced}
	require.NoError(t, h.store.Upsert(ctx, u))

	later := time.Now().UTC().Add(time.Hour)
	remote.set(func(r *fakeRemote) {
		r.notes["u"] = &domain.Note{ID: "u", Content: "remote v5", Tags: []string{"server"}, Links: []string{}, Version: 5, CreatedAt: created, LastEdited: &later}
	})

	edited, err := h.engine.UpdateNote(ctx, "u", "local v4", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), edited.Version)

	require.Eventually(t, func() bool {
		n := h.stored(t, "u")
		return n.Version == 5 && n.SyncStatus == domain.SyncStatusSynced
	}, waitFor, tick)

	got := h.stored(t, "u")
	assert.Equal(t, "remote v5", got.Content)
	assert.Equal(t, []string{"server"}, got.Tags)
	assert.Equal(t, 1, remote.conflictCount())
}

func TestConflictLocalNewerRetriedByReconciliation(t *testing.T) {
	remote := newFakeRemote()
	h := newHarness(t, remote, 10*time.Millisecond)
	ctx := context.Background()
	h.engine.CheckConnectivity(ctx)

	created := time.Now().UTC().Add(-2 * time.Hour)
	u := &domain.Note{ID: "u", Content: "v1", Tags: []string{}, Links: []string{}, Version: 1, CreatedAt: created, SyncStatus: domain.SyncStatusSynced}
	require.NoError(t, h.store.Upsert(ctx, u))

	earlier := time.Now().UTC().Add(-time.Hour)
	remote.set(func(r *fakeRemote) {
		r.notes["u"] = &domain.Note{ID: "u", Content: "remote v2", Tags: []string{}, Links: []string{}, Version: 2, CreatedAt: created, LastEdited: &earlier}
	})

	_, err := h.engine.UpdateNote(ctx, "u", "local edit", nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.stored(t, "u").Version == 3 }, waitFor, tick)
	assert.Equal(t, "local edit", h.stored(t, "u").Content)
	assert.Equal(t, domain.SyncStatusPending, h.stored(t, "u").SyncStatus)

	require.NoError(t, h.engine.Reconcile(ctx))
	require.Eventually(t, func() bool {
		n := remote.note("u")
		return n != nil && n.Version == 3 && n.Content == "local edit"
	}, waitFor, tick)
}

func TestTombstonePropagates(t *testing.T) {
	h := newHarness(t, newFakeRemote(), 10*time.Millisecond)
	ctx := context.Background()
	h.engine.CheckConnectivity(ctx)

	n, err := h.engine.CreateNote(ctx, "short lived", nil, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.remote.note(n.ID) != nil }, waitFor, tick)

	require.NoError(t, h.engine.DeleteNote(ctx, n.ID))

	notes, err := h.engine.Notes(ctx)
	require.NoError(t, err)
	assert.Empty(t, notes)

	_, err = h.engine.Note(ctx, n.ID)
	assert.ErrorIs(t, err, domain.ErrNoteNotFound)

	raw := h.stored(t, n.ID)
	assert.True(t, raw.IsDeleted())
	assert.Equal(t, int64(2), raw.Version)

	require.Eventually(t, func() bool {
		r := h.remote.note(n.ID)
		return r != nil && r.IsDeleted() && r.Version == 2
	}, waitFor, tick)

	_, err = h.engine.UpdateNote(ctx, n.ID, "revive", nil, nil)
	assert.ErrorIs(t, err, domain.ErrNoteNotFound)
}

func TestPushFailureMarksError(t *testing.T) {
	h := newHarness(t, newFakeRemote(), 10*time.Millisecond)
	ctx := context.Background()
	h.engine.CheckConnectivity(ctx)

	h.remote.set(func(r *fakeRemote) {
		r.pushErr = &domain.ConnectivityError{Op: "push", Status: 503}
	})

	n, err := h.engine.CreateNote(ctx, "doomed", nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.stored(t, n.ID).SyncStatus == domain.SyncStatusError
	}, waitFor, tick)
	assert.Equal(t, StatusError, h.engine.Status())
	assert.Equal(t, 1, h.remote.pushCount(), "no immediate retry")

	h.remote.set(func(r *fakeRemote) { r.pushErr = nil })
	require.NoError(t, h.engine.Reconcile(ctx))

	require.Eventually(t, func() bool {
		return h.stored(t, n.ID).SyncStatus == domain.SyncStatusSynced
	}, waitFor, tick)
	require.Eventually(t, func() bool { return h.engine.Status() == StatusIdle }, waitFor, tick)
}

func TestAuthFailureClearsToken(t *testing.T) {
	var (
		mu       sync.Mutex
		authErrs []error
	)
	h := newHarness(t, newFakeRemote(), 10*time.Millisecond,
		WithAuthListener(func(err error) {
			mu.Lock()
			defer mu.Unlock()
			authErrs = append(authErrs, err)
		}))
	ctx := context.Background()
	h.engine.CheckConnectivity(ctx)

	h.remote.set(func(r *fakeRemote) { r.pushErr = &domain.AuthError{Op: "push", Status: 401} })

	n, err := h.engine.CreateNote(ctx, "x", nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !h.creds.IsAuthenticated() }, waitFor, tick)
	require.Eventually(t, func() bool { return h.engine.Status() == StatusError }, waitFor, tick)
	assert.Equal(t, domain.SyncStatusPending, h.stored(t, n.ID).SyncStatus)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, authErrs, 1)
	assert.True(t, domain.IsAuthError(authErrs[0]))
}

func TestApplyRemoteIsIdempotent(t *testing.T) {
	h := newHarness(t, newFakeRemote(), time.Hour)
	ctx := context.Background()

	created := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	local := &domain.Note{ID: "a", Content: "local v3", Tags: []string{}, Links: []string{}, Version: 3, CreatedAt: created, SyncStatus: domain.SyncStatusPending}
	require.NoError(t, h.store.Upsert(ctx, local))

	for _, v := range []int64{1, 2, 3} {
		changed, err := h.engine.ApplyRemote(ctx, &domain.Note{ID: "a", Content: "older", Version: v, CreatedAt: local.CreatedAt})
		require.NoError(t, err)
		assert.False(t, changed)
	}
	assert.True(t, local.Equal(h.stored(t, "a")))

	newer := &domain.Note{ID: "a", Content: "remote v4", Tags: []string{"x"}, Links: []string{}, Version: 4, CreatedAt: local.CreatedAt}
	changed, err := h.engine.ApplyRemote(ctx, newer)
	require.NoError(t, err)
	assert.True(t, changed)
	first := h.stored(t, "a")

	changed, err = h.engine.ApplyRemote(ctx, newer)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.True(t, first.Equal(h.stored(t, "a")))
	assert.Equal(t, domain.SyncStatusSynced, first.SyncStatus)
}

func TestRoundTripBetweenDevices(t *testing.T) {
	remote := newFakeRemote()
	a := newHarness(t, remote, 10*time.Millisecond)
	b := newHarness(t, remote, 10*time.Millisecond)
	ctx := context.Background()

	a.engine.CheckConnectivity(ctx)
	n, err := a.engine.CreateNote(ctx, "shared #go", []string{"go", "sync", "go"}, []string{"other"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return remote.note(n.ID) != nil }, waitFor, tick)

	b.engine.CheckConnectivity(ctx)

	got, err := b.engine.Note(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.Content, got.Content)
	assert.Equal(t, []string{"go", "sync"}, got.Tags)
	assert.Equal(t, []string{"other"}, got.Links)
	assert.Equal(t, domain.SyncStatusSynced, got.SyncStatus)
}

func TestSyncOnce(t *testing.T) {
	remote := newFakeRemote()
	h := newHarness(t, remote, time.Hour)
	ctx := context.Background()

	n, err := h.engine.CreateNote(ctx, "offline draft", nil, nil)
	require.NoError(t, err)

	require.NoError(t, h.engine.SyncOnce(ctx))

	assert.Equal(t, domain.SyncStatusSynced, h.stored(t, n.ID).SyncStatus)
	assert.Equal(t, []string{"fetch", "push:" + n.ID}, remote.eventsSince(0))

	remote.set(func(r *fakeRemote) { r.pingErr = &domain.ConnectivityError{Op: "ping", Err: errors.New("down")} })
	assert.ErrorIs(t, h.engine.SyncOnce(ctx), domain.ErrOffline)
}

func TestTeardownDropsInFlightResult(t *testing.T) {
	remote := newFakeRemote()
	h := newHarness(t, remote, 100*time.Millisecond)
	ctx := context.Background()
	h.engine.CheckConnectivity(ctx)

	release := make(chan struct{})
	started := make(chan string, 1)
	remote.set(func(r *fakeRemote) {
		r.block = release
		r.started = started
	})

	n, err := h.engine.CreateNote(ctx, "in flight", nil, nil)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(waitFor):
		t.Fatal("push never started")
	}

	other, err := h.engine.CreateNote(ctx, "never sent", nil, nil)
	require.NoError(t, err)

	require.NoError(t, h.engine.Close())
	close(release)
	h.engine.Wait()

	assert.NotNil(t, remote.note(n.ID), "in-flight request completes")
	assert.Equal(t, domain.SyncStatusPending, h.stored(t, n.ID).SyncStatus, "result discarded")
	assert.Nil(t, remote.note(other.ID), "pending debounce cancelled")
	assert.Zero(t, h.engine.debounce.Pending())

	h.engine.SchedulePush(n.ID)
	assert.Zero(t, h.engine.debounce.Pending())
	assert.ErrorIs(t, h.engine.Reconcile(ctx), ErrClosed)
}

func TestFetchFailureLeavesPushesSuppressed(t *testing.T) {
	remote := newFakeRemote()
	remote.fetchErr = &domain.ConnectivityError{Op: "notes", Status: 500}
	h := newHarness(t, remote, 10*time.Millisecond)
	ctx := context.Background()

	h.engine.CheckConnectivity(ctx)
	assert.Equal(t, StatusError, h.engine.Status())

	_, err := h.engine.CreateNote(ctx, "waiting", nil, nil)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, remote.pushCount())

	remote.set(func(r *fakeRemote) { r.fetchErr = nil })
	require.NoError(t, h.engine.Reconcile(ctx))
	require.Eventually(t, func() bool { return remote.pushCount() == 1 }, waitFor, tick)
}
