// Package syncengine keeps the local note cache and the remote store in
// step: debounced per-note pushes, periodic full reconciliation and conflict
// handling, driven by the connectivity monitor.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"memo-sync/internal/conflict"
	"memo-sync/internal/connectivity"
	"memo-sync/internal/credential"
	"memo-sync/internal/domain"
	"memo-sync/internal/schedule"
	"memo-sync/pkg/logger"
)

var ErrClosed = errors.New("sync engine closed")

// errStale marks work whose results were dropped after teardown.
var errStale = errors.New("stale epoch")

type Store interface {
	GetAll(ctx context.Context) ([]*domain.Note, error)
	GetByID(ctx context.Context, id string) (*domain.Note, error)
	Upsert(ctx context.Context, note *domain.Note) error
	SoftDelete(ctx context.Context, id string) (*domain.Note, error)
	ListUnsynced(ctx context.Context) ([]*domain.Note, error)
	ListAll(ctx context.Context) ([]*domain.Note, error)
	MarkSyncedAt(ctx context.Context, id string, version int64) (bool, error)
	MarkError(ctx context.Context, id string) error
	SetLastSyncTimestamp(ctx context.Context, ts time.Time) error
}

type Remote interface {
	Ping(ctx context.Context) error
	FetchNotes(ctx context.Context) ([]*domain.Note, error)
	FetchStats(ctx context.Context) (*domain.Stats, error)
	PushNote(ctx context.Context, note *domain.Note) error
}

// Feed delivers server-side change notifications.
type Feed interface {
	Subscribe(ctx context.Context, onEvent func(domain.NoteEvent)) error
}

type Resolver interface {
	Resolve(ctx context.Context, pushed, server *domain.Note) (conflict.Outcome, error)
}

type Config struct {
	Debounce          time.Duration
	PingInterval      time.Duration
	PingTimeout       time.Duration
	ReconcileInterval time.Duration
	// FeedRetry is the wait before resubscribing to a dropped change feed.
	FeedRetry time.Duration
}

func (c *Config) setDefaults() {
	if c.Debounce <= 0 {
		c.Debounce = 2 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 2 * time.Second
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 10 * time.Second
	}
	if c.FeedRetry <= 0 {
		c.FeedRetry = 5 * time.Second
	}
}

type Option func(*Engine)

func WithLogger(lg *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger.OrNop(lg) }
}

func WithResolver(r Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

func WithFeed(f Feed) Option {
	return func(e *Engine) { e.feed = f }
}

func WithStatusListener(l StatusListener) Option {
	return func(e *Engine) { e.statusListeners = append(e.statusListeners, l) }
}

func WithStatsListener(l StatsListener) Option {
	return func(e *Engine) { e.statsListeners = append(e.statsListeners, l) }
}

func WithAuthListener(l AuthListener) Option {
	return func(e *Engine) { e.authListeners = append(e.authListeners, l) }
}

// Engine is constructed once per session and shared by everything that reads
// notes or sync status.
type Engine struct {
	cfg      Config
	store    Store
	remote   Remote
	creds    credential.Provider
	resolver Resolver
	feed     Feed
	monitor  *connectivity.Monitor
	debounce *debouncer
	logger   *zap.Logger
	now      func() time.Time

	statusListeners []StatusListener
	statsListeners  []StatsListener
	authListeners   []AuthListener

	// writeMu serializes read-modify-write cycles on the local store.
	writeMu sync.Mutex
	emitMu  sync.Mutex

	mu          sync.Mutex
	epoch       uint64
	closed      bool
	started     bool
	probed      bool
	online      bool
	ready       bool
	reconciling bool
	// conn counts online transitions; a reconciliation only unlocks pushes
	// when no transition happened while it ran.
	conn       uint64
	failed     bool
	reconciles uint64
	inflight   map[string]struct{}
	rerun      map[string]struct{}
	status     Status
	sched      *schedule.Scheduler
	stopFeed   context.CancelFunc

	pushes sync.WaitGroup
}

func New(cfg Config, store Store, remote Remote, creds credential.Provider, opts ...Option) *Engine {
	cfg.setDefaults()

	e := &Engine{
		cfg:      cfg,
		store:    store,
		remote:   remote,
		creds:    creds,
		debounce: newDebouncer(cfg.Debounce),
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
		inflight: make(map[string]struct{}),
		rerun:    make(map[string]struct{}),
		status:   StatusInitializing,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.resolver == nil {
		e.resolver = conflict.NewResolver(store, e.logger)
	}
	e.monitor = connectivity.NewMonitor(remote, creds, monitorListener{e}, connectivity.Config{
		Interval: cfg.PingInterval,
		Timeout:  cfg.PingTimeout,
	}, e.logger)
	return e
}

// Start probes connectivity once, reconciling if the remote is reachable,
// then starts the liveness, reconciliation and change feed loops.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.mu.Unlock()

	e.monitor.Check(ctx)

	if err := e.monitor.Start(); err != nil {
		return err
	}

	sched := schedule.New(e.logger)
	err := sched.Every("reconcile", e.cfg.ReconcileInterval, func(ctx context.Context) error {
		err := e.Reconcile(ctx)
		if errors.Is(err, domain.ErrOffline) || errors.Is(err, ErrClosed) {
			return nil
		}
		return err
	})
	if err != nil {
		e.monitor.Stop()
		return err
	}
	sched.Start()

	var feedCtx context.Context
	var stopFeed context.CancelFunc
	if e.feed != nil {
		feedCtx, stopFeed = context.WithCancel(context.Background())
	}

	e.mu.Lock()
	e.sched = sched
	e.stopFeed = stopFeed
	e.mu.Unlock()

	if e.feed != nil {
		go e.followFeed(feedCtx)
	}
	return nil
}

// CheckConnectivity runs one liveness probe now.
func (e *Engine) CheckConnectivity(ctx context.Context) connectivity.State {
	return e.monitor.Check(ctx)
}

// Close cancels pending debounced pushes and stops the background loops.
// Requests already in flight complete but their results are discarded.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.epoch++
	sched := e.sched
	stopFeed := e.stopFeed
	e.sched = nil
	e.stopFeed = nil
	e.mu.Unlock()

	cancelled := e.debounce.Stop()
	if stopFeed != nil {
		stopFeed()
	}
	e.monitor.Stop()
	if sched != nil {
		sched.Stop()
	}

	e.logger.Info("sync engine closed", zap.Int("cancelled_pushes", cancelled))
	return nil
}

// Wait blocks until debounced pushes that already started have returned.
// Callers that own the store call it after Close and before closing the store.
func (e *Engine) Wait() {
	e.pushes.Wait()
}

func (e *Engine) currentEpoch() (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.epoch, e.closed
}

func (e *Engine) stale(epoch uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed || e.epoch != epoch
}

// Notes returns live notes, newest first.
func (e *Engine) Notes(ctx context.Context) ([]*domain.Note, error) {
	return e.store.GetAll(ctx)
}

// Note returns a live note; tombstones read as not found.
func (e *Engine) Note(ctx context.Context, id string) (*domain.Note, error) {
	n, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.IsDeleted() {
		return nil, domain.ErrNoteNotFound
	}
	return n, nil
}

// CreateNote stores a new pending note at version 1 and schedules its push.
func (e *Engine) CreateNote(ctx context.Context, content string, tags, links []string) (*domain.Note, error) {
	n := &domain.Note{
		ID:         uuid.NewString(),
		Content:    content,
		Tags:       tags,
		Links:      links,
		Version:    1,
		SyncStatus: domain.SyncStatusPending,
		CreatedAt:  e.now(),
	}
	n.Normalize()

	if err := e.store.Upsert(ctx, n); err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}
	e.SchedulePush(n.ID)
	return n, nil
}

// UpdateNote replaces the content of a live note. Nil tags or links keep the
// stored values.
func (e *Engine) UpdateNote(ctx context.Context, id, content string, tags, links []string) (*domain.Note, error) {
	e.writeMu.Lock()
	n, err := e.store.GetByID(ctx, id)
	if err != nil {
		e.writeMu.Unlock()
		return nil, err
	}
	if n.IsDeleted() {
		e.writeMu.Unlock()
		return nil, domain.ErrNoteNotFound
	}

	now := e.now()
	n.Content = content
	if tags != nil {
		n.Tags = tags
	}
	if links != nil {
		n.Links = links
	}
	n.Normalize()
	n.Version++
	n.LastEdited = &now
	n.SyncStatus = domain.SyncStatusPending

	err = e.store.Upsert(ctx, n)
	e.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("update note: %w", err)
	}

	e.SchedulePush(n.ID)
	return n, nil
}

// DeleteNote tombstones id and schedules the tombstone's push.
func (e *Engine) DeleteNote(ctx context.Context, id string) error {
	e.writeMu.Lock()
	n, err := e.store.SoftDelete(ctx, id)
	e.writeMu.Unlock()
	if err != nil {
		return err
	}

	e.SchedulePush(n.ID)
	return nil
}

// SchedulePush arms the debounced push of id. Edits arriving within the
// window collapse into one push of the latest stored record.
func (e *Engine) SchedulePush(id string) {
	epoch, closed := e.currentEpoch()
	if closed {
		return
	}
	e.debounce.Schedule(id, func() {
		e.pushes.Add(1)
		defer e.pushes.Done()
		e.push(context.Background(), epoch, id)
	})
}

// push sends the stored record of id. It returns nil when the push was
// skipped or deferred.
func (e *Engine) push(ctx context.Context, epoch uint64, id string) error {
	e.mu.Lock()
	switch {
	case e.closed || e.epoch != epoch:
		e.mu.Unlock()
		return nil
	case !e.online || !e.ready:
		e.mu.Unlock()
		e.logger.Debug("push deferred until reconciliation", zap.String(logger.FieldNoteID, id))
		return nil
	}
	if _, busy := e.inflight[id]; busy {
		e.rerun[id] = struct{}{}
		e.mu.Unlock()
		return nil
	}
	e.inflight[id] = struct{}{}
	e.mu.Unlock()
	e.refreshStatus()

	defer func() {
		e.mu.Lock()
		delete(e.inflight, id)
		_, again := e.rerun[id]
		delete(e.rerun, id)
		e.mu.Unlock()
		e.refreshStatus()

		if again {
			e.SchedulePush(id)
		}
	}()

	note, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil
	}
	if note.SyncStatus == domain.SyncStatusSynced {
		return nil
	}

	start := time.Now()
	err = e.remote.PushNote(ctx, note.Snapshot())

	if e.stale(epoch) {
		e.logger.Debug("dropping push result after teardown",
			zap.String(logger.FieldNoteID, id), zap.Uint64(logger.FieldEpoch, epoch))
		return nil
	}

	fields := []zap.Field{
		zap.String(logger.FieldNoteID, id),
		zap.Int64(logger.FieldVersion, note.Version),
		zap.Duration(logger.FieldDuration, time.Since(start)),
	}

	var conflictErr *domain.ConflictError
	switch {
	case err == nil:
		if _, err := e.store.MarkSyncedAt(ctx, id, note.Version); err != nil {
			e.logger.Warn("mark synced failed", append(fields, zap.Error(err))...)
			return err
		}
		e.logger.Debug("note pushed", fields...)
		return nil

	case errors.As(err, &conflictErr):
		e.writeMu.Lock()
		outcome, rerr := e.resolver.Resolve(ctx, note, conflictErr.ServerNote)
		e.writeMu.Unlock()
		if rerr != nil {
			e.logger.Warn("conflict resolution failed", append(fields, zap.Error(rerr))...)
			e.markFailed()
			return rerr
		}
		e.logger.Info("push conflicted", append(fields, zap.String(logger.FieldAction, outcome.String()))...)
		return nil

	case domain.IsAuthError(err), errors.Is(err, domain.ErrNotAuthenticated):
		e.logger.Warn("push rejected", append(fields, zap.Error(err))...)
		e.handleAuthFailure(err, domain.IsAuthError(err))
		return err

	default:
		e.logger.Warn("push failed", append(fields, zap.Error(err))...)
		if merr := e.store.MarkError(ctx, id); merr != nil {
			e.logger.Warn("mark error failed", zap.String(logger.FieldNoteID, id), zap.Error(merr))
		}
		e.markFailed()
		return err
	}
}

func (e *Engine) markFailed() {
	e.mu.Lock()
	e.failed = true
	e.mu.Unlock()
	e.refreshStatus()
}

func (e *Engine) handleAuthFailure(err error, clear bool) {
	if clear {
		e.creds.ClearToken()
	}
	e.markFailed()
	e.emitAuthFailure(err)
}

// Reconcile runs one full reconciliation and schedules pushes for every
// unsynced record. It returns domain.ErrOffline while disconnected and nil
// when another reconciliation is already running.
func (e *Engine) Reconcile(ctx context.Context) error {
	return e.reconcile(ctx, true)
}

// RequestReconcile starts a reconciliation in the background.
func (e *Engine) RequestReconcile() {
	go func() {
		if err := e.Reconcile(context.Background()); err != nil && !errors.Is(err, domain.ErrOffline) && !errors.Is(err, ErrClosed) {
			e.logger.Debug("requested reconciliation failed", zap.Error(err))
		}
	}()
}

func (e *Engine) reconcile(ctx context.Context, schedulePushes bool) error {
	e.mu.Lock()
	switch {
	case e.closed:
		e.mu.Unlock()
		return ErrClosed
	case !e.online:
		e.mu.Unlock()
		e.refreshStatus()
		return domain.ErrOffline
	case e.reconciling:
		e.mu.Unlock()
		return nil
	}
	e.reconciling = true
	e.mu.Unlock()
	e.refreshStatus()

	var (
		epoch, conn uint64
		err         error
		start       time.Time
	)
	for {
		e.mu.Lock()
		epoch, conn = e.epoch, e.conn
		e.mu.Unlock()

		start = time.Now()
		err = e.merge(ctx, epoch)

		e.mu.Lock()
		if e.conn != conn && e.online && !e.closed && !errors.Is(err, errStale) {
			e.mu.Unlock()
			e.logger.Debug("reconnected during reconciliation, starting over")
			continue
		}
		e.reconciling = false
		if err == nil && e.conn == conn {
			e.ready = true
			e.failed = false
			e.reconciles++
		}
		e.mu.Unlock()
		break
	}

	switch {
	case errors.Is(err, errStale):
		e.logger.Debug("dropping reconciliation result after teardown", zap.Uint64(logger.FieldEpoch, epoch))
		return nil
	case err != nil:
		e.logger.Warn("reconciliation failed", zap.Error(err))
		if domain.IsAuthError(err) || errors.Is(err, domain.ErrNotAuthenticated) {
			e.handleAuthFailure(err, domain.IsAuthError(err))
		} else {
			e.markFailed()
		}
		return err
	}

	e.refreshStatus()
	e.logger.Info("reconciliation complete", zap.Duration(logger.FieldDuration, time.Since(start)))

	if schedulePushes {
		unsynced, _ := e.store.ListUnsynced(ctx)
		for _, n := range unsynced {
			e.SchedulePush(n.ID)
		}
	}
	return nil
}

// merge fetches both sides concurrently and applies every remote record that
// is newer than the local copy.
func (e *Engine) merge(ctx context.Context, epoch uint64) error {
	var (
		local       []*domain.Note
		remoteNotes []*domain.Note
		stats       *domain.Stats
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		local, err = e.store.ListAll(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		remoteNotes, err = e.remote.FetchNotes(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		stats, err = e.remote.FetchStats(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if e.stale(epoch) {
		return errStale
	}

	versions := make(map[string]int64, len(local))
	for _, n := range local {
		versions[n.ID] = n.Version
	}

	var errs []error
	for _, r := range remoteNotes {
		if v, ok := versions[r.ID]; ok && r.Version <= v {
			continue
		}
		if e.stale(epoch) {
			return errStale
		}
		if _, err := e.ApplyRemote(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	e.emitStats(stats)

	if err := e.store.SetLastSyncTimestamp(ctx, e.now()); err != nil {
		e.logger.Warn("record last sync failed", zap.Error(err))
	}
	return nil
}

// ApplyRemote stores a remote record marked synced when the local copy is
// missing or older. It reports whether the local store changed.
func (e *Engine) ApplyRemote(ctx context.Context, remote *domain.Note) (bool, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	local, err := e.store.GetByID(ctx, remote.ID)
	if err != nil && !errors.Is(err, domain.ErrNoteNotFound) {
		return false, err
	}
	if local != nil && remote.Version <= local.Version {
		return false, nil
	}

	n := remote.Clone()
	n.Normalize()
	n.SyncStatus = domain.SyncStatusSynced
	if err := e.store.Upsert(ctx, n); err != nil {
		return false, fmt.Errorf("apply remote %s: %w", remote.ID, err)
	}
	return true, nil
}

// SyncOnce probes the remote, reconciles and pushes every unsynced record
// before returning.
func (e *Engine) SyncOnce(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	before := e.reconciles
	e.mu.Unlock()

	if e.monitor.Check(ctx) != connectivity.StateOnline {
		return domain.ErrOffline
	}

	e.mu.Lock()
	done := e.reconciles != before
	epoch := e.epoch
	e.mu.Unlock()

	if !done {
		if err := e.reconcile(ctx, false); err != nil {
			return err
		}
	}

	unsynced, err := e.store.ListUnsynced(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, n := range unsynced {
		if err := e.push(ctx, epoch, n.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// followFeed resubscribes to the change feed until ctx is cancelled. Every
// notification about a version the device has not seen yet triggers a
// reconciliation.
func (e *Engine) followFeed(ctx context.Context) {
	for {
		err := e.feed.Subscribe(ctx, func(ev domain.NoteEvent) {
			if n, err := e.store.GetByID(ctx, ev.ID); err == nil && n.Version >= ev.Version {
				return
			}
			e.RequestReconcile()
		})
		if ctx.Err() != nil {
			return
		}
		e.logger.Debug("change feed dropped", zap.Error(err))

		t := time.NewTimer(e.cfg.FeedRetry)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

type monitorListener struct {
	e *Engine
}

func (l monitorListener) OnOnline(ctx context.Context) {
	e := l.e
	e.mu.Lock()
	e.probed = true
	e.online = true
	e.ready = false
	e.conn++
	e.mu.Unlock()
	e.refreshStatus()

	// A reconciliation already running sees the new generation and starts
	// over once its current pass ends.
	if err := e.Reconcile(ctx); err != nil && !errors.Is(err, ErrClosed) {
		e.logger.Debug("reconciliation after reconnect failed", zap.Error(err))
	}
}

func (l monitorListener) OnOffline(ctx context.Context) {
	e := l.e
	e.mu.Lock()
	e.probed = true
	e.online = false
	e.ready = false
	e.mu.Unlock()
	e.refreshStatus()
}

func (l monitorListener) OnAuthFailure(ctx context.Context, err error) {
	l.e.handleAuthFailure(err, false)
}
