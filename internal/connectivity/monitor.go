// Package connectivity tracks whether the sync server is reachable.
package connectivity

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"memo-sync/internal/credential"
	"memo-sync/internal/domain"
	"memo-sync/internal/schedule"
	"memo-sync/pkg/logger"
)

type State int

const (
	StateUnknown State = iota
	StateOnline
	StateOffline
)

func (s State) String() string {
	switch s {
	case StateOnline:
		return "online"
	case StateOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Pinger is the authenticated liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Listener receives transitions only, never repeated states.
type Listener interface {
	OnOnline(ctx context.Context)
	OnOffline(ctx context.Context)
	OnAuthFailure(ctx context.Context, err error)
}

type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

type Monitor struct {
	pinger   Pinger
	creds    credential.Provider
	listener Listener
	cfg      Config
	logger   *zap.Logger

	checkMu sync.Mutex
	mu      sync.RWMutex
	state   State
	sched   *schedule.Scheduler
}

func NewMonitor(pinger Pinger, creds credential.Provider, listener Listener, cfg Config, lg *zap.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Monitor{
		pinger:   pinger,
		creds:    creds,
		listener: listener,
		cfg:      cfg,
		logger:   logger.OrNop(lg),
	}
}

func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Monitor) Online() bool {
	return m.State() == StateOnline
}

// Check probes once and returns the resulting state. The first probe always
// reports a transition. An authentication rejection clears the credential
// and leaves the state as it was.
func (m *Monitor) Check(ctx context.Context) State {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	err := m.pinger.Ping(probeCtx)
	cancel()

	switch {
	case errors.Is(err, domain.ErrNotAuthenticated):
		m.logger.Debug("liveness probe skipped: not authenticated")
		return m.State()

	case domain.IsAuthError(err):
		m.logger.Warn("liveness probe rejected, clearing credential", zap.Error(err))
		m.creds.ClearToken()
		if m.listener != nil {
			m.listener.OnAuthFailure(ctx, err)
		}
		return m.State()
	}

	next := StateOnline
	if err != nil {
		next = StateOffline
	}

	m.mu.Lock()
	prev := m.state
	m.state = next
	m.mu.Unlock()

	if prev == next {
		return next
	}

	m.logger.Info("connectivity changed",
		zap.String("from", prev.String()),
		zap.String(logger.FieldStatus, next.String()),
		zap.NamedError("cause", err))

	if m.listener != nil {
		if next == StateOnline {
			m.listener.OnOnline(ctx)
		} else {
			m.listener.OnOffline(ctx)
		}
	}
	return next
}

// Start schedules Check at the configured interval. It does not probe
// immediately.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sched != nil {
		return nil
	}

	sched := schedule.New(m.logger)
	err := sched.Every("liveness", m.cfg.Interval, func(ctx context.Context) error {
		m.Check(ctx)
		return nil
	})
	if err != nil {
		return err
	}
	sched.Start()
	m.sched = sched
	return nil
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	sched := m.sched
	m.sched = nil
	m.mu.Unlock()

	if sched != nil {
		sched.Stop()
	}
}
