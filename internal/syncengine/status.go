package syncengine

import "memo-sync/internal/domain"

type Status string

const (
	StatusInitializing Status = "initializing"
	StatusIdle         Status = "idle"
	StatusSyncing      Status = "syncing"
	StatusOffline      Status = "offline"
	StatusError        Status = "error"
)

// Listeners are called synchronously and must not call back into the engine.
type (
	StatusListener func(Status)
	StatsListener  func(*domain.Stats)
	AuthListener   func(error)
)

// computeStatusLocked derives the observable status. Callers hold e.mu.
func (e *Engine) computeStatusLocked() Status {
	switch {
	case len(e.inflight) > 0 || e.reconciling:
		return StatusSyncing
	case !e.probed:
		return StatusInitializing
	case !e.online:
		return StatusOffline
	case e.failed:
		return StatusError
	default:
		return StatusIdle
	}
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// refreshStatus recomputes the status and notifies listeners on change.
func (e *Engine) refreshStatus() {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.Lock()
	next := e.computeStatusLocked()
	changed := next != e.status
	e.status = next
	e.mu.Unlock()

	if !changed {
		return
	}
	for _, l := range e.statusListeners {
		l(next)
	}
}

func (e *Engine) emitStats(stats *domain.Stats) {
	if stats == nil {
		return
	}
	for _, l := range e.statsListeners {
		l(stats)
	}
}

func (e *Engine) emitAuthFailure(err error) {
	for _, l := range e.authListeners {
		l(err)
	}
}
