package actuator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrBusy means another actuator holds the run lock. Callers surface
	// this immediately; requests are never queued.
	ErrBusy = errors.New("actuator bank busy")

	// ErrSafetyLimit means the rolling runtime window has no room for the
	// planned run. The request is rejected whole, never truncated.
	ErrSafetyLimit = errors.New("continuous runtime safety limit exceeded")
)

type runEntry struct {
	end time.Time
	dur time.Duration
}

// Arbiter grants exclusive run rights to one actuator at a time and
// enforces a per-actuator continuous-runtime ceiling over a rolling window.
// Exactly one Arbiter exists per process; it is passed to the sequencer and
// the manual command path by handle, never via a package global.
type Arbiter struct {
	window       time.Duration
	defaultLimit time.Duration
	limits       map[string]time.Duration
	logger       *zap.Logger
	now          func() time.Time

	mu      sync.Mutex
	current *Guard
	history map[string][]runEntry
}

func NewArbiter(window, defaultLimit time.Duration, limits map[string]time.Duration, logger *zap.Logger) *Arbiter {
	if window <= 0 {
		window = 10 * time.Minute
	}
	if defaultLimit <= 0 {
		defaultLimit = 5 * time.Minute
	}
	return &Arbiter{
		window:       window,
		defaultLimit: defaultLimit,
		limits:       limits,
		logger:       logger.Named("arbiter"),
		now:          time.Now,
		history:      make(map[string][]runEntry),
	}
}

// Guard holds the run lock for one actuator. Release is idempotent and must
// be deferred immediately after a successful Acquire so the lock survives no
// failure path.
type Guard struct {
	arb        *Arbiter
	actuatorID string
	acquiredAt time.Time
	released   bool
}

// Acquire is non-blocking: a held lock fails with ErrBusy, a run that would
// overflow the safety window fails with ErrSafetyLimit.
func (a *Arbiter) Acquire(actuatorID string, planned time.Duration) (*Guard, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current != nil {
		return nil, fmt.Errorf("%s requested while %s holds the lock: %w",
			actuatorID, a.current.actuatorID, ErrBusy)
	}

	now := a.now()
	used := a.windowTotalLocked(actuatorID, now)
	limit := a.limitFor(actuatorID)
	if used+planned > limit {
		a.logger.Warn("run rejected by safety limit",
			zap.String("actuator", actuatorID),
			zap.Duration("used", used),
			zap.Duration("planned", planned),
			zap.Duration("limit", limit))
		return nil, fmt.Errorf("%s: %v used of %v in window, %v more requested: %w",
			actuatorID, used, limit, planned, ErrSafetyLimit)
	}

	guard := &Guard{arb: a, actuatorID: actuatorID, acquiredAt: now}
	a.current = guard

	a.logger.Debug("lock acquired",
		zap.String("actuator", actuatorID),
		zap.Duration("planned", planned))
	return guard, nil
}

// Release returns the lock and charges the held time to the actuator's
// rolling window. Safe to call more than once and after a force release.
func (g *Guard) Release() {
	if g == nil {
		return
	}

	a := g.arb
	a.mu.Lock()
	defer a.mu.Unlock()

	if g.released {
		return
	}
	g.released = true

	now := a.now()
	a.recordLocked(g.actuatorID, now, now.Sub(g.acquiredAt))
	if a.current == g {
		a.current = nil
	}

	a.logger.Debug("lock released", zap.String("actuator", g.actuatorID))
}

// ForceRelease strips the current holder, if any. Used by emergency stop;
// the held time is still charged to the window.
func (a *Arbiter) ForceRelease() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil {
		return
	}

	g := a.current
	g.released = true
	now := a.now()
	a.recordLocked(g.actuatorID, now, now.Sub(g.acquiredAt))
	a.current = nil

	a.logger.Warn("lock force released", zap.String("actuator", g.actuatorID))
}

// Holder names the actuator currently holding the lock, or "".
func (a *Arbiter) Holder() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return ""
	}
	return a.current.actuatorID
}

func (a *Arbiter) limitFor(actuatorID string) time.Duration {
	if limit, ok := a.limits[actuatorID]; ok && limit > 0 {
		return limit
	}
	return a.defaultLimit
}

func (a *Arbiter) recordLocked(actuatorID string, end time.Time, dur time.Duration) {
	if dur <= 0 {
		return
	}
	a.history[actuatorID] = append(a.history[actuatorID], runEntry{end: end, dur: dur})
}

func (a *Arbiter) windowTotalLocked(actuatorID string, now time.Time) time.Duration {
	cutoff := now.Add(-a.window)
	entries := a.history[actuatorID]

	kept := entries[:0]
	var total time.Duration
	for _, e := range entries {
		if e.end.Before(cutoff) {
			continue
		}
		kept = append(kept, e)
		total += e.dur
	}
	a.history[actuatorID] = kept
	return total
}
