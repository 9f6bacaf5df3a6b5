// Package actuator covers the pump/valve bank: the driver abstraction, the
// calibration profiles, and the arbiter that serializes hardware access.
package actuator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Direction int

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// ParseDirection accepts the wire forms "forward"/"reverse" and the legacy
// single letters F/R.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "forward", "F", "f":
		return Forward, nil
	case "reverse", "R", "r":
		return Reverse, nil
	}
	return Forward, fmt.Errorf("unknown direction %q", s)
}

// Driver runs one actuator at a time. Run must poll ctx on sub-second ticks
// so an emergency stop lands within a tick, never after the full duration.
type Driver interface {
	Run(ctx context.Context, actuatorID string, dir Direction, duration time.Duration) error
	SetValve(ctx context.Context, valveID string, open bool) error
	// ReleaseAll de-energizes every actuator unconditionally.
	ReleaseAll() error
}

const runTick = 100 * time.Millisecond

// RunRecord is one completed or aborted actuation, kept by the SimDriver
// for inspection.
type RunRecord struct {
	ActuatorID string
	Direction  Direction
	Requested  time.Duration
	Ran        time.Duration
	Aborted    bool
}

// SimDriver is the shipped driver for running without hardware. It burns
// wall-clock time in runTick slices and honors cancellation between slices,
// which is the same contract a GPIO driver has to meet.
type SimDriver struct {
	logger *zap.Logger

	mu     sync.Mutex
	runs   []RunRecord
	valves map[string]bool
}

func NewSimDriver(logger *zap.Logger) *SimDriver {
	return &SimDriver{
		logger: logger.Named("actuator"),
		valves: make(map[string]bool),
	}
}

func (d *SimDriver) Run(ctx context.Context, actuatorID string, dir Direction, duration time.Duration) error {
	if duration <= 0 {
		return fmt.Errorf("actuator %s: non-positive run duration %v", actuatorID, duration)
	}

	d.logger.Info("actuator run",
		zap.String("actuator", actuatorID),
		zap.String("direction", dir.String()),
		zap.Duration("duration", duration))

	start := time.Now()
	deadline := start.Add(duration)

	ticker := time.NewTicker(runTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.record(actuatorID, dir, duration, time.Since(start), true)
			d.logger.Warn("actuator run aborted",
				zap.String("actuator", actuatorID),
				zap.Duration("ran", time.Since(start)))
			return ctx.Err()
		case now := <-ticker.C:
			if !now.Before(deadline) {
				d.record(actuatorID, dir, duration, time.Since(start), false)
				return nil
			}
		}
	}
}

func (d *SimDriver) SetValve(ctx context.Context, valveID string, open bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	d.valves[valveID] = open
	d.mu.Unlock()

	d.logger.Info("valve set", zap.String("valve", valveID), zap.Bool("open", open))
	return nil
}

func (d *SimDriver) ReleaseAll() error {
	d.mu.Lock()
	for valve := range d.valves {
		d.valves[valve] = false
	}
	d.mu.Unlock()

	d.logger.Info("all actuators released")
	return nil
}

func (d *SimDriver) record(actuatorID string, dir Direction, requested, ran time.Duration, aborted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runs = append(d.runs, RunRecord{
		ActuatorID: actuatorID,
		Direction:  dir,
		Requested:  requested,
		Ran:        ran,
		Aborted:    aborted,
	})
}

// Runs returns a copy of the run log.
func (d *SimDriver) Runs() []RunRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]RunRecord(nil), d.runs...)
}

// ValveOpen reports the last commanded state of a valve.
func (d *SimDriver) ValveOpen(valveID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.valves[valveID]
}
