// Package sequence executes the pause -> drain -> fill -> settle -> resume
// protocol for one material change.
package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openmmu/printflow/internal/actuator"
	"github.com/openmmu/printflow/internal/config"
	"github.com/openmmu/printflow/internal/materials"
	"github.com/openmmu/printflow/internal/printer"
)

type Step int

const (
	StepRequestPause Step = iota
	StepQuiescenceWait
	StepBedRaiseWait
	StepDrain
	StepFill
	StepSettle
	StepRequestResume
	StepComplete
)

func (s Step) String() string {
	switch s {
	case StepRequestPause:
		return "REQUEST_PAUSE"
	case StepQuiescenceWait:
		return "QUIESCENCE_WAIT"
	case StepBedRaiseWait:
		return "BED_RAISE_WAIT"
	case StepDrain:
		return "DRAIN"
	case StepFill:
		return "FILL"
	case StepSettle:
		return "SETTLE"
	case StepRequestResume:
		return "REQUEST_RESUME"
	case StepComplete:
		return "COMPLETE"
	}
	return "UNKNOWN"
}

// Steps is the full step order of a successful change.
var Steps = []Step{
	StepRequestPause,
	StepQuiescenceWait,
	StepBedRaiseWait,
	StepDrain,
	StepFill,
	StepSettle,
	StepRequestResume,
	StepComplete,
}

const (
	TriggerRecipe = "recipe"
	TriggerManual = "manual"
)

// Request is one material change to execute.
type Request struct {
	Layer    int
	Material string
	Trigger  string
}

// Outcome is the terminal record of one change. It feeds the history store
// and the monitor's state decision.
type Outcome struct {
	ID          uuid.UUID
	Layer       int
	Material    string
	Trigger     string
	Success     bool
	FailedStep  string
	Reason      string
	StepTimings map[string]float64
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Observer receives step progress as it happens. The monitor turns these
// into status updates; results for the whole change are only reported after
// every step event has been delivered.
type Observer interface {
	StepStarted(req Request, step Step)
	StepFinished(req Request, step Step, err error)
}

// Profiles resolves actuator calibration. *actuator.ProfileStore satisfies
// this.
type Profiles interface {
	Get(actuatorID string) (*actuator.Profile, error)
}

type Sequencer struct {
	printer  printer.Client
	retry    printer.RetryPolicy
	driver   actuator.Driver
	arbiter  *actuator.Arbiter
	profiles Profiles
	catalog  *materials.Catalog
	cfg      config.SequenceConfig
	observer Observer
	logger   *zap.Logger
}

func New(
	printerClient printer.Client,
	retry printer.RetryPolicy,
	driver actuator.Driver,
	arbiter *actuator.Arbiter,
	profiles Profiles,
	catalog *materials.Catalog,
	cfg config.SequenceConfig,
	observer Observer,
	logger *zap.Logger,
) *Sequencer {
	return &Sequencer{
		printer:  printerClient,
		retry:    retry,
		driver:   driver,
		arbiter:  arbiter,
		profiles: profiles,
		catalog:  catalog,
		cfg:      cfg,
		observer: observer,
		logger:   logger.Named("sequence"),
	}
}

// Run executes the change and always returns a terminal outcome. Hardware
// failures are translated here; they never propagate as raw errors into the
// monitor. On any failure the printer is left paused: after a fault the vat
// contents are unknown and resuming would print into the wrong material.
func (s *Sequencer) Run(ctx context.Context, req Request) Outcome {
	outcome := Outcome{
		ID:          uuid.New(),
		Layer:       req.Layer,
		Material:    req.Material,
		Trigger:     req.Trigger,
		StepTimings: make(map[string]float64),
		StartedAt:   time.Now(),
	}

	s.logger.Info("material change started",
		zap.String("change_id", outcome.ID.String()),
		zap.Int("layer", req.Layer),
		zap.String("material", req.Material),
		zap.String("trigger", req.Trigger))

	steps := []struct {
		step Step
		run  func(context.Context) error
	}{
		{StepRequestPause, s.requestPause},
		{StepQuiescenceWait, func(ctx context.Context) error { return s.wait(ctx, s.cfg.Quiescence) }},
		{StepBedRaiseWait, func(ctx context.Context) error { return s.wait(ctx, s.cfg.BedRaiseWait()) }},
		{StepDrain, s.drain},
		{StepFill, func(ctx context.Context) error { return s.fill(ctx, req.Material) }},
		{StepSettle, func(ctx context.Context) error { return s.wait(ctx, s.cfg.Settle) }},
		{StepRequestResume, s.requestResume},
		{StepComplete, func(context.Context) error { return nil }},
	}

	for _, st := range steps {
		if err := s.runStep(ctx, req, st.step, st.run, &outcome); err != nil {
			outcome.Success = false
			outcome.FailedStep = st.step.String()
			outcome.Reason = err.Error()
			outcome.FinishedAt = time.Now()

			s.logger.Error("material change failed",
				zap.String("change_id", outcome.ID.String()),
				zap.String("step", st.step.String()),
				zap.Error(err))
			return outcome
		}
	}

	outcome.Success = true
	outcome.FinishedAt = time.Now()

	s.logger.Info("material change complete",
		zap.String("change_id", outcome.ID.String()),
		zap.Duration("took", outcome.FinishedAt.Sub(outcome.StartedAt)))
	return outcome
}

func (s *Sequencer) runStep(ctx context.Context, req Request, step Step, run func(context.Context) error, outcome *Outcome) error {
	s.observer.StepStarted(req, step)
	start := time.Now()

	err := run(ctx)

	outcome.StepTimings[step.String()] = time.Since(start).Seconds()
	s.observer.StepFinished(req, step, err)
	return err
}

func (s *Sequencer) requestPause(ctx context.Context) error {
	return s.retry.Do(ctx, s.printer.Pause)
}

// requestResume never falls back to stopping the print. If resume retries
// exhaust, the printer stays paused for the operator.
func (s *Sequencer) requestResume(ctx context.Context) error {
	return s.retry.Do(ctx, s.printer.Resume)
}

func (s *Sequencer) wait(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}
	select {
	case <-time.After(duration):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain empties the vat through the drain pump, with the air-assist valve
// open across the run and a short tail.
func (s *Sequencer) drain(ctx context.Context) error {
	pumpID := s.catalog.DrainPump
	profile, err := s.profiles.Get(pumpID)
	if err != nil {
		return err
	}
	duration, err := profile.RunDurationFor(s.cfg.DrainVolumeML)
	if err != nil {
		return err
	}

	guard, err := s.arbiter.Acquire(pumpID, duration)
	if err != nil {
		return err
	}
	defer guard.Release()

	airAssist := s.cfg.AirAssist && s.catalog.AirValve != ""
	if airAssist {
		if err := s.driver.SetValve(ctx, s.catalog.AirValve, true); err != nil {
			return fmt.Errorf("air valve open failed: %w", err)
		}
		// The valve must end up closed on every path. A cancelled ctx
		// still has to allow the close command through.
		defer func() {
			if err := s.driver.SetValve(context.Background(), s.catalog.AirValve, false); err != nil {
				s.logger.Error("air valve close failed", zap.Error(err))
			}
		}()
	}

	if err := s.driver.Run(ctx, pumpID, actuator.Forward, duration); err != nil {
		return fmt.Errorf("drain run failed: %w", err)
	}

	if airAssist {
		if err := s.wait(ctx, s.cfg.AirAssistTail); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sequencer) fill(ctx context.Context, material string) error {
	pumpID, err := s.catalog.PumpFor(material)
	if err != nil {
		return err
	}
	profile, err := s.profiles.Get(pumpID)
	if err != nil {
		return err
	}
	duration, err := profile.RunDurationFor(s.cfg.FillVolumeML)
	if err != nil {
		return err
	}

	guard, err := s.arbiter.Acquire(pumpID, duration)
	if err != nil {
		return err
	}
	defer guard.Release()

	if err := s.driver.Run(ctx, pumpID, actuator.Forward, duration); err != nil {
		return fmt.Errorf("fill run failed: %w", err)
	}
	return nil
}
