package sequence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openmmu/printflow/internal/actuator"
	"github.com/openmmu/printflow/internal/config"
	"github.com/openmmu/printflow/internal/materials"
	"github.com/openmmu/printflow/internal/printer"
)

type fakePrinterClient struct {
	mu          sync.Mutex
	pauseFails  int
	resumeFails int
	pauseCalls  int
	resumeCalls int
	stopCalls   int
}

func (f *fakePrinterClient) Status(ctx context.Context) (printer.Status, error) {
	return printer.Status{State: printer.StatePaused, StateToken: "pause"}, nil
}

func (f *fakePrinterClient) Pause(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauseCalls++
	if f.pauseCalls <= f.pauseFails {
		return errors.New("pause refused")
	}
	return nil
}

func (f *fakePrinterClient) Resume(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumeCalls++
	if f.resumeCalls <= f.resumeFails {
		return errors.New("resume refused")
	}
	return nil
}

func (f *fakePrinterClient) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return nil
}

func (f *fakePrinterClient) ListFiles(ctx context.Context) ([]printer.File, error) {
	return nil, nil
}

func (f *fakePrinterClient) StartPrint(ctx context.Context, name string) error { return nil }

func (f *fakePrinterClient) Close() error { return nil }

// fakeDriver records every hardware op in one ordered log.
type fakeDriver struct {
	mu      sync.Mutex
	ops     []string
	failOn  map[string]error
	blockOn map[string]bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{failOn: make(map[string]error), blockOn: make(map[string]bool)}
}

func (d *fakeDriver) Run(ctx context.Context, id string, dir actuator.Direction, duration time.Duration) error {
	d.mu.Lock()
	block := d.blockOn[id]
	err := d.failOn[id]
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.ops = append(d.ops, "run:"+id)
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) SetValve(ctx context.Context, id string, open bool) error {
	state := "close"
	if open {
		state = "open"
	}
	d.mu.Lock()
	d.ops = append(d.ops, fmt.Sprintf("valve:%s:%s", id, state))
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) ReleaseAll() error {
	d.mu.Lock()
	d.ops = append(d.ops, "release_all")
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) opLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ops...)
}

type fakeProfiles map[string]*actuator.Profile

func (f fakeProfiles) Get(id string) (*actuator.Profile, error) {
	p, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("no profile for actuator %s", id)
	}
	return p, nil
}

type stepRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *stepRecorder) StepStarted(req Request, step Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, step.String()+":start")
}

func (r *stepRecorder) StepFinished(req Request, step Step, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.events = append(r.events, step.String()+":err")
		return
	}
	r.events = append(r.events, step.String()+":ok")
}

func (r *stepRecorder) started() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for _, e := range r.events {
		if len(e) > 6 && e[len(e)-6:] == ":start" {
			out = append(out, e[:len(e)-6])
		}
	}
	return out
}

type seqFixture struct {
	seq      *Sequencer
	printer  *fakePrinterClient
	driver   *fakeDriver
	arbiter  *actuator.Arbiter
	recorder *stepRecorder
}

func newFixture(t *testing.T) *seqFixture {
	t.Helper()

	catalog, err := materials.NewCatalog([]materials.Material{
		{ID: "A", Pump: "pump_a"},
		{ID: "B", Pump: "pump_b"},
	}, "drain_pump", "air_valve")
	require.NoError(t, err)

	profiles := fakeProfiles{
		"pump_a":     {ActuatorID: "pump_a", Kind: actuator.KindPump, FlowRateMLPerS: 2.5, MaxContinuousRuntimeS: 300},
		"pump_b":     {ActuatorID: "pump_b", Kind: actuator.KindPump, FlowRateMLPerS: 2.5, MaxContinuousRuntimeS: 300},
		"drain_pump": {ActuatorID: "drain_pump", Kind: actuator.KindPump, FlowRateMLPerS: 5.0, MaxContinuousRuntimeS: 300},
	}

	cfg := config.SequenceConfig{
		Quiescence:     time.Millisecond,
		BedRaiseDelay:  time.Millisecond,
		BedRaiseMove:   time.Millisecond,
		BedRaiseBuffer: time.Millisecond,
		Settle:         time.Millisecond,
		DrainVolumeML:  50,
		FillVolumeML:   45,
		AirAssist:      true,
		AirAssistTail:  time.Millisecond,
	}

	fx := &seqFixture{
		printer:  &fakePrinterClient{},
		driver:   newFakeDriver(),
		arbiter:  actuator.NewArbiter(10*time.Minute, 5*time.Minute, nil, zap.NewNop()),
		recorder: &stepRecorder{},
	}
	retry := printer.RetryPolicy{Attempts: 3, InitialBackoff: time.Millisecond}
	fx.seq = New(fx.printer, retry, fx.driver, fx.arbiter, profiles, catalog, cfg, fx.recorder, zap.NewNop())
	return fx
}

func TestRunFullSequence(t *testing.T) {
	fx := newFixture(t)

	outcome := fx.seq.Run(context.Background(), Request{Layer: 50, Material: "A", Trigger: TriggerRecipe})

	require.True(t, outcome.Success)
	assert.Empty(t, outcome.FailedStep)
	assert.Equal(t, 50, outcome.Layer)
	assert.Equal(t, "A", outcome.Material)

	assert.Equal(t, []string{
		"REQUEST_PAUSE", "QUIESCENCE_WAIT", "BED_RAISE_WAIT",
		"DRAIN", "FILL", "SETTLE", "REQUEST_RESUME", "COMPLETE",
	}, fx.recorder.started())

	// Air valve wraps the drain run; fill follows.
	assert.Equal(t, []string{
		"valve:air_valve:open",
		"run:drain_pump",
		"valve:air_valve:close",
		"run:pump_a",
	}, fx.driver.opLog())

	assert.Equal(t, 1, fx.printer.pauseCalls)
	assert.Equal(t, 1, fx.printer.resumeCalls)
	assert.Empty(t, fx.arbiter.Holder())
	assert.Len(t, outcome.StepTimings, len(Steps))
	assert.False(t, outcome.FinishedAt.Before(outcome.StartedAt))
}

func TestRunPauseRetriesThenSucceeds(t *testing.T) {
	fx := newFixture(t)
	fx.printer.pauseFails = 2

	outcome := fx.seq.Run(context.Background(), Request{Layer: 10, Material: "B", Trigger: TriggerRecipe})

	require.True(t, outcome.Success)
	assert.Equal(t, 3, fx.printer.pauseCalls)
	assert.Contains(t, fx.driver.opLog(), "run:pump_b")
}

func TestRunPauseExhaustedFails(t *testing.T) {
	fx := newFixture(t)
	fx.printer.pauseFails = 3

	outcome := fx.seq.Run(context.Background(), Request{Layer: 10, Material: "A", Trigger: TriggerRecipe})

	require.False(t, outcome.Success)
	assert.Equal(t, "REQUEST_PAUSE", outcome.FailedStep)
	assert.Contains(t, outcome.Reason, "after 3 attempts")

	// No hardware ever moved and the printer was never resumed.
	assert.Empty(t, fx.driver.opLog())
	assert.Zero(t, fx.printer.resumeCalls)
}

func TestRunDrainFaultReleasesAndLeavesPaused(t *testing.T) {
	fx := newFixture(t)
	fx.driver.failOn["drain_pump"] = errors.New("stall detected")

	outcome := fx.seq.Run(context.Background(), Request{Layer: 10, Material: "A", Trigger: TriggerRecipe})

	require.False(t, outcome.Success)
	assert.Equal(t, "DRAIN", outcome.FailedStep)
	assert.Contains(t, outcome.Reason, "stall detected")

	// Lock released, valve shut, no fill, no resume.
	assert.Empty(t, fx.arbiter.Holder())
	log := fx.driver.opLog()
	assert.Contains(t, log, "valve:air_valve:close")
	assert.NotContains(t, log, "run:pump_a")
	assert.Zero(t, fx.printer.resumeCalls)
	assert.Zero(t, fx.printer.stopCalls)
}

func TestRunArbiterBusyFailsDrain(t *testing.T) {
	fx := newFixture(t)

	guard, err := fx.arbiter.Acquire("pump_b", time.Second)
	require.NoError(t, err)
	defer guard.Release()

	outcome := fx.seq.Run(context.Background(), Request{Layer: 10, Material: "A", Trigger: TriggerManual})

	require.False(t, outcome.Success)
	assert.Equal(t, "DRAIN", outcome.FailedStep)
	assert.Contains(t, outcome.Reason, "busy")
}

func TestRunResumeFailureLeavesPrinterPaused(t *testing.T) {
	fx := newFixture(t)
	fx.printer.resumeFails = 3

	outcome := fx.seq.Run(context.Background(), Request{Layer: 10, Material: "A", Trigger: TriggerRecipe})

	require.False(t, outcome.Success)
	assert.Equal(t, "REQUEST_RESUME", outcome.FailedStep)

	// Both pump runs happened; a resume failure never escalates to stop.
	assert.Contains(t, fx.driver.opLog(), "run:drain_pump")
	assert.Contains(t, fx.driver.opLog(), "run:pump_a")
	assert.Equal(t, 3, fx.printer.resumeCalls)
	assert.Zero(t, fx.printer.stopCalls)
}

func TestRunCancelledDuringDrain(t *testing.T) {
	fx := newFixture(t)
	fx.driver.blockOn["drain_pump"] = true

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	outcome := fx.seq.Run(ctx, Request{Layer: 10, Material: "A", Trigger: TriggerRecipe})

	require.False(t, outcome.Success)
	assert.Equal(t, "DRAIN", outcome.FailedStep)

	// The fill step never starts after an abort mid-drain.
	assert.NotContains(t, fx.driver.opLog(), "run:pump_a")
	assert.NotContains(t, fx.recorder.started(), "FILL")
	assert.Empty(t, fx.arbiter.Holder())
}

func TestRunUnknownMaterialFailsFill(t *testing.T) {
	fx := newFixture(t)

	outcome := fx.seq.Run(context.Background(), Request{Layer: 10, Material: "Z", Trigger: TriggerManual})

	require.False(t, outcome.Success)
	assert.Equal(t, "FILL", outcome.FailedStep)
	assert.Contains(t, outcome.Reason, "unknown material")
	assert.Empty(t, fx.arbiter.Holder())
}
