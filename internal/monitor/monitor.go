package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openmmu/printflow/internal/actuator"
	"github.com/openmmu/printflow/internal/config"
	"github.com/openmmu/printflow/internal/control"
	"github.com/openmmu/printflow/internal/materials"
	"github.com/openmmu/printflow/internal/printer"
	"github.com/openmmu/printflow/internal/recipe"
	"github.com/openmmu/printflow/internal/sequence"
	"github.com/openmmu/printflow/internal/storage"
)

const (
	minPollInterval   = time.Second
	maxPollInterval   = 10 * time.Second
	commandQueueSize  = 32
	degradedThreshold = 3

	// A reported layer this far below the last observed one is treated as a
	// rollback anomaly rather than single-tick noise.
	rollbackTolerance = 2

	// A change running longer than this many poll intervals is logged as a
	// stall. Stalls never abort the run; a change legitimately takes on the
	// order of a minute.
	watchdogMultiplier = 20
)

// ChangeRunner executes one material change. *sequence.Sequencer satisfies
// this.
type ChangeRunner interface {
	Run(ctx context.Context, req sequence.Request) sequence.Outcome
}

type HistoryStore interface {
	SaveMaterialChange(ctx context.Context, rec *storage.MaterialChangeRecord) error
}

type RecipeStore interface {
	SaveRecipe(ctx context.Context, rec *storage.RecipeRecord) error
}

// Completer reports a command's terminal result. *control.Dispatcher
// satisfies this.
type Completer interface {
	Complete(res control.CommandResult)
}

// Profiles resolves and recalibrates actuator profiles.
// *actuator.ProfileStore satisfies this.
type Profiles interface {
	Get(actuatorID string) (*actuator.Profile, error)
	UpdateCalibration(actuatorID string, measuredVolumeML, runSeconds float64) (*actuator.Profile, error)
}

type Deps struct {
	Printer   printer.Client
	Retry     printer.RetryPolicy
	Runner    ChangeRunner
	Driver    actuator.Driver
	Arbiter   *actuator.Arbiter
	Profiles  Profiles
	Catalog   *materials.Catalog
	History   HistoryStore
	Recipes   RecipeStore
	Commands  <-chan control.Command
	Bus       *control.Bus
	Completer Completer
}

type manualResult struct {
	cmdID      string
	actuatorID string
	requested  time.Duration
	err        error
}

type Monitor struct {
	pumps  config.PumpsConfig
	poll   time.Duration
	deps   Deps
	logger *zap.Logger

	seqDone    chan sequence.Outcome
	manualDone chan manualResult

	mu               sync.RWMutex
	state            State
	stateChangedAt   time.Time
	rec              *recipe.Recipe
	plan             *recipe.ExecutionPlan
	lastStatus       *printer.Status
	lastLayer        int
	rollbackWarned   bool
	statusFailures   int
	lastError        string
	changesDone      int
	sessionStartedAt time.Time

	changeEntry  recipe.Entry
	changeCmdID  string
	changeReturn State
	changeStart  time.Time
	stallWarned  bool
	seqCancel    context.CancelFunc

	manualCmdID  string
	manualCancel context.CancelFunc
}

// NewCommandQueue builds the inbound command channel shared between the
// dispatcher and the monitor.
func NewCommandQueue() chan control.Command {
	return make(chan control.Command, commandQueueSize)
}

func New(cfg config.MonitorConfig, pumps config.PumpsConfig, deps Deps, logger *zap.Logger) *Monitor {
	poll := cfg.PollInterval
	if poll < minPollInterval {
		poll = minPollInterval
	}
	if poll > maxPollInterval {
		poll = maxPollInterval
	}

	return &Monitor{
		pumps:          pumps,
		poll:           poll,
		deps:           deps,
		logger:         logger.Named("monitor"),
		seqDone:        make(chan sequence.Outcome, 1),
		manualDone:     make(chan manualResult, 1),
		state:          StateIdle,
		stateChangedAt: time.Now(),
	}
}

// RestoreRecipe seeds the loaded recipe from storage at startup, before Run.
// Unlike load_recipe it neither persists nor emits.
func (m *Monitor) RestoreRecipe(r recipe.Recipe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = &r
}

// Run is the orchestrator loop. Exactly one goroutine runs it; every state
// mutation happens here or under the snapshot mutex.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("Monitor loop started", zap.Duration("poll_interval", m.poll))

	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return ctx.Err()

		case cmd := <-m.deps.Commands:
			m.handleCommand(ctx, cmd)

		case out := <-m.seqDone:
			m.finishChange(ctx, out)

		case res := <-m.manualDone:
			m.finishManual(res)

		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// shutdown cancels whatever is running and de-energizes the hardware.
func (m *Monitor) shutdown() {
	m.mu.Lock()
	seqCancel, manualCancel := m.seqCancel, m.manualCancel
	m.mu.Unlock()

	if seqCancel != nil {
		seqCancel()
	}
	if manualCancel != nil {
		manualCancel()
	}
	if err := m.deps.Driver.ReleaseAll(); err != nil {
		m.logger.Error("Failed to release actuators on shutdown", zap.Error(err))
	}
	m.logger.Info("Monitor loop stopped")
}

func (m *Monitor) tick(ctx context.Context) {
	switch m.State() {
	case StateMaterialChange:
		m.checkStall()
		return
	case StateMonitoring:
	default:
		return
	}

	status, err := m.deps.Printer.Status(ctx)
	if err != nil {
		m.pollFailure(err)
		return
	}
	m.pollSuccess(status)

	if status.Complete() {
		m.completeSession(status)
		return
	}
	if !status.ActivelyPrinting() {
		return
	}

	m.evaluateLayer(ctx, status)
}

// pollFailure counts a status failure toward the degraded-connectivity
// signal. Status queries are never retried synchronously and transient loss
// never aborts the run.
func (m *Monitor) pollFailure(err error) {
	m.mu.Lock()
	m.statusFailures++
	failures := m.statusFailures
	m.mu.Unlock()

	m.logger.Warn("Printer status query failed",
		zap.Int("consecutive_failures", failures),
		zap.Error(err))

	if failures == degradedThreshold {
		m.emit(control.CategoryPrinterStatus, control.LevelWarning,
			"Printer connectivity degraded", map[string]any{
				"consecutive_failures": failures,
			})
	}
}

func (m *Monitor) pollSuccess(status printer.Status) {
	m.mu.Lock()
	recovered := m.statusFailures >= degradedThreshold
	m.statusFailures = 0
	m.lastStatus = &status
	m.mu.Unlock()

	if recovered {
		m.emit(control.CategoryPrinterStatus, control.LevelInfo,
			"Printer connectivity restored", nil)
	}

	msg := fmt.Sprintf("Printer %s", status.StateToken)
	if status.ActivelyPrinting() {
		msg = fmt.Sprintf("Layer %d/%d (%.1f%%)",
			status.CurrentLayer, status.TotalLayers, status.PercentDone)
	}
	m.emit(control.CategoryPrinterStatus, control.LevelInfo, msg, map[string]any{
		"state":         status.State.String(),
		"file":          status.File,
		"current_layer": status.CurrentLayer,
		"total_layers":  status.TotalLayers,
		"percent_done":  status.PercentDone,
	})
}

func (m *Monitor) evaluateLayer(ctx context.Context, status printer.Status) {
	layer := status.CurrentLayer

	m.mu.Lock()
	last := m.lastLayer
	m.mu.Unlock()

	if last > 0 && layer < last-rollbackTolerance {
		m.handleRollback(layer, last)
		return
	}

	m.mu.Lock()
	m.lastLayer = layer
	manualActive := m.manualCancel != nil
	plan := m.plan
	m.mu.Unlock()

	// A manual pump run owns the hardware; the trigger fires on a later
	// tick once it is done.
	if manualActive || plan == nil {
		return
	}

	if entry, ok := plan.Advance(layer); ok {
		m.logger.Info("Material change layer reached",
			zap.Int("layer", layer),
			zap.Int("target_layer", entry.Layer),
			zap.String("material", entry.Material))
		m.beginChange(ctx, entry, sequence.TriggerRecipe, "")
	}
}

// handleRollback warns on the first anomalous layer reading and escalates to
// ERROR when it recurs. The baseline layer is left untouched so a glitched
// reading cannot poison later comparisons.
func (m *Monitor) handleRollback(layer, last int) {
	m.mu.Lock()
	warned := m.rollbackWarned
	m.rollbackWarned = true
	m.mu.Unlock()

	if !warned {
		m.logger.Warn("Layer rollback detected",
			zap.Int("reported", layer),
			zap.Int("last_observed", last))
		m.emit(control.CategorySafety, control.LevelWarning,
			fmt.Sprintf("Layer rollback: printer reported layer %d after %d", layer, last),
			map[string]any{"reported": layer, "last_observed": last})
		return
	}

	m.fail(fmt.Sprintf("layer rollback recurred: reported layer %d after %d", layer, last))
}

// beginChange transitions into MATERIAL_CHANGE and starts the sequencer in
// its own goroutine. The loop keeps draining commands meanwhile so that
// emergency_stop can preempt; everything else that touches hardware is
// rejected until the change finishes.
func (m *Monitor) beginChange(ctx context.Context, entry recipe.Entry, trigger, cmdID string) {
	seqCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	returnState := m.state
	m.changeEntry = entry
	m.changeCmdID = cmdID
	m.changeReturn = returnState
	m.changeStart = time.Now()
	m.stallWarned = false
	m.seqCancel = cancel
	m.mu.Unlock()

	m.setState(StateMaterialChange)
	m.emit(control.CategoryMaterial, control.LevelInfo,
		fmt.Sprintf("Material change to %s started", entry.Material), map[string]any{
			"layer":    entry.Layer,
			"material": entry.Material,
			"trigger":  trigger,
		})

	req := sequence.Request{Layer: entry.Layer, Material: entry.Material, Trigger: trigger}
	go func() {
		m.seqDone <- m.deps.Runner.Run(seqCtx, req)
	}()
}

func (m *Monitor) finishChange(ctx context.Context, out sequence.Outcome) {
	m.mu.Lock()
	cancel := m.seqCancel
	m.seqCancel = nil
	cmdID := m.changeCmdID
	m.changeCmdID = ""
	entry := m.changeEntry
	returnState := m.changeReturn
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	m.recordChange(ctx, out)

	if m.State() == StateAborted {
		// An emergency stop preempted the change; the outcome is only an
		// audit record at this point.
		if cmdID != "" {
			m.deps.Completer.Complete(control.NewCommandResult(cmdID, control.ResultFailed,
				"Material change aborted by emergency stop", nil))
		}
		return
	}

	if !out.Success {
		m.mu.Lock()
		m.lastError = fmt.Sprintf("material change failed at %s: %s", out.FailedStep, out.Reason)
		m.mu.Unlock()

		m.logger.Error("Material change failed",
			zap.Int("layer", out.Layer),
			zap.String("material", out.Material),
			zap.String("failed_step", out.FailedStep),
			zap.String("reason", out.Reason))
		m.emit(control.CategoryMaterial, control.LevelError,
			fmt.Sprintf("Material change failed at %s: %s", out.FailedStep, out.Reason),
			map[string]any{
				"layer":       out.Layer,
				"material":    out.Material,
				"failed_step": out.FailedStep,
			})
		m.setState(StateError)

		if cmdID != "" {
			m.deps.Completer.Complete(control.NewCommandResult(cmdID, control.ResultFailed,
				fmt.Sprintf("Material change failed at %s: %s", out.FailedStep, out.Reason), nil))
		}
		return
	}

	m.mu.Lock()
	if out.Trigger == sequence.TriggerRecipe && m.plan != nil {
		m.plan.MarkCompleted(entry)
	}
	m.changesDone++
	var progress *recipe.Progress
	if m.plan != nil {
		p := m.plan.Progress()
		progress = &p
	}
	m.mu.Unlock()

	m.logger.Info("Material change complete",
		zap.Int("layer", out.Layer),
		zap.String("material", out.Material),
		zap.Duration("took", out.FinishedAt.Sub(out.StartedAt)))
	m.emit(control.CategoryMaterial, control.LevelInfo,
		fmt.Sprintf("Material change to %s complete", out.Material), map[string]any{
			"layer":    out.Layer,
			"material": out.Material,
			"took_s":   out.FinishedAt.Sub(out.StartedAt).Seconds(),
		})
	if progress != nil {
		m.emit(control.CategoryProgress, control.LevelInfo,
			fmt.Sprintf("%d of %d material changes done", progress.Completed, progress.Total),
			map[string]any{
				"completed":  progress.Completed,
				"total":      progress.Total,
				"next_layer": progress.NextLayer,
			})
	}

	m.setState(returnState)

	if cmdID != "" {
		m.deps.Completer.Complete(control.NewCommandResult(cmdID, control.ResultSuccess,
			fmt.Sprintf("Material change to %s complete", out.Material), nil))
	}
}

// recordChange appends the audit record. A storage failure is logged but
// never disturbs the machine state.
func (m *Monitor) recordChange(ctx context.Context, out sequence.Outcome) {
	if m.deps.History == nil {
		return
	}
	rec := &storage.MaterialChangeRecord{
		ID:            out.ID,
		Layer:         out.Layer,
		Material:      out.Material,
		Trigger:       out.Trigger,
		Success:       out.Success,
		FailureReason: out.Reason,
		StepTimings:   out.StepTimings,
		StartedAt:     out.StartedAt,
		FinishedAt:    out.FinishedAt,
	}
	if err := m.deps.History.SaveMaterialChange(ctx, rec); err != nil {
		m.logger.Error("Failed to record material change", zap.Error(err))
	}
}

func (m *Monitor) checkStall() {
	m.mu.Lock()
	stalled := !m.stallWarned && !m.changeStart.IsZero() &&
		time.Since(m.changeStart) > time.Duration(watchdogMultiplier)*m.poll
	if stalled {
		m.stallWarned = true
	}
	start := m.changeStart
	m.mu.Unlock()

	if stalled {
		m.logger.Warn("Material change running unusually long",
			zap.Duration("elapsed", time.Since(start)))
		m.emit(control.CategoryTiming, control.LevelWarning,
			"Material change running unusually long", map[string]any{
				"elapsed_s": time.Since(start).Seconds(),
			})
	}
}

func (m *Monitor) completeSession(status printer.Status) {
	m.mu.Lock()
	pending := 0
	if m.plan != nil {
		p := m.plan.Progress()
		pending = p.Total - p.Completed
	}
	m.mu.Unlock()

	if pending > 0 {
		m.emit(control.CategoryProgress, control.LevelWarning,
			fmt.Sprintf("Print finished with %d material changes still pending", pending),
			map[string]any{"pending": pending})
	} else {
		m.emit(control.CategoryProgress, control.LevelInfo,
			"Print complete, all material changes done", map[string]any{
				"file":   status.File,
				"layers": status.TotalLayers,
			})
	}
	m.setState(StateCompleted)
}

// fail moves the loop to ERROR. Recovery requires operator acknowledgment.
func (m *Monitor) fail(reason string) {
	m.mu.Lock()
	m.lastError = reason
	m.mu.Unlock()

	m.logger.Error("Monitoring error", zap.String("reason", reason))
	m.emit(control.CategorySafety, control.LevelError, reason, nil)
	m.setState(StateError)
}

func (m *Monitor) setState(next State) {
	m.mu.Lock()
	prev := m.state
	if prev == next {
		m.mu.Unlock()
		return
	}
	m.state = next
	m.stateChangedAt = time.Now()
	m.mu.Unlock()

	m.logger.Info("State changed",
		zap.String("from", string(prev)),
		zap.String("to", string(next)))

	level := control.LevelInfo
	switch next {
	case StateError:
		level = control.LevelError
	case StateAborted:
		level = control.LevelWarning
	}
	m.emit(control.CategorySystem, level,
		fmt.Sprintf("State changed to %s", next), map[string]any{
			"from": string(prev),
			"to":   string(next),
		})
}

func (m *Monitor) emit(category control.Category, level control.Level, msg string, data map[string]any) {
	m.deps.Bus.Publish(control.NewStatusUpdate(category, level, msg, data))
}

func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Snapshot returns the externally visible state. Safe from any goroutine.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		State:            m.state,
		StatusFailures:   m.statusFailures,
		LastError:        m.lastError,
		ChangesCompleted: m.changesDone,
		SessionStartedAt: m.sessionStartedAt,
		LastStateChange:  m.stateChangedAt,
	}
	if m.rec != nil {
		snap.Recipe = m.rec.Serialize()
	}
	if m.plan != nil {
		p := m.plan.Progress()
		snap.Plan = &p
	}
	if m.lastStatus != nil {
		st := *m.lastStatus
		snap.Printer = &st
	}
	return snap
}
