package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/openmmu/printflow/internal/actuator"
	"github.com/openmmu/printflow/internal/control"
	"github.com/openmmu/printflow/internal/recipe"
	"github.com/openmmu/printflow/internal/sequence"
	"github.com/openmmu/printflow/internal/storage"
)

func (m *Monitor) handleCommand(ctx context.Context, cmd control.Command) {
	m.logger.Info("Command received",
		zap.String("type", cmd.Type),
		zap.String("command_id", cmd.ID),
		zap.String("state", string(m.State())))

	switch cmd.Type {
	case control.CommandGetStatus:
		m.handleGetStatus(cmd)
	case control.CommandLoadRecipe:
		m.handleLoadRecipe(ctx, cmd)
	case control.CommandStartMonitoring:
		m.handleStartMonitoring(ctx, cmd)
	case control.CommandStopMonitoring:
		m.handleStopMonitoring(cmd)
	case control.CommandAcknowledgeError:
		m.handleAcknowledgeError(cmd)
	case control.CommandEmergencyStop:
		m.handleEmergencyStop(cmd)
	case control.CommandPumpControl:
		m.handlePumpControl(ctx, cmd)
	case control.CommandRunMaterialChange:
		m.handleRunMaterialChange(ctx, cmd)
	case control.CommandCalibratePump:
		m.handleCalibratePump(cmd)
	case control.CommandPausePrint:
		m.handlePrinterVerb(ctx, cmd, "paused", m.deps.Printer.Pause)
	case control.CommandResumePrint:
		m.handlePrinterVerb(ctx, cmd, "resumed", m.deps.Printer.Resume)
	case control.CommandStopPrint:
		m.handlePrinterVerb(ctx, cmd, "stopped", m.deps.Printer.Stop)
	case control.CommandListPrinterFiles:
		m.handleListFiles(ctx, cmd)
	case control.CommandStartPrint:
		m.handleStartPrint(ctx, cmd)
	default:
		m.complete(cmd, control.ResultFailed, fmt.Sprintf("unknown command type: %s", cmd.Type), nil)
	}
}

func (m *Monitor) complete(cmd control.Command, status control.ResultStatus, msg string, data map[string]any) {
	m.deps.Completer.Complete(control.NewCommandResult(cmd.ID, status, msg, data))
}

func (m *Monitor) handleGetStatus(cmd control.Command) {
	snap := m.Snapshot()
	m.complete(cmd, control.ResultSuccess, fmt.Sprintf("State %s", snap.State), map[string]any{
		"status": snap,
	})
}

func (m *Monitor) handleLoadRecipe(ctx context.Context, cmd control.Command) {
	switch m.State() {
	case StateMonitoring, StateMaterialChange:
		// The active plan is frozen; a new recipe would silently diverge
		// from what is actually being executed.
		m.emit(control.CategorySystem, control.LevelWarning,
			"Recipe load rejected during active session", nil)
		m.complete(cmd, control.ResultFailed,
			"cannot replace the recipe during an active session", nil)
		return
	}

	text := stringParam(cmd.Parameters, "recipe")
	if text == "" {
		m.complete(cmd, control.ResultFailed, "recipe parameter is required", nil)
		return
	}

	r, err := recipe.Parse(text, m.deps.Catalog)
	if err != nil {
		m.complete(cmd, control.ResultFailed, err.Error(), nil)
		return
	}

	m.mu.Lock()
	m.rec = &r
	m.mu.Unlock()

	if m.deps.Recipes != nil {
		name := stringParam(cmd.Parameters, "name")
		if name == "" {
			name = "unnamed"
		}
		rr := &storage.RecipeRecord{Name: name, Text: r.Serialize()}
		if err := m.deps.Recipes.SaveRecipe(ctx, rr); err != nil {
			m.logger.Warn("Failed to persist recipe", zap.Error(err))
		}
	}

	m.emit(control.CategorySystem, control.LevelInfo,
		fmt.Sprintf("Recipe loaded: %d material changes", r.Len()), map[string]any{
			"recipe":  r.Serialize(),
			"entries": r.Len(),
		})
	m.complete(cmd, control.ResultSuccess,
		fmt.Sprintf("Recipe loaded (%d entries)", r.Len()), map[string]any{
			"recipe": r.Serialize(),
		})
}

func (m *Monitor) handleStartMonitoring(ctx context.Context, cmd control.Command) {
	if state := m.State(); state != StateIdle {
		m.complete(cmd, control.ResultFailed,
			fmt.Sprintf("monitoring can only start when IDLE (current: %s)", state), nil)
		return
	}

	m.mu.Lock()
	rec := m.rec
	m.mu.Unlock()
	if rec == nil || rec.IsEmpty() {
		m.complete(cmd, control.ResultFailed, "no recipe loaded", nil)
		return
	}

	// One live probe so a dead printer fails the command instead of the
	// first poll tick.
	status, err := m.deps.Printer.Status(ctx)
	if err != nil {
		m.complete(cmd, control.ResultFailed,
			fmt.Sprintf("printer unreachable: %v", err), nil)
		return
	}

	m.mu.Lock()
	m.plan = recipe.Freeze(*rec)
	m.lastStatus = &status
	m.lastLayer = 0
	m.rollbackWarned = false
	m.statusFailures = 0
	m.changesDone = 0
	m.lastError = ""
	m.sessionStartedAt = time.Now()
	progress := m.plan.Progress()
	m.mu.Unlock()

	m.setState(StateMonitoring)
	m.emit(control.CategorySystem, control.LevelInfo,
		fmt.Sprintf("Monitoring started (%d planned changes)", progress.Total), map[string]any{
			"recipe":  rec.Serialize(),
			"entries": progress.Total,
		})
	m.complete(cmd, control.ResultSuccess, "Monitoring started", map[string]any{
		"plan": progress,
	})
}

func (m *Monitor) handleStopMonitoring(cmd control.Command) {
	switch m.State() {
	case StateMaterialChange:
		m.complete(cmd, control.ResultFailed,
			"Busy: material change in progress, use emergency_stop to abort", nil)
		return
	case StateMonitoring, StateError, StateCompleted, StateAborted:
	default:
		m.complete(cmd, control.ResultFailed,
			fmt.Sprintf("not monitoring (current: %s)", m.State()), nil)
		return
	}

	m.mu.Lock()
	m.plan = nil
	m.lastError = ""
	m.lastLayer = 0
	m.mu.Unlock()

	// The printer keeps doing whatever it is doing; stopping the session
	// never issues printer commands.
	m.setState(StateIdle)
	m.emit(control.CategorySystem, control.LevelInfo, "Monitoring stopped", nil)
	m.complete(cmd, control.ResultSuccess, "Monitoring stopped", nil)
}

func (m *Monitor) handleAcknowledgeError(cmd control.Command) {
	if state := m.State(); state != StateError {
		m.complete(cmd, control.ResultFailed,
			fmt.Sprintf("no error to acknowledge (current: %s)", state), nil)
		return
	}

	m.mu.Lock()
	m.plan = nil
	m.lastError = ""
	m.rollbackWarned = false
	m.mu.Unlock()

	m.setState(StateIdle)
	m.emit(control.CategorySystem, control.LevelInfo, "Error acknowledged", nil)
	m.complete(cmd, control.ResultSuccess, "Error acknowledged", nil)
}

// handleEmergencyStop preempts whatever is running: active sequence and
// manual runs are cancelled, the arbiter is force-released, every actuator
// is de-energized. The printer is deliberately left untouched.
func (m *Monitor) handleEmergencyStop(cmd control.Command) {
	m.mu.Lock()
	seqCancel, manualCancel := m.seqCancel, m.manualCancel
	m.mu.Unlock()

	if seqCancel != nil {
		seqCancel()
	}
	if manualCancel != nil {
		manualCancel()
	}
	m.deps.Arbiter.ForceRelease()
	if err := m.deps.Driver.ReleaseAll(); err != nil {
		m.logger.Error("Failed to release actuators", zap.Error(err))
	}

	m.logger.Warn("Emergency stop executed")
	m.emit(control.CategorySafety, control.LevelError,
		"Emergency stop: all actuators released", nil)
	m.setState(StateAborted)
	m.complete(cmd, control.ResultSuccess, "Emergency stop executed", nil)
}

func (m *Monitor) handlePumpControl(ctx context.Context, cmd control.Command) {
	switch m.State() {
	case StateMaterialChange:
		m.complete(cmd, control.ResultFailed, "Busy: material change in progress", nil)
		return
	case StateAborted, StateCompleted:
		m.complete(cmd, control.ResultFailed,
			fmt.Sprintf("not available in state %s, stop monitoring first", m.State()), nil)
		return
	}

	m.mu.Lock()
	busy := m.manualCancel != nil
	m.mu.Unlock()
	if busy {
		m.complete(cmd, control.ResultFailed, "Busy: pump run in progress", nil)
		return
	}

	actuatorID := stringParam(cmd.Parameters, "actuator_id")
	if actuatorID == "" {
		m.complete(cmd, control.ResultFailed, "actuator_id is required", nil)
		return
	}
	if _, err := m.deps.Profiles.Get(actuatorID); err != nil {
		m.complete(cmd, control.ResultFailed, err.Error(), nil)
		return
	}

	dirStr := stringParam(cmd.Parameters, "direction")
	if dirStr == "" {
		dirStr = "forward"
	}
	dir, err := actuator.ParseDirection(dirStr)
	if err != nil {
		m.complete(cmd, control.ResultFailed, err.Error(), nil)
		return
	}

	seconds, ok := floatParam(cmd.Parameters, "duration_seconds")
	if !ok {
		m.complete(cmd, control.ResultFailed, "duration_seconds is required", nil)
		return
	}
	duration := time.Duration(seconds * float64(time.Second))
	if duration < m.pumps.ManualMinRun || duration > m.pumps.ManualMaxRun {
		m.complete(cmd, control.ResultFailed,
			fmt.Sprintf("duration must be between %v and %v", m.pumps.ManualMinRun, m.pumps.ManualMaxRun), nil)
		return
	}

	guard, err := m.deps.Arbiter.Acquire(actuatorID, duration)
	if err != nil {
		m.complete(cmd, control.ResultFailed, err.Error(), nil)
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.manualCmdID = cmd.ID
	m.manualCancel = cancel
	m.mu.Unlock()

	m.emit(control.CategoryPump, control.LevelInfo,
		fmt.Sprintf("Pump %s running %s for %.1fs", actuatorID, dir, seconds), map[string]any{
			"actuator_id": actuatorID,
			"direction":   dir.String(),
			"duration_s":  seconds,
		})

	go func() {
		defer guard.Release()
		err := m.deps.Driver.Run(runCtx, actuatorID, dir, duration)
		m.manualDone <- manualResult{
			cmdID:      cmd.ID,
			actuatorID: actuatorID,
			requested:  duration,
			err:        err,
		}
	}()
}

func (m *Monitor) finishManual(res manualResult) {
	m.mu.Lock()
	cancel := m.manualCancel
	m.manualCancel = nil
	m.manualCmdID = ""
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	switch {
	case res.err == nil:
		m.emit(control.CategoryPump, control.LevelInfo,
			fmt.Sprintf("Pump %s run complete", res.actuatorID), map[string]any{
				"actuator_id": res.actuatorID,
				"duration_s":  res.requested.Seconds(),
			})
		m.deps.Completer.Complete(control.NewCommandResult(res.cmdID, control.ResultSuccess,
			"Pump run complete", nil))

	case errors.Is(res.err, context.Canceled):
		m.emit(control.CategoryPump, control.LevelWarning,
			fmt.Sprintf("Pump %s run aborted", res.actuatorID), map[string]any{
				"actuator_id": res.actuatorID,
			})
		m.deps.Completer.Complete(control.NewCommandResult(res.cmdID, control.ResultFailed,
			"Pump run aborted", nil))

	default:
		m.emit(control.CategoryPump, control.LevelError,
			fmt.Sprintf("Pump %s run failed: %v", res.actuatorID, res.err), map[string]any{
				"actuator_id": res.actuatorID,
			})
		m.deps.Completer.Complete(control.NewCommandResult(res.cmdID, control.ResultFailed,
			res.err.Error(), nil))
	}
}

func (m *Monitor) handleRunMaterialChange(ctx context.Context, cmd control.Command) {
	switch m.State() {
	case StateMaterialChange:
		m.complete(cmd, control.ResultFailed, "Busy: material change in progress", nil)
		return
	case StateIdle, StateMonitoring:
	default:
		m.complete(cmd, control.ResultFailed,
			fmt.Sprintf("not available in state %s", m.State()), nil)
		return
	}

	m.mu.Lock()
	busy := m.manualCancel != nil
	layer := m.lastLayer
	m.mu.Unlock()
	if busy {
		m.complete(cmd, control.ResultFailed, "Busy: pump run in progress", nil)
		return
	}

	target := stringParam(cmd.Parameters, "target_material")
	if target == "" {
		m.complete(cmd, control.ResultFailed, "target_material is required", nil)
		return
	}
	if !m.deps.Catalog.Has(target) {
		m.complete(cmd, control.ResultFailed,
			fmt.Sprintf("unknown material %q", target), nil)
		return
	}

	// The result is completed when the sequence finishes, after its step
	// events.
	m.beginChange(ctx, recipe.Entry{Layer: layer, Material: target}, sequence.TriggerManual, cmd.ID)
}

func (m *Monitor) handleCalibratePump(cmd control.Command) {
	actuatorID := stringParam(cmd.Parameters, "actuator_id")
	if actuatorID == "" {
		m.complete(cmd, control.ResultFailed, "actuator_id is required", nil)
		return
	}
	measured, ok := floatParam(cmd.Parameters, "measured_volume_ml")
	if !ok {
		m.complete(cmd, control.ResultFailed, "measured_volume_ml is required", nil)
		return
	}
	runSeconds, ok := floatParam(cmd.Parameters, "run_seconds")
	if !ok {
		m.complete(cmd, control.ResultFailed, "run_seconds is required", nil)
		return
	}

	profile, err := m.deps.Profiles.UpdateCalibration(actuatorID, measured, runSeconds)
	if err != nil {
		m.complete(cmd, control.ResultFailed, err.Error(), nil)
		return
	}

	m.emit(control.CategoryPump, control.LevelInfo,
		fmt.Sprintf("Pump %s recalibrated to %.3f ml/s", actuatorID, profile.FlowRateMLPerS),
		map[string]any{
			"actuator_id":        actuatorID,
			"flow_rate_ml_per_s": profile.FlowRateMLPerS,
		})
	m.complete(cmd, control.ResultSuccess, "Calibration updated", map[string]any{
		"flow_rate_ml_per_s": profile.FlowRateMLPerS,
	})
}

// handlePrinterVerb runs pause/resume/stop with the shared retry policy.
func (m *Monitor) handlePrinterVerb(ctx context.Context, cmd control.Command, verb string, op func(context.Context) error) {
	if m.State() == StateMaterialChange {
		m.complete(cmd, control.ResultFailed, "Busy: material change in progress", nil)
		return
	}

	if err := m.deps.Retry.Do(ctx, op); err != nil {
		m.complete(cmd, control.ResultFailed, err.Error(), nil)
		return
	}

	m.emit(control.CategoryPrinterStatus, control.LevelInfo,
		fmt.Sprintf("Print %s by operator", verb), nil)
	m.complete(cmd, control.ResultSuccess, fmt.Sprintf("Print %s", verb), nil)
}

func (m *Monitor) handleListFiles(ctx context.Context, cmd control.Command) {
	if m.State() == StateMaterialChange {
		m.complete(cmd, control.ResultFailed, "Busy: material change in progress", nil)
		return
	}

	files, err := m.deps.Printer.ListFiles(ctx)
	if err != nil {
		m.complete(cmd, control.ResultFailed, err.Error(), nil)
		return
	}
	m.complete(cmd, control.ResultSuccess,
		fmt.Sprintf("%d files", len(files)), map[string]any{
			"files": files,
		})
}

func (m *Monitor) handleStartPrint(ctx context.Context, cmd control.Command) {
	if state := m.State(); state != StateIdle {
		m.complete(cmd, control.ResultFailed,
			fmt.Sprintf("prints can only be started when IDLE (current: %s)", state), nil)
		return
	}

	file := stringParam(cmd.Parameters, "file")
	if file == "" {
		m.complete(cmd, control.ResultFailed, "file is required", nil)
		return
	}

	status, err := m.deps.Printer.Status(ctx)
	if err != nil {
		m.complete(cmd, control.ResultFailed,
			fmt.Sprintf("printer unreachable: %v", err), nil)
		return
	}
	if status.ActivelyPrinting() {
		m.complete(cmd, control.ResultFailed, "printer is already printing", nil)
		return
	}

	if err := m.deps.Printer.StartPrint(ctx, file); err != nil {
		m.complete(cmd, control.ResultFailed, err.Error(), nil)
		return
	}

	m.emit(control.CategoryPrinterStatus, control.LevelInfo,
		fmt.Sprintf("Print started: %s", file), map[string]any{"file": file})
	m.complete(cmd, control.ResultSuccess, "Print started", nil)
}

func stringParam(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return v
}

func floatParam(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
