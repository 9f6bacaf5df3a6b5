package monitor

import (
	"fmt"

	"github.com/openmmu/printflow/internal/control"
	"github.com/openmmu/printflow/internal/sequence"
)

// StepObserver publishes sequencer step events to the bus so the UI can
// render live change progress. Step events always precede the change's
// command result because the sequencer finishes only after its last step
// callback returned.
type StepObserver struct {
	bus *control.Bus
}

func NewStepObserver(bus *control.Bus) *StepObserver {
	return &StepObserver{bus: bus}
}

func (o *StepObserver) StepStarted(req sequence.Request, step sequence.Step) {
	o.bus.Publish(control.NewStatusUpdate(control.CategoryMaterial, control.LevelInfo,
		fmt.Sprintf("Step %s started", step), map[string]any{
			"step":     step.String(),
			"layer":    req.Layer,
			"material": req.Material,
		}))
}

func (o *StepObserver) StepFinished(req sequence.Request, step sequence.Step, err error) {
	if err != nil {
		o.bus.Publish(control.NewStatusUpdate(control.CategoryMaterial, control.LevelError,
			fmt.Sprintf("Step %s failed: %v", step, err), map[string]any{
				"step":     step.String(),
				"layer":    req.Layer,
				"material": req.Material,
			}))
		return
	}
	o.bus.Publish(control.NewStatusUpdate(control.CategoryMaterial, control.LevelInfo,
		fmt.Sprintf("Step %s finished", step), map[string]any{
			"step":     step.String(),
			"layer":    req.Layer,
			"material": req.Material,
		}))
}
