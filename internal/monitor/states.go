// Package monitor is the orchestrator: a single loop that polls the printer,
// fires material changes at recipe layers, and executes operator commands.
// It owns all session state; transports only ever talk to it through the
// command channel and the event bus.
package monitor

import (
	"time"

	"github.com/openmmu/printflow/internal/printer"
	"github.com/openmmu/printflow/internal/recipe"
)

type State string

const (
	StateIdle           State = "IDLE"
	StateMonitoring     State = "MONITORING"
	StateMaterialChange State = "MATERIAL_CHANGE"
	StateError          State = "ERROR"
	StateAborted        State = "ABORTED"
	StateCompleted      State = "COMPLETED"
)

// Snapshot is the externally visible state of the orchestrator.
type Snapshot struct {
	State            State            `json:"state"`
	Recipe           string           `json:"recipe,omitempty"`
	Plan             *recipe.Progress `json:"plan,omitempty"`
	Printer          *printer.Status  `json:"printer,omitempty"`
	StatusFailures   int              `json:"status_failures"`
	LastError        string           `json:"last_error,omitempty"`
	ChangesCompleted int              `json:"changes_completed"`
	SessionStartedAt time.Time        `json:"session_started_at"`
	LastStateChange  time.Time        `json:"last_state_change"`
}
