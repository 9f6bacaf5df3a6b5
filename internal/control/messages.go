// Package control is the command/status protocol between the orchestrator
// and its UIs: typed messages, the outbound event bus, the websocket
// transport, and the command dispatcher. The orchestrator itself only sees
// the inbound command channel and the bus, never a socket.
package control

import "time"

type MessageType string

const (
	MessageTypeCommand        MessageType = "command"
	MessageTypeCommandResult  MessageType = "command_result"
	MessageTypeStatusUpdate   MessageType = "status_update"
	MessageTypeClientRegister MessageType = "client_register"
	MessageTypeAuth           MessageType = "auth"
	MessageTypeAuthSuccess    MessageType = "auth_success"
	MessageTypeAuthFailed     MessageType = "auth_failed"
)

// Command types accepted on the channel. Everything that touches hardware
// goes through here; there is no second command path.
const (
	CommandStartMonitoring   = "start_monitoring"
	CommandStopMonitoring    = "stop_monitoring"
	CommandAcknowledgeError  = "acknowledge_error"
	CommandEmergencyStop     = "emergency_stop"
	CommandLoadRecipe        = "load_recipe"
	CommandGetStatus         = "get_status"
	CommandPumpControl       = "pump_control"
	CommandRunMaterialChange = "run_material_change"
	CommandCalibratePump     = "calibrate_pump"
	CommandPausePrint        = "pause_print"
	CommandResumePrint       = "resume_print"
	CommandStopPrint         = "stop_print"
	CommandListPrinterFiles  = "list_printer_files"
	CommandStartPrint        = "start_print"
)

// Command is one inbound request. The id correlates the eventual result;
// a re-delivered id is answered from cache, never executed twice.
type Command struct {
	Type       string         `json:"type"`
	ID         string         `json:"id"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type ResultStatus string

const (
	ResultSuccess ResultStatus = "SUCCESS"
	ResultFailed  ResultStatus = "FAILED"
)

// CommandResult answers one command. It is sent only after every
// status_update describing that command's execution.
type CommandResult struct {
	Type      MessageType    `json:"type"`
	CommandID string         `json:"command_id"`
	Status    ResultStatus   `json:"status"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Category values are a compatibility surface: new ones may be added,
// existing ones keep their shape.
type Category string

const (
	CategoryPrinterStatus Category = "PRINTER_STATUS"
	CategoryMaterial      Category = "MATERIAL"
	CategoryPump          Category = "PUMP"
	CategoryTiming        Category = "TIMING"
	CategoryProgress      Category = "PROGRESS"
	CategorySafety        Category = "SAFETY"
	CategorySystem        Category = "SYSTEM"
)

// StatusUpdate is a broadcast event, never a reply.
type StatusUpdate struct {
	Type      MessageType    `json:"type"`
	Timestamp float64        `json:"timestamp"`
	Category  Category       `json:"category"`
	Message   string         `json:"message"`
	Level     Level          `json:"level"`
	Data      map[string]any `json:"data,omitempty"`
}

// ClientRegister is sent to every client right after it authenticates.
type ClientRegister struct {
	Type         MessageType `json:"type"`
	ClientType   string      `json:"client_type"`
	Version      string      `json:"version"`
	Capabilities []string    `json:"capabilities"`
}

type AuthResponse struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Reason    string      `json:"reason,omitempty"`
}

func NewStatusUpdate(category Category, level Level, message string, data map[string]any) StatusUpdate {
	return StatusUpdate{
		Type:      MessageTypeStatusUpdate,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Category:  category,
		Message:   message,
		Level:     level,
		Data:      data,
	}
}

func NewCommandResult(commandID string, status ResultStatus, message string, data map[string]any) CommandResult {
	return CommandResult{
		Type:      MessageTypeCommandResult,
		CommandID: commandID,
		Status:    status,
		Message:   message,
		Data:      data,
	}
}

func NewClientRegister(version string) ClientRegister {
	return ClientRegister{
		Type:       MessageTypeClientRegister,
		ClientType: "print_manager",
		Version:    version,
		Capabilities: []string{
			"monitoring",
			"material_change",
			"pump_control",
			"printer_control",
			"recipes",
		},
	}
}
