package control

import (
	"sync"

	"go.uber.org/zap"
)

const resultCacheSize = 256

// Dispatcher sits between the transports and the orchestrator's command
// channel. Transports may deliver a command more than once; the dispatcher
// makes sure it executes at most once. A duplicate of a finished command is
// answered from the result cache, a duplicate of an in-flight command is
// dropped because the original's result will be broadcast anyway.
type Dispatcher struct {
	sink   chan<- Command
	bus    *Bus
	logger *zap.Logger

	mu       sync.Mutex
	inFlight map[string]bool
	results  map[string]CommandResult
	order    []string
}

func NewDispatcher(sink chan<- Command, bus *Bus, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		sink:     sink,
		bus:      bus,
		logger:   logger.Named("dispatcher"),
		inFlight: make(map[string]bool),
		results:  make(map[string]CommandResult),
	}
}

// Submit routes one inbound command. It never blocks: when the command
// channel is full the command is rejected with a FAILED result instead of
// stalling the transport.
func (d *Dispatcher) Submit(cmd Command) {
	if cmd.ID == "" {
		d.bus.Publish(NewCommandResult("", ResultFailed, "Command id is required", nil))
		return
	}
	if cmd.Type == "" {
		d.bus.Publish(NewCommandResult(cmd.ID, ResultFailed, "Command type is required", nil))
		return
	}

	d.mu.Lock()
	if res, ok := d.results[cmd.ID]; ok {
		d.mu.Unlock()
		d.logger.Info("Replaying cached result for duplicate command",
			zap.String("command_id", cmd.ID),
			zap.String("type", cmd.Type))
		d.bus.Publish(res)
		return
	}
	if d.inFlight[cmd.ID] {
		d.mu.Unlock()
		d.logger.Debug("Dropping duplicate of in-flight command",
			zap.String("command_id", cmd.ID))
		return
	}
	d.inFlight[cmd.ID] = true
	d.mu.Unlock()

	select {
	case d.sink <- cmd:
	default:
		d.mu.Lock()
		delete(d.inFlight, cmd.ID)
		d.mu.Unlock()
		d.logger.Warn("Command queue full, rejecting command",
			zap.String("command_id", cmd.ID),
			zap.String("type", cmd.Type))
		d.bus.Publish(NewCommandResult(cmd.ID, ResultFailed, "Command queue full", nil))
	}
}

// Complete records a command's result and broadcasts it. The caller emits
// its status updates first, so subscribers always see them before the result.
func (d *Dispatcher) Complete(res CommandResult) {
	d.mu.Lock()
	delete(d.inFlight, res.CommandID)
	if _, seen := d.results[res.CommandID]; !seen && res.CommandID != "" {
		d.results[res.CommandID] = res
		d.order = append(d.order, res.CommandID)
		if len(d.order) > resultCacheSize {
			delete(d.results, d.order[0])
			d.order = d.order[1:]
		}
	}
	d.mu.Unlock()

	d.bus.Publish(res)
}
