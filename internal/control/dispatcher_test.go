package control

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newDispatcherFixture(queueSize int) (*Dispatcher, chan Command, *Bus) {
	sink := make(chan Command, queueSize)
	bus := NewBus(zap.NewNop())
	return NewDispatcher(sink, bus, zap.NewNop()), sink, bus
}

func TestDispatcherForwardsCommand(t *testing.T) {
	d, sink, _ := newDispatcherFixture(4)

	d.Submit(Command{Type: CommandGetStatus, ID: "cmd-1"})

	require.Len(t, sink, 1)
	cmd := <-sink
	assert.Equal(t, CommandGetStatus, cmd.Type)
	assert.Equal(t, "cmd-1", cmd.ID)
}

func TestDispatcherDropsDuplicateInFlight(t *testing.T) {
	d, sink, _ := newDispatcherFixture(4)

	d.Submit(Command{Type: CommandPausePrint, ID: "cmd-1"})
	d.Submit(Command{Type: CommandPausePrint, ID: "cmd-1"})
	d.Submit(Command{Type: CommandPausePrint, ID: "cmd-1"})

	assert.Len(t, sink, 1, "an in-flight command must not execute twice")
}

func TestDispatcherReplaysCachedResult(t *testing.T) {
	d, sink, bus := newDispatcherFixture(4)
	sub := bus.Subscribe()

	d.Submit(Command{Type: CommandStartMonitoring, ID: "cmd-1"})
	<-sink

	d.Complete(NewCommandResult("cmd-1", ResultSuccess, "Monitoring started", nil))
	first := (<-sub).(CommandResult)
	assert.Equal(t, ResultSuccess, first.Status)

	// Redelivery after completion: answered from cache, never re-executed.
	d.Submit(Command{Type: CommandStartMonitoring, ID: "cmd-1"})

	assert.Empty(t, sink, "cached commands must not reach the orchestrator again")
	replay := (<-sub).(CommandResult)
	assert.Equal(t, "cmd-1", replay.CommandID)
	assert.Equal(t, ResultSuccess, replay.Status)
	assert.Equal(t, "Monitoring started", replay.Message)
}

func TestDispatcherRejectsMissingID(t *testing.T) {
	d, sink, bus := newDispatcherFixture(4)
	sub := bus.Subscribe()

	d.Submit(Command{Type: CommandGetStatus})

	assert.Empty(t, sink)
	res := (<-sub).(CommandResult)
	assert.Equal(t, ResultFailed, res.Status)
	assert.Contains(t, res.Message, "id is required")
}

func TestDispatcherRejectsMissingType(t *testing.T) {
	d, sink, bus := newDispatcherFixture(4)
	sub := bus.Subscribe()

	d.Submit(Command{ID: "cmd-1"})

	assert.Empty(t, sink)
	res := (<-sub).(CommandResult)
	assert.Equal(t, ResultFailed, res.Status)
	assert.Equal(t, "cmd-1", res.CommandID)
}

func TestDispatcherRejectsWhenQueueFull(t *testing.T) {
	d, sink, bus := newDispatcherFixture(1)
	sub := bus.Subscribe()

	d.Submit(Command{Type: CommandPumpControl, ID: "cmd-1"})
	d.Submit(Command{Type: CommandPumpControl, ID: "cmd-2"})

	res := (<-sub).(CommandResult)
	assert.Equal(t, "cmd-2", res.CommandID)
	assert.Equal(t, ResultFailed, res.Status)
	assert.Contains(t, res.Message, "queue full")

	// The rejected id is released and may be retried once there is room.
	<-sink
	d.Submit(Command{Type: CommandPumpControl, ID: "cmd-2"})
	require.Len(t, sink, 1)
	assert.Equal(t, "cmd-2", (<-sink).ID)
}

func TestDispatcherResultCacheEviction(t *testing.T) {
	d, sink, bus := newDispatcherFixture(1)

	for i := 0; i <= resultCacheSize; i++ {
		id := fmt.Sprintf("cmd-%d", i)
		d.Submit(Command{Type: CommandGetStatus, ID: id})
		<-sink
		d.Complete(NewCommandResult(id, ResultSuccess, "ok", nil))
	}

	// cmd-0 was evicted, so resubmitting it executes again.
	sub := bus.Subscribe()
	d.Submit(Command{Type: CommandGetStatus, ID: "cmd-0"})
	assert.Len(t, sink, 1)
	assert.Empty(t, sub)

	// The newest id is still cached.
	d.Submit(Command{Type: CommandGetStatus, ID: fmt.Sprintf("cmd-%d", resultCacheSize)})
	assert.Len(t, sink, 1)
	replay := (<-sub).(CommandResult)
	assert.Equal(t, ResultSuccess, replay.Status)
}

func TestResultPublishedAfterStatusUpdates(t *testing.T) {
	d, sink, bus := newDispatcherFixture(4)
	sub := bus.Subscribe()

	d.Submit(Command{Type: CommandRunMaterialChange, ID: "cmd-1"})
	<-sink

	// The executor emits its progress first, then completes the command.
	bus.Publish(NewStatusUpdate(CategoryMaterial, LevelInfo, "Material change started", nil))
	bus.Publish(NewStatusUpdate(CategoryMaterial, LevelInfo, "Material change finished", nil))
	d.Complete(NewCommandResult("cmd-1", ResultSuccess, "Done", nil))

	_, isUpdate := (<-sub).(StatusUpdate)
	assert.True(t, isUpdate)
	_, isUpdate = (<-sub).(StatusUpdate)
	assert.True(t, isUpdate)
	_, isResult := (<-sub).(CommandResult)
	assert.True(t, isResult, "the result must arrive after every status update")
}
