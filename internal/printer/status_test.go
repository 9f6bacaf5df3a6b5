package printer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatusPrinting(t *testing.T) {
	raw := "getstatus,print,widget.pwmb/0.pwmb,2338,45,1052,2462,23460,0,end"

	status, err := ParseStatus(raw)
	require.NoError(t, err)

	assert.Equal(t, StatePrinting, status.State)
	assert.Equal(t, "widget.pwmb/0.pwmb", status.File)
	assert.Equal(t, 2338, status.TotalLayers)
	assert.Equal(t, 45.0, status.PercentDone)
	assert.Equal(t, 1052, status.CurrentLayer)
	assert.True(t, status.ActivelyPrinting())
	assert.False(t, status.Complete())
}

func TestParseStatusPaused(t *testing.T) {
	status, err := ParseStatus("getstatus,pause,widget.pwmb/0.pwmb,2338,45,1052,0,end")
	require.NoError(t, err)

	assert.Equal(t, StatePaused, status.State)
	assert.False(t, status.ActivelyPrinting())
}

func TestParseStatusShortStopReply(t *testing.T) {
	// An idle printer answers without the file fields and with CRLF noise.
	status, err := ParseStatus("getstatus,stop\r\n")
	require.NoError(t, err)

	assert.Equal(t, StateStopped, status.State)
	assert.Equal(t, 0, status.CurrentLayer)
	assert.False(t, status.Complete())

	// The "end" terminator must not be mistaken for the file field.
	status, err = ParseStatus("getstatus,stop,end")
	require.NoError(t, err)
	assert.Equal(t, StateStopped, status.State)
	assert.Empty(t, status.File)
}

func TestParseStatusFirmwareError(t *testing.T) {
	status, err := ParseStatus("getstatus,ERROR1,end")
	require.NoError(t, err)

	assert.Equal(t, StateError, status.State)
}

func TestParseStatusMalformed(t *testing.T) {
	for _, raw := range []string{"", "hello", "gopause,OK,end"} {
		_, err := ParseStatus(raw)
		assert.Error(t, err, raw)
	}
}

func TestStatusComplete(t *testing.T) {
	tests := []struct {
		name     string
		status   Status
		complete bool
	}{
		{
			"finished token",
			Status{State: StateFinished, StateToken: "finished", PercentDone: 100},
			true,
		},
		{
			"complete token",
			Status{StateToken: "complete"},
			true,
		},
		{
			"stopped at 100 percent",
			Status{State: StateStopped, StateToken: "stop", PercentDone: 100},
			true,
		},
		{
			"stopped halfway",
			Status{State: StateStopped, StateToken: "stop", PercentDone: 50},
			false,
		},
		{
			"final layer at 99 percent",
			Status{State: StatePrinting, StateToken: "print", CurrentLayer: 2338, TotalLayers: 2338, PercentDone: 99.4},
			true,
		},
		{
			"final layer but low percent",
			Status{State: StatePrinting, StateToken: "print", CurrentLayer: 2338, TotalLayers: 2338, PercentDone: 80},
			false,
		},
		{
			"mid print",
			Status{State: StatePrinting, StateToken: "print", CurrentLayer: 10, TotalLayers: 2338, PercentDone: 1},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.complete, tt.status.Complete())
		})
	}
}

func TestParseFileList(t *testing.T) {
	raw := "getfile,calibration-cube.pwmb/0.pwmb,bracket-v2.pwmb/1.pwmb,end"

	files, err := parseFileList(raw)
	require.NoError(t, err)
	require.Len(t, files, 2)

	assert.Equal(t, File{Name: "calibration-cube.pwmb", Internal: "0.pwmb"}, files[0])
	assert.Equal(t, File{Name: "bracket-v2.pwmb", Internal: "1.pwmb"}, files[1])
}

func TestParseFileListEmpty(t *testing.T) {
	files, err := parseFileList("getfile,end")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestParseFileListMalformed(t *testing.T) {
	_, err := parseFileList("getstatus,print")
	assert.Error(t, err)
}
