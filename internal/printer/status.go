package printer

import (
	"strconv"
	"strings"
)

type State int

const (
	StateUnknown State = iota
	StatePrinting
	StatePaused
	StateStopped
	StateFinished
	StateError
)

func (s State) String() string {
	switch s {
	case StatePrinting:
		return "printing"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	case StateFinished:
		return "finished"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Status is one parsed getstatus reply.
type Status struct {
	State        State   `json:"state"`
	StateToken   string  `json:"state_token"`
	File         string  `json:"file,omitempty"`
	CurrentLayer int     `json:"current_layer"`
	TotalLayers  int     `json:"total_layers"`
	PercentDone  float64 `json:"percent_done"`
}

func (s Status) ActivelyPrinting() bool { return s.State == StatePrinting }

// Complete reports end-of-print. The printer has no single "done" token:
// some firmwares report complete/finished, others fall back to stop at 100%
// or park on the last layer at 99%+.
func (s Status) Complete() bool {
	switch s.StateToken {
	case "complete", "finished", "done":
		return true
	}
	if s.State == StateStopped && s.PercentDone >= 100 {
		return true
	}
	if s.TotalLayers > 0 && s.CurrentLayer >= s.TotalLayers && s.PercentDone >= 99 {
		return true
	}
	return false
}

// ParseStatus decodes a raw getstatus reply:
//
//	getstatus,print,<file>,<total_layers>,<percent>,<current_layer>,...,end
//
// Replies for an idle printer can be as short as "getstatus,stop,end".
func ParseStatus(raw string) (Status, error) {
	fields := strings.Split(raw, ",")
	// Drop the protocol terminator so it never reads as a field value.
	if len(fields) > 1 && strings.TrimSpace(fields[len(fields)-1]) == "end" {
		fields = fields[:len(fields)-1]
	}
	if len(fields) < 2 || strings.TrimSpace(fields[0]) != "getstatus" {
		return Status{}, protocolError("getstatus", "malformed status reply")
	}

	token := strings.ToLower(strings.TrimSpace(fields[1]))
	status := Status{StateToken: token}

	switch token {
	case "print", "printing":
		status.State = StatePrinting
	case "pause", "paused":
		status.State = StatePaused
	case "stop", "stopped":
		status.State = StateStopped
	case "complete", "finished", "done":
		status.State = StateFinished
	default:
		if strings.HasPrefix(strings.ToUpper(token), "ERROR") {
			status.State = StateError
		} else {
			status.State = StateUnknown
		}
	}

	if len(fields) > 2 {
		status.File = strings.TrimSpace(fields[2])
	}
	if len(fields) > 3 {
		status.TotalLayers = parseIntField(fields[3])
	}
	if len(fields) > 4 {
		status.PercentDone = parseFloatField(fields[4])
	}
	if len(fields) > 5 {
		status.CurrentLayer = parseIntField(fields[5])
	}

	return status, nil
}

// parseFileList decodes a getfile reply. Each entry is "name/internal";
// the internal name is what goprint expects.
func parseFileList(raw string) ([]File, error) {
	fields := strings.Split(raw, ",")
	if len(fields) < 1 || strings.TrimSpace(fields[0]) != "getfile" {
		return nil, protocolError("getfile", "malformed file list reply")
	}

	files := make([]File, 0, len(fields))
	for _, field := range fields[1:] {
		entry := strings.TrimSpace(field)
		if entry == "" || entry == "end" {
			continue
		}
		name, internal, found := strings.Cut(entry, "/")
		if !found {
			internal = name
		}
		files = append(files, File{Name: name, Internal: internal})
	}
	return files, nil
}

func parseIntField(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func parseFloatField(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
