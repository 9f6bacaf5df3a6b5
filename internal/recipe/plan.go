package recipe

import "time"

// ExecutionPlan is an immutable snapshot of a recipe taken when monitoring
// starts, plus the progress cursor for that session. Later edits to the
// recipe never reach an active plan.
//
// Advance only peeks; the cursor moves when MarkCompleted is called after a
// successful change. A failed change leaves the cursor on the same entry.
type ExecutionPlan struct {
	entries   []Entry
	cursor    int
	completed map[int]bool
	frozenAt  time.Time
}

// Freeze deep-copies the recipe into a fresh plan with the cursor at the
// first entry.
func Freeze(r Recipe) *ExecutionPlan {
	return &ExecutionPlan{
		entries:   r.Entries(),
		completed: make(map[int]bool),
		frozenAt:  time.Now(),
	}
}

// Advance reports the next due entry once the printer has reached its layer.
// A layer that has already been completed is never returned again, no matter
// how many polls observe it.
func (p *ExecutionPlan) Advance(currentLayer int) (Entry, bool) {
	if p.cursor >= len(p.entries) {
		return Entry{}, false
	}
	next := p.entries[p.cursor]
	if p.completed[next.Layer] {
		return Entry{}, false
	}
	if currentLayer < next.Layer {
		return Entry{}, false
	}
	return next, true
}

// MarkCompleted records a successful change for the cursor entry and moves
// the cursor forward. Only the success path calls this.
func (p *ExecutionPlan) MarkCompleted(e Entry) {
	if p.cursor < len(p.entries) && p.entries[p.cursor] == e {
		p.completed[e.Layer] = true
		p.cursor++
	}
}

// Exhausted reports whether every entry has been completed.
func (p *ExecutionPlan) Exhausted() bool {
	return p.cursor >= len(p.entries)
}

func (p *ExecutionPlan) FrozenAt() time.Time { return p.frozenAt }

// Progress is a snapshot for status events.
type Progress struct {
	Total     int     `json:"total"`
	Completed int     `json:"completed"`
	NextLayer int     `json:"next_layer,omitempty"`
	NextMat   string  `json:"next_material,omitempty"`
	Layers    []Entry `json:"entries"`
}

func (p *ExecutionPlan) Progress() Progress {
	prog := Progress{
		Total:     len(p.entries),
		Completed: p.cursor,
		Layers:    append([]Entry(nil), p.entries...),
	}
	if p.cursor < len(p.entries) {
		prog.NextLayer = p.entries[p.cursor].Layer
		prog.NextMat = p.entries[p.cursor].Material
	}
	return prog
}
