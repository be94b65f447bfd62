package session

import "sort"

// Terminal is the phase index reported once the instructions hand off to the task.
const Terminal = -1

// PhaseController walks the instruction phases. The index never decreases and
// the completed set only grows.
type PhaseController struct {
	total     int
	current   int
	completed map[int]bool
	skip      map[int]bool
}

// SkipSetFor returns the phases to skip for a visualization condition:
// condition 0 hides the visualization instructions, condition 1 shows everything.
func SkipSetFor(condition, visualizationPhase int) []int {
	if condition == 0 {
		return []int{visualizationPhase}
	}
	return nil
}

// NewPhaseController starts at phase 0.
func NewPhaseController(total int, skip []int) *PhaseController {
	if total < 1 {
		total = 1
	}
	pc := &PhaseController{
		total:     total,
		completed: make(map[int]bool),
		skip:      make(map[int]bool, len(skip)),
	}
	for _, p := range skip {
		pc.skip[p] = true
	}
	return pc
}

// Current is the phase index, or Terminal.
func (pc *PhaseController) Current() int { return pc.current }

// Total is the number of phases.
func (pc *PhaseController) Total() int { return pc.total }

// Done reports whether the controller reached the task.
func (pc *PhaseController) Done() bool { return pc.current == Terminal }

// IsCompleted reports whether phase p was completed or skipped.
func (pc *PhaseController) IsCompleted(p int) bool { return pc.completed[p] }

// Completed lists completed phases in ascending order.
func (pc *PhaseController) Completed() []int {
	out := make([]int, 0, len(pc.completed))
	for p := range pc.completed {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// Next advances and returns the new index.
//
// Phase 0 hands off straight to the task. From any later phase the controller
// moves forward, stepping over skipped phases (each recorded as completed) but
// never past the last phase. Next on the last phase, or after the hand-off,
// reaches Terminal.
func (pc *PhaseController) Next() int {
	if pc.current == Terminal {
		return Terminal
	}

	pc.completed[pc.current] = true
	if pc.current == 0 || pc.current >= pc.total-1 {
		pc.current = Terminal
		return pc.current
	}

	next := pc.current + 1
	for next < pc.total-1 && pc.skip[next] {
		pc.completed[next] = true
		next++
	}
	pc.current = next
	return pc.current
}

// Restore fast-forwards to a persisted position. It never moves backwards.
func (pc *PhaseController) Restore(current int, completed []int) {
	for _, p := range completed {
		if p >= 0 && p < pc.total {
			pc.completed[p] = true
		}
	}
	switch {
	case current == Terminal:
		pc.current = Terminal
	case pc.current != Terminal && current > pc.current && current < pc.total:
		pc.current = current
	}
}
