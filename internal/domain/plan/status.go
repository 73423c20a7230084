package plan

// Badge texts
const (
	BadgeCompleted = "Validé par Instructeur"
	BadgeActive    = "En attente de validation"
	BadgeLocked    = "Verrouillé"
)

// Status is the per-step display state. It is always derived from the plan and the
// admin flag, never stored.
type Status struct {
	Completed bool `json:"completed"`
	Locked    bool `json:"locked"` // not completed and the viewer can't toggle it
	Active    bool `json:"active"` // not completed and the previous step (if any) is completed
	Future    bool `json:"future"` // neither completed nor active
}

// StatusOf derives the display state for steps[i].
// Active is a local predicate: with non-contiguous completion several steps can be active.
// PRE: 0 <= i < len(steps)
// INVARIANT: steps is not mutated
func StatusOf(steps []Step, i int, isAdmin bool) Status {
	s := steps[i]
	if s.Completed {
		return Status{Completed: true}
	}
	active := i == 0 || steps[i-1].Completed
	return Status{
		Locked: !isAdmin,
		Active: active,
		Future: !active,
	}
}

// Badge returns the status line shown under a step.
func (st Status) Badge() string {
	switch {
	case st.Completed:
		return BadgeCompleted
	case st.Active:
		return BadgeActive
	default:
		return BadgeLocked
	}
}

// IsFinished reports whether every step has been validated.
// An empty plan is never finished.
func IsFinished(steps []Step) bool {
	if len(steps) == 0 {
		return false
	}
	for _, s := range steps {
		if !s.Completed {
			return false
		}
	}
	return true
}

// CountCompleted returns how many steps are validated.
func CountCompleted(steps []Step) int {
	n := 0
	for _, s := range steps {
		if s.Completed {
			n++
		}
	}
	return n
}

// IndexOf returns the position of the step with the given id, or -1.
func IndexOf(steps []Step, id string) int {
	for i, s := range steps {
		if s.ID == id {
			return i
		}
	}
	return -1
}
