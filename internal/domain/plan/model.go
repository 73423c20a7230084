package plan

import (
	"fmt"
	"math"
)

// Step kinds
const (
	KindValidation   = "validation"
	KindProgression  = "progression"
	KindOptimisation = "optimisation"
)

// Fixed step identifiers
const (
	IDZero         = "step-zero"
	IDRupture      = "step-rupture"
	IDOptimisation = "step-opti"
)

// Step labels shown to the student.
const (
	LabelZero         = "Validation Point Zéro (100% Propre)"
	LabelRupture      = "Validation Point de Rupture (Crash Test)"
	LabelOptimisation = "Phase d'Optimisation & Réintégration"
)

// Progression lengths. A gap wider than LongGapThreshold BPM gets the long protocol.
const (
	ShortDurationDays = 7
	LongDurationDays  = 10
	LongGapThreshold  = 20
)

// Step is one unit of the generated practice protocol.
// TargetTempo is nil only for the optimisation step; DayIndex is set only on progression steps.
type Step struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Label       string `json:"label"`
	TargetTempo *int   `json:"targetTempo,omitempty"`
	Completed   bool   `json:"completed"`
	DayIndex    *int   `json:"dayIndex,omitempty"`
}

// HasTempo reports whether the step carries a target tempo.
func (s Step) HasTempo() bool {
	return s.TargetTempo != nil
}

// Tempo returns the target tempo, or 0 when the step has none.
func (s Step) Tempo() int {
	if s.TargetTempo == nil {
		return 0
	}
	return *s.TargetTempo
}

// DurationDays returns the number of progression days for a baseline/rupture pair.
func DurationDays(baseline, rupture int) int {
	if rupture-baseline > LongGapThreshold {
		return LongDurationDays
	}
	return ShortDurationDays
}

// Generate builds the full protocol from the clean baseline tempo to the rupture tempo.
// There is no ordering constraint between the two tempos; the gap may be zero or negative.
// PRE: none
// POST: returns DurationDays(baseline, rupture)+3 steps, all incomplete; the last
// progression day lands exactly on rupture
func Generate(baseline, rupture int) []Step {
	gap := rupture - baseline
	days := DurationDays(baseline, rupture)

	steps := make([]Step, 0, days+3)
	steps = append(steps,
		Step{ID: IDZero, Kind: KindValidation, Label: LabelZero, TargetTempo: intPtr(baseline)},
		Step{ID: IDRupture, Kind: KindValidation, Label: LabelRupture, TargetTempo: intPtr(rupture)},
	)

	for i := 1; i <= days; i++ {
		progress := float64(i) / float64(days)
		target := roundHalfUp(float64(baseline) + float64(gap)*progress)
		steps = append(steps, Step{
			ID:          fmt.Sprintf("day-%d", i),
			Kind:        KindProgression,
			Label:       fmt.Sprintf("Jour %d : Progression", i),
			TargetTempo: intPtr(target),
			DayIndex:    intPtr(i),
		})
	}

	steps = append(steps, Step{ID: IDOptimisation, Kind: KindOptimisation, Label: LabelOptimisation})
	return steps
}

// Clone returns a deep copy of steps so callers can't alias stored tempos.
func Clone(steps []Step) []Step {
	if steps == nil {
		return nil
	}
	out := make([]Step, len(steps))
	for i, s := range steps {
		out[i] = s
		if s.TargetTempo != nil {
			out[i].TargetTempo = intPtr(*s.TargetTempo)
		}
		if s.DayIndex != nil {
			out[i].DayIndex = intPtr(*s.DayIndex)
		}
	}
	return out
}

// roundHalfUp rounds to the nearest integer with halves going toward +Inf.
// x.5 goes up for negative values too (-2.5 -> -2).
func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}

func intPtr(v int) *int {
	return &v
}
