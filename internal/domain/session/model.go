package session

import (
	"errors"
	"strings"

	"verrou/internal/domain/plan"
)

// Editable calibration field names, as posted by the calibration form.
const (
	FieldStudentName        = "studentName"
	FieldSegmentDescription = "segmentDescription"
	FieldBaselineTempo      = "baselineTempo"
	FieldRuptureTempo       = "ruptureTempo"
)

// EditableFields lists every field accepted by UpdateField.
var EditableFields = []string{FieldStudentName, FieldSegmentDescription, FieldBaselineTempo, FieldRuptureTempo}

// User-facing messages
const (
	MsgInvalidCalibration = "Veuillez remplir tous les champs correctement."
	MsgWrongAdminCode     = "Code incorrect."
	MsgResetConfirm       = "Attention : Cela effacera toute la progression actuelle. Continuer ?"
)

// Domain errors
var (
	ErrInvalidCalibration = errors.New("calibration needs a student name, a segment and two integer tempos")
	ErrPlanFrozen         = errors.New("calibration is frozen once the plan is generated")
	ErrUnknownField       = errors.New("field must be one of: studentName, segmentDescription, baselineTempo, ruptureTempo")
)

// Session is the whole persisted state of the app: who practises what, the raw tempo
// inputs, the generated plan and the admin flag.
// Tempos stay strings so half-typed or empty form input survives a reload.
type Session struct {
	StudentName        string      `json:"studentName"`
	SegmentDescription string      `json:"segmentDescription"`
	BaselineTempo      string      `json:"baselineTempo"`
	RuptureTempo       string      `json:"ruptureTempo"`
	Plan               []plan.Step `json:"plan"`
	PlanGenerated      bool        `json:"planGenerated"`
	IsAdmin            bool        `json:"isAdmin"`
}

// Calibration holds validated generation inputs.
type Calibration struct {
	StudentName        string
	SegmentDescription string
	Baseline           int
	Rupture            int
}

// Default returns the empty session a fresh install starts with.
func Default() Session {
	return Session{Plan: []plan.Step{}}
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	out := s
	out.Plan = plan.Clone(s.Plan)
	if out.Plan == nil {
		out.Plan = []plan.Step{}
	}
	return out
}

// SetField assigns one calibration field.
// PRE: plan not generated yet
// POST: named field holds value, nothing else changes
func (s *Session) SetField(name, value string) error {
	if s.PlanGenerated {
		return ErrPlanFrozen
	}
	switch name {
	case FieldStudentName:
		s.StudentName = value
	case FieldSegmentDescription:
		s.SegmentDescription = value
	case FieldBaselineTempo:
		s.BaselineTempo = value
	case FieldRuptureTempo:
		s.RuptureTempo = value
	default:
		return ErrUnknownField
	}
	return nil
}

// Calibration validates the raw inputs and returns the generation parameters.
// PRE: Session struct is populated
// POST: Returns ErrInvalidCalibration if a tempo doesn't parse or name/segment is empty
// INVARIANT: Session fields are not mutated
func (s Session) Calibration() (Calibration, error) {
	baseline, okBaseline := ParseTempo(s.BaselineTempo)
	rupture, okRupture := ParseTempo(s.RuptureTempo)
	if !okBaseline || !okRupture || s.StudentName == "" || s.SegmentDescription == "" {
		return Calibration{}, ErrInvalidCalibration
	}
	return Calibration{
		StudentName:        s.StudentName,
		SegmentDescription: s.SegmentDescription,
		Baseline:           baseline,
		Rupture:            rupture,
	}, nil
}

// Reset returns the session to defaults, keeping only the admin flag.
func (s *Session) Reset() {
	isAdmin := s.IsAdmin
	*s = Default()
	s.IsAdmin = isAdmin
}

// ToggleStep flips completion on the step with the given id.
// Returns false when no step matches. Neighbouring steps are never touched.
func (s *Session) ToggleStep(stepID string) bool {
	i := plan.IndexOf(s.Plan, stepID)
	if i < 0 {
		return false
	}
	s.Plan[i].Completed = !s.Plan[i].Completed
	return true
}

// ParseTempo reads a leading integer the way a lenient form parser does:
// surrounding spaces are ignored, an optional sign is accepted and anything
// after the digits is dropped ("120bpm" is 120). No digits means invalid.
func ParseTempo(raw string) (int, bool) {
	s := strings.TrimSpace(raw)
	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}
	n, digits := 0, 0
	for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
		if n > (1<<31)/10 {
			return 0, false
		}
		n = n*10 + int(s[digits]-'0')
		digits++
	}
	if digits == 0 {
		return 0, false
	}
	if neg {
		n = -n
	}
	return n, true
}
