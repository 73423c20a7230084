package projections

import (
	"context"

	"verrou/internal/domain/plan"
	"verrou/internal/domain/session"
	"verrou/internal/domain/videolink"
)

// GetProtocolSessionSource defines the state store interface needed by the protocol projection.
// View returns the session and the prompt flag as one consistent read.
type GetProtocolSessionSource interface {
	View() (session.Session, bool)
}

// GetProtocolDeps holds dependencies for the protocol projection.
type GetProtocolDeps struct {
	Sessions GetProtocolSessionSource
}

// GetProtocolQuery carries the messaging options used for video links.
type GetProtocolQuery struct {
	MessagingHost  string
	InstructorName string
}

// StepView is one step as the page renders it.
type StepView struct {
	Step      plan.Step   `json:"step"`
	Status    plan.Status `json:"status"`
	Badge     string      `json:"badge"`
	VideoLink string      `json:"videoLink,omitempty"`
	CanToggle bool        `json:"canToggle"`
}

// ProtocolView is the full page model.
type ProtocolView struct {
	Session         session.Session `json:"session"`
	Steps           []StepView      `json:"steps"`
	AdminPromptOpen bool            `json:"adminPromptOpen"`
	Finished        bool            `json:"finished"`
	Completed       int             `json:"completed"`
	Total           int             `json:"total"`
	DurationDays    int             `json:"durationDays,omitempty"`
}

// QueryGetProtocol derives the display state of every step from the current session.
// PRE: deps.Sessions is non-nil
// POST: Steps is empty until a plan is generated; completed steps carry no video link
// INVARIANT: the session is not mutated
func QueryGetProtocol(_ context.Context, query GetProtocolQuery, deps GetProtocolDeps) (ProtocolView, error) {
	sess, promptOpen := deps.Sessions.View()
	view := ProtocolView{
		Session:         sess,
		Steps:           []StepView{},
		AdminPromptOpen: promptOpen,
	}
	if !sess.PlanGenerated {
		return view, nil
	}

	opts := videolink.Options{Host: query.MessagingHost, Instructor: query.InstructorName}
	for i, step := range sess.Plan {
		st := plan.StatusOf(sess.Plan, i, sess.IsAdmin)
		sv := StepView{
			Step:      step,
			Status:    st,
			Badge:     st.Badge(),
			CanToggle: sess.IsAdmin,
		}
		if !st.Completed {
			sv.VideoLink = videolink.Build(step, sess, opts)
		}
		view.Steps = append(view.Steps, sv)
	}

	view.Finished = plan.IsFinished(sess.Plan)
	view.Completed = plan.CountCompleted(sess.Plan)
	view.Total = len(sess.Plan)
	if cal, err := sess.Calibration(); err == nil {
		view.DurationDays = plan.DurationDays(cal.Baseline, cal.Rupture)
	}
	return view, nil
}
