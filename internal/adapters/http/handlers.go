package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/csrf"
	"github.com/yuin/goldmark"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"

	"verrou/internal/adapters/http/perf"
	"verrou/internal/application/orchestrators"
	"verrou/internal/application/projections"
	"verrou/internal/domain/plan"
	"verrou/internal/domain/session"
	"verrou/internal/domain/videolink"
)

// timeNow is a variable for testability.
var timeNow = time.Now

// perfWindow is how far back the admin perf endpoint aggregates.
const perfWindow = time.Hour

// healthTimeout bounds the /healthz database ping.
const healthTimeout = 2 * time.Second

// msgPlanFrozen is shown when calibration is edited after generation.
const msgPlanFrozen = "Le protocole est déjà généré. Réinitialisez pour modifier la calibration."

// Page copy, written in markdown and rendered with goldmark.
const (
	calibrationGuide = "Configurez les paramètres de votre session de travail.\n\n" +
		"Le **Point Zéro** est le tempo où le segment passe *100% propre*. " +
		"Le **Point de Rupture** est le tempo où il casse."
	finishedGuide = "### Protocole Terminé !\n\n" +
		"Le verrou est levé. Vous pouvez réintégrer le segment dans la phrase complète."
)

// mdRenderer is a goldmark instance configured for safe HTML output.
// Raw HTML in markdown input is escaped (WithUnsafe is NOT set), preventing XSS.
var mdRenderer = goldmark.New(
	goldmark.WithRendererOptions(
		goldmarkHTML.WithHardWraps(),
	),
)

// internalError logs the real error and returns a generic message to the client.
// This prevents leaking internal details per OWASP A05.
func internalError(w http.ResponseWriter, err error) {
	slog.Error("internal_error", "error", err.Error())
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

// strictDecode decodes JSON from the request body, rejecting unknown fields.
func strictDecode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func isJSONRequest(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

func isHTMLRequest(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html") || (accept == "" && !isJSONRequest(r))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("internal_error", "error", err.Error())
	}
}

func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := mdRenderer.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

func renderTemplate(w http.ResponseWriter, r *http.Request, status int, templateName string, data any) {
	funcMap := template.FuncMap{
		"csrfToken":      func() string { return csrf.Token(r) },
		"csrfField":      func() template.HTML { return csrf.TemplateField(r) },
		"renderMarkdown": renderMarkdown,
		"add":            func(a, b int) int { return a + b },
	}

	tpl, err := template.New("layout.html").Funcs(funcMap).ParseFS(templateFS, "templates/layout.html", "templates/"+templateName)
	if err != nil {
		internalError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		internalError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func protocolView(ctx context.Context) (projections.ProtocolView, error) {
	return projections.QueryGetProtocol(ctx, messaging, projections.GetProtocolDeps{Sessions: state})
}

// renderProtocol renders the main page with an optional flash message.
func renderProtocol(w http.ResponseWriter, r *http.Request, status int, flash string) {
	view, err := protocolView(r.Context())
	if err != nil {
		internalError(w, err)
		return
	}
	renderTemplate(w, r, status, "protocol.html", map[string]any{
		"View":             view,
		"Flash":            flash,
		"CalibrationGuide": calibrationGuide,
		"FinishedGuide":    finishedGuide,
	})
}

// respond finishes a successful mutation: browsers go back to the page,
// API clients get the fresh view.
func respond(w http.ResponseWriter, r *http.Request) {
	if isHTMLRequest(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	view, err := protocolView(r.Context())
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// fail reports a refused operation, on the page for browsers and as JSON otherwise.
func fail(w http.ResponseWriter, r *http.Request, status int, msg string) {
	if isHTMLRequest(r) {
		renderProtocol(w, r, status, msg)
		return
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

// calibrationRequest is the JSON body for calibration and plan generation.
// Omitted keys keep their stored value.
type calibrationRequest struct {
	StudentName        *string `json:"studentName"`
	SegmentDescription *string `json:"segmentDescription"`
	BaselineTempo      *string `json:"baselineTempo"`
	RuptureTempo       *string `json:"ruptureTempo"`
}

// input keeps only the keys the client sent.
func (req calibrationRequest) input() orchestrators.CalibrationInput {
	input := orchestrators.CalibrationInput{}
	for name, v := range map[string]*string{
		session.FieldStudentName:        req.StudentName,
		session.FieldSegmentDescription: req.SegmentDescription,
		session.FieldBaselineTempo:      req.BaselineTempo,
		session.FieldRuptureTempo:       req.RuptureTempo,
	} {
		if v != nil {
			input[name] = *v
		}
	}
	return input
}

// readCalibration extracts the calibration fields a form or JSON body carries.
// The result is empty when the request sends none of them.
func readCalibration(r *http.Request) (orchestrators.CalibrationInput, error) {
	if isJSONRequest(r) {
		var req calibrationRequest
		if err := strictDecode(r, &req); err != nil {
			if errors.Is(err, io.EOF) {
				return orchestrators.CalibrationInput{}, nil
			}
			return nil, err
		}
		return req.input(), nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	input := orchestrators.CalibrationInput{}
	for _, name := range session.EditableFields {
		if _, ok := r.PostForm[name]; ok {
			input[name] = r.PostFormValue(name)
		}
	}
	return input, nil
}

// handleIndex handles GET / (calibration form or active protocol)
func handleIndex(w http.ResponseWriter, r *http.Request) {
	renderProtocol(w, r, http.StatusOK, "")
}

// handleCalibration handles POST /calibration
func handleCalibration(w http.ResponseWriter, r *http.Request) {
	input, err := readCalibration(r)
	if err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := state.UpdateCalibration(r.Context(), input); err != nil {
		if errors.Is(err, session.ErrPlanFrozen) {
			fail(w, r, http.StatusConflict, msgPlanFrozen)
			return
		}
		internalError(w, err)
		return
	}
	respond(w, r)
}

// handleCalibrationField handles POST /calibration/{field}
func handleCalibrationField(w http.ResponseWriter, r *http.Request) {
	var value string
	if isJSONRequest(r) {
		var req struct {
			Value string `json:"value"`
		}
		if err := strictDecode(r, &req); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		value = req.Value
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form submission", http.StatusBadRequest)
			return
		}
		value = r.PostFormValue("value")
	}

	err := state.UpdateField(r.Context(), r.PathValue("field"), value)
	switch {
	case err == nil:
		respond(w, r)
	case errors.Is(err, session.ErrUnknownField):
		http.Error(w, "Not Found", http.StatusNotFound)
	case errors.Is(err, session.ErrPlanFrozen):
		fail(w, r, http.StatusConflict, msgPlanFrozen)
	default:
		internalError(w, err)
	}
}

// handleGeneratePlan handles POST /plan
// Fields sent with the request are applied in the same transition; without them
// the stored calibration is used, which regenerates a blank plan.
func handleGeneratePlan(w http.ResponseWriter, r *http.Request) {
	input, err := readCalibration(r)
	if err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	_, err = state.GeneratePlan(r.Context(), input)
	switch {
	case err == nil:
		respond(w, r)
	case errors.Is(err, session.ErrInvalidCalibration):
		fail(w, r, http.StatusUnprocessableEntity, session.MsgInvalidCalibration)
	case errors.Is(err, session.ErrPlanFrozen):
		fail(w, r, http.StatusConflict, msgPlanFrozen)
	default:
		internalError(w, err)
	}
}

// handleAdminToggle handles POST /admin/toggle
func handleAdminToggle(w http.ResponseWriter, r *http.Request) {
	state.ToggleAdminMode(r.Context())
	respond(w, r)
}

// handleAdminLogin handles POST /admin/login
func handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var code string
	if isJSONRequest(r) {
		var req struct {
			Code string `json:"code"`
		}
		if err := strictDecode(r, &req); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		code = req.Code
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form submission", http.StatusBadRequest)
			return
		}
		code = r.PostFormValue("code")
	}

	if !state.AuthenticateAdmin(r.Context(), code) {
		fail(w, r, http.StatusUnauthorized, session.MsgWrongAdminCode)
		return
	}
	respond(w, r)
}

// handleAdminPromptClose handles POST /admin/prompt/close
func handleAdminPromptClose(w http.ResponseWriter, r *http.Request) {
	state.CloseAdminPrompt()
	respond(w, r)
}

// handleAdminPerf handles GET /admin/perf (instructor mode only)
func handleAdminPerf(w http.ResponseWriter, r *http.Request) {
	if perfCollector == nil {
		writeJSON(w, http.StatusOK, perf.Snapshot{})
		return
	}
	writeJSON(w, http.StatusOK, perfCollector.Snapshot(timeNow().Add(-perfWindow), 10))
}

// handleStepToggle handles POST /steps/{id}/toggle
func handleStepToggle(w http.ResponseWriter, r *http.Request) {
	changed, err := state.ToggleStepCompletion(r.Context(), r.PathValue("id"))
	if errors.Is(err, orchestrators.ErrNotAdmin) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	if err != nil {
		internalError(w, err)
		return
	}
	if !changed {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	respond(w, r)
}

// handleStepVideo handles GET /steps/{id}/video
// Completed steps have no submission link.
func handleStepVideo(w http.ResponseWriter, r *http.Request) {
	sess := state.Session()
	i := plan.IndexOf(sess.Plan, r.PathValue("id"))
	if i < 0 || sess.Plan[i].Completed {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	link := videolink.Build(sess.Plan[i], sess, videolink.Options{
		Host:       messaging.MessagingHost,
		Instructor: messaging.InstructorName,
	})
	slog.Info("plan_event", "event", "video_link_opened", "step_id", sess.Plan[i].ID)
	http.Redirect(w, r, link, http.StatusFound)
}

// handleResetConfirm handles GET /reset
func handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	renderTemplate(w, r, http.StatusOK, "reset.html", map[string]any{
		"Message": session.MsgResetConfirm,
	})
}

// handleReset handles POST /reset
// Anything but an explicit confirmation leaves the session untouched.
func handleReset(w http.ResponseWriter, r *http.Request) {
	confirmed := false
	if isJSONRequest(r) {
		var req struct {
			Confirm bool `json:"confirm"`
		}
		if err := strictDecode(r, &req); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		confirmed = req.Confirm
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form submission", http.StatusBadRequest)
			return
		}
		confirmed = r.PostFormValue("confirm") == "yes"
	}

	state.Reset(r.Context(), confirmed)
	respond(w, r)
}

// handleAPIState handles GET /api/state
func handleAPIState(w http.ResponseWriter, r *http.Request) {
	view, err := protocolView(r.Context())
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleHealthz handles GET /healthz
func handleHealthz(w http.ResponseWriter, r *http.Request) {
	if dbPinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := dbPinger.PingContext(ctx); err != nil {
			slog.Error("healthz_failed", "error", err.Error())
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}
