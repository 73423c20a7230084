package videolink

import (
	"fmt"
	"net/url"
	"strings"

	"verrou/internal/domain/plan"
	"verrou/internal/domain/session"
)

// Defaults for the messaging deep-link.
const (
	DefaultHost       = "wa.me"
	DefaultInstructor = "François"
)

// Options controls where the link points and who the message greets.
// Zero values fall back to DefaultHost and DefaultInstructor.
type Options struct {
	Host       string
	Instructor string
}

// Message formats the text the student sends alongside a video.
// The tempo clause is dropped for steps without a tempo (or a zero tempo).
func Message(step plan.Step, sess session.Session, opts Options) string {
	instructor := opts.Instructor
	if instructor == "" {
		instructor = DefaultInstructor
	}
	tempo := ""
	if step.Tempo() != 0 {
		tempo = fmt.Sprintf(" à %d BPM", step.Tempo())
	}
	return fmt.Sprintf("Salut %s, voici ma vidéo pour l'étape : %s%s. (Élève: %s, Segment: %s)",
		instructor, step.Label, tempo, sess.StudentName, sess.SegmentDescription)
}

// Build returns the prefilled messaging URI for submitting a step video.
// Pure: no network access, no check that the target is reachable.
func Build(step plan.Step, sess session.Session, opts Options) string {
	host := opts.Host
	if host == "" {
		host = DefaultHost
	}
	return "https://" + host + "/?text=" + Escape(Message(step, sess, opts))
}

// Escape percent-encodes s for a query value, spaces as %20 rather than '+'.
func Escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
