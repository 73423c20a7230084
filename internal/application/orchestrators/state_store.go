package orchestrators

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"sync"

	"verrou/internal/adapters/storage/snapshot"
	"verrou/internal/domain/plan"
	"verrou/internal/domain/session"
)

// SnapshotPersister is the durable slot the state store mirrors into.
type SnapshotPersister interface {
	Load(ctx context.Context) (session.Session, error)
	Save(ctx context.Context, s session.Session) error
}

// ErrNotAdmin is returned by operations that need instructor mode.
var ErrNotAdmin = errors.New("instructor mode is required")

// CalibrationInput carries calibration fields keyed by session field name.
// Fields missing from the map keep their stored value.
type CalibrationInput map[string]string

// StateStoreDeps holds dependencies for the state store.
type StateStoreDeps struct {
	Persister SnapshotPersister
	AdminCode string
}

// StateStore is the single source of truth for the Session. Every mutation goes
// through it, is applied atomically and is mirrored to the persister.
// The admin prompt flag is UI state and is never persisted.
type StateStore struct {
	mu         sync.Mutex
	sess       session.Session
	promptOpen bool
	restored   bool
	persister  SnapshotPersister
	adminCode  string
}

// NewStateStore creates a store holding default state. Call Restore before serving.
// PRE: deps.Persister is non-nil; deps.AdminCode is non-empty
// POST: store holds session.Default(); nothing is persisted until Restore completes
func NewStateStore(deps StateStoreDeps) *StateStore {
	return &StateStore{
		sess:      session.Default(),
		persister: deps.Persister,
		adminCode: deps.AdminCode,
	}
}

// Restore loads the persisted snapshot, falling back to defaults when the slot is
// empty, corrupt or unreadable. It never fails.
// POST: store holds the restored (or default) session; later mutations persist
func (s *StateStore) Restore(ctx context.Context) session.Session {
	loaded, err := s.persister.Load(ctx)
	switch {
	case err == nil:
	case errors.Is(err, snapshot.ErrNotFound):
		loaded = session.Default()
	case errors.Is(err, snapshot.ErrCorrupt):
		slog.Warn("snapshot_corrupt", "error", err.Error())
		loaded = session.Default()
	default:
		slog.Error("snapshot_load_failed", "error", err.Error())
		loaded = session.Default()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = loaded.Clone()
	s.restored = true
	slog.Info("session_event", "event", "session_restored", "plan_generated", s.sess.PlanGenerated, "steps", len(s.sess.Plan))
	return s.sess.Clone()
}

// Session returns a copy of the current session.
func (s *StateStore) Session() session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.Clone()
}

// View returns a copy of the session together with the prompt flag, read under
// one lock so the pair is always consistent.
func (s *StateStore) View() (session.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.Clone(), s.promptOpen
}

// IsAdmin reports whether instructor mode is on.
func (s *StateStore) IsAdmin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.IsAdmin
}

// UpdateField edits one free-text calibration field.
// PRE: plan not generated
// POST: field updated and persisted; session.ErrPlanFrozen / ErrUnknownField leave state unchanged
func (s *StateStore) UpdateField(ctx context.Context, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sess.SetField(name, value); err != nil {
		return err
	}
	s.persistLocked(ctx)
	return nil
}

// UpdateCalibration applies the submitted calibration fields as one mutation.
// PRE: plan not generated
// POST: fields present in input updated and persisted once; session.ErrPlanFrozen or
// session.ErrUnknownField leave state unchanged
func (s *StateStore) UpdateCalibration(ctx context.Context, input CalibrationInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess.PlanGenerated {
		return session.ErrPlanFrozen
	}
	next, err := withCalibration(s.sess, input)
	if err != nil {
		return err
	}
	s.sess = next
	s.persistLocked(ctx)
	return nil
}

// GeneratePlan applies input (if any), validates the calibration and replaces the
// plan wholesale. Any previous progress is discarded; there is no merge. An empty
// input regenerates from the stored calibration.
// PRE: both tempos parse as integers; name and segment are non-empty
// POST: plan generated, PlanGenerated true, persisted once. On
// session.ErrInvalidCalibration the plan is untouched and submitted fields are kept.
// Fields sent after generation give session.ErrPlanFrozen with no change.
func (s *StateStore) GeneratePlan(ctx context.Context, input CalibrationInput) ([]plan.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := withCalibration(s.sess, input)
	if err != nil {
		return nil, err
	}
	cal, err := next.Calibration()
	if err != nil {
		slog.Info("plan_event", "event", "generation_refused", "reason", err.Error())
		if len(input) > 0 {
			s.sess = next
			s.persistLocked(ctx)
		}
		return nil, err
	}

	next.Plan = plan.Generate(cal.Baseline, cal.Rupture)
	next.PlanGenerated = true
	s.sess = next
	s.persistLocked(ctx)

	slog.Info("plan_event", "event", "plan_generated",
		"baseline", cal.Baseline, "rupture", cal.Rupture,
		"duration_days", plan.DurationDays(cal.Baseline, cal.Rupture), "steps", len(s.sess.Plan))
	return plan.Clone(s.sess.Plan), nil
}

// withCalibration returns a copy of sess with input applied. sess is not touched.
func withCalibration(sess session.Session, input CalibrationInput) (session.Session, error) {
	next := sess.Clone()
	applied := 0
	for _, name := range session.EditableFields {
		value, ok := input[name]
		if !ok {
			continue
		}
		if err := next.SetField(name, value); err != nil {
			return sess, err
		}
		applied++
	}
	if applied != len(input) {
		return sess, session.ErrUnknownField
	}
	return next, nil
}

// AuthenticateAdmin compares code with the static instructor code.
// This is a UI gate only: no lockout, no throttling, no audit trail.
// POST: on success IsAdmin true and prompt closed; on failure nothing changes
func (s *StateStore) AuthenticateAdmin(ctx context.Context, code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if subtle.ConstantTimeCompare([]byte(code), []byte(s.adminCode)) != 1 {
		slog.Info("admin_event", "event", "admin_login_failed")
		return false
	}
	s.sess.IsAdmin = true
	s.promptOpen = false
	s.persistLocked(ctx)
	slog.Info("admin_event", "event", "admin_login_success")
	return true
}

// ToggleAdminMode leaves instructor mode, or opens the code prompt when not in it.
// POST: admin -> IsAdmin false (persisted); non-admin -> prompt open
func (s *StateStore) ToggleAdminMode(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess.IsAdmin {
		s.sess.IsAdmin = false
		s.persistLocked(ctx)
		slog.Info("admin_event", "event", "admin_logout")
		return
	}
	s.promptOpen = true
}

// CloseAdminPrompt dismisses the code prompt without authenticating.
func (s *StateStore) CloseAdminPrompt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promptOpen = false
}

// ToggleStepCompletion flips completion on one step. Without instructor mode it is
// a no-op returning ErrNotAdmin. Unknown ids change nothing and report false.
// POST: only the matching step changes; neighbours keep their state
func (s *StateStore) ToggleStepCompletion(ctx context.Context, stepID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sess.IsAdmin {
		return false, ErrNotAdmin
	}
	if !s.sess.ToggleStep(stepID) {
		return false, nil
	}
	s.persistLocked(ctx)

	i := plan.IndexOf(s.sess.Plan, stepID)
	slog.Info("plan_event", "event", "step_toggled", "step_id", stepID,
		"completed", s.sess.Plan[i].Completed, "finished", plan.IsFinished(s.sess.Plan))
	return true, nil
}

// Reset wipes the session back to defaults, keeping the admin flag.
// PRE: confirmed must be true, otherwise nothing happens
// POST: defaults restored (IsAdmin preserved) and persisted
func (s *StateStore) Reset(ctx context.Context, confirmed bool) bool {
	if !confirmed {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess.Reset()
	s.persistLocked(ctx)
	slog.Info("session_event", "event", "session_reset", "is_admin", s.sess.IsAdmin)
	return true
}

// persistLocked writes the snapshot once Restore has run. Failures are logged and
// not retried; the in-memory state stands.
// PRE: s.mu is held
func (s *StateStore) persistLocked(ctx context.Context) {
	if !s.restored {
		return
	}
	if err := s.persister.Save(ctx, s.sess.Clone()); err != nil {
		slog.Error("snapshot_save_failed", "error", err.Error())
	}
}
