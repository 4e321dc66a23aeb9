// Package api exposes HTTP handlers for the progression service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/progression/internal/auth"
	"example.com/progression/internal/domain"
	"example.com/progression/internal/observability"
	"example.com/progression/internal/persistence"
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/activities", h.activities)
	mux.HandleFunc("/v1/activities/", h.activityByID)
	mux.HandleFunc("/v1/profile", h.profile)
	mux.HandleFunc("/v1/degradation/run", h.runDegradation)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) activities(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.logActivity(w, r)
	case http.MethodGet:
		h.listActivities(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) activityByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/activities/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing activity id")
		return
	}

	if id, ok := strings.CutSuffix(rest, "/preview"); ok {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
			return
		}
		h.previewDeletion(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getActivity(w, r, rest)
	case http.MethodDelete:
		h.deleteActivity(w, r, rest)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) logActivity(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeProgressionWrite)
	if !ok {
		return
	}

	var req LogActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	result, err := h.service.LogActivity(r.Context(), domain.LogActivityInput{
		UserID:       claims.Subject,
		ActivityType: req.ActivityType,
		DurationMin:  req.DurationMin,
		OccurredAt:   req.OccurredAt,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	observability.RecordActivityLogged(string(result.Entry.Type), result.LevelsGained)

	writeJSON(w, http.StatusCreated, LogActivityResponse{
		Activity:     toActivityView(result.Entry),
		StatGains:    statMap(result.StatGains),
		EXPGained:    result.EXPGained,
		LeveledUp:    result.LeveledUp,
		LevelsGained: result.LevelsGained,
		NewLevel:     result.NewLevel,
		NewEXP:       result.NewEXP,
	})
}

func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireReadScope(w, r)
	if !ok {
		return
	}

	entry, err := h.service.GetActivity(r.Context(), claims.Subject, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toActivityView(*entry))
}

func (h *Handler) deleteActivity(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeProgressionWrite)
	if !ok {
		return
	}

	result, err := h.service.DeleteActivityWithStatReversal(r.Context(), claims.Subject, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	observability.RecordActivityReversed(result.LevelsLost)

	writeJSON(w, http.StatusOK, ReversalResponse{
		Activity:     toActivityView(result.Activity),
		StatReversal: statMap(result.StatReversal),
		EXPReversed:  result.EXPReversed,
		LeveledDown:  result.LeveledDown,
		LevelsLost:   result.LevelsLost,
		NewLevel:     result.NewLevel,
		NewEXP:       result.NewEXP,
	})
}

func (h *Handler) previewDeletion(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireReadScope(w, r)
	if !ok {
		return
	}

	preview, err := h.service.PreviewActivityDeletion(r.Context(), claims.Subject, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := DeletionPreviewResponse{
		Valid:  preview.Valid,
		Reason: preview.Reason,
	}
	if preview.Valid {
		view := toActivityView(preview.Activity)
		resp.Activity = &view
		resp.StatReversal = statMap(preview.StatReversal)
		resp.EXPReversed = preview.EXPReversed
		resp.WillLevelDown = preview.WillLevelDown
		resp.LevelsLost = preview.LevelsLost
		resp.NewLevel = preview.NewLevel
		resp.NewEXP = preview.NewEXP
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireReadScope(w, r)
	if !ok {
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 100 {
				parsed = 100
			}
			limit = parsed
		}
	}

	cursorToken := r.URL.Query().Get("cursor")
	cursor, err := persistence.DecodeCursor(cursorToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	entries, next, err := h.service.ListActivities(r.Context(), claims.Subject, cursor, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]ActivityView, 0, len(entries))
	for _, entry := range entries {
		items = append(items, toActivityView(entry))
	}

	writeJSON(w, http.StatusOK, ListActivitiesResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := requireReadScope(w, r)
	if !ok {
		return
	}

	profile, err := h.service.GetProfile(r.Context(), claims.Subject)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	warnings := make([]StatWarningView, 0, len(profile.Warnings))
	for _, warning := range profile.Warnings {
		// Repair warnings fire once per corruption (the service persists the
		// repaired values); the performance advisory recurs and is not counted.
		if warning.Kind != domain.WarnPerformanceBand {
			observability.RecordStatWarning(string(warning.Kind))
		}
		warnings = append(warnings, StatWarningView{
			Stat:    string(warning.Stat),
			Kind:    string(warning.Kind),
			Value:   warning.Value,
			Message: warning.Message,
		})
	}

	writeJSON(w, http.StatusOK, ProfileResponse{
		UserID:       profile.User.ID,
		Level:        profile.User.Level,
		CurrentEXP:   profile.User.CurrentEXP,
		NextLevelEXP: profile.Threshold,
		Stats:        statMap(profile.Stats),
		Warnings:     warnings,
		ChartMax:     profile.ChartMax,
		LastActive:   profile.User.LastActive,
	})
}

func (h *Handler) runDegradation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := requireScope(w, r, auth.ScopeProgressionWrite)
	if !ok {
		return
	}

	outcome, err := h.service.RunDegradation(r.Context(), claims.Subject)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	applied := make(map[string]float64, len(outcome.Applied))
	for category, amount := range outcome.Applied {
		observability.RecordDegradation(string(category))
		applied[string(category)] = amount
	}

	writeJSON(w, http.StatusOK, DegradationResponse{
		Applied: applied,
		Level:   outcome.User.Level,
		Stats:   statMap(outcome.User.Stats),
	})
}

func requireScope(w http.ResponseWriter, r *http.Request, scope string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if !claims.HasScope(scope) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return nil, false
	}
	return claims, true
}

func requireReadScope(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if !claims.HasScope(auth.ScopeProgressionRead) && !claims.HasScope(auth.ScopeProgressionWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+auth.ScopeProgressionRead+" required")
		return nil, false
	}
	return claims, true
}

func writeDomainError(w http.ResponseWriter, err error) {
	var rollbackErr *domain.RollbackFailedError
	switch {
	case errors.As(err, &rollbackErr):
		observability.RecordRollbackFailure()
		writeError(w, http.StatusInternalServerError, "rollback_failed", rollbackErr.Error())
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrInconsistentState):
		writeError(w, http.StatusUnprocessableEntity, "inconsistent_state", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

// LogActivityRequest is the payload for POST /v1/activities.
type LogActivityRequest struct {
	ActivityType string    `json:"activity_type"`
	DurationMin  int       `json:"duration_min"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Validate ensures request correctness.
func (r LogActivityRequest) Validate() error {
	if strings.TrimSpace(r.ActivityType) == "" {
		return errors.New("activity_type is required")
	}
	if r.DurationMin < 0 {
		return errors.New("duration_min must be >= 0")
	}
	return nil
}

// ActivityView exposes one activity log entry.
type ActivityView struct {
	ActivityID   string             `json:"activity_id"`
	UserID       string             `json:"user_id"`
	ActivityType string             `json:"activity_type"`
	DurationMin  int                `json:"duration_min"`
	OccurredAt   time.Time          `json:"occurred_at"`
	StatGains    map[string]float64 `json:"stat_gains"`
	EXPGained    float64            `json:"exp_gained"`
	CreatedAt    time.Time          `json:"created_at"`
}

// LogActivityResponse describes the response body for POST /v1/activities.
type LogActivityResponse struct {
	Activity     ActivityView       `json:"activity"`
	StatGains    map[string]float64 `json:"stat_gains"`
	EXPGained    float64            `json:"exp_gained"`
	LeveledUp    bool               `json:"leveled_up"`
	LevelsGained int                `json:"levels_gained"`
	NewLevel     int                `json:"new_level"`
	NewEXP       float64            `json:"new_exp"`
}

// ReversalResponse describes the response body for DELETE /v1/activities/{id}.
type ReversalResponse struct {
	Activity     ActivityView       `json:"activity"`
	StatReversal map[string]float64 `json:"stat_reversal"`
	EXPReversed  float64            `json:"exp_reversed"`
	LeveledDown  bool               `json:"leveled_down"`
	LevelsLost   int                `json:"levels_lost"`
	NewLevel     int                `json:"new_level"`
	NewEXP       float64            `json:"new_exp"`
}

// DeletionPreviewResponse describes GET /v1/activities/{id}/preview.
type DeletionPreviewResponse struct {
	Valid         bool               `json:"valid"`
	Reason        string             `json:"reason,omitempty"`
	Activity      *ActivityView      `json:"activity,omitempty"`
	StatReversal  map[string]float64 `json:"stat_reversal,omitempty"`
	EXPReversed   float64            `json:"exp_reversed"`
	WillLevelDown bool               `json:"will_level_down"`
	LevelsLost    int                `json:"levels_lost"`
	NewLevel      int                `json:"new_level"`
	NewEXP        float64            `json:"new_exp"`
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items      []ActivityView `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// StatWarningView reports one sanitization warning.
type StatWarningView struct {
	Stat    string  `json:"stat"`
	Kind    string  `json:"kind"`
	Value   float64 `json:"value"`
	Message string  `json:"message"`
}

// ProfileResponse is the read model for GET /v1/profile.
type ProfileResponse struct {
	UserID       string             `json:"user_id"`
	Level        int                `json:"level"`
	CurrentEXP   float64            `json:"current_exp"`
	NextLevelEXP float64            `json:"next_level_exp"`
	Stats        map[string]float64 `json:"stats"`
	Warnings     []StatWarningView  `json:"warnings,omitempty"`
	ChartMax     float64            `json:"chart_max"`
	LastActive   time.Time          `json:"last_active"`
}

// DegradationResponse reports a completed sweep.
type DegradationResponse struct {
	Applied map[string]float64 `json:"applied"`
	Level   int                `json:"level"`
	Stats   map[string]float64 `json:"stats"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toActivityView(entry domain.ActivityLogEntry) ActivityView {
	return ActivityView{
		ActivityID:   entry.ID,
		UserID:       entry.UserID,
		ActivityType: string(entry.Type),
		DurationMin:  entry.DurationMin,
		OccurredAt:   entry.OccurredAt,
		StatGains:    statMap(entry.StatGains),
		EXPGained:    entry.EXPGained,
		CreatedAt:    entry.CreatedAt,
	}
}

func statMap(stats map[domain.StatType]float64) map[string]float64 {
	out := make(map[string]float64, len(stats))
	for stat, value := range stats {
		out[string(stat)] = value
	}
	return out
}
