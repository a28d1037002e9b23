// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/conference-central/internal/apperr"
	"github.com/Shivanand-hulikatti/conference-central/internal/model"
	"github.com/Shivanand-hulikatti/conference-central/internal/service"
)

// ConferenceHandler holds all HTTP handlers for the conference API.
type ConferenceHandler struct {
	svc *service.ConferenceService
	log *zap.Logger
}

// NewConferenceHandler constructs a ConferenceHandler.
func NewConferenceHandler(svc *service.ConferenceService, log *zap.Logger) *ConferenceHandler {
	return &ConferenceHandler{svc: svc, log: log}
}

// Routes mounts the API on r.
func (h *ConferenceHandler) Routes(r chi.Router) {
	r.Get("/announcement", h.GetAnnouncement)

	r.Group(func(r chi.Router) {
		r.Use(RequireUser)
		r.Get("/profile", h.GetProfile)
		r.Post("/profile", h.SaveProfile)
	})

	r.Route("/conferences", func(r chi.Router) {
		r.Post("/query", h.QueryConferences)
		r.Get("/{key}", h.GetConference)

		r.Group(func(r chi.Router) {
			r.Use(RequireUser)
			r.Post("/", h.CreateConference)
			r.Get("/created", h.ConferencesCreated)
			r.Get("/attending", h.ConferencesToAttend)
			r.Put("/{key}", h.UpdateConference)
			r.Post("/{key}/registration", h.Register)
			r.Delete("/{key}/registration", h.Unregister)
		})
	})
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.Forbidden:
		return http.StatusForbidden
	case apperr.InvalidQuery, apperr.InvalidArgument:
		return http.StatusBadRequest
	case apperr.Unauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (h *ConferenceHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusOf(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, model.ErrorResponse{
		Error:  msg,
		Reason: apperr.ReasonOf(err),
		Kind:   kind.String(),
	})
}

func badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, model.ErrorResponse{
		Error:  "invalid request body: " + err.Error(),
		Reason: apperr.ErrInvalidArgument.Reason,
		Kind:   apperr.InvalidArgument.String(),
	})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func (h *ConferenceHandler) view(r *http.Request, c *model.Conference) model.ConferenceView {
	return model.ConferenceView{
		Conference:           c,
		WebsafeKey:           c.WebsafeKey(),
		OrganizerDisplayName: h.svc.OrganizerDisplayName(r.Context(), c),
	}
}

func (h *ConferenceHandler) views(r *http.Request, confs []*model.Conference) []model.ConferenceView {
	// Return an empty array rather than null for better client compatibility.
	out := make([]model.ConferenceView, 0, len(confs))
	for _, c := range confs {
		out = append(out, h.view(r, c))
	}
	return out
}

// ─── Profiles ─────────────────────────────────────────────────────────────────

// GetProfile handles GET /profile
func (h *ConferenceHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetProfile(r.Context(), UserFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// SaveProfile handles POST /profile
// Creates the caller's profile or updates its display name and shirt size.
func (h *ConferenceHandler) SaveProfile(w http.ResponseWriter, r *http.Request) {
	var form model.ProfileForm
	if err := decodeJSON(r, &form); err != nil {
		badRequest(w, err)
		return
	}
	p, err := h.svc.SaveProfile(r.Context(), UserFrom(r.Context()), form)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetAnnouncement handles GET /announcement
// Responds 204 when no announcement is cached.
func (h *ConferenceHandler) GetAnnouncement(w http.ResponseWriter, r *http.Request) {
	a, ok := h.svc.Announcement(r.Context())
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ─── Conferences ──────────────────────────────────────────────────────────────

// CreateConference handles POST /conferences
func (h *ConferenceHandler) CreateConference(w http.ResponseWriter, r *http.Request) {
	var form model.ConferenceForm
	if err := decodeJSON(r, &form); err != nil {
		badRequest(w, err)
		return
	}
	c, err := h.svc.CreateConference(r.Context(), UserFrom(r.Context()), form)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.view(r, c))
}

// GetConference handles GET /conferences/{key}
func (h *ConferenceHandler) GetConference(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.GetConference(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(r, c))
}

// UpdateConference handles PUT /conferences/{key}
// Only the organizer may update; absent fields are left untouched.
func (h *ConferenceHandler) UpdateConference(w http.ResponseWriter, r *http.Request) {
	var form model.ConferenceForm
	if err := decodeJSON(r, &form); err != nil {
		badRequest(w, err)
		return
	}
	c, err := h.svc.UpdateConference(r.Context(), UserFrom(r.Context()), chi.URLParam(r, "key"), form)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(r, c))
}

// QueryConferences handles POST /conferences/query
func (h *ConferenceHandler) QueryConferences(w http.ResponseWriter, r *http.Request) {
	var form model.ConferenceQueryForm
	if err := decodeJSON(r, &form); err != nil {
		badRequest(w, err)
		return
	}
	confs, err := h.svc.QueryConferences(r.Context(), form)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.views(r, confs))
}

// ConferencesCreated handles GET /conferences/created
func (h *ConferenceHandler) ConferencesCreated(w http.ResponseWriter, r *http.Request) {
	confs, err := h.svc.ConferencesCreated(r.Context(), UserFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.views(r, confs))
}

// ConferencesToAttend handles GET /conferences/attending
func (h *ConferenceHandler) ConferencesToAttend(w http.ResponseWriter, r *http.Request) {
	confs, err := h.svc.ConferencesToAttend(r.Context(), UserFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.views(r, confs))
}

// ─── Registration ─────────────────────────────────────────────────────────────

// Register handles POST /conferences/{key}/registration
// Books one seat for the caller.
func (h *ConferenceHandler) Register(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Register(r.Context(), UserFrom(r.Context()), chi.URLParam(r, "key")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.WrappedBoolean{Result: true})
}

// Unregister handles DELETE /conferences/{key}/registration
// Releases the caller's seat.
func (h *ConferenceHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Unregister(r.Context(), UserFrom(r.Context()), chi.URLParam(r, "key")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.WrappedBoolean{Result: true})
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
