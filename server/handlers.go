package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"echofm/core/acquire"
	"echofm/core/scheduler"
	"echofm/errs"
	"echofm/logger"

	"github.com/gorilla/mux"
)

// APIHandler carries the acquisition service into the HTTP layer.
type APIHandler struct {
	service *acquire.Service
	sched   *scheduler.Scheduler
}

// NewAPIHandler creates the handler set.
func NewAPIHandler(service *acquire.Service, sched *scheduler.Scheduler) *APIHandler {
	return &APIHandler{service: service, sched: sched}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Failed to encode response", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"detail": message})
}

// mapError translates engine errors to HTTP statuses. Conflicts never reach
// here; the service degrades them to a "downloading" result.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrInvalidExternalID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrTrackNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		logger.Error("Request failed", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// RequestDownloadHandler is the acquisition intake endpoint.
func (h *APIHandler) RequestDownloadHandler(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	if userID == 0 {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	externalID := mux.Vars(r)["external_id"]

	result, err := h.service.RequestTrack(r.Context(), userID, externalID)
	if err != nil {
		mapError(w, err)
		return
	}
	status := http.StatusOK
	if result.Kind == acquire.ResultQueued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

// TrackStatusHandler reports a track's catalog state.
func (h *APIHandler) TrackStatusHandler(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.TrackStatus(r.Context(), mux.Vars(r)["external_id"])
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// PopularTracksHandler lists the most-shared completed tracks.
func (h *APIHandler) PopularTracksHandler(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	entries, err := h.service.Popular(r.Context(), limit)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// LibraryHandler lists the caller's library.
func (h *APIHandler) LibraryHandler(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	if userID == 0 {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	items, err := h.service.Library(r.Context(), userID)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// PlaybackHandler records one playback of an owned track.
func (h *APIHandler) PlaybackHandler(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	if userID == 0 {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := h.service.RecordPlayback(r.Context(), userID, mux.Vars(r)["external_id"]); err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// FavoriteHandler toggles the favorite flag on an owned track.
func (h *APIHandler) FavoriteHandler(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	if userID == 0 {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var body struct {
		Favorite bool `json:"favorite"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.service.SetFavorite(r.Context(), userID, mux.Vars(r)["external_id"], body.Favorite); err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// JobStatusHandler reports a job's lifecycle state.
func (h *APIHandler) JobStatusHandler(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	state, message, err := h.sched.JobStatus(r.Context(), jobID)
	if err != nil {
		mapError(w, err)
		return
	}
	if state == "" {
		writeError(w, http.StatusNotFound, "unknown job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"jobId":   jobID,
		"state":   string(state),
		"message": message,
	})
}

// RevokeJobHandler flags a job for cooperative cancellation.
func (h *APIHandler) RevokeJobHandler(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	if err := h.sched.Revoke(r.Context(), jobID); err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"jobId": jobID, "state": "revoke requested"})
}
