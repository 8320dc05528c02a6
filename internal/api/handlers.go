package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	errs "igfollowers/pkg/errors"
	"igfollowers/pkg/instagram"
	"igfollowers/pkg/models"
	"igfollowers/pkg/scraper"
	"igfollowers/pkg/storage"

	"github.com/go-chi/chi/v5"
)

const (
	maxBodyBytes         = 1 << 20
	defaultFollowerLimit = 50
	maxFollowerLimit     = 500
)

type startJobRequest struct {
	TargetUsername string `json:"target_username"`
	MaxFollowers   int    `json:"max_followers"`
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, http.StatusOK, "ok")
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	status := models.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("unknown status %q", status))
		return
	}

	jobs, err := h.jobs.ListJobs(r.Context(), status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, jobs)
}

func (h *Handler) startJob(w http.ResponseWriter, r *http.Request) {
	var req startJobRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	target := instagram.SanitizeUsername(req.TargetUsername)
	if !instagram.IsValidUsername(target) {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("invalid target username %q", req.TargetUsername))
		return
	}
	if req.MaxFollowers <= 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "max_followers must be positive")
		return
	}

	id, err := h.jobs.StartScraping(r.Context(), target, req.MaxFollowers)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	snapshot, err := h.jobs.GetStatus(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, snapshot)
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	snapshot, err := h.jobs.GetStatus(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, snapshot)
}

func (h *Handler) listFollowers(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", defaultFollowerLimit)
	if err == nil && (limit == 0 || limit > maxFollowerLimit) {
		err = fmt.Errorf("limit must be between 1 and %d", maxFollowerLimit)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	page, err := h.jobs.Followers(r.Context(), id, limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, page)
}

func (h *Handler) stopJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	stopped, err := h.jobs.Stop(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !stopped {
		writeError(w, http.StatusConflict, "JOB_NOT_RUNNING", fmt.Sprintf("job %d is not running", id))
		return
	}
	snapshot, err := h.jobs.GetStatus(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, snapshot)
}

func (h *Handler) resumeJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	if err := h.jobs.Resume(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	snapshot, err := h.jobs.GetStatus(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusAccepted, snapshot)
}

func (h *Handler) stopAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.jobs.StopAll(r.Context())
	if err != nil {
		// some jobs may have stopped anyway
		h.logger.WithError(err).WithField("stopped", n).Warn("Stop all finished with errors")
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]int{"stopped": n})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	if status >= 500 {
		h.logger.WithError(err).WithField("request_id", requestIDFromContext(r.Context())).Error("Request failed")
	}
	writeError(w, status, code, msg)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "resource not found"
	case errors.Is(err, scraper.ErrJobNotRunning):
		return http.StatusConflict, "JOB_NOT_RUNNING", err.Error()
	case errors.Is(err, scraper.ErrJobActive):
		return http.StatusConflict, "JOB_ACTIVE", err.Error()
	case errors.Is(err, scraper.ErrNoCredentials), errors.Is(err, scraper.ErrClosed):
		return http.StatusServiceUnavailable, "UNAVAILABLE", err.Error()
	case errs.Is(err, errs.KindNotFound):
		return http.StatusNotFound, "TARGET_NOT_FOUND", err.Error()
	case errs.Is(err, errs.KindRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED", err.Error()
	case errs.Is(err, errs.KindChallengeRequired), errs.Is(err, errs.KindChallengeUnresolved),
		errs.Is(err, errs.KindAuthenticationFailed):
		return http.StatusBadGateway, "LOGIN_FAILED", err.Error()
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}
}

func jobID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("invalid job id %q", raw))
		return 0, false
	}
	return uint(id), true
}

// queryInt parses a non-negative integer query parameter, def when absent
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", name, raw)
	}
	return n, nil
}

func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
