// Package api exposes the scraper manager over HTTP for operators.
package api

import (
	"context"
	"net/http"

	"igfollowers/pkg/logger"
	"igfollowers/pkg/models"

	"github.com/go-chi/chi/v5"
)

// JobService is the part of the scraper manager the API drives
type JobService interface {
	StartScraping(ctx context.Context, target string, maxFollowers int) (uint, error)
	Resume(ctx context.Context, jobID uint) error
	GetStatus(ctx context.Context, jobID uint) (*models.StatusSnapshot, error)
	ListJobs(ctx context.Context, status models.Status) ([]*models.StatusSnapshot, error)
	Stop(ctx context.Context, jobID uint) (bool, error)
	StopAll(ctx context.Context) (int, error)
	Followers(ctx context.Context, jobID uint, limit, offset int) (*models.FollowerPage, error)
}

// Handler serves the job endpoints
type Handler struct {
	jobs   JobService
	logger logger.Logger
}

func NewHandler(jobs JobService, log logger.Logger) *Handler {
	return &Handler{
		jobs:   jobs,
		logger: logger.OrDefault(log).WithField("component", "api"),
	}
}

// NewRouter registers the routes and the middleware stack
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(handler.recoverMiddleware)
	r.Use(handler.loggingMiddleware)

	r.Get("/healthz", handler.healthz)

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", handler.listJobs)
		r.Post("/", handler.startJob)
		r.Post("/stop", handler.stopAll)
		r.Get("/{id}", handler.getJob)
		r.Get("/{id}/followers", handler.listFollowers)
		r.Post("/{id}/stop", handler.stopJob)
		r.Post("/{id}/resume", handler.resumeJob)
	})

	return r
}
