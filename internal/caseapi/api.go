// Package caseapi exposes casework over HTTP.
package caseapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/beacon/internal/casework"
)

// CaseService defines the business operations caseapi needs.
type CaseService interface {
	SubmitReport(ctx context.Context, rep *casework.Report) (*casework.Submission, error)
	SubmitCandidate(ctx context.Context, cand *casework.CaseCandidate) (*casework.Submission, error)
	GetCase(ctx context.Context, id int64) (*casework.Case, error)
	EvaluateGrouping(ctx context.Context, caseID int64) (*casework.Outcome, error)
	GetGroup(ctx context.Context, id int64) (*casework.CaseGroup, []*casework.Case, error)
	AssignCase(ctx context.Context, caseID, helperID int64) (*casework.Assignment, error)
	ResolveCase(ctx context.Context, caseID int64) error
	CloseGroup(ctx context.Context, groupID int64) error
	CreateEmergency(ctx context.Context, e *casework.Emergency) (*casework.Emergency, error)
	GetEmergency(ctx context.Context, id int64) (*casework.Emergency, error)
	ResolveEmergency(ctx context.Context, id int64) error
	ListCaseUpdates(ctx context.Context, caseID int64) ([]*casework.Update, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    CaseService
}

// New creates a new API handler.
func New(logger log.Logger, svc CaseService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("case service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/reports", a.handleSubmitReport)
		r.Post("/cases", a.handleSubmitCase)
		r.Get("/cases/{id}", a.handleGetCase)
		r.Post("/cases/{id}/assign", a.handleAssignCase)
		r.Post("/cases/{id}/evaluate", a.handleEvaluateGrouping)
		r.Post("/cases/{id}/resolve", a.handleResolveCase)
		r.Get("/cases/{id}/updates", a.handleListCaseUpdates)
		r.Get("/groups/{id}", a.handleGetGroup)
		r.Post("/groups/{id}/close", a.handleCloseGroup)
		r.Post("/emergencies", a.handleCreateEmergency)
		r.Get("/emergencies/{id}", a.handleGetEmergency)
		r.Post("/emergencies/{id}/resolve", a.handleResolveEmergency)
	})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the casework error taxonomy onto HTTP statuses. Failures
// are always distinguishable from a legitimate "no group formed" body.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, casework.ErrNotFound):
		a.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, casework.ErrInvalidInput):
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, casework.ErrInvalidState), errors.Is(err, casework.ErrInvalidTransition):
		a.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		a.logger.Error(r.Context(), err, "internal error", "path", r.URL.Path)
		a.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, errors.Join(casework.ErrInvalidInput, err)
	}
	return id, nil
}
