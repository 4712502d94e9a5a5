package caseapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/beacon/internal/casework"
)

func (a *API) handleSubmitReport(w http.ResponseWriter, r *http.Request) {
	var rep casework.Report
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		a.writeError(w, r, fmt.Errorf("%w: %v", casework.ErrInvalidInput, err))
		return
	}
	if rep.Narrative == "" {
		a.writeError(w, r, fmt.Errorf("%w: narrative is required", casework.ErrInvalidInput))
		return
	}

	sub, err := a.svc.SubmitReport(r.Context(), &rep)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.annotateSubmission(r, sub)
	a.writeJSON(w, http.StatusCreated, sub)
}

func (a *API) handleSubmitCase(w http.ResponseWriter, r *http.Request) {
	var cand casework.CaseCandidate
	if err := json.NewDecoder(r.Body).Decode(&cand); err != nil {
		a.writeError(w, r, fmt.Errorf("%w: %v", casework.ErrInvalidInput, err))
		return
	}

	sub, err := a.svc.SubmitCandidate(r.Context(), &cand)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.annotateSubmission(r, sub)
	a.writeJSON(w, http.StatusCreated, sub)
}

func (a *API) annotateSubmission(r *http.Request, sub *casework.Submission) {
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.Int64("beacon.case.id", sub.Case.ID))
	if sub.Grouping != nil && sub.Grouping.GroupCreated {
		span.SetAttributes(attribute.Int64("beacon.group.id", sub.Grouping.GroupID))
	}
}

func (a *API) handleGetCase(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.Int64("beacon.case.id", id))

	c, err := a.svc.GetCase(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, c)
}

func (a *API) handleEvaluateGrouping(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.Int64("beacon.case.id", id))

	outcome, err := a.svc.EvaluateGrouping(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if outcome.GroupCreated {
		span.SetAttributes(attribute.Int64("beacon.group.id", outcome.GroupID))
	}
	a.writeJSON(w, http.StatusOK, outcome)
}

func (a *API) handleAssignCase(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	var req struct {
		HelperID int64 `json:"helper_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, r, fmt.Errorf("%w: %v", casework.ErrInvalidInput, err))
		return
	}
	if req.HelperID == 0 {
		a.writeError(w, r, fmt.Errorf("%w: helper_id is required", casework.ErrInvalidInput))
		return
	}

	assignment, err := a.svc.AssignCase(r.Context(), id, req.HelperID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, assignment)
}

func (a *API) handleResolveCase(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.svc.ResolveCase(r.Context(), id); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": string(casework.CaseResolved)})
}

func (a *API) handleListCaseUpdates(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	updates, err := a.svc.ListCaseUpdates(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"updates": updates})
}

func (a *API) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	group, members, err := a.svc.GetGroup(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"group": group,
		"cases": members,
	})
}

func (a *API) handleCloseGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.svc.CloseGroup(r.Context(), id); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": string(casework.GroupClosed)})
}

func (a *API) handleCreateEmergency(w http.ResponseWriter, r *http.Request) {
	var e casework.Emergency
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		a.writeError(w, r, fmt.Errorf("%w: %v", casework.ErrInvalidInput, err))
		return
	}
	if e.Name == "" || e.Area == "" || e.Category == "" {
		a.writeError(w, r, fmt.Errorf("%w: name, area, and category are required", casework.ErrInvalidInput))
		return
	}

	created, err := a.svc.CreateEmergency(r.Context(), &e)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleGetEmergency(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	e, err := a.svc.GetEmergency(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, e)
}

func (a *API) handleResolveEmergency(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.svc.ResolveEmergency(r.Context(), id); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": string(casework.EmergencyResolved)})
}
