package casework

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

// Intake is the collaborator that turns a raw report into a structured,
// validated case candidate.
type Intake interface {
	Extract(ctx context.Context, rep *Report) (*CaseCandidate, error)
}

// Notifier delivers out-of-band notifications about formed groups.
type Notifier interface {
	GroupFormed(ctx context.Context, group *CaseGroup, memberIDs []int64) error
}

// Submission is the result of submitting a case. Grouping is populated when
// the evaluation ran to a decision; GroupingError carries the failure
// otherwise, so "no group needed" stays distinguishable from "grouping could
// not be evaluated".
type Submission struct {
	Case          *Case    `json:"case"`
	Grouping      *Outcome `json:"grouping,omitempty"`
	GroupingError string   `json:"grouping_error,omitempty"`
}

// Service is the business boundary for casework operations.
type Service struct {
	store    Store
	engine   *Engine
	intake   Intake
	logger   log.Logger
	metrics  *Metrics
	notifier Notifier
}

// NewService creates a casework service. intake, metrics, and notifier may
// be nil.
func NewService(store Store, engine *Engine, intake Intake, logger log.Logger, metrics *Metrics, notifier Notifier) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:    store,
		engine:   engine,
		intake:   intake,
		logger:   logger,
		metrics:  metrics,
		notifier: notifier,
	}
}

// SubmitReport runs intake on a raw report and submits the resulting
// candidate.
func (s *Service) SubmitReport(ctx context.Context, rep *Report) (*Submission, error) {
	if s.intake == nil {
		return nil, fmt.Errorf("%w: no intake provider configured", ErrInvalidState)
	}
	if err := rep.Location.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	start := time.Now()
	cand, err := s.intake.Extract(ctx, rep)
	if s.metrics != nil {
		s.metrics.IntakeDuration.Observe(time.Since(start).Seconds())
		s.metrics.IntakeTotal.WithLabelValues(intakeResult(err)).Inc()
	}
	if err != nil {
		return nil, fmt.Errorf("intake: %w", err)
	}
	return s.SubmitCandidate(ctx, cand)
}

// SubmitCandidate persists a validated candidate as an open case and runs the
// grouping evaluation on it. The case stands even if grouping fails; the
// failure is reported in the submission.
func (s *Service) SubmitCandidate(ctx context.Context, cand *CaseCandidate) (*Submission, error) {
	if err := cand.Validate(); err != nil {
		if s.metrics != nil {
			s.metrics.SubmitsTotal.WithLabelValues("invalid").Inc()
		}
		return nil, err
	}

	c, err := s.store.CreateCase(ctx, cand)
	if err != nil {
		if s.metrics != nil {
			s.metrics.SubmitsTotal.WithLabelValues("store_error").Inc()
		}
		return nil, fmt.Errorf("create case: %w", err)
	}

	if s.metrics != nil {
		s.metrics.CasesCreated.WithLabelValues(string(c.Urgency)).Inc()
		s.metrics.SubmitsTotal.WithLabelValues("accepted").Inc()
	}

	s.appendUpdate(ctx, &Update{
		CaseID: &c.ID,
		Source: "case_service",
		Type:   "case_created",
		Text:   fmt.Sprintf("case opened at %s, urgency %s", c.Location, c.Urgency),
	})

	sub := &Submission{Case: c}

	outcome, err := s.engine.Evaluate(ctx, c.ID)
	if err != nil {
		s.logger.Error(ctx, err, "grouping evaluation failed", "case_id", c.ID)
		sub.GroupingError = err.Error()
		return sub, nil
	}
	sub.Grouping = outcome

	if outcome.GroupCreated && s.notifier != nil {
		group, err := s.store.GetCaseGroup(ctx, outcome.GroupID)
		if err != nil {
			s.logger.Error(ctx, err, "fetch group for notification", "group_id", outcome.GroupID)
			return sub, nil
		}
		members := outcome.MemberCaseIDs
		// Fire and forget; notification failures never affect the submission.
		go func(ctx context.Context) {
			if err := s.notifier.GroupFormed(ctx, group, members); err != nil {
				s.logger.Error(ctx, err, "group notification failed", "group_id", group.ID)
			}
		}(context.WithoutCancel(ctx))
	}

	return sub, nil
}

// EvaluateGrouping re-runs the grouping decision for an existing case. Same
// preconditions as Engine.Evaluate.
func (s *Service) EvaluateGrouping(ctx context.Context, caseID int64) (*Outcome, error) {
	return s.engine.Evaluate(ctx, caseID)
}

// GetCase retrieves a case by ID.
func (s *Service) GetCase(ctx context.Context, id int64) (*Case, error) {
	return s.store.GetCase(ctx, id)
}

// GetGroup retrieves a group and its member cases.
func (s *Service) GetGroup(ctx context.Context, id int64) (*CaseGroup, []*Case, error) {
	g, err := s.store.GetCaseGroup(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	members, err := s.store.ListGroupCases(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return g, members, nil
}

// AssignCase binds a helper to an open case and advances it to assigned.
func (s *Service) AssignCase(ctx context.Context, caseID, helperID int64) (*Assignment, error) {
	if err := ValidateCaseTransition(CaseOpen, CaseAssigned); err != nil {
		return nil, err
	}
	if err := s.store.TransitionCase(ctx, caseID, CaseOpen, CaseAssigned, nil); err != nil {
		return nil, err
	}

	a, err := s.store.CreateAssignment(ctx, &Assignment{
		CaseID:     caseID,
		HelperID:   helperID,
		AssignedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("create assignment: %w", err)
	}

	s.appendUpdate(ctx, &Update{
		CaseID:       &caseID,
		AssignmentID: &a.ID,
		Source:       "case_service",
		Type:         "case_assigned",
		Text:         fmt.Sprintf("helper %d assigned to case %d", helperID, caseID),
	})
	return a, nil
}

// ResolveCase advances an assigned case to resolved, stamping resolved_at.
func (s *Service) ResolveCase(ctx context.Context, caseID int64) error {
	if err := ValidateCaseTransition(CaseAssigned, CaseResolved); err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := s.store.TransitionCase(ctx, caseID, CaseAssigned, CaseResolved, &now); err != nil {
		return err
	}
	s.appendUpdate(ctx, &Update{
		CaseID: &caseID,
		Source: "case_service",
		Type:   "case_resolved",
	})
	return nil
}

// CompleteAssignment records the outcome of an assignment.
func (s *Service) CompleteAssignment(ctx context.Context, id int64, outcome string) error {
	return s.store.CompleteAssignment(ctx, id, time.Now().UTC(), outcome)
}

// CloseGroup closes an open group. This is the group-management action; the
// engine itself never closes groups.
func (s *Service) CloseGroup(ctx context.Context, groupID int64) error {
	if err := s.store.CloseCaseGroup(ctx, groupID); err != nil {
		return err
	}
	s.appendUpdate(ctx, &Update{
		GroupID: &groupID,
		Source:  "case_service",
		Type:    "group_closed",
	})
	return nil
}

// CreateEmergency opens a new top-level emergency.
func (s *Service) CreateEmergency(ctx context.Context, e *Emergency) (*Emergency, error) {
	if e.Status == "" {
		e.Status = EmergencyActive
	}
	if e.Status != EmergencyActive {
		return nil, fmt.Errorf("%w: new emergency must be active, got %q", ErrInvalidInput, e.Status)
	}
	return s.store.CreateEmergency(ctx, e)
}

// GetEmergency retrieves an emergency by ID.
func (s *Service) GetEmergency(ctx context.Context, id int64) (*Emergency, error) {
	return s.store.GetEmergency(ctx, id)
}

// ResolveEmergency moves an active emergency to resolved.
func (s *Service) ResolveEmergency(ctx context.Context, id int64) error {
	if err := ValidateEmergencyTransition(EmergencyActive, EmergencyResolved); err != nil {
		return err
	}
	return s.store.ResolveEmergency(ctx, id, time.Now().UTC())
}

// ListCaseUpdates returns the audit trail for a case.
func (s *Service) ListCaseUpdates(ctx context.Context, caseID int64) ([]*Update, error) {
	return s.store.ListUpdatesByCase(ctx, caseID)
}

// appendUpdate writes an audit record; failures are logged, never fatal to
// the operation being audited.
func (s *Service) appendUpdate(ctx context.Context, u *Update) {
	u.ID = ulid.Make().String()
	u.CreatedAt = time.Now().UTC()
	if err := s.store.AppendUpdate(ctx, u); err != nil {
		s.logger.Error(ctx, err, "append update failed", "update_type", u.Type)
	}
}

func intakeResult(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
