package casework

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/linnemanlabs/beacon/internal/geo"
)

var tracer = otel.Tracer("github.com/linnemanlabs/beacon/internal/casework")

const (
	// ProximityRadiusMeters is the maximum great-circle distance for two
	// cases to count as the same cluster. The boundary is inclusive.
	ProximityRadiusMeters = 500

	// MinClusterSize is the smallest cluster (subject plus neighbors) that
	// forms a group.
	MinClusterSize = 3

	// maxGroupingAttempts bounds retries on transient write conflicts.
	maxGroupingAttempts = 3

	groupDescription = "Proximity group"

	// UpdateSourceEngine identifies audit records written by the engine.
	UpdateSourceEngine = "grouping_engine"
)

// Outcome is the result of one grouping evaluation. Exactly one of
// MemberCaseIDs (group formed) or CandidateCaseIDs (no group) is populated,
// subject first, neighbors by ascending case ID.
type Outcome struct {
	GroupCreated     bool    `json:"group_created"`
	GroupID          int64   `json:"group_id,omitempty"`
	MemberCaseIDs    []int64 `json:"member_case_ids,omitempty"`
	CandidateCaseIDs []int64 `json:"candidate_case_ids,omitempty"`
}

// Engine decides, for a newly opened case, whether it belongs with other
// open cases reporting the same incident. It holds no state between calls;
// all shared state lives in the Store.
type Engine struct {
	store   Store
	logger  log.Logger
	metrics *Metrics
}

// NewEngine creates a grouping engine. metrics may be nil.
func NewEngine(store Store, logger log.Logger, metrics *Metrics) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
}

// Evaluate runs the proximity-grouping decision for caseID. The case must
// exist, be open, and have no group; otherwise ErrNotFound or
// ErrInvalidState. The read-candidates-then-write sequence executes as one
// serializable transaction and is retried in full on transient conflicts.
func (e *Engine) Evaluate(ctx context.Context, caseID int64) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "casework.Evaluate")
	defer span.End()
	span.SetAttributes(attribute.Int64("beacon.case.id", caseID))

	start := time.Now()
	outcome, err := e.evaluate(ctx, caseID)

	label := outcomeLabel(outcome, err)
	span.SetAttributes(attribute.String("beacon.grouping.outcome", label))
	if e.metrics != nil {
		e.metrics.GroupingsTotal.WithLabelValues(label).Inc()
		e.metrics.GroupingDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if outcome.GroupCreated {
		span.SetAttributes(attribute.Int64("beacon.group.id", outcome.GroupID))
		e.logger.Info(ctx, "proximity group created",
			"case_id", caseID,
			"group_id", outcome.GroupID,
			"members", len(outcome.MemberCaseIDs),
		)
	} else {
		e.logger.Info(ctx, "no group formed",
			"case_id", caseID,
			"candidates", len(outcome.CandidateCaseIDs),
		)
	}
	return outcome, nil
}

func (e *Engine) evaluate(ctx context.Context, caseID int64) (*Outcome, error) {
	var lastErr error
	for attempt := 1; attempt <= maxGroupingAttempts; attempt++ {
		var outcome *Outcome
		err := e.store.Grouping(ctx, func(tx GroupingTx) error {
			var err error
			outcome, err = e.decide(ctx, tx, caseID)
			return err
		})
		if err == nil {
			return outcome, nil
		}
		if !errors.Is(err, ErrTransientConflict) {
			return nil, err
		}
		lastErr = err
		if e.metrics != nil {
			e.metrics.GroupingRetries.Inc()
		}
		e.logger.Warn(ctx, "grouping transaction conflict, retrying",
			"case_id", caseID,
			"attempt", attempt,
		)
	}
	return nil, fmt.Errorf("grouping for case %d: conflict retries exhausted: %w", caseID, lastErr)
}

// decide runs steps read-subject, read-candidates, filter, and (maybe)
// commit-group inside one transaction.
func (e *Engine) decide(ctx context.Context, tx GroupingTx, caseID int64) (*Outcome, error) {
	subject, err := tx.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if subject.Status != CaseOpen {
		return nil, fmt.Errorf("%w: case %d is %s, want open", ErrInvalidState, caseID, subject.Status)
	}
	if subject.GroupID != nil {
		return nil, fmt.Errorf("%w: case %d already in group %d", ErrInvalidState, caseID, *subject.GroupID)
	}

	open, err := tx.ListOpenCases(ctx, caseID)
	if err != nil {
		return nil, err
	}

	// Cases already bound to a group stay with it; they are excluded from
	// the candidate pool rather than reassigned.
	var nearby []int64
	for _, c := range open {
		if c.GroupID != nil {
			continue
		}
		if geo.Within(subject.Location, c.Location, ProximityRadiusMeters) {
			nearby = append(nearby, c.ID)
		}
	}
	sort.Slice(nearby, func(i, j int) bool { return nearby[i] < nearby[j] })

	if e.metrics != nil {
		e.metrics.GroupingCandidates.Observe(float64(len(nearby)))
	}

	if len(nearby)+1 < MinClusterSize {
		return &Outcome{
			GroupCreated:     false,
			CandidateCaseIDs: append([]int64{caseID}, nearby...),
		}, nil
	}

	groupID, err := tx.NextGroupID(ctx)
	if err != nil {
		return nil, err
	}

	group := &CaseGroup{
		ID:          groupID,
		Description: groupDescription,
		Status:      GroupOpen,
		CreatedAt:   time.Now().UTC(),
	}
	if err := tx.CreateCaseGroup(ctx, group); err != nil {
		return nil, err
	}

	members := append([]int64{caseID}, nearby...)
	for _, id := range members {
		if err := tx.SetCaseGroup(ctx, id, groupID); err != nil {
			return nil, err
		}
	}

	if err := tx.AppendUpdate(ctx, &Update{
		ID:        ulid.Make().String(),
		GroupID:   &groupID,
		CaseID:    &caseID,
		Source:    UpdateSourceEngine,
		Type:      "group_created",
		Text:      fmt.Sprintf("grouped %d cases within %dm of case %d", len(members), ProximityRadiusMeters, caseID),
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.GroupSize.Observe(float64(len(members)))
	}

	return &Outcome{
		GroupCreated:  true,
		GroupID:       groupID,
		MemberCaseIDs: members,
	}, nil
}

func outcomeLabel(o *Outcome, err error) string {
	switch {
	case err == nil && o.GroupCreated:
		return "group_created"
	case err == nil:
		return "no_group"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	default:
		return "error"
	}
}
