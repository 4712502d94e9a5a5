// Package memstore provides an in-memory implementation of casework.Store.
// Suitable for dev and testing; grouping transactions run under the write
// lock, which is trivially serializable.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/beacon/internal/casework"
)

// Store holds casework state in memory.
type Store struct {
	mu sync.RWMutex

	emergencies map[int64]*casework.Emergency
	groups      map[int64]*casework.CaseGroup
	cases       map[int64]*casework.Case
	assignments map[int64]*casework.Assignment
	updates     []*casework.Update

	nextEmergencyID  int64
	nextCaseID       int64
	nextAssignmentID int64
}

// New initializes an empty in-memory Store.
func New() *Store {
	return &Store{
		emergencies: make(map[int64]*casework.Emergency),
		groups:      make(map[int64]*casework.CaseGroup),
		cases:       make(map[int64]*casework.Case),
		assignments: make(map[int64]*casework.Assignment),
	}
}

// CreateEmergency stores a new emergency, allocating its ID and start time.
func (s *Store) CreateEmergency(_ context.Context, e *casework.Emergency) (*casework.Emergency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextEmergencyID++
	cp := *e
	cp.ID = s.nextEmergencyID
	if cp.StartedAt.IsZero() {
		cp.StartedAt = time.Now().UTC()
	}
	s.emergencies[cp.ID] = &cp
	out := cp
	return &out, nil
}

// GetEmergency retrieves an emergency by ID. Returns a copy.
func (s *Store) GetEmergency(_ context.Context, id int64) (*casework.Emergency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.emergencies[id]
	if !ok {
		return nil, fmt.Errorf("emergency %d: %w", id, casework.ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

// ResolveEmergency moves an active emergency to resolved.
func (s *Store) ResolveEmergency(_ context.Context, id int64, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.emergencies[id]
	if !ok {
		return fmt.Errorf("emergency %d: %w", id, casework.ErrNotFound)
	}
	if e.Status != casework.EmergencyActive {
		return fmt.Errorf("%w: emergency %d is %s", casework.ErrInvalidState, id, e.Status)
	}
	e.Status = casework.EmergencyResolved
	e.EndedAt = &endedAt
	return nil
}

// CreateCase stores a candidate as a new open, ungrouped case.
func (s *Store) CreateCase(_ context.Context, cand *casework.CaseCandidate) (*casework.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextCaseID++
	c := &casework.Case{
		ID:              s.nextCaseID,
		CallerID:        cand.CallerID,
		ReporterID:      cand.ReporterID,
		Location:        cand.Location,
		Description:     cand.Description,
		Narrative:       cand.Narrative,
		PeopleCount:     cand.PeopleCount,
		Mobility:        cand.Mobility,
		Vulnerabilities: append([]casework.VulnerabilityFactor(nil), cand.Vulnerabilities...),
		Urgency:         cand.Urgency,
		Danger:          cand.Danger,
		Status:          casework.CaseOpen,
		CreatedAt:       time.Now().UTC(),
	}
	s.cases[c.ID] = c
	return copyCase(c), nil
}

// GetCase retrieves a case by ID. Returns a copy.
func (s *Store) GetCase(_ context.Context, id int64) (*casework.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getCaseLocked(id)
}

// ListOpenCases returns every open case except excludeID, ordered by ID.
func (s *Store) ListOpenCases(_ context.Context, excludeID int64) ([]*casework.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listOpenLocked(excludeID), nil
}

// TransitionCase compare-and-sets a case status.
func (s *Store) TransitionCase(_ context.Context, id int64, from, to casework.CaseStatus, resolvedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return fmt.Errorf("case %d: %w", id, casework.ErrNotFound)
	}
	if c.Status != from {
		return fmt.Errorf("%w: case %d is %s, want %s", casework.ErrInvalidState, id, c.Status, from)
	}
	c.Status = to
	if to == casework.CaseResolved {
		c.ResolvedAt = resolvedAt
	}
	return nil
}

// GetCaseGroup retrieves a group by ID. Returns a copy.
func (s *Store) GetCaseGroup(_ context.Context, id int64) (*casework.CaseGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, fmt.Errorf("case group %d: %w", id, casework.ErrNotFound)
	}
	cp := *g
	return &cp, nil
}

// ListGroupCases returns the member cases of a group, ordered by ID.
func (s *Store) ListGroupCases(_ context.Context, groupID int64) ([]*casework.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*casework.Case
	for _, c := range s.cases {
		if c.GroupID != nil && *c.GroupID == groupID {
			out = append(out, copyCase(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CloseCaseGroup moves an open group to closed.
func (s *Store) CloseCaseGroup(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return fmt.Errorf("case group %d: %w", id, casework.ErrNotFound)
	}
	if g.Status != casework.GroupOpen {
		return fmt.Errorf("%w: case group %d is %s", casework.ErrInvalidState, id, g.Status)
	}
	g.Status = casework.GroupClosed
	return nil
}

// CreateAssignment stores a new assignment, allocating its ID.
func (s *Store) CreateAssignment(_ context.Context, a *casework.Assignment) (*casework.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[a.CaseID]; !ok {
		return nil, fmt.Errorf("case %d: %w", a.CaseID, casework.ErrNotFound)
	}
	s.nextAssignmentID++
	cp := *a
	cp.ID = s.nextAssignmentID
	s.assignments[cp.ID] = &cp
	out := cp
	return &out, nil
}

// CompleteAssignment records an assignment's completion and outcome.
func (s *Store) CompleteAssignment(_ context.Context, id int64, completedAt time.Time, outcome string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[id]
	if !ok {
		return fmt.Errorf("assignment %d: %w", id, casework.ErrNotFound)
	}
	if a.CompletedAt != nil {
		return fmt.Errorf("%w: assignment %d already completed", casework.ErrInvalidState, id)
	}
	a.CompletedAt = &completedAt
	a.Outcome = outcome
	return nil
}

// AppendUpdate appends an immutable audit record.
func (s *Store) AppendUpdate(_ context.Context, u *casework.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.updates = append(s.updates, &cp)
	return nil
}

// ListUpdatesByCase returns audit records referencing a case, oldest first.
func (s *Store) ListUpdatesByCase(_ context.Context, caseID int64) ([]*casework.Update, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*casework.Update
	for _, u := range s.updates {
		if u.CaseID != nil && *u.CaseID == caseID {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Grouping runs fn under the write lock. Reads and writes inside fn see and
// mutate one consistent state, and fn never observes concurrent grouping.
// There is no rollback: the engine only writes after its decision is final,
// and a decision error leaves nothing written.
func (s *Store) Grouping(_ context.Context, fn func(tx casework.GroupingTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&groupingTx{s: s})
}

type groupingTx struct {
	s *Store
}

func (t *groupingTx) GetCase(_ context.Context, id int64) (*casework.Case, error) {
	return t.s.getCaseLocked(id)
}

func (t *groupingTx) ListOpenCases(_ context.Context, excludeID int64) ([]*casework.Case, error) {
	return t.s.listOpenLocked(excludeID), nil
}

func (t *groupingTx) NextGroupID(_ context.Context) (int64, error) {
	var max int64
	for id := range t.s.groups {
		if id > max {
			max = id
		}
	}
	return max + 1, nil
}

func (t *groupingTx) CreateCaseGroup(_ context.Context, g *casework.CaseGroup) error {
	if _, ok := t.s.groups[g.ID]; ok {
		return fmt.Errorf("%w: case group %d exists", casework.ErrTransientConflict, g.ID)
	}
	cp := *g
	t.s.groups[g.ID] = &cp
	return nil
}

func (t *groupingTx) SetCaseGroup(_ context.Context, caseID, groupID int64) error {
	c, ok := t.s.cases[caseID]
	if !ok {
		return fmt.Errorf("case %d: %w", caseID, casework.ErrNotFound)
	}
	if c.GroupID != nil {
		return fmt.Errorf("%w: case %d already in group %d", casework.ErrInvalidState, caseID, *c.GroupID)
	}
	gid := groupID
	c.GroupID = &gid
	return nil
}

func (t *groupingTx) AppendUpdate(_ context.Context, u *casework.Update) error {
	cp := *u
	t.s.updates = append(t.s.updates, &cp)
	return nil
}

func (s *Store) getCaseLocked(id int64) (*casework.Case, error) {
	c, ok := s.cases[id]
	if !ok {
		return nil, fmt.Errorf("case %d: %w", id, casework.ErrNotFound)
	}
	return copyCase(c), nil
}

func (s *Store) listOpenLocked(excludeID int64) []*casework.Case {
	var out []*casework.Case
	for _, c := range s.cases {
		if c.Status == casework.CaseOpen && c.ID != excludeID {
			out = append(out, copyCase(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func copyCase(c *casework.Case) *casework.Case {
	cp := *c
	if c.GroupID != nil {
		gid := *c.GroupID
		cp.GroupID = &gid
	}
	if c.ResolvedAt != nil {
		ts := *c.ResolvedAt
		cp.ResolvedAt = &ts
	}
	cp.Vulnerabilities = append([]casework.VulnerabilityFactor(nil), c.Vulnerabilities...)
	return &cp
}
