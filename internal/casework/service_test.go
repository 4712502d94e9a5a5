package casework_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/beacon/internal/casework"
	"github.com/linnemanlabs/beacon/internal/casework/memstore"
	"github.com/linnemanlabs/beacon/internal/geo"
)

type fakeIntake struct {
	cand *casework.CaseCandidate
	err  error

	gotReport *casework.Report
}

func (f *fakeIntake) Extract(_ context.Context, rep *casework.Report) (*casework.CaseCandidate, error) {
	f.gotReport = rep
	if f.err != nil {
		return nil, f.err
	}
	return f.cand, nil
}

type fakeNotifier struct {
	called chan struct{}

	group   *casework.CaseGroup
	members []int64
	err     error
}

func (f *fakeNotifier) GroupFormed(_ context.Context, group *casework.CaseGroup, memberIDs []int64) error {
	f.group = group
	f.members = memberIDs
	close(f.called)
	return f.err
}

func newService(store casework.Store, intake casework.Intake, notifier casework.Notifier) *casework.Service {
	engine := casework.NewEngine(store, log.Nop(), nil)
	return casework.NewService(store, engine, intake, log.Nop(), nil, notifier)
}

func TestSubmitCandidate_CreatesOpenCase(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc := newService(store, nil, nil)
	ctx := context.Background()

	sub, err := svc.SubmitCandidate(ctx, testCandidate(37.7749, -122.4194))
	if err != nil {
		t.Fatalf("SubmitCandidate: %v", err)
	}

	if sub.Case == nil || sub.Case.ID == 0 {
		t.Fatalf("submission case = %+v, want persisted case", sub.Case)
	}
	if sub.Case.Status != casework.CaseOpen {
		t.Errorf("case status = %q, want %q", sub.Case.Status, casework.CaseOpen)
	}
	if sub.Case.GroupID != nil {
		t.Errorf("case GroupID = %d, want nil", *sub.Case.GroupID)
	}
	if sub.Grouping == nil {
		t.Fatal("submission Grouping = nil, want evaluated outcome")
	}
	if sub.Grouping.GroupCreated {
		t.Error("GroupCreated = true, want false for the only case")
	}

	ups, err := store.ListUpdatesByCase(ctx, sub.Case.ID)
	if err != nil {
		t.Fatalf("ListUpdatesByCase: %v", err)
	}
	if len(ups) != 1 || ups[0].Type != "case_created" {
		t.Errorf("updates = %+v, want one case_created record", ups)
	}
}

func TestEvaluateGrouping_OnDemand(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc := newService(store, nil, nil)
	ctx := context.Background()

	subject := mustCreate(t, store, 0, 0)
	mustCreate(t, store, 100*metersLat, 0)
	mustCreate(t, store, 200*metersLat, 0)

	outcome, err := svc.EvaluateGrouping(ctx, subject.ID)
	if err != nil {
		t.Fatalf("EvaluateGrouping: %v", err)
	}
	if !outcome.GroupCreated {
		t.Fatal("GroupCreated = false, want a group of three")
	}
	if len(outcome.MemberCaseIDs) != 3 {
		t.Errorf("members = %v, want 3 cases", outcome.MemberCaseIDs)
	}

	_, err = svc.EvaluateGrouping(ctx, subject.ID)
	if !errors.Is(err, casework.ErrInvalidState) {
		t.Errorf("re-evaluating a grouped case: err = %v, want ErrInvalidState", err)
	}
}

func TestSubmitCandidate_Invalid(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc := newService(store, nil, nil)

	cand := testCandidate(0, 0)
	cand.Urgency = "asap"

	_, err := svc.SubmitCandidate(context.Background(), cand)
	if !errors.Is(err, casework.ErrInvalidInput) {
		t.Fatalf("SubmitCandidate error = %v, want ErrInvalidInput", err)
	}
	if _, err := store.GetCase(context.Background(), 1); !errors.Is(err, casework.ErrNotFound) {
		t.Errorf("GetCase(1) error = %v, want ErrNotFound (nothing persisted)", err)
	}
}

func TestSubmitCandidate_GroupingFailureKeepsCase(t *testing.T) {
	t.Parallel()

	inner := memstore.New()
	store := &flakyStore{Store: inner, failures: 100}
	svc := newService(store, nil, nil)

	sub, err := svc.SubmitCandidate(context.Background(), testCandidate(0, 0))
	if err != nil {
		t.Fatalf("SubmitCandidate: %v", err)
	}
	if sub.Case == nil {
		t.Fatal("submission case = nil, want persisted case")
	}
	if sub.Grouping != nil {
		t.Errorf("Grouping = %+v, want nil when evaluation failed", sub.Grouping)
	}
	if sub.GroupingError == "" {
		t.Error("GroupingError empty, want conflict description")
	}
}

func TestSubmitCandidate_NotifiesOnGroupFormation(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	notifier := &fakeNotifier{called: make(chan struct{})}
	svc := newService(store, nil, notifier)
	ctx := context.Background()

	if _, err := svc.SubmitCandidate(ctx, testCandidate(0, 0)); err != nil {
		t.Fatalf("SubmitCandidate: %v", err)
	}
	if _, err := svc.SubmitCandidate(ctx, testCandidate(100*metersLat, 0)); err != nil {
		t.Fatalf("SubmitCandidate: %v", err)
	}

	sub, err := svc.SubmitCandidate(ctx, testCandidate(200*metersLat, 0))
	if err != nil {
		t.Fatalf("SubmitCandidate: %v", err)
	}
	if sub.Grouping == nil || !sub.Grouping.GroupCreated {
		t.Fatalf("Grouping = %+v, want group created on third case", sub.Grouping)
	}

	select {
	case <-notifier.called:
	case <-time.After(5 * time.Second):
		t.Fatal("notifier was not called")
	}

	if notifier.group == nil || notifier.group.ID != sub.Grouping.GroupID {
		t.Errorf("notified group = %+v, want id %d", notifier.group, sub.Grouping.GroupID)
	}
	if len(notifier.members) != 3 {
		t.Errorf("notified members = %v, want 3", notifier.members)
	}
}

func TestSubmitReport_NoIntakeConfigured(t *testing.T) {
	t.Parallel()

	svc := newService(memstore.New(), nil, nil)

	_, err := svc.SubmitReport(context.Background(), &casework.Report{
		Narrative: "basement flooding fast",
		Location:  geo.Point{Lat: 1, Lng: 1},
	})
	if !errors.Is(err, casework.ErrInvalidState) {
		t.Errorf("SubmitReport error = %v, want ErrInvalidState", err)
	}
}

func TestSubmitReport_InvalidLocation(t *testing.T) {
	t.Parallel()

	intake := &fakeIntake{cand: testCandidate(1, 1)}
	svc := newService(memstore.New(), intake, nil)

	_, err := svc.SubmitReport(context.Background(), &casework.Report{
		Narrative: "help",
		Location:  geo.Point{Lat: 95, Lng: 0},
	})
	if !errors.Is(err, casework.ErrInvalidInput) {
		t.Errorf("SubmitReport error = %v, want ErrInvalidInput", err)
	}
	if intake.gotReport != nil {
		t.Error("intake was called for a report with an invalid location")
	}
}

func TestSubmitReport_IntakeError(t *testing.T) {
	t.Parallel()

	boom := fmt.Errorf("model unavailable")
	svc := newService(memstore.New(), &fakeIntake{err: boom}, nil)

	_, err := svc.SubmitReport(context.Background(), &casework.Report{
		Narrative: "help",
		Location:  geo.Point{Lat: 1, Lng: 1},
	})
	if !errors.Is(err, boom) {
		t.Errorf("SubmitReport error = %v, want wrapped %v", err, boom)
	}
}

func TestSubmitReport_Success(t *testing.T) {
	t.Parallel()

	intake := &fakeIntake{cand: testCandidate(12.5, 45.5)}
	svc := newService(memstore.New(), intake, nil)

	rep := &casework.Report{
		Narrative: "three people on a roof, water rising",
		Location:  geo.Point{Lat: 12.5, Lng: 45.5},
	}
	sub, err := svc.SubmitReport(context.Background(), rep)
	if err != nil {
		t.Fatalf("SubmitReport: %v", err)
	}
	if intake.gotReport != rep {
		t.Error("intake did not receive the submitted report")
	}
	if sub.Case == nil || sub.Case.Location != rep.Location {
		t.Errorf("case = %+v, want location %v", sub.Case, rep.Location)
	}
}

func TestAssignCase(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc := newService(store, nil, nil)
	ctx := context.Background()

	sub, err := svc.SubmitCandidate(ctx, testCandidate(5, 5))
	if err != nil {
		t.Fatalf("SubmitCandidate: %v", err)
	}

	a, err := svc.AssignCase(ctx, sub.Case.ID, 77)
	if err != nil {
		t.Fatalf("AssignCase: %v", err)
	}
	if a.HelperID != 77 || a.CaseID != sub.Case.ID {
		t.Errorf("assignment = %+v, want helper 77 on case %d", a, sub.Case.ID)
	}

	c, err := svc.GetCase(ctx, sub.Case.ID)
	if err != nil {
		t.Fatalf("GetCase: %v", err)
	}
	if c.Status != casework.CaseAssigned {
		t.Errorf("case status = %q, want %q", c.Status, casework.CaseAssigned)
	}

	// A second assignment on the same case must fail the status check.
	if _, err := svc.AssignCase(ctx, sub.Case.ID, 78); !errors.Is(err, casework.ErrInvalidState) {
		t.Errorf("second AssignCase error = %v, want ErrInvalidState", err)
	}

	// Assigning a missing case is NotFound.
	if _, err := svc.AssignCase(ctx, 999, 77); !errors.Is(err, casework.ErrNotFound) {
		t.Errorf("AssignCase(999) error = %v, want ErrNotFound", err)
	}
}

func TestResolveCase(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc := newService(store, nil, nil)
	ctx := context.Background()

	sub, err := svc.SubmitCandidate(ctx, testCandidate(5, 5))
	if err != nil {
		t.Fatalf("SubmitCandidate: %v", err)
	}

	// Resolving an open case skips assigned and must be refused.
	if err := svc.ResolveCase(ctx, sub.Case.ID); !errors.Is(err, casework.ErrInvalidState) {
		t.Errorf("ResolveCase(open) error = %v, want ErrInvalidState", err)
	}

	if _, err := svc.AssignCase(ctx, sub.Case.ID, 77); err != nil {
		t.Fatalf("AssignCase: %v", err)
	}
	if err := svc.ResolveCase(ctx, sub.Case.ID); err != nil {
		t.Fatalf("ResolveCase: %v", err)
	}

	c, err := svc.GetCase(ctx, sub.Case.ID)
	if err != nil {
		t.Fatalf("GetCase: %v", err)
	}
	if c.Status != casework.CaseResolved {
		t.Errorf("case status = %q, want %q", c.Status, casework.CaseResolved)
	}
	if c.ResolvedAt == nil {
		t.Error("ResolvedAt = nil, want timestamp")
	}

	// Resolved is terminal.
	if err := svc.ResolveCase(ctx, sub.Case.ID); !errors.Is(err, casework.ErrInvalidState) {
		t.Errorf("second ResolveCase error = %v, want ErrInvalidState", err)
	}
}

func TestGetGroupAndCloseGroup(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc := newService(store, nil, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.SubmitCandidate(ctx, testCandidate(float64(i*100)*metersLat, 0)); err != nil {
			t.Fatalf("SubmitCandidate: %v", err)
		}
	}
	sub, err := svc.SubmitCandidate(ctx, testCandidate(200*metersLat, 0))
	if err != nil {
		t.Fatalf("SubmitCandidate: %v", err)
	}
	if sub.Grouping == nil || !sub.Grouping.GroupCreated {
		t.Fatalf("Grouping = %+v, want group", sub.Grouping)
	}

	group, members, err := svc.GetGroup(ctx, sub.Grouping.GroupID)
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if group.Status != casework.GroupOpen {
		t.Errorf("group status = %q, want %q", group.Status, casework.GroupOpen)
	}
	if len(members) != 3 {
		t.Errorf("group members = %d, want 3", len(members))
	}

	if err := svc.CloseGroup(ctx, group.ID); err != nil {
		t.Fatalf("CloseGroup: %v", err)
	}
	if err := svc.CloseGroup(ctx, group.ID); !errors.Is(err, casework.ErrInvalidState) {
		t.Errorf("second CloseGroup error = %v, want ErrInvalidState", err)
	}
	if err := svc.CloseGroup(ctx, 999); !errors.Is(err, casework.ErrNotFound) {
		t.Errorf("CloseGroup(999) error = %v, want ErrNotFound", err)
	}
}

func TestEmergencyLifecycle(t *testing.T) {
	t.Parallel()

	svc := newService(memstore.New(), nil, nil)
	ctx := context.Background()

	e, err := svc.CreateEmergency(ctx, &casework.Emergency{
		Name:     "river flood",
		Area:     "old town",
		Category: "flood",
	})
	if err != nil {
		t.Fatalf("CreateEmergency: %v", err)
	}
	if e.Status != casework.EmergencyActive {
		t.Errorf("status = %q, want %q (defaulted)", e.Status, casework.EmergencyActive)
	}

	if _, err := svc.CreateEmergency(ctx, &casework.Emergency{
		Name:   "bad",
		Status: casework.EmergencyResolved,
	}); !errors.Is(err, casework.ErrInvalidInput) {
		t.Errorf("CreateEmergency(resolved) error = %v, want ErrInvalidInput", err)
	}

	if err := svc.ResolveEmergency(ctx, e.ID); err != nil {
		t.Fatalf("ResolveEmergency: %v", err)
	}
	got, err := svc.GetEmergency(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetEmergency: %v", err)
	}
	if got.Status != casework.EmergencyResolved || got.EndedAt == nil {
		t.Errorf("emergency = %+v, want resolved with end time", got)
	}

	if err := svc.ResolveEmergency(ctx, e.ID); !errors.Is(err, casework.ErrInvalidState) {
		t.Errorf("second ResolveEmergency error = %v, want ErrInvalidState", err)
	}
}

func TestCompleteAssignment(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc := newService(store, nil, nil)
	ctx := context.Background()

	sub, err := svc.SubmitCandidate(ctx, testCandidate(5, 5))
	if err != nil {
		t.Fatalf("SubmitCandidate: %v", err)
	}
	a, err := svc.AssignCase(ctx, sub.Case.ID, 77)
	if err != nil {
		t.Fatalf("AssignCase: %v", err)
	}

	if err := svc.CompleteAssignment(ctx, a.ID, "family evacuated"); err != nil {
		t.Fatalf("CompleteAssignment: %v", err)
	}
	if err := svc.CompleteAssignment(ctx, a.ID, "again"); !errors.Is(err, casework.ErrInvalidState) {
		t.Errorf("second CompleteAssignment error = %v, want ErrInvalidState", err)
	}
}
