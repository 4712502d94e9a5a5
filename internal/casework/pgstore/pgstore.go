// Package pgstore provides a PostgreSQL implementation of casework.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/beacon/internal/casework"
	"github.com/linnemanlabs/beacon/internal/geo"
)

var tracer = otel.Tracer("github.com/linnemanlabs/beacon/internal/casework/pgstore")

//go:embed schema.sql
var schema string

// Store persists casework state in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store on the given pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so reads can run
// either standalone or inside a grouping transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const caseColumns = `id, caller_id, reporter_id, group_id, location, description, narrative,
	people_count, mobility_status, vulnerability_factors, urgency, danger_level,
	status, created_at, resolved_at`

// CreateEmergency inserts a new emergency.
func (s *Store) CreateEmergency(ctx context.Context, e *casework.Emergency) (*casework.Emergency, error) {
	ctx, span := s.startSpan(ctx, "pgstore.CreateEmergency", "INSERT")
	defer span.End()

	out := *e
	err := s.pool.QueryRow(ctx,
		`INSERT INTO emergencies (name, area, category, status, severity)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, started_at`,
		e.Name, e.Area, e.Category, string(e.Status), e.Severity,
	).Scan(&out.ID, &out.StartedAt)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("insert emergency: %w", err))
	}
	return &out, nil
}

// GetEmergency retrieves an emergency by ID.
func (s *Store) GetEmergency(ctx context.Context, id int64) (*casework.Emergency, error) {
	ctx, span := s.startSpan(ctx, "pgstore.GetEmergency", "SELECT")
	defer span.End()

	var (
		e      casework.Emergency
		status string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, area, category, status, severity, started_at, ended_at
		 FROM emergencies WHERE id = $1`, id,
	).Scan(&e.ID, &e.Name, &e.Area, &e.Category, &status, &e.Severity, &e.StartedAt, &e.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("emergency %d: %w", id, casework.ErrNotFound)
	}
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("scan emergency: %w", err))
	}
	e.Status = casework.EmergencyStatus(status)
	return &e, nil
}

// ResolveEmergency moves an active emergency to resolved (compare-and-set).
func (s *Store) ResolveEmergency(ctx context.Context, id int64, endedAt time.Time) error {
	ctx, span := s.startSpan(ctx, "pgstore.ResolveEmergency", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE emergencies SET status = $1, ended_at = $2 WHERE id = $3 AND status = $4`,
		string(casework.EmergencyResolved), endedAt, id, string(casework.EmergencyActive),
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("resolve emergency: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return s.explainMissedUpdate(ctx, "emergencies", id)
	}
	return nil
}

// CreateCase inserts a validated candidate as an open, ungrouped case.
func (s *Store) CreateCase(ctx context.Context, cand *casework.CaseCandidate) (*casework.Case, error) {
	ctx, span := s.startSpan(ctx, "pgstore.CreateCase", "INSERT")
	defer span.End()

	vulnJSON, err := json.Marshal(cand.Vulnerabilities)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("marshal vulnerability factors: %w", err))
	}

	c := &casework.Case{
		CallerID:        cand.CallerID,
		ReporterID:      cand.ReporterID,
		Location:        cand.Location,
		Description:     cand.Description,
		Narrative:       cand.Narrative,
		PeopleCount:     cand.PeopleCount,
		Mobility:        cand.Mobility,
		Vulnerabilities: cand.Vulnerabilities,
		Urgency:         cand.Urgency,
		Danger:          cand.Danger,
		Status:          casework.CaseOpen,
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO cases (caller_id, reporter_id, location, description, narrative,
		                    people_count, mobility_status, vulnerability_factors, urgency, danger_level, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id, created_at`,
		cand.CallerID, cand.ReporterID, cand.Location.String(), cand.Description, cand.Narrative,
		cand.PeopleCount, string(cand.Mobility), vulnJSON, string(cand.Urgency), string(cand.Danger),
		string(casework.CaseOpen),
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("insert case: %w", err))
	}
	return c, nil
}

// GetCase retrieves a case by ID.
func (s *Store) GetCase(ctx context.Context, id int64) (*casework.Case, error) {
	ctx, span := s.startSpan(ctx, "pgstore.GetCase", "SELECT")
	defer span.End()

	c, err := getCase(ctx, s.pool, id)
	if err != nil {
		return nil, spanErr(span, err)
	}
	return c, nil
}

// ListOpenCases returns open cases except excludeID, ordered by ID.
func (s *Store) ListOpenCases(ctx context.Context, excludeID int64) ([]*casework.Case, error) {
	ctx, span := s.startSpan(ctx, "pgstore.ListOpenCases", "SELECT")
	defer span.End()

	out, err := listOpenCases(ctx, s.pool, excludeID)
	if err != nil {
		return nil, spanErr(span, err)
	}
	return out, nil
}

// TransitionCase compare-and-sets a case status.
func (s *Store) TransitionCase(ctx context.Context, id int64, from, to casework.CaseStatus, resolvedAt *time.Time) error {
	ctx, span := s.startSpan(ctx, "pgstore.TransitionCase", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE cases SET status = $1, resolved_at = $2 WHERE id = $3 AND status = $4`,
		string(to), resolvedAt, id, string(from),
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("transition case: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return s.explainMissedUpdate(ctx, "cases", id)
	}
	return nil
}

// GetCaseGroup retrieves a group by ID.
func (s *Store) GetCaseGroup(ctx context.Context, id int64) (*casework.CaseGroup, error) {
	ctx, span := s.startSpan(ctx, "pgstore.GetCaseGroup", "SELECT")
	defer span.End()

	var (
		g      casework.CaseGroup
		status string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, emergency_id, description, status, created_at FROM case_groups WHERE id = $1`, id,
	).Scan(&g.ID, &g.EmergencyID, &g.Description, &status, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("case group %d: %w", id, casework.ErrNotFound)
	}
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("scan case group: %w", err))
	}
	g.Status = casework.GroupStatus(status)
	return &g, nil
}

// ListGroupCases returns a group's member cases, ordered by ID.
func (s *Store) ListGroupCases(ctx context.Context, groupID int64) ([]*casework.Case, error) {
	ctx, span := s.startSpan(ctx, "pgstore.ListGroupCases", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE group_id = $1 ORDER BY id`, groupID)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query group cases: %w", err))
	}
	out, err := scanCases(rows)
	if err != nil {
		return nil, spanErr(span, err)
	}
	return out, nil
}

// CloseCaseGroup moves an open group to closed (compare-and-set). Groups are
// never deleted here.
func (s *Store) CloseCaseGroup(ctx context.Context, id int64) error {
	ctx, span := s.startSpan(ctx, "pgstore.CloseCaseGroup", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE case_groups SET status = $1 WHERE id = $2 AND status = $3`,
		string(casework.GroupClosed), id, string(casework.GroupOpen),
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("close case group: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return s.explainMissedUpdate(ctx, "case_groups", id)
	}
	return nil
}

// CreateAssignment inserts a new assignment.
func (s *Store) CreateAssignment(ctx context.Context, a *casework.Assignment) (*casework.Assignment, error) {
	ctx, span := s.startSpan(ctx, "pgstore.CreateAssignment", "INSERT")
	defer span.End()

	out := *a
	err := s.pool.QueryRow(ctx,
		`INSERT INTO assignments (case_id, helper_id, assigned_at) VALUES ($1, $2, $3) RETURNING id`,
		a.CaseID, a.HelperID, a.AssignedAt,
	).Scan(&out.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("case %d: %w", a.CaseID, casework.ErrNotFound)
		}
		return nil, spanErr(span, fmt.Errorf("insert assignment: %w", err))
	}
	return &out, nil
}

// CompleteAssignment records completion time and outcome, once.
func (s *Store) CompleteAssignment(ctx context.Context, id int64, completedAt time.Time, outcome string) error {
	ctx, span := s.startSpan(ctx, "pgstore.CompleteAssignment", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE assignments SET completed_at = $1, outcome = $2 WHERE id = $3 AND completed_at IS NULL`,
		completedAt, outcome, id,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("complete assignment: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return s.explainMissedUpdate(ctx, "assignments", id)
	}
	return nil
}

// AppendUpdate inserts an immutable audit record.
func (s *Store) AppendUpdate(ctx context.Context, u *casework.Update) error {
	ctx, span := s.startSpan(ctx, "pgstore.AppendUpdate", "INSERT")
	defer span.End()

	if err := appendUpdate(ctx, s.pool, u); err != nil {
		return spanErr(span, err)
	}
	return nil
}

// ListUpdatesByCase returns audit records referencing a case, oldest first.
func (s *Store) ListUpdatesByCase(ctx context.Context, caseID int64) ([]*casework.Update, error) {
	ctx, span := s.startSpan(ctx, "pgstore.ListUpdatesByCase", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, emergency_id, case_group_id, case_id, assignment_id, source, type, body, created_at
		 FROM updates WHERE case_id = $1 ORDER BY created_at`, caseID)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query updates: %w", err))
	}
	defer rows.Close()

	var out []*casework.Update
	for rows.Next() {
		var u casework.Update
		if err := rows.Scan(&u.ID, &u.EmergencyID, &u.GroupID, &u.CaseID, &u.AssignmentID,
			&u.Source, &u.Type, &u.Text, &u.CreatedAt); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan update: %w", err))
		}
		out = append(out, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate updates: %w", err))
	}
	return out, nil
}

// Grouping runs fn inside a serializable transaction. Serialization failures
// and deadlocks surface as casework.ErrTransientConflict so the engine can
// redo its reads.
func (s *Store) Grouping(ctx context.Context, fn func(tx casework.GroupingTx) error) error {
	ctx, span := s.startSpan(ctx, "pgstore.Grouping", "TRANSACTION")
	defer span.End()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return spanErr(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if err := fn(&groupingTx{tx: tx}); err != nil {
		if isSerializationFailure(err) {
			return spanErr(span, fmt.Errorf("%w: %v", casework.ErrTransientConflict, err))
		}
		return spanErr(span, err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isSerializationFailure(err) {
			return spanErr(span, fmt.Errorf("%w: %v", casework.ErrTransientConflict, err))
		}
		return spanErr(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

type groupingTx struct {
	tx pgx.Tx
}

func (t *groupingTx) GetCase(ctx context.Context, id int64) (*casework.Case, error) {
	return getCase(ctx, t.tx, id)
}

func (t *groupingTx) ListOpenCases(ctx context.Context, excludeID int64) ([]*casework.Case, error) {
	return listOpenCases(ctx, t.tx, excludeID)
}

func (t *groupingTx) NextGroupID(ctx context.Context) (int64, error) {
	var next int64
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM case_groups`).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next group id: %w", err)
	}
	return next, nil
}

func (t *groupingTx) CreateCaseGroup(ctx context.Context, g *casework.CaseGroup) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO case_groups (id, emergency_id, description, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		g.ID, g.EmergencyID, g.Description, string(g.Status), g.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// Another grouping call took this id first.
			return fmt.Errorf("%w: group id %d taken", casework.ErrTransientConflict, g.ID)
		}
		return fmt.Errorf("insert case group: %w", err)
	}
	return nil
}

func (t *groupingTx) SetCaseGroup(ctx context.Context, caseID, groupID int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE cases SET group_id = $1 WHERE id = $2 AND group_id IS NULL`,
		groupID, caseID,
	)
	if err != nil {
		return fmt.Errorf("set case group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: case %d grouped concurrently", casework.ErrTransientConflict, caseID)
	}
	return nil
}

func (t *groupingTx) AppendUpdate(ctx context.Context, u *casework.Update) error {
	return appendUpdate(ctx, t.tx, u)
}

func getCase(ctx context.Context, q querier, id int64) (*casework.Case, error) {
	c, err := scanCase(q.QueryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("case %d: %w", id, casework.ErrNotFound)
	}
	return c, err
}

func listOpenCases(ctx context.Context, q querier, excludeID int64) ([]*casework.Case, error) {
	rows, err := q.Query(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE status = $1 AND id <> $2 ORDER BY id`,
		string(casework.CaseOpen), excludeID)
	if err != nil {
		return nil, fmt.Errorf("query open cases: %w", err)
	}
	return scanCases(rows)
}

func appendUpdate(ctx context.Context, q querier, u *casework.Update) error {
	_, err := q.Exec(ctx,
		`INSERT INTO updates (id, emergency_id, case_group_id, case_id, assignment_id, source, type, body, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.EmergencyID, u.GroupID, u.CaseID, u.AssignmentID, u.Source, u.Type, u.Text, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert update: %w", err)
	}
	return nil
}

func scanCases(rows pgx.Rows) ([]*casework.Case, error) {
	defer rows.Close()
	var out []*casework.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	return out, nil
}

func scanCase(row pgx.Row) (*casework.Case, error) {
	var (
		c        casework.Case
		location string
		mobility string
		vulnJSON []byte
		urgency  string
		danger   string
		status   string
	)
	err := row.Scan(
		&c.ID, &c.CallerID, &c.ReporterID, &c.GroupID, &location, &c.Description, &c.Narrative,
		&c.PeopleCount, &mobility, &vulnJSON, &urgency, &danger,
		&status, &c.CreatedAt, &c.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan case: %w", err)
	}

	p, err := geo.ParsePoint(location)
	if err != nil {
		// A stored location that does not parse is corrupt data, not a
		// (0,0) default.
		return nil, fmt.Errorf("%w: case %d: %v", casework.ErrInvalidInput, c.ID, err)
	}
	c.Location = p

	if err := json.Unmarshal(vulnJSON, &c.Vulnerabilities); err != nil {
		return nil, fmt.Errorf("%w: case %d: vulnerability factors: %v", casework.ErrInvalidInput, c.ID, err)
	}

	c.Mobility = casework.MobilityStatus(mobility)
	c.Urgency = casework.Urgency(urgency)
	c.Danger = casework.DangerLevel(danger)
	c.Status = casework.CaseStatus(status)
	return &c, nil
}

// explainMissedUpdate turns a zero-row compare-and-set into ErrNotFound or
// ErrInvalidState depending on whether the row exists at all.
func (s *Store) explainMissedUpdate(ctx context.Context, table string, id int64) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check %s %d: %w", table, id, err)
	}
	if !exists {
		return fmt.Errorf("%s %d: %w", table, id, casework.ErrNotFound)
	}
	return fmt.Errorf("%w: %s %d not in expected status", casework.ErrInvalidState, table, id)
}

func (s *Store) startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 40001 serialization_failure, 40P01 deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return errors.Is(err, casework.ErrTransientConflict)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
