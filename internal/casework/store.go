package casework

import (
	"context"
	"time"
)

// Store is the persistence interface for casework. Implementations must make
// each method atomic and must return wrapped taxonomy errors: ErrNotFound for
// missing rows, ErrInvalidState for failed status preconditions,
// ErrInvalidInput for unreadable stored data, ErrTransientConflict for
// retryable write contention.
type Store interface {
	CreateEmergency(ctx context.Context, e *Emergency) (*Emergency, error)
	GetEmergency(ctx context.Context, id int64) (*Emergency, error)
	// ResolveEmergency moves an active emergency to resolved and stamps
	// its end time.
	ResolveEmergency(ctx context.Context, id int64, endedAt time.Time) error

	// CreateCase persists a validated candidate with status open and no
	// group, allocating its ID and creation time.
	CreateCase(ctx context.Context, cand *CaseCandidate) (*Case, error)
	GetCase(ctx context.Context, id int64) (*Case, error)
	// ListOpenCases returns every open case except excludeID, ordered by
	// ID ascending.
	ListOpenCases(ctx context.Context, excludeID int64) ([]*Case, error)
	// TransitionCase changes a case's status only if its current status is
	// from (compare-and-set); otherwise ErrInvalidState. resolvedAt must be
	// set exactly when to == CaseResolved.
	TransitionCase(ctx context.Context, id int64, from, to CaseStatus, resolvedAt *time.Time) error

	GetCaseGroup(ctx context.Context, id int64) (*CaseGroup, error)
	// ListGroupCases returns the member cases of a group, ordered by ID
	// ascending.
	ListGroupCases(ctx context.Context, groupID int64) ([]*Case, error)
	// CloseCaseGroup moves an open group to closed. Groups are never
	// deleted once they have members.
	CloseCaseGroup(ctx context.Context, id int64) error

	CreateAssignment(ctx context.Context, a *Assignment) (*Assignment, error)
	CompleteAssignment(ctx context.Context, id int64, completedAt time.Time, outcome string) error

	AppendUpdate(ctx context.Context, u *Update) error
	ListUpdatesByCase(ctx context.Context, caseID int64) ([]*Update, error)

	// Grouping runs fn as a single serializable unit against the store:
	// every read inside fn sees one consistent snapshot and either all of
	// fn's writes commit or none do. Serialization failures surface as
	// ErrTransientConflict and the caller re-runs fn from scratch.
	Grouping(ctx context.Context, fn func(tx GroupingTx) error) error
}

// GroupingTx is the view of the store available inside Store.Grouping.
type GroupingTx interface {
	GetCase(ctx context.Context, id int64) (*Case, error)
	ListOpenCases(ctx context.Context, excludeID int64) ([]*Case, error)
	// NextGroupID returns the next group identifier: one past the current
	// maximum, or 1 if no groups exist. Race-free within the transaction.
	NextGroupID(ctx context.Context) (int64, error)
	CreateCaseGroup(ctx context.Context, g *CaseGroup) error
	// SetCaseGroup writes the group id on a case. The engine only calls
	// this for cases it observed as ungrouped in the same transaction.
	SetCaseGroup(ctx context.Context, caseID, groupID int64) error
	AppendUpdate(ctx context.Context, u *Update) error
}
