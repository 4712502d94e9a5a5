package casework

import (
	"fmt"
	"time"

	"github.com/linnemanlabs/beacon/internal/geo"
)

// CaseStatus tracks where a case is in its lifecycle.
type CaseStatus string

const (
	// CaseOpen means reported and not yet worked.
	CaseOpen CaseStatus = "open"

	// CaseAssigned means a helper has been assigned.
	CaseAssigned CaseStatus = "assigned"

	// CaseResolved means the need has been met or otherwise closed out.
	CaseResolved CaseStatus = "resolved"
)

// GroupStatus tracks a case group's lifecycle.
type GroupStatus string

const (
	GroupOpen   GroupStatus = "open"
	GroupClosed GroupStatus = "closed"
)

// EmergencyStatus tracks a top-level emergency's lifecycle.
type EmergencyStatus string

const (
	EmergencyActive   EmergencyStatus = "active"
	EmergencyResolved EmergencyStatus = "resolved"
)

// Urgency ranks how quickly a case needs attention.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// DangerLevel ranks the immediate danger at the case location.
type DangerLevel string

const (
	DangerSafe            DangerLevel = "safe"
	DangerModerate        DangerLevel = "moderate"
	DangerSevere          DangerLevel = "severe"
	DangerLifeThreatening DangerLevel = "life_threatening"
)

// MobilityStatus describes whether the people involved can move on their own.
type MobilityStatus string

const (
	MobilityMobile  MobilityStatus = "mobile"
	MobilityInjured MobilityStatus = "injured"
	MobilityTrapped MobilityStatus = "trapped"
	MobilityUnknown MobilityStatus = "unknown"
)

// VulnerabilityFactor is one entry of the fixed vulnerability vocabulary.
type VulnerabilityFactor string

const (
	VulnElderly         VulnerabilityFactor = "elderly"
	VulnChildrenPresent VulnerabilityFactor = "children_present"
	VulnMedicalNeeds    VulnerabilityFactor = "medical_needs"
	VulnDisability      VulnerabilityFactor = "disability"
	VulnPregnant        VulnerabilityFactor = "pregnant"
)

// Emergency is a top-level incident umbrella that may own multiple case groups.
type Emergency struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Area      string          `json:"area"`
	Category  string          `json:"category"`
	Status    EmergencyStatus `json:"status"`
	Severity  string          `json:"severity,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
}

// CaseGroup is a cluster of cases believed to stem from one incident. Its ID
// is immutable once assigned to a case; a group that has members is never
// deleted, only closed.
type CaseGroup struct {
	ID          int64       `json:"id"`
	EmergencyID *int64      `json:"emergency_id,omitempty"`
	Description string      `json:"description,omitempty"`
	Status      GroupStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Case is a single reported need for help tied to a location.
type Case struct {
	ID              int64                 `json:"id"`
	CallerID        *int64                `json:"caller_id,omitempty"`
	ReporterID      *int64                `json:"reporter_id,omitempty"`
	GroupID         *int64                `json:"group_id,omitempty"`
	Location        geo.Point             `json:"location"`
	Description     string                `json:"description"`
	Narrative       string                `json:"narrative,omitempty"`
	PeopleCount     *int                  `json:"people_count,omitempty"`
	Mobility        MobilityStatus        `json:"mobility_status"`
	Vulnerabilities []VulnerabilityFactor `json:"vulnerability_factors,omitempty"`
	Urgency         Urgency               `json:"urgency"`
	Danger          DangerLevel           `json:"danger_level"`
	Status          CaseStatus            `json:"status"`
	CreatedAt       time.Time             `json:"created_at"`
	ResolvedAt      *time.Time            `json:"resolved_at,omitempty"`
}

// Assignment binds a helper to a case.
type Assignment struct {
	ID          int64      `json:"id"`
	CaseID      int64      `json:"case_id"`
	HelperID    int64      `json:"helper_id"`
	AssignedAt  time.Time  `json:"assigned_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Outcome     string     `json:"outcome,omitempty"`
}

// Update is an append-only audit record. Immutable once written.
type Update struct {
	ID           string    `json:"id"`
	EmergencyID  *int64    `json:"emergency_id,omitempty"`
	GroupID      *int64    `json:"group_id,omitempty"`
	CaseID       *int64    `json:"case_id,omitempty"`
	AssignmentID *int64    `json:"assignment_id,omitempty"`
	Source       string    `json:"source"`
	Type         string    `json:"type"`
	Text         string    `json:"text,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// CaseCandidate is a validated case ready to be stored, produced by the
// intake step. The store allocates ID and CreatedAt; status starts open
// with no group.
type CaseCandidate struct {
	CallerID        *int64                `json:"caller_id,omitempty"`
	ReporterID      *int64                `json:"reporter_id,omitempty"`
	Location        geo.Point             `json:"location"`
	Description     string                `json:"description"`
	Narrative       string                `json:"narrative,omitempty"`
	PeopleCount     *int                  `json:"people_count,omitempty"`
	Mobility        MobilityStatus        `json:"mobility_status"`
	Vulnerabilities []VulnerabilityFactor `json:"vulnerability_factors,omitempty"`
	Urgency         Urgency               `json:"urgency"`
	Danger          DangerLevel           `json:"danger_level"`
}

// Report is a raw emergency report before intake: free-form narrative plus
// the GPS fix it was tagged with.
type Report struct {
	Narrative  string    `json:"narrative"`
	Location   geo.Point `json:"location"`
	CallerID   *int64    `json:"caller_id,omitempty"`
	ReporterID *int64    `json:"reporter_id,omitempty"`
}

// Validate checks the candidate's location, enums, and counts. Everything it
// rejects is ErrInvalidInput.
func (c *CaseCandidate) Validate() error {
	if err := c.Location.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !validMobility(c.Mobility) {
		return fmt.Errorf("%w: unknown mobility_status %q", ErrInvalidInput, c.Mobility)
	}
	if !validUrgency(c.Urgency) {
		return fmt.Errorf("%w: unknown urgency %q", ErrInvalidInput, c.Urgency)
	}
	if !validDanger(c.Danger) {
		return fmt.Errorf("%w: unknown danger_level %q", ErrInvalidInput, c.Danger)
	}
	for _, v := range c.Vulnerabilities {
		if !validVulnerability(v) {
			return fmt.Errorf("%w: unknown vulnerability_factor %q", ErrInvalidInput, v)
		}
	}
	if c.PeopleCount != nil && *c.PeopleCount < 0 {
		return fmt.Errorf("%w: people_count %d is negative", ErrInvalidInput, *c.PeopleCount)
	}
	return nil
}

func validMobility(m MobilityStatus) bool {
	switch m {
	case MobilityMobile, MobilityInjured, MobilityTrapped, MobilityUnknown:
		return true
	}
	return false
}

func validUrgency(u Urgency) bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
		return true
	}
	return false
}

func validDanger(d DangerLevel) bool {
	switch d {
	case DangerSafe, DangerModerate, DangerSevere, DangerLifeThreatening:
		return true
	}
	return false
}

func validVulnerability(v VulnerabilityFactor) bool {
	switch v {
	case VulnElderly, VulnChildrenPresent, VulnMedicalNeeds, VulnDisability, VulnPregnant:
		return true
	}
	return false
}
