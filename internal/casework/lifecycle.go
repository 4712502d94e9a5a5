package casework

import "fmt"

// Lifecycle rules. Case status is monotone: open -> assigned -> resolved,
// with no re-opening. Groups only go open -> closed, emergencies only
// active -> resolved. The group id on a case is written once, by the
// grouping engine; group-level management afterwards is a separate concern.

// ValidateCaseTransition checks that from -> to is a legal case status change.
func ValidateCaseTransition(from, to CaseStatus) error {
	switch {
	case from == CaseOpen && to == CaseAssigned:
		return nil
	case from == CaseAssigned && to == CaseResolved:
		return nil
	}
	return fmt.Errorf("%w: case %s -> %s", ErrInvalidTransition, from, to)
}

// ValidateGroupTransition checks that from -> to is a legal group status change.
func ValidateGroupTransition(from, to GroupStatus) error {
	if from == GroupOpen && to == GroupClosed {
		return nil
	}
	return fmt.Errorf("%w: group %s -> %s", ErrInvalidTransition, from, to)
}

// ValidateEmergencyTransition checks that from -> to is a legal emergency
// status change.
func ValidateEmergencyTransition(from, to EmergencyStatus) error {
	if from == EmergencyActive && to == EmergencyResolved {
		return nil
	}
	return fmt.Errorf("%w: emergency %s -> %s", ErrInvalidTransition, from, to)
}
