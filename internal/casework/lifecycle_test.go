package casework

import (
	"errors"
	"testing"
)

func TestValidateCaseTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		from    CaseStatus
		to      CaseStatus
		wantErr bool
	}{
		{"open to assigned", CaseOpen, CaseAssigned, false},
		{"assigned to resolved", CaseAssigned, CaseResolved, false},
		{"open to resolved skips assigned", CaseOpen, CaseResolved, true},
		{"resolved to open reopens", CaseResolved, CaseOpen, true},
		{"assigned to open reverts", CaseAssigned, CaseOpen, true},
		{"resolved to assigned reverts", CaseResolved, CaseAssigned, true},
		{"open to open", CaseOpen, CaseOpen, true},
		{"unknown status", CaseStatus("archived"), CaseResolved, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateCaseTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCaseTransition(%q, %q) error = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("error = %v, want wrapped ErrInvalidTransition", err)
			}
		})
	}
}

func TestValidateGroupTransition(t *testing.T) {
	t.Parallel()

	if err := ValidateGroupTransition(GroupOpen, GroupClosed); err != nil {
		t.Errorf("open -> closed error = %v, want nil", err)
	}
	if err := ValidateGroupTransition(GroupClosed, GroupOpen); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("closed -> open error = %v, want ErrInvalidTransition", err)
	}
	if err := ValidateGroupTransition(GroupClosed, GroupClosed); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("closed -> closed error = %v, want ErrInvalidTransition", err)
	}
}

func TestValidateEmergencyTransition(t *testing.T) {
	t.Parallel()

	if err := ValidateEmergencyTransition(EmergencyActive, EmergencyResolved); err != nil {
		t.Errorf("active -> resolved error = %v, want nil", err)
	}
	if err := ValidateEmergencyTransition(EmergencyResolved, EmergencyActive); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("resolved -> active error = %v, want ErrInvalidTransition", err)
	}
}
