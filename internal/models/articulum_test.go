package models

import (
	"testing"
)

func TestArticulumState_IsTerminal(t *testing.T) {
	tests := []struct {
		name     string
		state    ArticulumState
		expected bool
	}{
		{
			name:     "new is not terminal",
			state:    ArticulumStateNew,
			expected: false,
		},
		{
			name:     "catalog parsing is not terminal",
			state:    ArticulumStateCatalogParsing,
			expected: false,
		},
		{
			name:     "catalog parsed is not terminal",
			state:    ArticulumStateCatalogParsed,
			expected: false,
		},
		{
			name:     "validating is not terminal",
			state:    ArticulumStateValidating,
			expected: false,
		},
		{
			name:     "validated is not terminal",
			state:    ArticulumStateValidated,
			expected: false,
		},
		{
			name:     "object parsing is terminal",
			state:    ArticulumStateObjectParsing,
			expected: true,
		},
		{
			name:     "rejected is terminal",
			state:    ArticulumStateRejected,
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.expected {
				t.Errorf("IsTerminal() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestArticulumState_Valid(t *testing.T) {
	known := []ArticulumState{
		ArticulumStateNew,
		ArticulumStateCatalogParsing,
		ArticulumStateCatalogParsed,
		ArticulumStateValidating,
		ArticulumStateValidated,
		ArticulumStateObjectParsing,
		ArticulumStateRejected,
	}
	for _, s := range known {
		if !s.Valid() {
			t.Errorf("Valid() = false for known state %q", s)
		}
	}

	unknown := []ArticulumState{"", "DONE", "new", "catalog_parsed"}
	for _, s := range unknown {
		if s.Valid() {
			t.Errorf("Valid() = true for unknown state %q", s)
		}
	}
}
