package models

import (
	"testing"
)

func TestCard_IsUsedCondition(t *testing.T) {
	tests := []struct {
		name     string
		card     *Card
		expected bool
	}{
		{
			name: "used condition",
			card: &Card{
				Characteristics: map[string]string{"Состояние": "б/у"},
			},
			expected: true,
		},
		{
			name: "used condition with surrounding spaces",
			card: &Card{
				Characteristics: map[string]string{"Состояние": "  Б/У  "},
			},
			expected: true,
		},
		{
			name: "new condition",
			card: &Card{
				Characteristics: map[string]string{"Состояние": "Новое"},
			},
			expected: false,
		},
		{
			name:     "no characteristics",
			card:     &Card{},
			expected: false,
		},
		{
			name: "characteristics without condition key",
			card: &Card{
				Characteristics: map[string]string{"Бренд": "Bosch"},
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.card.IsUsedCondition(); got != tt.expected {
				t.Errorf("IsUsedCondition() = %v, expected %v", got, tt.expected)
			}
		})
	}
}
