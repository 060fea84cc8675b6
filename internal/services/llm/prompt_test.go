package llm

import (
	"strings"
	"testing"

	"github.com/ternarybob/colligo/internal/models"
)

func TestBuildInstruction(t *testing.T) {
	instruction := buildInstruction("06A145710P", false)

	if !strings.Contains(instruction, "06A145710P") {
		t.Error("instruction should name the articulum")
	}
	if !strings.Contains(instruction, "passed_ids") {
		t.Error("instruction should pin the verdict JSON shape")
	}
	if strings.Contains(instruction, "Photos") {
		t.Error("image hint should only appear with images enabled")
	}

	withImages := buildInstruction("06A145710P", true)
	if !strings.Contains(withImages, "Photos") {
		t.Error("image hint missing with images enabled")
	}
}

func TestBuildListingsJSON(t *testing.T) {
	price := 4500.0
	listings := []models.AIListing{
		{
			AvitoItemID: "2001",
			Title:       "Клапан N75 06A145710P",
			Price:       &price,
			Snippet:     "Оригинал, снят с Audi A4",
			SellerName:  "AutoParts",
		},
		{
			AvitoItemID: "2002",
			Title:       "Bypass valve",
		},
	}

	out, err := buildListingsJSON(listings)
	if err != nil {
		t.Fatalf("buildListingsJSON() error: %v", err)
	}

	if !strings.Contains(out, `"id":"2001"`) {
		t.Errorf("missing first listing id in %s", out)
	}
	if !strings.Contains(out, `"price":4500`) {
		t.Errorf("missing price in %s", out)
	}
	// Empty optional fields stay out of the payload.
	if strings.Contains(out, `"seller":""`) || strings.Contains(out, `"price":null`) {
		t.Errorf("empty optionals should be omitted: %s", out)
	}
}

func TestCleanJSONResponse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "bare json",
			input:    `{"passed_ids":[]}`,
			expected: `{"passed_ids":[]}`,
		},
		{
			name:     "json fence",
			input:    "```json\n{\"passed_ids\":[]}\n```",
			expected: `{"passed_ids":[]}`,
		},
		{
			name:     "plain fence",
			input:    "```\n{\"passed_ids\":[]}\n```",
			expected: `{"passed_ids":[]}`,
		},
		{
			name:     "surrounding whitespace",
			input:    "  \n{\"passed_ids\":[]}\n ",
			expected: `{"passed_ids":[]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanJSONResponse(tt.input); got != tt.expected {
				t.Errorf("cleanJSONResponse() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestParseVerdict(t *testing.T) {
	response := "```json\n" + `{
		"passed_ids": ["100", "101"],
		"rejected": [
			{"item_id": "102", "reason": "different part number"}
		]
	}` + "\n```"

	verdict, err := parseVerdict(response)
	if err != nil {
		t.Fatalf("parseVerdict() error: %v", err)
	}

	if len(verdict.PassedIDs) != 2 {
		t.Errorf("passed = %d, want 2", len(verdict.PassedIDs))
	}
	if len(verdict.Rejected) != 1 {
		t.Fatalf("rejected = %d, want 1", len(verdict.Rejected))
	}
	if verdict.Rejected[0].AvitoItemID != "102" {
		t.Errorf("rejected id = %q, want 102", verdict.Rejected[0].AvitoItemID)
	}
	if verdict.Rejected[0].Reason != "different part number" {
		t.Errorf("unexpected reason %q", verdict.Rejected[0].Reason)
	}
}

func TestParseVerdict_Malformed(t *testing.T) {
	_, err := parseVerdict("I am sorry, I cannot help with that.")
	if err == nil {
		t.Fatal("expected an error for a non-JSON response")
	}
}
