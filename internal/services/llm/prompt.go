package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/ternarybob/colligo/internal/models"
)

// promptListing is the slice of a listing serialized into the model
// prompt. Images travel separately as binary parts.
type promptListing struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Price   *float64 `json:"price,omitempty"`
	Snippet string   `json:"snippet,omitempty"`
	Seller  string   `json:"seller,omitempty"`
}

// verdictPayload mirrors the JSON shape the model is asked to return.
type verdictPayload struct {
	PassedIDs []string `json:"passed_ids"`
	Rejected  []struct {
		ItemID string `json:"item_id"`
		Reason string `json:"reason"`
	} `json:"rejected"`
}

// buildInstruction returns the validation instruction for one batch.
func buildInstruction(articulum string, withImages bool) string {
	var b strings.Builder
	b.WriteString("You review listings from a spare-parts marketplace. ")
	b.WriteString(fmt.Sprintf("Decide for each listing whether it plausibly offers the exact part with manufacturer number %q. ", articulum))
	b.WriteString("Reject listings for different parts, analogs sold under another number, and bundles where the part is incidental.")
	if withImages {
		b.WriteString(" Photos follow the listing data; use them to spot mismatched parts.")
	}
	b.WriteString(` Respond with JSON only: {"passed_ids": ["..."], "rejected": [{"item_id": "...", "reason": "..."}]}. `)
	b.WriteString("Every submitted listing id must appear in exactly one of the two lists.")
	return b.String()
}

// buildListingsJSON serializes the batch for the prompt body.
func buildListingsJSON(listings []models.AIListing) (string, error) {
	payload := make([]promptListing, 0, len(listings))
	for _, l := range listings {
		payload = append(payload, promptListing{
			ID:      l.AvitoItemID,
			Title:   l.Title,
			Price:   l.Price,
			Snippet: l.Snippet,
			Seller:  l.SellerName,
		})
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// fencePattern strips a surrounding markdown code fence, with or
// without a json language tag.
var fencePattern = regexp.MustCompile(`(?s)^\s*` + "```" + `(?:json|JSON)?\s*\n?(.*?)\n?\s*` + "```" + `\s*$`)

func cleanJSONResponse(s string) string {
	s = strings.TrimSpace(s)

	if matches := fencePattern.FindStringSubmatch(s); len(matches) > 1 {
		s = matches[1]
	}

	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	return strings.TrimSpace(s)
}

// parseVerdict decodes the model's JSON answer into an AIVerdict.
func parseVerdict(response string) (*models.AIVerdict, error) {
	cleaned := cleanJSONResponse(response)

	var payload verdictPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse verdict JSON: %w (response: %s)", err, truncateForLog(response, 500))
	}

	verdict := &models.AIVerdict{
		PassedIDs: payload.PassedIDs,
		Rejected:  make([]models.AIRejection, 0, len(payload.Rejected)),
	}
	for _, r := range payload.Rejected {
		verdict.Rejected = append(verdict.Rejected, models.AIRejection{
			AvitoItemID: r.ItemID,
			Reason:      r.Reason,
		})
	}
	return verdict, nil
}

func truncateForLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
