// Package common provides shared utilities and default configuration.
package common

// DefaultKVValue represents a default key/value pair that is seeded on startup.
type DefaultKVValue struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Description string `json:"description"`
}

// GetDefaultKVValues returns the key slots seeded into the KV store on
// first boot. Values stay empty until an operator fills them; the
// matching environment variables always win over the store.
func GetDefaultKVValues() []DefaultKVValue {
	return []DefaultKVValue{
		{
			Key:         "anthropic_api_key",
			Value:       "",
			Description: "Claude API key (overridden by ANTHROPIC_API_KEY / COLLIGO_CLAUDE_API_KEY)",
		},
		{
			Key:         "gemini_api_key",
			Value:       "",
			Description: "Gemini API key (overridden by GEMINI_API_KEY / COLLIGO_GEMINI_API_KEY)",
		},
	}
}
