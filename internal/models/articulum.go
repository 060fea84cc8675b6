package models

import "time"

// ArticulumState represents the lifecycle state of an articulum
type ArticulumState string

const (
	// ArticulumStateNew - registered, catalog not yet parsed
	ArticulumStateNew ArticulumState = "NEW"
	// ArticulumStateCatalogParsing - a browser worker is parsing the catalog
	ArticulumStateCatalogParsing ArticulumState = "CATALOG_PARSING"
	// ArticulumStateCatalogParsed - catalog listings persisted, awaiting validation
	ArticulumStateCatalogParsed ArticulumState = "CATALOG_PARSED"
	// ArticulumStateValidating - a validation worker owns the articulum
	ArticulumStateValidating ArticulumState = "VALIDATING"
	// ArticulumStateValidated - validation passed, object tasks materialized
	ArticulumStateValidated ArticulumState = "VALIDATED"
	// ArticulumStateObjectParsing - detail parsing started (terminal)
	ArticulumStateObjectParsing ArticulumState = "OBJECT_PARSING"
	// ArticulumStateRejected - too few listings survived validation (terminal)
	ArticulumStateRejected ArticulumState = "REJECTED_BY_MIN_COUNT"
)

// IsTerminal reports whether the state accepts no further transitions.
func (s ArticulumState) IsTerminal() bool {
	return s == ArticulumStateObjectParsing || s == ArticulumStateRejected
}

// Valid reports whether s is a known lifecycle state.
func (s ArticulumState) Valid() bool {
	switch s {
	case ArticulumStateNew, ArticulumStateCatalogParsing, ArticulumStateCatalogParsed,
		ArticulumStateValidating, ArticulumStateValidated, ArticulumStateObjectParsing,
		ArticulumStateRejected:
		return true
	}
	return false
}

// Articulum is a manufacturer part number tracked through the parse lifecycle.
//
// Lifecycle:
//
//	NEW -> CATALOG_PARSING -> CATALOG_PARSED -> VALIDATING -> VALIDATED -> OBJECT_PARSING
//	                                VALIDATING -> REJECTED_BY_MIN_COUNT
//	                                VALIDATING -> CATALOG_PARSED (rollback on AI outage)
//
// Every transition is a conditional update gated on the expected source state,
// so concurrent workers cannot double-claim. OBJECT_PARSING and
// REJECTED_BY_MIN_COUNT are terminal.
type Articulum struct {
	ID             int64          `json:"id"`
	Articulum      string         `json:"articulum"` // Part number as searched, e.g. "ABC123"
	State          ArticulumState `json:"state"`
	StateUpdatedAt time.Time      `json:"state_updated_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
