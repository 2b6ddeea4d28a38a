package models

import "time"

// Extraction is one FieldGroup's merged result for a Source. Immutable once
// written, except for EmbeddingID and EntitiesExtracted.
type Extraction struct {
	ID                string                 `json:"id"`
	ProjectID         string                 `json:"project_id"`
	SourceID          string                 `json:"source_id"`
	SourceGroup       string                 `json:"source_group"`
	ExtractionType    string                 `json:"extraction_type"` // field group name
	Data              map[string]interface{} `json:"data"`
	Confidence        float64                `json:"confidence"`
	EmbeddingID       *string                `json:"embedding_id,omitempty"`
	EntitiesExtracted bool                   `json:"entities_extracted"`
	CreatedAt         time.Time              `json:"created_at"`
}

// IsEmpty reports whether every field value in Data is null/empty.
func (e *Extraction) IsEmpty() bool {
	for _, v := range e.Data {
		if !isEmptyValue(v) {
			return false
		}
	}
	return true
}

func isEmptyValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []interface{}:
		return len(t) == 0
	case bool:
		return false
	default:
		return false
	}
}

// CanonicalText returns the text used for embedding/dedup: the longest
// non-empty text-like field, falling back to a compact JSON rendering by the
// caller when no such field exists.
func (e *Extraction) CanonicalText() string {
	best := ""
	for _, v := range e.Data {
		if s, ok := v.(string); ok && len(s) > len(best) {
			best = s
		}
	}
	return best
}

// Entity belongs to a Project; (project_id, source_group, entity_type,
// normalized_value) is unique.
type Entity struct {
	ID              string                 `json:"id"`
	ProjectID       string                 `json:"project_id"`
	SourceGroup     string                 `json:"source_group"`
	EntityType      string                 `json:"entity_type"`
	NormalizedValue string                 `json:"normalized_value"`
	Value           string                 `json:"value"`
	Attributes      map[string]interface{} `json:"attributes,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// ExtractionEntity is the many-to-many link between Extraction and Entity.
// Unique on (extraction_id, entity_id, role); creation must be idempotent.
type ExtractionEntity struct {
	ID           string    `json:"id"`
	ExtractionID string    `json:"extraction_id"`
	EntityID     string    `json:"entity_id"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}
