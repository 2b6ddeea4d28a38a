package models

import (
	"encoding/json"
	"time"
)

// FieldType enumerates the scalar/compound types a Field may take.
type FieldType string

const (
	FieldTypeText    FieldType = "text"
	FieldTypeInteger FieldType = "integer"
	FieldTypeFloat   FieldType = "float"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeEnum    FieldType = "enum"
	FieldTypeList    FieldType = "list"
)

// Field describes one extractable field within a FieldGroup.
type Field struct {
	Name        string      `json:"name"`
	Type        FieldType   `json:"type"`
	EnumValues  []string    `json:"enum_values,omitempty"`
	Default     interface{} `json:"default,omitempty"`
	Required    bool        `json:"required,omitempty"`
	Description string      `json:"description,omitempty"`
}

// FieldGroup is a named, typed record of related fields extracted as one LM call.
type FieldGroup struct {
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	IsEntityList bool    `json:"is_entity_list"`
	PromptHint   string  `json:"prompt_hint,omitempty"`
	Fields       []Field `json:"fields"`
}

// ExtractionSchema is the ordered list of FieldGroups that make up a project's
// extraction plan. It is stored as JSON at rest and compiled at load time.
type ExtractionSchema struct {
	FieldGroups []FieldGroup `json:"field_groups"`
}

// FindGroup returns the FieldGroup with the given name, or nil.
func (s ExtractionSchema) FindGroup(name string) *FieldGroup {
	for i := range s.FieldGroups {
		if s.FieldGroups[i].Name == name {
			return &s.FieldGroups[i]
		}
	}
	return nil
}

// EntityTypeDef describes one entity type a project recognizes.
type EntityTypeDef struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	NormalizationRule string `json:"normalization_rule"` // "plan_feature" | "limit" | "pricing" | "default"
}

// ExtractionContext controls prompt wording and entity-list dedup keying.
type ExtractionContext struct {
	SourceType      string   `json:"source_type"`
	SourceLabel     string   `json:"source_label"`
	EntityIDFields  []string `json:"entity_id_fields"`
}

// Project is the top-level configuration unit: a named schema, entity type
// list, and source-grouping context that CrawlWorker/ExtractionPipeline act on.
type Project struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Deleted    bool               `json:"deleted"`
	Schema     ExtractionSchema   `json:"schema"`
	EntityTypes []EntityTypeDef   `json:"entity_types"`
	Context    ExtractionContext `json:"context"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// SchemaJSON marshals the extraction schema for persistence in a JSON column.
func (p *Project) SchemaJSON() (string, error) {
	b, err := json.Marshal(p.Schema)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EntityTypesJSON marshals the entity type list for persistence.
func (p *Project) EntityTypesJSON() (string, error) {
	b, err := json.Marshal(p.EntityTypes)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ContextJSON marshals the extraction context for persistence.
func (p *Project) ContextJSON() (string, error) {
	b, err := json.Marshal(p.Context)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EntityTypeByName looks up a project's entity type definition by name.
func (p *Project) EntityTypeByName(name string) *EntityTypeDef {
	for i := range p.EntityTypes {
		if p.EntityTypes[i].Name == name {
			return &p.EntityTypes[i]
		}
	}
	return nil
}
