package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

func TestValidateAgainstSchema_AppliesDefaultForMissingField(t *testing.T) {
	group := models.FieldGroup{Fields: []models.Field{
		{Name: "tier", Type: models.FieldTypeText, Default: "unknown"},
	}}
	out := validateAgainstSchema(group, map[string]interface{}{})
	assert.Equal(t, "unknown", out["tier"])
}

func TestValidateAgainstSchema_NilWhenNoDefault(t *testing.T) {
	group := models.FieldGroup{Fields: []models.Field{
		{Name: "tier", Type: models.FieldTypeText},
	}}
	out := validateAgainstSchema(group, map[string]interface{}{})
	assert.Nil(t, out["tier"])
}

func TestValidateAgainstSchema_DropsUndeclaredFields(t *testing.T) {
	group := models.FieldGroup{Fields: []models.Field{
		{Name: "tier", Type: models.FieldTypeText},
	}}
	out := validateAgainstSchema(group, map[string]interface{}{"tier": "gold", "extra": "junk"})
	_, present := out["extra"]
	assert.False(t, present)
	assert.Equal(t, "gold", out["tier"])
}

// TestValidateAgainstSchema_EnumViolationFallsBackToDefault covers the
// compiled-schema enum constraint: a value outside EnumValues is rejected
// and the field's default (or nil) is used instead of the LM's bad value.
func TestValidateAgainstSchema_EnumViolationFallsBackToDefault(t *testing.T) {
	group := models.FieldGroup{Fields: []models.Field{
		{Name: "tier", Type: models.FieldTypeEnum, EnumValues: []string{"gold", "silver", "bronze"}, Default: "bronze"},
	}}
	out := validateAgainstSchema(group, map[string]interface{}{"tier": "platinum"})
	assert.Equal(t, "bronze", out["tier"])
}

// TestValidateAgainstSchema_EnumValueWithinSetIsKept covers the
// happy path for the same constraint.
func TestValidateAgainstSchema_EnumValueWithinSetIsKept(t *testing.T) {
	group := models.FieldGroup{Fields: []models.Field{
		{Name: "tier", Type: models.FieldTypeEnum, EnumValues: []string{"gold", "silver", "bronze"}},
	}}
	out := validateAgainstSchema(group, map[string]interface{}{"tier": "gold"})
	assert.Equal(t, "gold", out["tier"])
}

// TestValidateAgainstSchema_RequiredZeroValueFallsBackToDefault covers the
// required constraint: a present-but-zero-value field fails validation.
func TestValidateAgainstSchema_RequiredZeroValueFallsBackToDefault(t *testing.T) {
	group := models.FieldGroup{Fields: []models.Field{
		{Name: "plan_name", Type: models.FieldTypeText, Required: true, Default: "unspecified"},
	}}
	out := validateAgainstSchema(group, map[string]interface{}{"plan_name": ""})
	assert.Equal(t, "unspecified", out["plan_name"])
}

func TestCoerceField_StringToNumber(t *testing.T) {
	f := models.Field{Type: models.FieldTypeFloat}
	assert.Equal(t, 9.5, coerceField(f, "9.5"))
}

func TestCoerceField_StringToBoolean(t *testing.T) {
	f := models.Field{Type: models.FieldTypeBoolean}
	assert.Equal(t, true, coerceField(f, "yes"))
	assert.Equal(t, false, coerceField(f, "nope"))
}

func TestCoerceField_NumberToText(t *testing.T) {
	f := models.Field{Type: models.FieldTypeText}
	assert.Equal(t, "10", coerceField(f, float64(10)))
}

func TestEmptyGroupData_EntityListReturnsEmptyRecords(t *testing.T) {
	group := models.FieldGroup{IsEntityList: true}
	out := emptyGroupData(group)
	assert.Equal(t, []interface{}{}, out["records"])
}

func TestEmptyGroupData_ScalarGroupAllNil(t *testing.T) {
	group := models.FieldGroup{Fields: []models.Field{{Name: "a"}, {Name: "b"}}}
	out := emptyGroupData(group)
	assert.Nil(t, out["a"])
	assert.Nil(t, out["b"])
}

func TestMaxConfidence_PicksHighest(t *testing.T) {
	assert.Equal(t, 0.9, maxConfidence([]float64{0.1, 0.9, 0.5}))
}

func TestMaxConfidence_EmptyYieldsZero(t *testing.T) {
	assert.Equal(t, 0.0, maxConfidence(nil))
}

// TestBuildExtractions_DropsAllEmptyGroups covers spec §4.8 failure
// semantics: a group whose merge is entirely null/empty must not produce an
// Extraction, so a source where every group is empty ends up with zero
// extractions and fails rather than being marked extracted with vacuous rows.
func TestBuildExtractions_DropsAllEmptyGroups(t *testing.T) {
	o := New(nil, nil, &common.ExtractionConfig{}, testLogger())
	project := &models.Project{ID: "proj-1"}
	source := &models.Source{ID: "src-1", SourceGroup: "docs"}
	groups := []models.FieldGroup{
		{Name: "pricing", Fields: []models.Field{{Name: "plan"}, {Name: "price"}}},
	}
	perGroupChunks := map[string][]map[string]interface{}{
		"pricing": {{"plan": nil, "price": nil}},
	}
	perGroupConfidence := map[string][]float64{"pricing": {0.0}}

	out := o.buildExtractions(project, source, groups, perGroupChunks, perGroupConfidence)
	assert.Empty(t, out)
}

// TestBuildExtractions_KeepsNonEmptyGroupsWithRawConfidence covers the
// companion path: a group with at least one non-empty field is kept, and its
// confidence is the raw per-chunk maximum (no longer capped).
func TestBuildExtractions_KeepsNonEmptyGroupsWithRawConfidence(t *testing.T) {
	o := New(nil, nil, &common.ExtractionConfig{}, testLogger())
	project := &models.Project{ID: "proj-1"}
	source := &models.Source{ID: "src-1", SourceGroup: "docs"}
	groups := []models.FieldGroup{
		{Name: "pricing", Fields: []models.Field{{Name: "plan"}}},
	}
	perGroupChunks := map[string][]map[string]interface{}{
		"pricing": {{"plan": "gold"}},
	}
	perGroupConfidence := map[string][]float64{"pricing": {0.82}}

	out := o.buildExtractions(project, source, groups, perGroupChunks, perGroupConfidence)
	if len(out) != 1 {
		t.Fatalf("expected 1 extraction, got %d", len(out))
	}
	assert.Equal(t, 0.82, out[0].Confidence)
	assert.Equal(t, "gold", out[0].Data["plan"])
}

// TestBuildExtractions_MixedGroupsOnlyKeepsNonEmpty covers a source with two
// selected groups where only one produces real data.
func TestBuildExtractions_MixedGroupsOnlyKeepsNonEmpty(t *testing.T) {
	o := New(nil, nil, &common.ExtractionConfig{}, testLogger())
	project := &models.Project{ID: "proj-1"}
	source := &models.Source{ID: "src-1", SourceGroup: "docs"}
	groups := []models.FieldGroup{
		{Name: "pricing", Fields: []models.Field{{Name: "plan"}}},
		{Name: "contact", Fields: []models.Field{{Name: "email"}}},
	}
	perGroupChunks := map[string][]map[string]interface{}{
		"pricing": {{"plan": "gold"}},
		"contact": {{"email": nil}},
	}
	perGroupConfidence := map[string][]float64{"pricing": {0.9}, "contact": {0.0}}

	out := o.buildExtractions(project, source, groups, perGroupChunks, perGroupConfidence)
	if len(out) != 1 {
		t.Fatalf("expected only the non-empty group to survive, got %d", len(out))
	}
	assert.Equal(t, "pricing", out[0].ExtractionType)
}

func TestMatchesSkipPattern_MatchesURL(t *testing.T) {
	cfg := &common.ExtractionConfig{SkipURLPatterns: []string{`/legal/`}}
	o := New(nil, nil, cfg, testLogger())
	assert.True(t, o.matchesSkipPattern("https://example.com/legal/terms", "irrelevant content"))
}

func TestMatchesSkipPattern_MatchesContentPrefix(t *testing.T) {
	cfg := &common.ExtractionConfig{SkipContentPatterns: []string{`^404`}}
	o := New(nil, nil, cfg, testLogger())
	assert.True(t, o.matchesSkipPattern("https://example.com/missing", "404 Not Found"))
}

func TestMatchesSkipPattern_NoMatch(t *testing.T) {
	cfg := &common.ExtractionConfig{}
	o := New(nil, nil, cfg, testLogger())
	assert.False(t, o.matchesSkipPattern("https://example.com/pricing", "Pricing details here."))
}

func TestBuildSystemPrompt_IncludesFieldNamesAndEnumValues(t *testing.T) {
	project := &models.Project{Context: models.ExtractionContext{SourceType: "pricing page"}}
	group := models.FieldGroup{
		Description: "pricing plan details",
		Fields: []models.Field{
			{Name: "tier", Type: models.FieldTypeEnum, EnumValues: []string{"free", "pro"}, Description: "plan tier"},
		},
	}
	prompt := buildSystemPrompt(project, group)
	assert.Contains(t, prompt, "pricing plan details")
	assert.Contains(t, prompt, "tier")
	assert.Contains(t, prompt, "free, pro")
}
