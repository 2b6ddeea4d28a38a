package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

func testLogger() arbor.ILogger {
	return arbor.NewLogger()
}

func TestMergeBoolean_BothNullYieldsNull(t *testing.T) {
	assert.Nil(t, mergeBoolean([]interface{}{nil, nil}))
}

func TestMergeBoolean_FalseAndNullYieldsFalse(t *testing.T) {
	assert.Equal(t, false, mergeBoolean([]interface{}{false, nil}))
}

func TestMergeBoolean_FalseAndTrueYieldsTrue(t *testing.T) {
	assert.Equal(t, true, mergeBoolean([]interface{}{false, true}))
}

func TestMergeMaxNumeric_PicksHighestValue(t *testing.T) {
	assert.Equal(t, 42.0, mergeMaxNumeric([]interface{}{float64(10), float64(42), nil, float64(7)}))
}

func TestMergeMaxNumeric_AllNullYieldsNil(t *testing.T) {
	assert.Nil(t, mergeMaxNumeric([]interface{}{nil, nil}))
}

func TestMergeLongestText_PicksLongestNonEmpty(t *testing.T) {
	assert.Equal(t, "a much longer description", mergeLongestText([]interface{}{"short", "a much longer description", ""}))
}

func TestMergeListDedup_ConcatenatesAndDedupsScalars(t *testing.T) {
	result := mergeListDedup([]interface{}{
		[]interface{}{"a", "b"},
		[]interface{}{"b", "c"},
	})
	assert.ElementsMatch(t, []interface{}{"a", "b", "c"}, result)
}

func TestMergeListDedup_NoListsYieldsEmptySlice(t *testing.T) {
	result := mergeListDedup([]interface{}{nil, "not-a-list"})
	assert.Equal(t, []interface{}{}, result)
}

func TestMergeEnumFirst_TakesFirstNonNullOnDisagreement(t *testing.T) {
	result := mergeEnumFirst("tier", []interface{}{nil, "gold", "silver"}, testLogger())
	assert.Equal(t, "gold", result)
}

func TestMergeEnumFirst_AllNullYieldsNil(t *testing.T) {
	assert.Nil(t, mergeEnumFirst("tier", []interface{}{nil, nil}, testLogger()))
}

func TestMergeFieldGroup_ScalarGroupMergesEachFieldIndependently(t *testing.T) {
	group := models.FieldGroup{
		Name: "pricing",
		Fields: []models.Field{
			{Name: "has_free_tier", Type: models.FieldTypeBoolean},
			{Name: "max_seats", Type: models.FieldTypeInteger},
			{Name: "summary", Type: models.FieldTypeText},
		},
	}
	chunkResults := []map[string]interface{}{
		{"has_free_tier": false, "max_seats": float64(10), "summary": "short"},
		{"has_free_tier": true, "max_seats": float64(25), "summary": "a longer summary of the plan"},
	}

	merged := mergeFieldGroup(group, nil, chunkResults, testLogger())

	assert.Equal(t, true, merged["has_free_tier"])
	assert.Equal(t, 25.0, merged["max_seats"])
	assert.Equal(t, "a longer summary of the plan", merged["summary"])
}

func TestMergeFieldGroup_EntityListDedupsByIDField(t *testing.T) {
	group := models.FieldGroup{Name: "plans", IsEntityList: true}
	chunkResults := []map[string]interface{}{
		{"records": []interface{}{
			map[string]interface{}{"id": "basic", "price": float64(10)},
		}},
		{"records": []interface{}{
			map[string]interface{}{"id": "basic", "price": float64(10)},
			map[string]interface{}{"id": "pro", "price": float64(30)},
		}},
	}

	merged := mergeFieldGroup(group, []string{"id"}, chunkResults, testLogger())
	records, ok := merged["records"].([]interface{})
	if assert.True(t, ok) {
		assert.Len(t, records, 2)
	}
}

func TestIsEmptyMerged_AllFieldsEmptyIsTrue(t *testing.T) {
	group := models.FieldGroup{
		Fields: []models.Field{
			{Name: "a", Type: models.FieldTypeText},
			{Name: "b", Type: models.FieldTypeList},
		},
	}
	merged := map[string]interface{}{"a": "", "b": []interface{}{}}
	assert.True(t, isEmptyMerged(group, merged))
}

func TestIsEmptyMerged_OnePopulatedFieldIsFalse(t *testing.T) {
	group := models.FieldGroup{
		Fields: []models.Field{
			{Name: "a", Type: models.FieldTypeText},
		},
	}
	merged := map[string]interface{}{"a": "populated"}
	assert.False(t, isEmptyMerged(group, merged))
}

func TestIsEmptyMerged_EntityListEmptyRecordsIsTrue(t *testing.T) {
	group := models.FieldGroup{IsEntityList: true}
	merged := map[string]interface{}{"records": []interface{}{}}
	assert.True(t, isEmptyMerged(group, merged))
}
