package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// mergeFieldGroup merges one FieldGroup's per-chunk results under the typed
// rules of spec §4.8 step 5. OR, max and set-union results do not depend on
// chunk order; enum (first non-null), ties in longest-text and entity-list
// records sharing a key take the first value in chunkResults order.
func mergeFieldGroup(group models.FieldGroup, entityIDFields []string, chunkResults []map[string]interface{}, logger arbor.ILogger) map[string]interface{} {
	if group.IsEntityList {
		return map[string]interface{}{"records": mergeEntityLists(chunkResults, entityIDFields)}
	}

	merged := make(map[string]interface{}, len(group.Fields))
	for _, field := range group.Fields {
		values := collectFieldValues(chunkResults, field.Name)
		merged[field.Name] = mergeField(field, values, logger)
	}
	return merged
}

func collectFieldValues(chunkResults []map[string]interface{}, name string) []interface{} {
	values := make([]interface{}, 0, len(chunkResults))
	for _, cr := range chunkResults {
		if cr == nil {
			continue
		}
		values = append(values, cr[name])
	}
	return values
}

func mergeField(field models.Field, values []interface{}, logger arbor.ILogger) interface{} {
	switch field.Type {
	case models.FieldTypeBoolean:
		return mergeBoolean(values)
	case models.FieldTypeInteger, models.FieldTypeFloat:
		return mergeMaxNumeric(values)
	case models.FieldTypeText:
		return mergeLongestText(values)
	case models.FieldTypeList:
		return mergeListDedup(values)
	case models.FieldTypeEnum:
		return mergeEnumFirst(field.Name, values, logger)
	default:
		return mergeLongestText(values)
	}
}

// mergeBoolean ORs across chunks: true if any chunk says true, else false if
// any says false, else null (spec's boundary test: [null,null]->null,
// [false,null]->false, [false,true]->true).
func mergeBoolean(values []interface{}) interface{} {
	sawFalse := false
	for _, v := range values {
		b, ok := v.(bool)
		if !ok {
			continue
		}
		if b {
			return true
		}
		sawFalse = true
	}
	if sawFalse {
		return false
	}
	return nil
}

func mergeMaxNumeric(values []interface{}) interface{} {
	var best float64
	found := false
	for _, v := range values {
		f, ok := asFloat(v)
		if !ok {
			continue
		}
		if !found || f > best {
			best = f
			found = true
		}
	}
	if !found {
		return nil
	}
	return best
}

func asFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

func mergeLongestText(values []interface{}) interface{} {
	best := ""
	found := false
	for _, v := range values {
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		if len(s) > len(best) {
			best = s
			found = true
		}
	}
	if !found {
		return nil
	}
	return best
}

// mergeListDedup concatenates chunk lists then order-preserving dedups by
// identity (JSON-equal comparable scalar values).
func mergeListDedup(values []interface{}) interface{} {
	seen := map[interface{}]bool{}
	var out []interface{}
	for _, v := range values {
		list, ok := v.([]interface{})
		if !ok {
			continue
		}
		for _, item := range list {
			key := item
			if m, ok := item.(map[string]interface{}); ok {
				key = mapIdentityKey(m)
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, item)
		}
	}
	if out == nil {
		return []interface{}{}
	}
	return out
}

func mapIdentityKey(m map[string]interface{}) string {
	// json.Marshal sorts map keys, so JSON-equal maps share one key.
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprint(m)
	}
	return string(b)
}

// mergeEnumFirst takes the first non-null value; disagreement across chunks
// is logged but does not affect the result (spec §4.8 step 5).
func mergeEnumFirst(fieldName string, values []interface{}, logger arbor.ILogger) interface{} {
	var first interface{}
	found := false
	disagree := false
	for _, v := range values {
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		if !found {
			first = s
			found = true
			continue
		}
		if first != s {
			disagree = true
		}
	}
	if disagree && logger != nil {
		logger.Warn().Str("field", fieldName).Msg("enum field disagreement across chunks; using first non-null value")
	}
	if !found {
		return nil
	}
	return first
}

// mergeEntityLists merges is_entity_list=true groups: records are keyed by
// the first populated id field in entityIDFields, duplicates dropped.
func mergeEntityLists(chunkResults []map[string]interface{}, entityIDFields []string) []interface{} {
	seen := map[string]bool{}
	var out []interface{}
	for _, cr := range chunkResults {
		if cr == nil {
			continue
		}
		records, _ := cr["records"].([]interface{})
		for _, rec := range records {
			m, ok := rec.(map[string]interface{})
			if !ok {
				continue
			}
			key := recordKey(m, entityIDFields)
			if key != "" && seen[key] {
				continue
			}
			if key != "" {
				seen[key] = true
			}
			out = append(out, m)
		}
	}
	if out == nil {
		return []interface{}{}
	}
	return out
}

func recordKey(m map[string]interface{}, entityIDFields []string) string {
	for _, f := range entityIDFields {
		if v, ok := m[f]; ok {
			if s, ok := v.(string); ok && s != "" {
				return f + ":" + s
			}
		}
	}
	return ""
}

// isEmptyMerged reports whether every field in a merged group result is
// null/empty; buildExtractions drops a group for which it is true.
func isEmptyMerged(group models.FieldGroup, merged map[string]interface{}) bool {
	if group.IsEntityList {
		records, _ := merged["records"].([]interface{})
		return len(records) == 0
	}
	for _, field := range group.Fields {
		if !isEmptyValue(merged[field.Name]) {
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
