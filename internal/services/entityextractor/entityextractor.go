// Package entityextractor drives LM-based entity emission for Extractions of
// projects that define entity types, normalizing values by entity type and
// linking them idempotently (spec §4.9). It does not filter by the
// Extraction's FieldGroup: every Extraction of such a project is processed.
package entityextractor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/llmbroker"
)

// EntityExtractor links project-defined entity types mentioned in an
// Extraction's data to Entity rows, idempotently.
type EntityExtractor struct {
	entities interfaces.EntityRepo
	broker   *llmbroker.Broker
	logger   arbor.ILogger
}

func New(entities interfaces.EntityRepo, broker *llmbroker.Broker, logger arbor.ILogger) *EntityExtractor {
	return &EntityExtractor{entities: entities, broker: broker, logger: logger}
}

// entityRecord is one entity an extract_entities LM call returns.
type entityRecord struct {
	EntityType string                 `json:"entity_type"`
	Value      string                 `json:"value"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Run extracts and links entities for one Extraction, skipping when the
// project defines no entity types. Re-running over the same Extraction is a
// no-op (spec §4.9's idempotency contract, enforced by GetOrCreate/
// GetOrCreateLink's unique-key upserts).
func (e *EntityExtractor) Run(ctx context.Context, project *models.Project, extraction *models.Extraction) error {
	if len(project.EntityTypes) == 0 {
		return nil
	}

	dataJSON, err := json.Marshal(extraction.Data)
	if err != nil {
		return fmt.Errorf("failed to serialize extraction data: %w", err)
	}

	system := buildEntityPrompt(project.EntityTypes)
	req := &models.LMRequest{
		RequestType: models.LMRequestExtractEntities,
		Messages: []models.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: string(dataJSON)},
		},
		TimeoutAt: time.Now().Add(300 * time.Second),
	}

	requestID, err := e.broker.Submit(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to submit entity extraction request: %w", err)
	}
	resp, err := e.broker.Wait(ctx, requestID, 300*time.Second)
	if err != nil {
		return fmt.Errorf("failed to await entity extraction response: %w", err)
	}
	if resp.Status != models.LMResponseSuccess {
		return fmt.Errorf("entity extraction request %s failed: %s", requestID, resp.Error)
	}

	var parsed struct {
		Entities []entityRecord `json:"entities"`
	}
	if err := json.Unmarshal([]byte(resp.Result), &parsed); err != nil {
		return fmt.Errorf("failed to parse entity extraction response: %w", err)
	}

	for _, rec := range parsed.Entities {
		typeDef := project.EntityTypeByName(rec.EntityType)
		if typeDef == nil || rec.Value == "" {
			continue
		}
		normalized := normalize(typeDef.NormalizationRule, rec.Value)

		entity, _, err := e.entities.GetOrCreate(ctx, &models.Entity{
			ProjectID:       extraction.ProjectID,
			SourceGroup:     extraction.SourceGroup,
			EntityType:      rec.EntityType,
			NormalizedValue: normalized,
			Value:           rec.Value,
			Attributes:      rec.Attributes,
		})
		if err != nil {
			e.logger.Warn().Err(err).Str("entity_type", rec.EntityType).Msg("failed to get-or-create entity")
			continue
		}

		// duplicate_link is an idempotent no-op, never an error (spec §7).
		if _, _, err := e.entities.GetOrCreateLink(ctx, extraction.ID, entity.ID, "mention"); err != nil {
			e.logger.Warn().Err(err).Str("entity_id", entity.ID).Msg("failed to link extraction to entity")
		}
	}

	return nil
}

func buildEntityPrompt(types []models.EntityTypeDef) string {
	var sb strings.Builder
	sb.WriteString("Extract entities mentioned in the following structured data. Recognized entity types:\n")
	for _, t := range types {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name, t.Description)
	}
	sb.WriteString("Output strict JSON: {\"entities\": [{\"entity_type\": ..., \"value\": ..., \"attributes\": {...}}]}")
	return sb.String()
}

var limitPattern = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*(?:per|/)\s*([a-zA-Z_]+)`)
var pricingPattern = regexp.MustCompile(`\$?\s*(\d+(?:\.\d+)?)\s*(?:/|\s*per\s*)\s*(month|year|week|day)`)

// normalize computes normalized_value per entity type (spec §4.9 step 3).
func normalize(rule, value string) string {
	switch rule {
	case "plan_feature", "plan", "feature":
		return lowerStrip(value)
	case "limit":
		if m := limitPattern.FindStringSubmatch(value); m != nil {
			return fmt.Sprintf("%s_per_%s", m[1], strings.ToLower(m[2]))
		}
		return lowerStrip(value)
	case "pricing":
		if m := pricingPattern.FindStringSubmatch(value); m != nil {
			cents := toCents(m[1])
			return fmt.Sprintf("%s_per_%s", cents, strings.ToLower(m[2]))
		}
		return lowerStrip(value)
	default:
		return lowerStrip(value)
	}
}

func lowerStrip(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func toCents(amount string) string {
	f, err := strconv.ParseFloat(amount, 64)
	if err != nil {
		return amount
	}
	return strconv.Itoa(int(f*100 + 0.5))
}
