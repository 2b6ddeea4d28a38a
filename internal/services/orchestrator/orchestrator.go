// Package orchestrator implements the SchemaOrchestrator: the central
// per-source extraction algorithm (spec §4.8). It plans per-field-group LM
// calls against a chunked document, enforces per-page content
// classification, and merges chunk results under typed aggregation rules.
// A group's confidence is the highest per-chunk confidence the LM reported;
// a group whose merge is entirely null/empty is dropped, not kept with a
// reduced confidence.
package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/chunker"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/classifier"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/llmbroker"
)

// Result is the SchemaOrchestrator's output for one Source.
type Result struct {
	Extractions    []*models.Extraction
	ChunksProcessed int
	SkippedByRule  bool
}

// Orchestrator runs the §4.8 algorithm against a Source's field groups.
type Orchestrator struct {
	broker     *llmbroker.Broker
	classifier *classifier.Classifier
	config     *common.ExtractionConfig
	logger     arbor.ILogger

	skipURLPatterns     []*regexp.Regexp
	skipContentPatterns []*regexp.Regexp
}

func New(broker *llmbroker.Broker, cls *classifier.Classifier, config *common.ExtractionConfig, logger arbor.ILogger) *Orchestrator {
	o := &Orchestrator{broker: broker, classifier: cls, config: config, logger: logger}
	for _, p := range config.SkipURLPatterns {
		if re, err := regexp.Compile(p); err == nil {
			o.skipURLPatterns = append(o.skipURLPatterns, re)
		}
	}
	for _, p := range config.SkipContentPatterns {
		if re, err := regexp.Compile(p); err == nil {
			o.skipContentPatterns = append(o.skipContentPatterns, re)
		}
	}
	return o
}

// CancelChecker is polled before each (group, chunk) LM request is launched;
// once it reports true no further requests start, and Run merges only the
// results of requests already launched.
type CancelChecker func(ctx context.Context) bool

// Run executes §4.8 steps 1-7 for one Source against the project's schema,
// returning one Extraction per selected field group whose merged data is not
// entirely null/empty.
func (o *Orchestrator) Run(ctx context.Context, project *models.Project, source *models.Source, isCancelled CancelChecker) (*Result, error) {
	content := source.EffectiveContent()
	if content == "" {
		return &Result{}, nil
	}

	// Rule-based skip runs before classification (spec §9 precedence decision).
	if o.config.SkipPatternsEnabled && o.matchesSkipPattern(source.URI, content) {
		o.logger.Info().Str("source_id", source.ID).Msg("source matched skip pattern; no extraction performed")
		return &Result{SkippedByRule: true}, nil
	}

	workingContent := layer1Clean(content)
	groups := project.Schema.FieldGroups

	selectedNames := map[string]bool{}
	if o.config.ClassificationEnabled && len(groups) > 0 {
		res, err := o.classifier.Classify(ctx, project.ID, groups, workingContent)
		if err != nil {
			o.logger.Warn().Err(err).Str("source_id", source.ID).Msg("classification failed; falling back to all groups")
			for _, g := range groups {
				selectedNames[g.Name] = true
			}
		} else {
			for _, g := range res.SelectedGroups {
				selectedNames[g] = true
			}
		}
	} else {
		for _, g := range groups {
			selectedNames[g.Name] = true
		}
	}

	var selectedGroups []models.FieldGroup
	for _, g := range groups {
		if selectedNames[g.Name] {
			selectedGroups = append(selectedGroups, g)
		}
	}
	if len(selectedGroups) == 0 {
		return &Result{}, nil
	}

	budget := o.config.ChunkTokenBudget
	chunks := chunker.Chunk(workingContent, budget)

	type job struct {
		group models.FieldGroup
		chunk chunker.DocumentChunk
	}
	var jobs []job
	for _, g := range selectedGroups {
		for _, c := range chunks {
			jobs = append(jobs, job{group: g, chunk: c})
		}
	}

	maxConcurrent := o.config.MaxConcurrentChunks
	if maxConcurrent <= 0 {
		maxConcurrent = 80
	}
	sem := make(chan struct{}, maxConcurrent)

	type chunkOutcome struct {
		group   string
		chunkIx int
		data    map[string]interface{}
		raw     float64
	}
	results := make([]chunkOutcome, len(jobs))
	var wg sync.WaitGroup

	for i, j := range jobs {
		if isCancelled != nil && isCancelled(ctx) {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, j job) {
			defer wg.Done()
			defer func() { <-sem }()

			data, raw := o.extractChunk(ctx, project, j.group, j.chunk)
			results[idx] = chunkOutcome{group: j.group.Name, chunkIx: j.chunk.ChunkIndex, data: data, raw: raw}
		}(i, j)
	}
	wg.Wait()

	perGroupChunks := map[string][]map[string]interface{}{}
	perGroupConfidence := map[string][]float64{}
	for _, r := range results {
		if r.group == "" {
			continue
		}
		perGroupChunks[r.group] = append(perGroupChunks[r.group], r.data)
		perGroupConfidence[r.group] = append(perGroupConfidence[r.group], r.raw)
	}

	extractions := o.buildExtractions(project, source, selectedGroups, perGroupChunks, perGroupConfidence)

	return &Result{Extractions: extractions, ChunksProcessed: len(chunks)}, nil
}

// buildExtractions merges each selected group's per-chunk results and drops
// any group whose merge is entirely null/empty. A group that never resolves
// non-empty data (every chunk failed, timed out, or produced unrecoverable
// JSON) is not a result worth persisting: spec §4.8 failure semantics require
// a source with zero non-empty extractions to transition to failed, not
// extracted, so an all-empty group must not reach the caller's batch.
func (o *Orchestrator) buildExtractions(
	project *models.Project,
	source *models.Source,
	selectedGroups []models.FieldGroup,
	perGroupChunks map[string][]map[string]interface{},
	perGroupConfidence map[string][]float64,
) []*models.Extraction {
	var extractions []*models.Extraction
	for _, g := range selectedGroups {
		chunkResults := perGroupChunks[g.Name]
		merged := mergeFieldGroup(g, project.Context.EntityIDFields, chunkResults, o.logger)
		raw := maxConfidence(perGroupConfidence[g.Name])

		if isEmptyMerged(g, merged) {
			o.logger.Debug().Str("source_id", source.ID).Str("group", g.Name).
				Msg("dropping all-empty merged group")
			continue
		}

		extractions = append(extractions, &models.Extraction{
			ProjectID:      project.ID,
			SourceID:       source.ID,
			SourceGroup:    source.SourceGroup,
			ExtractionType: g.Name,
			Data:           merged,
			Confidence:     raw,
		})
	}
	return extractions
}

func (o *Orchestrator) matchesSkipPattern(uri, content string) bool {
	for _, re := range o.skipURLPatterns {
		if re.MatchString(uri) {
			return true
		}
	}
	sample := content
	if len(sample) > 200 {
		sample = sample[:200]
	}
	for _, re := range o.skipContentPatterns {
		if re.MatchString(strings.TrimSpace(sample)) {
			return true
		}
	}
	return false
}

// extractChunk submits one extract_field_group LM request for (group, chunk)
// and returns the parsed field data and the LM's self-reported confidence
// (defaulting to 1.0 when absent), or an empty result with confidence 0 on
// an unrecoverable JSON parse failure (spec §4.8 "JSON robustness").
func (o *Orchestrator) extractChunk(ctx context.Context, project *models.Project, group models.FieldGroup, chunk chunker.DocumentChunk) (map[string]interface{}, float64) {
	contentLimit := o.config.ContentLimit
	if contentLimit <= 0 {
		contentLimit = 20000
	}
	chunkText := chunk.Content
	if len(chunkText) > contentLimit {
		chunkText = chunkText[:contentLimit]
	}

	system := buildSystemPrompt(project, group)
	user := fmt.Sprintf("%s: %s\n\n%s", project.Context.SourceLabel, strings.Join(chunk.HeaderPath, " > "), chunkText)

	req := &models.LMRequest{
		RequestType: models.LMRequestExtractFieldGroup,
		Messages: []models.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Payload: map[string]interface{}{
			"project_id":  project.ID,
			"group":       group.Name,
			"chunk_index": chunk.ChunkIndex,
		},
		TimeoutAt: time.Now().Add(300 * time.Second),
	}

	requestID, err := o.broker.Submit(ctx, req)
	if err != nil {
		o.logger.Warn().Err(err).Str("group", group.Name).Msg("failed to submit extraction request")
		return emptyGroupData(group), 0.0
	}

	resp, err := o.broker.Wait(ctx, requestID, 300*time.Second)
	if err != nil || resp.Status != models.LMResponseSuccess {
		return emptyGroupData(group), 0.0
	}

	parsed, ok := repairJSON(resp.Result)
	if !ok {
		o.logger.Warn().Str("group", group.Name).Str("request_id", requestID).Msg("unrecoverable JSON parse failure")
		return emptyGroupData(group), 0.0
	}

	confidence := 1.0
	if c, ok := parsed["_confidence"]; ok {
		if f, ok := asFloat(c); ok {
			confidence = f
		}
		delete(parsed, "_confidence")
	}

	if group.IsEntityList {
		records, _ := parsed["records"]
		return map[string]interface{}{"records": records}, confidence
	}
	return validateAgainstSchema(group, parsed), confidence
}

// fieldValidator runs the compiled schema's per-field constraints against
// decoded LM output (spec §9: "Validation of LM output against this
// compiled schema is mandatory before persisting"). Field schemas are
// per-project data, not static Go structs, so constraints are checked ad hoc
// with Var rather than Struct.
var fieldValidator = validator.New()

// validateAgainstSchema drops any field not declared on the group, applies
// each declared field's default when the LM omitted it or its coerced value
// fails the field's compiled constraints, and otherwise keeps the coerced
// value (spec §9: "type-coercion is tolerant... structure-strict").
func validateAgainstSchema(group models.FieldGroup, parsed map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(group.Fields))
	for _, f := range group.Fields {
		v, present := parsed[f.Name]
		if !present || v == nil {
			out[f.Name] = fieldDefault(f)
			continue
		}
		coerced := coerceField(f, v)
		if !validateField(f, coerced) {
			out[f.Name] = fieldDefault(f)
			continue
		}
		out[f.Name] = coerced
	}
	return out
}

func fieldDefault(f models.Field) interface{} {
	if f.Default != nil {
		return f.Default
	}
	return nil
}

// validateField checks one coerced field value against the tag built from
// its compiled constraints (required, enum membership).
func validateField(f models.Field, v interface{}) bool {
	tag := fieldValidationTag(f)
	if tag == "" {
		return true
	}
	return fieldValidator.Var(v, tag) == nil
}

func fieldValidationTag(f models.Field) string {
	var tags []string
	if f.Required {
		tags = append(tags, "required")
	}
	if f.Type == models.FieldTypeEnum && len(f.EnumValues) > 0 {
		tags = append(tags, "oneof="+strings.Join(f.EnumValues, " "))
	}
	return strings.Join(tags, ",")
}

func coerceField(f models.Field, v interface{}) interface{} {
	switch f.Type {
	case models.FieldTypeInteger, models.FieldTypeFloat:
		if s, ok := v.(string); ok {
			var f64 float64
			if _, err := fmt.Sscanf(s, "%f", &f64); err == nil {
				return f64
			}
		}
	case models.FieldTypeBoolean:
		if s, ok := v.(string); ok {
			return strings.EqualFold(s, "true") || strings.EqualFold(s, "yes")
		}
	case models.FieldTypeText:
		if n, ok := asFloat(v); ok {
			return fmt.Sprintf("%v", n)
		}
	}
	return v
}

func emptyGroupData(group models.FieldGroup) map[string]interface{} {
	if group.IsEntityList {
		return map[string]interface{}{"records": []interface{}{}}
	}
	out := make(map[string]interface{}, len(group.Fields))
	for _, f := range group.Fields {
		out[f.Name] = nil
	}
	return out
}

func buildSystemPrompt(project *models.Project, group models.FieldGroup) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are extracting %s from %s.\n", group.Description, project.Context.SourceType)
	sb.WriteString("Fields:\n")
	for _, f := range group.Fields {
		fmt.Fprintf(&sb, "- %s (%s): %s", f.Name, f.Type, f.Description)
		if len(f.EnumValues) > 0 {
			fmt.Fprintf(&sb, " [one of: %s]", strings.Join(f.EnumValues, ", "))
		}
		sb.WriteString("\n")
	}
	if group.PromptHint != "" {
		sb.WriteString(group.PromptHint + "\n")
	}
	sb.WriteString("Output strict JSON with null for unknown fields. Set boolean fields true only on clear evidence.")
	return sb.String()
}

func maxConfidence(values []float64) float64 {
	best := 0.0
	for _, v := range values {
		if v > best {
			best = v
		}
	}
	return best
}

