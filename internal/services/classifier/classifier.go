// Package classifier routes a page to the field groups most likely to
// contain relevant facts via embedding-similarity scoring (spec §4.7),
// reading Layer-1 + Layer-2 cleaned content — tighter than the extractor's
// Layer-1-only view, since noise hurts a similarity signal more than it
// hurts extraction recall (spec §9).
package classifier

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

const classifyContentChars = 6000

// Bucket labels the similarity-score tier a page's best-matching group falls into.
type Bucket string

const (
	BucketHigh   Bucket = "high"
	BucketMedium Bucket = "medium"
	BucketLow    Bucket = "low"
)

// Result is the Classifier's field-group selection for one page.
type Result struct {
	Bucket         Bucket
	SelectedGroups []string
	SkipExtraction bool
}

// Classifier caches one embedding per FieldGroup (description || prompt_hint)
// and scores pages against them by cosine similarity.
type Classifier struct {
	embeddings interfaces.EmbeddingService
	config     *common.ExtractionConfig
	logger     arbor.ILogger

	cache map[string]map[string][]float32 // project_id -> group_name -> vector
}

func New(embeddings interfaces.EmbeddingService, config *common.ExtractionConfig, logger arbor.ILogger) *Classifier {
	return &Classifier{
		embeddings: embeddings,
		config:     config,
		logger:     logger,
		cache:      make(map[string]map[string][]float32),
	}
}

// warm computes and caches the field-group embeddings for a project if not
// already cached.
func (c *Classifier) warm(ctx context.Context, projectID string, groups []models.FieldGroup) error {
	if _, ok := c.cache[projectID]; ok {
		return nil
	}
	texts := make([]string, len(groups))
	for i, g := range groups {
		texts[i] = strings.TrimSpace(g.Description + " " + g.PromptHint)
	}
	vecs, err := c.embeddings.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed field group descriptions: %w", err)
	}
	m := make(map[string][]float32, len(groups))
	for i, g := range groups {
		if i < len(vecs) {
			m[g.Name] = vecs[i]
		}
	}
	c.cache[projectID] = m
	return nil
}

// Classify scores cleanedContent against every group's cached embedding and
// buckets/selects groups per spec §4.7 step 3.
func (c *Classifier) Classify(ctx context.Context, projectID string, groups []models.FieldGroup, cleanedContent string) (*Result, error) {
	if err := c.warm(ctx, projectID, groups); err != nil {
		return nil, err
	}

	sample := layer2Clean(cleanedContent)
	if len(sample) > classifyContentChars {
		sample = sample[:classifyContentChars]
	}
	pageVec, err := c.embeddings.Embed(ctx, sample)
	if err != nil {
		return nil, fmt.Errorf("failed to embed page content: %w", err)
	}

	type scored struct {
		name  string
		score float64
	}
	var scores []scored
	groupVecs := c.cache[projectID]
	for _, g := range groups {
		gv, ok := groupVecs[g.Name]
		if !ok {
			continue
		}
		scores = append(scores, scored{name: g.Name, score: cosine(pageVec, gv)})
	}
	if len(scores) == 0 {
		return &Result{Bucket: BucketLow, SelectedGroups: nil}, nil
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	maxScore := scores[0].score

	high := c.config.ClassifierHighThreshold
	if high <= 0 {
		high = 0.75
	}
	med := c.config.ClassifierMedThreshold
	if med <= 0 {
		med = 0.40
	}
	medTopN := c.config.ClassifierMedTopN
	if medTopN <= 0 {
		medTopN = 3
	}

	var bucket Bucket
	var selected []string

	switch {
	case maxScore > high:
		bucket = BucketHigh
		for _, s := range scores {
			if maxScore-s.score <= 0.10 {
				selected = append(selected, s.name)
			}
		}
	case maxScore >= med:
		bucket = BucketMedium
		for i, s := range scores {
			if i >= medTopN {
				break
			}
			selected = append(selected, s.name)
		}
	default:
		bucket = BucketLow
		floor := 0.80 * maxScore
		for _, s := range scores {
			if s.score >= floor {
				selected = append(selected, s.name)
			}
		}
		if len(selected) < 2 {
			selected = nil
			for i, s := range scores {
				if i >= 2 {
					break
				}
				selected = append(selected, s.name)
			}
		}
	}

	return &Result{Bucket: bucket, SelectedGroups: selected}, nil
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// linkDensityLine matches a line that is mostly markdown links — a Layer-2
// semantic-cleanup signal (spec §9's "link-density windowing") distinct from
// the orchestrator's structural Layer-1 pass.
var linkDensityLine = regexp.MustCompile(`^\s*(\[[^\]]*\]\([^)]*\)\s*\|?\s*){3,}$`)

// layer2Clean drops link-dense lines before classification; it is never
// applied ahead of extraction (spec §9: extraction uses Layer-1 only).
func layer2Clean(content string) string {
	lines := strings.Split(content, "\n")
	out := lines[:0]
	for _, l := range lines {
		if linkDensityLine.MatchString(l) {
			continue
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}
