// Package boilerplate implements cross-page fingerprinting and stripping of
// repeated blocks per (project, domain), feeding cleaned content to
// extraction (spec §4.6). Block hashing is plain stdlib: no pack library
// exists for ad-hoc whitespace-normalized text fingerprinting, so this is a
// justified standard-library component (see DESIGN.md).
package boilerplate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// blockSeparator identifies blank-line-separated blocks (spec §4.6).
var blockSeparator = regexp.MustCompile(`\n\s*\n`)

// collapseNewlines squashes runs of 3+ newlines to a single blank line after
// stripping.
var collapseNewlines = regexp.MustCompile(`\n{3,}`)

// Engine computes and applies per-domain boilerplate fingerprints.
type Engine struct {
	repo   interfaces.DomainBoilerplateRepo
	config *common.BoilerplateConfig
	logger arbor.ILogger
}

func NewEngine(repo interfaces.DomainBoilerplateRepo, config *common.BoilerplateConfig, logger arbor.ILogger) *Engine {
	return &Engine{repo: repo, config: config, logger: logger}
}

// blocks splits document into blank-line-separated blocks, dropping any
// shorter than min_block_chars.
func blocks(content string, minBlockChars int) []string {
	var out []string
	for _, b := range blockSeparator.Split(content, -1) {
		if len(strings.TrimSpace(b)) >= minBlockChars {
			out = append(out, b)
		}
	}
	return out
}

// normalize collapses whitespace to a single space, lowercases, and strips.
func normalize(block string) string {
	collapsed := strings.Join(strings.Fields(block), " ")
	return strings.ToLower(strings.TrimSpace(collapsed))
}

// hashBlock reduces a normalized block to the first 16 hex chars of its
// SHA-256 digest (64-bit, adequate for per-domain scope — spec §4.6).
func hashBlock(block string) string {
	sum := sha256.Sum256([]byte(normalize(block)))
	return hex.EncodeToString(sum[:])[:16]
}

// Analyze recomputes the fingerprint for (projectID, domain) over the given
// page contents, persists it, and returns the result. With fewer than
// MinPages pages it computes nothing: it returns a fingerprint with no
// hashes and persists nothing (spec §4.6).
func (e *Engine) Analyze(ctx context.Context, projectID, domain string, pages []string) (*models.DomainBoilerplate, error) {
	minPages := e.config.MinPages
	if minPages <= 0 {
		minPages = 5
	}
	minBlockChars := e.config.MinBlockChars
	if minBlockChars <= 0 {
		minBlockChars = 50
	}
	thresholdPct := e.config.ThresholdPct
	if thresholdPct <= 0 {
		thresholdPct = 0.7
	}

	if len(pages) < minPages {
		e.logger.Debug().Str("project_id", projectID).Str("domain", domain).
			Int("pages", len(pages)).Int("min_pages", minPages).
			Msg("too few pages to compute boilerplate fingerprint")
		return &models.DomainBoilerplate{
			ProjectID:     projectID,
			Domain:        domain,
			ThresholdPct:  thresholdPct,
			MinPages:      minPages,
			MinBlockChars: minBlockChars,
			PagesAnalyzed: len(pages),
		}, nil
	}

	pageHashCounts := map[string]int{}
	blocksTotal := 0
	for _, page := range pages {
		seen := map[string]bool{}
		for _, b := range blocks(page, minBlockChars) {
			blocksTotal++
			h := hashBlock(b)
			if !seen[h] {
				seen[h] = true
				pageHashCounts[h]++
			}
		}
	}

	threshold := int(float64(len(pages)) * thresholdPct)
	if threshold < minPages {
		threshold = minPages
	}

	var boilerplateHashes []string
	for h, count := range pageHashCounts {
		if count >= threshold {
			boilerplateHashes = append(boilerplateHashes, h)
		}
	}

	db := &models.DomainBoilerplate{
		ProjectID:         projectID,
		Domain:            domain,
		BoilerplateHashes: boilerplateHashes,
		ThresholdPct:      thresholdPct,
		MinPages:          minPages,
		MinBlockChars:     minBlockChars,
		PagesAnalyzed:     len(pages),
		BlocksTotal:       blocksTotal,
		BlocksBoilerplate: len(boilerplateHashes),
	}

	if err := e.repo.Upsert(ctx, db); err != nil {
		return nil, fmt.Errorf("failed to persist domain boilerplate: %w", err)
	}
	return db, nil
}

// Strip removes boilerplate blocks from content using the persisted
// fingerprint for (projectID, domain), returning the cleaned content and the
// number of bytes removed (spec §4.6).
func (e *Engine) Strip(ctx context.Context, projectID, domain, content string) (string, int, error) {
	db, err := e.repo.Get(ctx, projectID, domain)
	if err != nil {
		return content, 0, nil
	}
	if len(db.BoilerplateHashes) == 0 {
		return content, 0, nil
	}

	minBlockChars := db.MinBlockChars
	if minBlockChars <= 0 {
		minBlockChars = 50
	}

	boilerplate := make(map[string]bool, len(db.BoilerplateHashes))
	for _, h := range db.BoilerplateHashes {
		boilerplate[h] = true
	}

	parts := blockSeparator.Split(content, -1)
	seps := blockSeparator.FindAllString(content, -1)

	var sb strings.Builder
	bytesRemoved := 0
	for i, part := range parts {
		drop := len(strings.TrimSpace(part)) >= minBlockChars && boilerplate[hashBlock(part)]
		if drop {
			bytesRemoved += len(part)
		} else {
			sb.WriteString(part)
		}
		if i < len(seps) && !drop {
			sb.WriteString(seps[i])
		}
	}

	cleaned := collapseNewlines.ReplaceAllString(sb.String(), "\n\n")
	return cleaned, bytesRemoved, nil
}
