package boilerplate

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

func createTestLogger() arbor.ILogger {
	return arbor.NewLogger()
}

type fakeBoilerplateRepo struct {
	byKey map[string]*models.DomainBoilerplate
}

func newFakeBoilerplateRepo() *fakeBoilerplateRepo {
	return &fakeBoilerplateRepo{byKey: make(map[string]*models.DomainBoilerplate)}
}

func (f *fakeBoilerplateRepo) key(projectID, domain string) string {
	return projectID + "|" + domain
}

func (f *fakeBoilerplateRepo) Upsert(ctx context.Context, db *models.DomainBoilerplate) error {
	f.byKey[f.key(db.ProjectID, db.Domain)] = db
	return nil
}

func (f *fakeBoilerplateRepo) Get(ctx context.Context, projectID, domain string) (*models.DomainBoilerplate, error) {
	db, ok := f.byKey[f.key(projectID, domain)]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return db, nil
}

func testConfig() *common.BoilerplateConfig {
	return &common.BoilerplateConfig{
		Enabled:       true,
		ThresholdPct:  0.7,
		MinPages:      5,
		MinBlockChars: 10,
	}
}

const cookieBanner = "We use cookies to improve your experience and analyze traffic."

func pageWithBanner(body string) string {
	return cookieBanner + "\n\n" + body
}

func TestAnalyze_TooFewPagesRefusesToCompute(t *testing.T) {
	repo := newFakeBoilerplateRepo()
	engine := NewEngine(repo, testConfig(), createTestLogger())

	pages := []string{pageWithBanner("Page one unique content here.")}

	db, err := engine.Analyze(context.Background(), "proj1", "example.com", pages)
	require.NoError(t, err)
	require.NotNil(t, db)

	assert.Empty(t, db.BoilerplateHashes)
	assert.Equal(t, 1, db.PagesAnalyzed)

	// Nothing should have been persisted since there was too little data.
	_, getErr := repo.Get(context.Background(), "proj1", "example.com")
	assert.Error(t, getErr)
}

func TestAnalyze_IdentifiesRepeatedBlockAcrossPages(t *testing.T) {
	repo := newFakeBoilerplateRepo()
	engine := NewEngine(repo, testConfig(), createTestLogger())

	pages := []string{
		pageWithBanner("First page body discussing widgets and gadgets at length."),
		pageWithBanner("Second page body discussing gizmos and doodads at length."),
		pageWithBanner("Third page body discussing sprockets and cogs at length."),
		pageWithBanner("Fourth page body discussing pulleys and levers at length."),
		pageWithBanner("Fifth page body discussing springs and bearings at length."),
	}

	db, err := engine.Analyze(context.Background(), "proj1", "example.com", pages)
	require.NoError(t, err)
	require.NotNil(t, db)

	assert.Equal(t, 1, len(db.BoilerplateHashes))
	assert.Equal(t, hashBlock(cookieBanner), db.BoilerplateHashes[0])
	assert.Equal(t, 5, db.PagesAnalyzed)

	persisted, err := repo.Get(context.Background(), "proj1", "example.com")
	require.NoError(t, err)
	assert.Equal(t, db.BoilerplateHashes, persisted.BoilerplateHashes)
}

func TestAnalyze_BlockBelowThresholdNotFlagged(t *testing.T) {
	repo := newFakeBoilerplateRepo()
	engine := NewEngine(repo, testConfig(), createTestLogger())

	// Same banner repeated on only 2 of 5 pages: below the 70% threshold.
	pages := []string{
		pageWithBanner("First page body."),
		pageWithBanner("Second page body."),
		"Third page has an entirely different opening paragraph altogether.",
		"Fourth page has an entirely different opening paragraph altogether.",
		"Fifth page has an entirely different opening paragraph altogether.",
	}

	db, err := engine.Analyze(context.Background(), "proj1", "example.com", pages)
	require.NoError(t, err)
	assert.Empty(t, db.BoilerplateHashes)
}

func TestStrip_RemovesFingerprintedBlockAndCollapsesBlankLines(t *testing.T) {
	repo := newFakeBoilerplateRepo()
	engine := NewEngine(repo, testConfig(), createTestLogger())

	pages := make([]string, 5)
	for i := range pages {
		pages[i] = pageWithBanner(fmt.Sprintf("Unique body content for page %d goes here.", i))
	}
	_, err := engine.Analyze(context.Background(), "proj1", "example.com", pages)
	require.NoError(t, err)

	content := pageWithBanner("Unique body content for page 6 goes here.")
	cleaned, bytesRemoved, err := engine.Strip(context.Background(), "proj1", "example.com", content)
	require.NoError(t, err)

	assert.Greater(t, bytesRemoved, 0)
	assert.NotContains(t, cleaned, "We use cookies")
	assert.Contains(t, cleaned, "Unique body content for page 6 goes here.")
	assert.False(t, strings.Contains(cleaned, "\n\n\n"))
}

func TestStrip_NoFingerprintReturnsContentUnchanged(t *testing.T) {
	repo := newFakeBoilerplateRepo()
	engine := NewEngine(repo, testConfig(), createTestLogger())

	content := pageWithBanner("Some page content.")
	cleaned, bytesRemoved, err := engine.Strip(context.Background(), "unknown-proj", "unknown.com", content)
	require.NoError(t, err)

	assert.Equal(t, content, cleaned)
	assert.Equal(t, 0, bytesRemoved)
}

func TestAnalyze_BlockShorterThanMinBlockCharsNeverFlagged(t *testing.T) {
	repo := newFakeBoilerplateRepo()
	cfg := testConfig()
	cfg.MinBlockChars = 1000 // larger than the banner, so it can never qualify as a block
	engine := NewEngine(repo, cfg, createTestLogger())

	pages := make([]string, 5)
	for i := range pages {
		pages[i] = pageWithBanner(fmt.Sprintf("Unique body content for page %d goes here, padded with extra words to pass the length floor comfortably.", i))
	}
	db, err := engine.Analyze(context.Background(), "proj1", "example.com", pages)
	require.NoError(t, err)
	assert.Empty(t, db.BoilerplateHashes, "the short cookie banner block should never clear min_block_chars")
}
