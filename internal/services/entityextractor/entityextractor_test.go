package entityextractor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

func TestNormalize_PlanFeatureLowercasesAndTrims(t *testing.T) {
	assert.Equal(t, "single sign-on", normalize("plan_feature", "  Single Sign-On  "))
}

func TestNormalize_LimitExtractsValuePerUnit(t *testing.T) {
	assert.Equal(t, "100_per_month", normalize("limit", "100 per month"))
}

func TestNormalize_LimitFallsBackWhenUnparseable(t *testing.T) {
	assert.Equal(t, "unlimited", normalize("limit", "Unlimited"))
}

func TestNormalize_PricingConvertsToCentsPerUnit(t *testing.T) {
	assert.Equal(t, "999_per_month", normalize("pricing", "$9.99/month"))
}

func TestNormalize_PricingFallsBackWhenUnparseable(t *testing.T) {
	assert.Equal(t, "call for pricing", normalize("pricing", "Call for pricing"))
}

func TestNormalize_DefaultRuleLowercasesAndTrims(t *testing.T) {
	assert.Equal(t, "some value", normalize("default", "  Some Value  "))
}

func TestToCents_RoundsToNearestCent(t *testing.T) {
	assert.Equal(t, "999", toCents("9.99"))
	assert.Equal(t, "1000", toCents("10"))
}

func TestToCents_NonNumericReturnsInputUnchanged(t *testing.T) {
	assert.Equal(t, "free", toCents("free"))
}

func TestBuildEntityPrompt_ListsEachEntityType(t *testing.T) {
	types := []models.EntityTypeDef{
		{Name: "plan", Description: "a pricing plan"},
		{Name: "integration", Description: "a third-party integration"},
	}
	prompt := buildEntityPrompt(types)
	assert.Contains(t, prompt, "plan: a pricing plan")
	assert.Contains(t, prompt, "integration: a third-party integration")
}
