package llm

import (
	"testing"

	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// TestConvertMessagesToClaude_SplitsSystemFromConversation covers Claude's
// top-level System param vs. Anthropic's in-band system message convention.
func TestConvertMessagesToClaude_SplitsSystemFromConversation(t *testing.T) {
	messages := []models.Message{
		{Role: "system", Content: "You are a pricing extractor."},
		{Role: "user", Content: "Extract the plan."},
		{Role: "assistant", Content: "Sure."},
	}
	out, system, err := convertMessagesToClaude(messages)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if system != "You are a pricing extractor." {
		t.Fatalf("expected system text extracted, got %q", system)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 non-system messages, got %d", len(out))
	}
}

// TestConvertMessagesToClaude_RequiresAUserMessage covers the guard: a
// conversation with only system/assistant messages is rejected.
func TestConvertMessagesToClaude_RequiresAUserMessage(t *testing.T) {
	_, _, err := convertMessagesToClaude([]models.Message{{Role: "system", Content: "hi"}})
	if err == nil {
		t.Fatal("expected an error when no user message is present")
	}
}

// TestConvertMessagesToClaude_FirstSystemMessageWins covers the "only the
// first system message is kept" rule.
func TestConvertMessagesToClaude_FirstSystemMessageWins(t *testing.T) {
	messages := []models.Message{
		{Role: "system", Content: "first"},
		{Role: "system", Content: "second"},
		{Role: "user", Content: "go"},
	}
	_, system, err := convertMessagesToClaude(messages)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if system != "first" {
		t.Fatalf("expected the first system message to win, got %q", system)
	}
}

// TestConvertMessagesToGemini_SplitsSystemFromConversation mirrors the Claude
// case for Gemini's Content/Role shape.
func TestConvertMessagesToGemini_SplitsSystemFromConversation(t *testing.T) {
	messages := []models.Message{
		{Role: "system", Content: "You are a pricing extractor."},
		{Role: "user", Content: "Extract the plan."},
		{Role: "assistant", Content: "Sure."},
	}
	out, system, err := convertMessagesToGemini(messages)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if system != "You are a pricing extractor." {
		t.Fatalf("expected system text extracted, got %q", system)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 non-system contents, got %d", len(out))
	}
	if out[1].Role != "model" {
		t.Fatalf("expected the assistant message mapped to role 'model', got %q", out[1].Role)
	}
}

// TestConvertMessagesToGemini_RequiresAUserMessage covers the guard.
func TestConvertMessagesToGemini_RequiresAUserMessage(t *testing.T) {
	_, _, err := convertMessagesToGemini([]models.Message{{Role: "assistant", Content: "hi"}})
	if err == nil {
		t.Fatal("expected an error when no user message is present")
	}
}
