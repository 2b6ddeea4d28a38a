package llm

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
)

// NewEndpoint wires the concrete LLMEndpoint selected by cfg.Provider.
func NewEndpoint(ctx context.Context, cfg *common.LMConfig, kv interfaces.KeyValueStorage, logger arbor.ILogger) (interfaces.LLMEndpoint, error) {
	switch cfg.Provider {
	case common.LMProviderGemini:
		return NewGeminiEndpoint(ctx, cfg, kv, logger)
	case common.LMProviderClaude, "":
		return NewClaudeEndpoint(ctx, cfg, kv, logger)
	default:
		return nil, fmt.Errorf("unknown lm provider %q", cfg.Provider)
	}
}
