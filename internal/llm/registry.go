package llm

import (
	"fmt"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/config"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/llm/providers/anthropic"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/llm/providers/gemini"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/llm/providers/openai"
)

// NewProvider builds the provider named in the configuration. A disabled
// LLM section yields nil, which the responder renders as a fixed notice.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Provider {
	case "openai", "":
		return openai.New(cfg.APIKey, cfg.BaseURL), nil
	case "anthropic":
		return anthropic.New(cfg.APIKey), nil
	case "gemini":
		return gemini.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
