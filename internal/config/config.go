package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Core
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Model webhook endpoints
	ChatGPTWebhookURL string `env:"CHATGPT_WEBHOOK_URL,required"`
	GeminiWebhookURL  string `env:"GEMINI_WEBHOOK_URL,required"`

	// Advisory per-1M-token prices, used for cost estimates in logs
	ChatGPTPromptPrice     float64 `env:"CHATGPT_PROMPT_PRICE" envDefault:"0.5"`
	ChatGPTCompletionPrice float64 `env:"CHATGPT_COMPLETION_PRICE" envDefault:"1.5"`
	GeminiPromptPrice      float64 `env:"GEMINI_PROMPT_PRICE" envDefault:"0.35"`
	GeminiCompletionPrice  float64 `env:"GEMINI_COMPLETION_PRICE" envDefault:"1.05"`

	// Client behavior
	Language     string `env:"CHAT_LANGUAGE" envDefault:"en"`
	DefaultModel string `env:"CHAT_DEFAULT_MODEL" envDefault:"ChatGPT"`
	UserID       string `env:"CHAT_USER_ID" envDefault:"anonymous"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
