package handler

import (
	"github.com/dkeye/voicebot/internal/core"
	"github.com/rs/zerolog/log"
)

// Options carries the per-backend settings a template handler is built from.
type Options struct {
	OpenAI OpenAIConfig
	Gemini GeminiConfig
}

// NewTemplate picks the handler every call is copied from: OpenAI when its
// API key is set, else Gemini, else Echo.
func NewTemplate(opts Options) core.AudioHandler {
	switch {
	case opts.OpenAI.APIKey != "":
		log.Info().Str("module", "handler").Str("backend", "openai").Msg("using OpenAI handler")
		return NewOpenAI(opts.OpenAI)
	case opts.Gemini.APIKey != "":
		log.Info().Str("module", "handler").Str("backend", "gemini").Msg("using Gemini handler")
		return NewGemini(opts.Gemini)
	default:
		log.Info().Str("module", "handler").Str("backend", "echo").Msg("using Echo handler")
		return NewEcho()
	}
}
