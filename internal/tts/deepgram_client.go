package tts

import (
	"context"
	"fmt"
	"strings"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/speak/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	speak "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/speak"

	"github.com/lexiqai/voice-agent/internal/config"
)

// deepgramModels maps a language to its Aura voice.
var deepgramModels = map[string]string{
	"en": "aura-2-vesta-en",
	"es": "aura-2-celeste-es",
}

const defaultDeepgramModel = "aura-2-vesta-en"

// DeepgramModelFor returns the Aura model for lang, falling back to English.
func DeepgramModelFor(lang string) string {
	if m, ok := deepgramModels[strings.ToLower(strings.TrimSpace(lang))]; ok {
		return m
	}
	return defaultDeepgramModel
}

// DeepgramClient synthesizes speech with the Deepgram Speak REST API.
type DeepgramClient struct {
	apiKey     string
	model      string // overrides the per-language model when set
	encoding   string
	container  string
	sampleRate int
}

// NewDeepgramClient creates a Deepgram Speak client from config
func NewDeepgramClient(cfg *config.Config) *DeepgramClient {
	return &DeepgramClient{
		apiKey:     cfg.DeepgramAPIKey,
		model:      cfg.DeepgramTTSModel,
		encoding:   cfg.DeepgramTTSEncoding,
		container:  cfg.DeepgramTTSContainer,
		sampleRate: cfg.DeepgramTTSSampleRate,
	}
}

func (d *DeepgramClient) Name() string {
	return "deepgram"
}

// modelFor resolves the model for one call: explicit voice, then the
// configured override, then the language default.
func (d *DeepgramClient) modelFor(voice VoiceConfig) string {
	switch {
	case voice.Voice != "":
		return voice.Voice
	case d.model != "":
		return d.model
	}
	return DeepgramModelFor(voice.Language)
}

// Synthesize returns the complete audio for text (WAV/linear16 by default).
func (d *DeepgramClient) Synthesize(ctx context.Context, text string, voice VoiceConfig) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	options := &interfaces.SpeakOptions{
		Model:      d.modelFor(voice),
		Encoding:   d.encoding,
		Container:  d.container,
		SampleRate: d.sampleRate,
	}

	c := speak.NewREST(d.apiKey, &interfaces.ClientOptions{})
	dg := api.New(c)

	var buf interfaces.RawResponse
	if _, err := dg.ToStream(ctx, text, options, &buf); err != nil {
		return nil, &SynthesisError{Provider: d.Name(), Err: fmt.Errorf("speak request: %w", err)}
	}

	return buf.Bytes(), nil
}
