package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lexiqai/voice-agent/internal/config"
)

const (
	cartesiaBaseURL = "https://api.cartesia.ai"
	cartesiaVersion = "2024-06-10"
)

// CartesiaClient synthesizes speech with Cartesia's /tts/bytes endpoint,
// asking for a WAV container so clips are directly playable.
type CartesiaClient struct {
	apiKey     string
	baseURL    string
	voiceID    string
	modelID    string
	sampleRate int
	httpClient *http.Client
}

// CartesiaRequest represents the request payload for Cartesia TTS API
type CartesiaRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        CartesiaVoice        `json:"voice"`
	OutputFormat CartesiaOutputFormat `json:"output_format"`
	Language     string               `json:"language,omitempty"`
}

type CartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type CartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// NewCartesiaClient creates a new Cartesia TTS client
func NewCartesiaClient(cfg *config.Config) *CartesiaClient {
	return &CartesiaClient{
		apiKey:     cfg.CartesiaAPIKey,
		baseURL:    cartesiaBaseURL,
		voiceID:    cfg.CartesiaVoiceID,
		modelID:    cfg.CartesiaModelID,
		sampleRate: cfg.DeepgramTTSSampleRate,
		httpClient: &http.Client{},
	}
}

// WithBaseURL points the client at another host, e.g. a test server.
func (c *CartesiaClient) WithBaseURL(u string) *CartesiaClient {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

func (c *CartesiaClient) Name() string {
	return "cartesia"
}

// Synthesize returns WAV audio for text.
func (c *CartesiaClient) Synthesize(ctx context.Context, text string, voice VoiceConfig) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	voiceID := c.voiceID
	if voice.Voice != "" {
		voiceID = voice.Voice
	}

	reqBody := CartesiaRequest{
		ModelID:    c.modelID,
		Transcript: text,
		Voice:      CartesiaVoice{Mode: "id", ID: voiceID},
		OutputFormat: CartesiaOutputFormat{
			Container:  "wav",
			Encoding:   "pcm_s16le",
			SampleRate: c.sampleRate,
		},
		Language: voice.Language,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts/bytes", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &SynthesisError{Provider: c.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &SynthesisError{
			Provider: c.Name(),
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
		}
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SynthesisError{Provider: c.Name(), Err: fmt.Errorf("read body: %w", err)}
	}
	return audioData, nil
}
