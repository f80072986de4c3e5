// Package tts turns agent replies into audio for playback on calls.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/knoguchi/peermatch/internal/breaker"
)

// Defaults
const (
	DefaultBaseURL = "https://api.elevenlabs.io/v1"
	DefaultVoiceID = "pqHfZKP75CvOlQylNhV4"
	DefaultModel   = "eleven_flash_v2_5"
)

// ErrEmptyText is returned when asked to speak nothing.
var ErrEmptyText = errors.New("text is required")

// Synthesizer converts text to audio.
type Synthesizer interface {
	// Synthesize returns MP3 audio for text.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// VoiceSettings tune the ElevenLabs voice.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// DefaultVoiceSettings returns the settings used for calls.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{Stability: 0.5, SimilarityBoost: 0.75, Style: 0.0, UseSpeakerBoost: true}
}

// Config configures an ElevenLabs client.
type Config struct {
	APIKey     string
	VoiceID    string
	Model      string
	BaseURL    string
	Settings   *VoiceSettings
	HTTPClient *http.Client
	Breaker    *breaker.Breaker
}

// ElevenLabs calls the ElevenLabs text-to-speech API.
type ElevenLabs struct {
	apiKey   string
	voiceID  string
	model    string
	baseURL  string
	settings VoiceSettings
	client   *http.Client
	breaker  *breaker.Breaker
}

type speechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

// NewElevenLabs creates a client. Empty fields take the package defaults.
func NewElevenLabs(cfg Config) *ElevenLabs {
	e := &ElevenLabs{
		apiKey:   cfg.APIKey,
		voiceID:  cfg.VoiceID,
		model:    cfg.Model,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		settings: DefaultVoiceSettings(),
		client:   cfg.HTTPClient,
		breaker:  cfg.Breaker,
	}
	if e.voiceID == "" {
		e.voiceID = DefaultVoiceID
	}
	if e.model == "" {
		e.model = DefaultModel
	}
	if e.baseURL == "" {
		e.baseURL = DefaultBaseURL
	}
	if cfg.Settings != nil {
		e.settings = *cfg.Settings
	}
	if e.client == nil {
		e.client = &http.Client{Timeout: 30 * time.Second}
	}
	return e
}

// Synthesize implements Synthesizer.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if e.breaker == nil {
		return e.synthesize(ctx, text)
	}

	v, err := e.breaker.Execute(ctx, func() (interface{}, error) {
		return e.synthesize(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (e *ElevenLabs) synthesize(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(speechRequest{Text: text, ModelID: e.model, VoiceSettings: e.settings})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s", e.baseURL, e.voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("elevenlabs returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	return audio, nil
}

var _ Synthesizer = (*ElevenLabs)(nil)
