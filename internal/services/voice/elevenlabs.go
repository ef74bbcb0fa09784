// Package voice turns reply text into speech.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ami-tgbot-go/internal/config"
	"github.com/sirupsen/logrus"
)

// Synthesizer produces an audio artifact for text
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// ElevenLabs synthesizes MP3 audio through the ElevenLabs text-to-speech API
type ElevenLabs struct {
	cfg        *config.VoiceConfig
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewElevenLabs creates a synthesizer
func NewElevenLabs(cfg *config.VoiceConfig, logger *logrus.Logger) *ElevenLabs {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ElevenLabs{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Synthesize returns MP3 bytes for text
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if e.cfg.APIKey == "" || e.cfg.VoiceID == "" {
		return nil, fmt.Errorf("speech synthesis is not configured")
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("nothing to synthesize")
	}

	jsonData, err := json.Marshal(ttsRequest{
		Text:    text,
		ModelID: e.cfg.ModelID,
		VoiceSettings: voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.25,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s", strings.TrimSuffix(e.cfg.BaseURL, "/"), e.cfg.VoiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", e.cfg.APIKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		e.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   string(body),
		}).Error("Speech synthesis request failed")
		return nil, fmt.Errorf("speech synthesis failed with status %d", resp.StatusCode)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("speech synthesis returned no audio")
	}

	e.logger.WithField("bytes", len(body)).Debug("Speech synthesized")
	return body, nil
}
