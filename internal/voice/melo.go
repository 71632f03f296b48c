package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	meloDefaultBaseURL = "http://127.0.0.1:6900"

	meloVoicesPath = "/v1/voices"
	meloTTSPath    = "/v1/tts"
)

// MeloEngine renders base speech through a MeloTTS sidecar. The base voice
// is the first native speaker the sidecar reports for the configured
// language, mirroring the upstream MeloTTS default.
type MeloEngine struct {
	baseURL    string
	language   string
	speakerID  string
	device     string
	httpClient *http.Client
}

// MeloConfig configures the MeloTTS sidecar connection.
type MeloConfig struct {
	BaseURL  string
	Language string // MeloTTS language code: EN, ES, FR, ZH, JP, KR
	Device   string
	Timeout  time.Duration
}

type meloTTSRequest struct {
	Text      string `json:"text"`
	Language  string `json:"language"`
	SpeakerID string `json:"speaker_id"`
	Device    string `json:"device,omitempty"`
}

// NewMeloEngine connects to the sidecar and selects the default base voice
// for the language. Construction fails when the sidecar is unreachable or
// the language has no voices, so a broken engine is never handed to the
// pipeline.
func NewMeloEngine(ctx context.Context, cfg MeloConfig) (*MeloEngine, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = meloDefaultBaseURL
	}
	language := strings.ToUpper(cfg.Language)
	if language == "" {
		language = "EN"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	e := &MeloEngine{
		baseURL:    baseURL,
		language:   language,
		device:     cfg.Device,
		httpClient: &http.Client{Timeout: timeout},
	}

	voices, err := e.listVoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("init melo engine: %w", err)
	}
	if len(voices) == 0 {
		return nil, fmt.Errorf("init melo engine: no voices available for language %s", language)
	}
	e.speakerID = voices[0]
	return e, nil
}

func (e *MeloEngine) Voice() string { return e.speakerID }

// Language returns the configured MeloTTS language code.
func (e *MeloEngine) Language() string { return e.language }

func (e *MeloEngine) SynthesizeBase(ctx context.Context, text, outPath string) error {
	err := WithRetry(ctx, func() error {
		return e.synthesizeOnce(ctx, text, outPath)
	})
	if err != nil {
		if _, ok := err.(*EngineError); ok {
			return err
		}
		return &EngineError{Voice: e.speakerID, Err: err}
	}
	return nil
}

func (e *MeloEngine) synthesizeOnce(ctx context.Context, text, outPath string) error {
	reqBody, err := json.Marshal(meloTTSRequest{
		Text:      text,
		Language:  e.language,
		SpeakerID: e.speakerID,
		Device:    e.device,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+meloTTSPath, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if retryable := retryableStatus(res); retryable != nil {
		return retryable
	}

	if res.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(res.Body)
		return &EngineError{
			Voice: e.speakerID,
			Err:   fmt.Errorf("sidecar rejected text (status %d): %s", res.StatusCode, string(respBody)),
		}
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create output %s: %w", outPath, err)
	}
	if _, err := io.Copy(out, res.Body); err != nil {
		out.Close()
		os.Remove(outPath)
		return fmt.Errorf("write output %s: %w", outPath, err)
	}
	return out.Close()
}

func (e *MeloEngine) listVoices(ctx context.Context) ([]string, error) {
	url := fmt.Sprintf("%s%s?language=%s", e.baseURL, meloVoicesPath, e.language)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	res, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("melo sidecar unreachable at %s: %w", e.baseURL, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("list voices (status %d): %s", res.StatusCode, string(body))
	}

	var parsed struct {
		Voices []string `json:"voices"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("unmarshal voices: %w", err)
	}
	return parsed.Voices, nil
}

func (e *MeloEngine) Close() error { return nil }

// ListMeloVoices queries the sidecar for the speakers available in the
// configured language, without constructing an engine.
func ListMeloVoices(ctx context.Context, cfg MeloConfig) ([]string, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = meloDefaultBaseURL
	}
	language := strings.ToUpper(cfg.Language)
	if language == "" {
		language = "EN"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	e := &MeloEngine{
		baseURL:    baseURL,
		language:   language,
		httpClient: &http.Client{Timeout: timeout},
	}
	return e.listVoices(ctx)
}
