package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const (
	openVoiceDefaultBaseURL = "http://127.0.0.1:6800"

	openVoiceExtractPath = "/v1/extract_se"
	openVoiceConvertPath = "/v1/convert"
)

// OpenVoiceClient talks to a local OpenVoice inference sidecar over HTTP.
// It implements both Extractor (speaker-embedding extraction with VAD) and
// Converter (tone-color conversion). One client is safe to share between the
// trainer and the synthesizer, but calls are not parallelized by the core.
type OpenVoiceClient struct {
	baseURL    string
	device     string
	httpClient *http.Client
}

// OpenVoiceConfig configures the sidecar connection.
type OpenVoiceConfig struct {
	BaseURL string
	Device  string // "cpu" or "cuda"; forwarded to the sidecar per request
	Timeout time.Duration
}

func NewOpenVoiceClient(cfg OpenVoiceConfig) *OpenVoiceClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openVoiceDefaultBaseURL
	}
	device := cfg.Device
	if device == "" {
		device = "cpu"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &OpenVoiceClient{
		baseURL:    baseURL,
		device:     device,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Device returns the compute device the client requests from the sidecar.
func (c *OpenVoiceClient) Device() string { return c.device }

// Ping verifies the sidecar is reachable and its converter weights are
// loaded. Called once at synthesizer construction so a missing sidecar fails
// before any document is processed.
func (c *OpenVoiceClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("openvoice sidecar unreachable at %s: %w", c.baseURL, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("openvoice sidecar unhealthy (status %d): %s", res.StatusCode, string(body))
	}
	return nil
}

func (c *OpenVoiceClient) Extract(ctx context.Context, audioPath string) (Embedding, error) {
	var se Embedding
	err := WithRetry(ctx, func() error {
		var err error
		se, err = c.extractOnce(ctx, audioPath)
		return err
	})
	if err != nil {
		if _, ok := err.(*ExtractionError); ok {
			return nil, err
		}
		return nil, &ExtractionError{Path: audioPath, Err: err}
	}
	return se, nil
}

func (c *OpenVoiceClient) extractOnce(ctx context.Context, audioPath string) (Embedding, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	writer.WriteField("device", c.device)
	writer.WriteField("vad", "true")

	if err := attachAudio(writer, audioPath); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+openVoiceExtractPath, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if retryable := retryableStatus(res); retryable != nil {
		return nil, retryable
	}

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	// 4xx from the extract endpoint means the clip itself was rejected
	// (unsupported format, silence only). That is a per-item failure.
	if res.StatusCode != http.StatusOK {
		return nil, &ExtractionError{
			Path: audioPath,
			Err:  fmt.Errorf("sidecar rejected clip (status %d): %s", res.StatusCode, string(respBody)),
		}
	}

	var parsed struct {
		SE []float32 `json:"se"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(parsed.SE) == 0 {
		return nil, &ExtractionError{Path: audioPath, Err: fmt.Errorf("sidecar returned empty embedding")}
	}
	return Embedding(parsed.SE), nil
}

func (c *OpenVoiceClient) Convert(ctx context.Context, srcPath string, srcSE, tgtSE Embedding, outPath string) error {
	if srcSE.Dim() != tgtSE.Dim() {
		return &ConversionError{
			Src: srcPath,
			Err: fmt.Errorf("embedding dimension mismatch: source %d, target %d", srcSE.Dim(), tgtSE.Dim()),
		}
	}

	err := WithRetry(ctx, func() error {
		return c.convertOnce(ctx, srcPath, srcSE, tgtSE, outPath)
	})
	if err != nil {
		if _, ok := err.(*ConversionError); ok {
			return err
		}
		return &ConversionError{Src: srcPath, Err: err}
	}
	return nil
}

func (c *OpenVoiceClient) convertOnce(ctx context.Context, srcPath string, srcSE, tgtSE Embedding, outPath string) error {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	writer.WriteField("device", c.device)
	if err := writeEmbeddingField(writer, "src_se", srcSE); err != nil {
		return err
	}
	if err := writeEmbeddingField(writer, "tgt_se", tgtSE); err != nil {
		return err
	}
	if err := attachAudio(writer, srcPath); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+openVoiceConvertPath, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if retryable := retryableStatus(res); retryable != nil {
		return retryable
	}

	if res.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(res.Body)
		return &ConversionError{
			Src: srcPath,
			Err: fmt.Errorf("sidecar conversion failed (status %d): %s", res.StatusCode, string(respBody)),
		}
	}

	// The response body is the converted WAV. Stream it straight to outPath.
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

func attachAudio(writer *multipart.Writer, audioPath string) error {
	f, err := os.Open(audioPath)
	if err != nil {
		return fmt.Errorf("open audio %s: %w", audioPath, err)
	}
	defer f.Close()

	part, err := writer.CreateFormFile("audio_file", filepath.Base(audioPath))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("copy audio data: %w", err)
	}
	return nil
}

func writeEmbeddingField(writer *multipart.Writer, name string, se Embedding) error {
	data, err := json.Marshal([]float32(se))
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	return writer.WriteField(name, string(data))
}

func retryableStatus(res *http.Response) *RetryableError {
	if res.StatusCode == http.StatusTooManyRequests ||
		res.StatusCode >= http.StatusInternalServerError {
		body, _ := io.ReadAll(res.Body)
		return &RetryableError{StatusCode: res.StatusCode, Body: string(body)}
	}
	return nil
}
