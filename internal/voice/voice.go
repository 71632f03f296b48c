package voice

import (
	"context"
	"fmt"
	"time"
)

// Embedding is a fixed-dimension speaker embedding vector. The dimension is
// set by the extraction model (192 for the bundled extractor) and the vector
// is treated as immutable once produced.
type Embedding []float32

// Dim returns the embedding dimensionality.
func (e Embedding) Dim() int { return len(e) }

// Clone returns an independent copy of the embedding.
func (e Embedding) Clone() Embedding {
	if e == nil {
		return nil
	}
	out := make(Embedding, len(e))
	copy(out, e)
	return out
}

// Extractor derives a speaker embedding from an audio clip on disk.
type Extractor interface {
	// Extract computes the speaker embedding for the recording at audioPath.
	// Returns an *ExtractionError when the audio is unsupported or unusable
	// (wrong container, silence-only clip).
	Extract(ctx context.Context, audioPath string) (Embedding, error)
}

// Engine renders text to a neutral base voice clip.
type Engine interface {
	// SynthesizeBase speaks text with the engine's selected base voice and
	// writes the result to outPath. Returns an *EngineError on invalid text
	// or voice.
	SynthesizeBase(ctx context.Context, text, outPath string) error

	// Voice returns the identifier of the selected base voice.
	Voice() string

	Close() error
}

// Converter re-renders a clip in the timbre of a target speaker while
// keeping linguistic content and timing intact.
type Converter interface {
	// Convert reads the clip at srcPath, swaps its tone color from srcSE to
	// tgtSE, and writes the result to outPath. Returns a *ConversionError on
	// incompatible embedding shapes or corrupt audio.
	Convert(ctx context.Context, srcPath string, srcSE, tgtSE Embedding, outPath string) error
}

// ExtractionError reports that the extractor rejected a recording.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract embedding from %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// EngineError reports a base-rendering failure.
type EngineError struct {
	Voice string
	Err   error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("base synthesis (voice %s): %v", e.Voice, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// ConversionError reports a tone-color conversion failure.
type ConversionError struct {
	Src string
	Err error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("tone-color conversion of %s: %v", e.Src, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Retry constants shared by the HTTP-backed collaborators.
const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 1 * time.Second
	defaultBackoffMulti   = 2
	defaultMaxBackoff     = 10 * time.Second
)

// RetryableError signals that the operation can be retried.
type RetryableError struct {
	StatusCode int
	Body       string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// WithRetry executes fn with exponential backoff on RetryableError.
func WithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	backoff := defaultInitialBackoff

	for attempt := 1; attempt <= defaultMaxAttempts; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else if _, ok := err.(*RetryableError); !ok {
			return err
		} else {
			lastErr = err
		}

		if attempt < defaultMaxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= time.Duration(defaultBackoffMulti)
			if backoff > defaultMaxBackoff {
				backoff = defaultMaxBackoff
			}
		}
	}

	return lastErr
}
