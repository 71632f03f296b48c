// Package trainer derives the target speaker embedding from a directory of
// recordings and persists it through the checkpoint store.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vocaltwin/vocaltwin/internal/audio"
	"github.com/vocaltwin/vocaltwin/internal/checkpoint"
	"github.com/vocaltwin/vocaltwin/internal/corpus"
	"github.com/vocaltwin/vocaltwin/internal/voice"
)

// ErrEmptyCorpus reports that the audio directory holds no supported
// recordings at all.
var ErrEmptyCorpus = errors.New("no supported recordings found")

// defaultClipTimeout bounds one extraction call so a hung sidecar turns into
// a per-recording skip instead of a stuck run.
const defaultClipTimeout = 5 * time.Minute

// Config wires a Trainer.
type Config struct {
	Extractor     voice.Extractor
	ExtractorName string        // recorded in checkpoint provenance
	ClipTimeout   time.Duration // 0 means defaultClipTimeout
	Logger        *slog.Logger

	// OnClip, when set, is called after each recording is handled.
	OnClip func(done, total int)
}

// Trainer aggregates one embedding per recording into a single target
// embedding. Aggregation is the arithmetic per-dimension mean over the
// successfully extracted clips, computed in recording walk order, so an
// unchanged corpus reproduces the same embedding.
type Trainer struct {
	extractor     voice.Extractor
	extractorName string
	clipTimeout   time.Duration
	log           *slog.Logger
	onClip        func(done, total int)
}

func New(cfg Config) *Trainer {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.ClipTimeout
	if timeout == 0 {
		timeout = defaultClipTimeout
	}
	return &Trainer{
		extractor:     cfg.Extractor,
		extractorName: cfg.ExtractorName,
		clipTimeout:   timeout,
		log:           log,
		onClip:        cfg.OnClip,
	}
}

// Train extracts one embedding per recording under audioDir, averages them,
// and writes the result to checkpointDir (created if missing). Individual
// rejected recordings are skipped with a warning; Train fails only when the
// corpus is empty, every recording fails, or the checkpoint cannot be
// written.
func (t *Trainer) Train(ctx context.Context, audioDir, checkpointDir string) (*checkpoint.Checkpoint, error) {
	recordings, err := corpus.Recordings(audioDir)
	if err != nil {
		return nil, err
	}
	if len(recordings) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrEmptyCorpus, audioDir)
	}

	t.log.InfoContext(ctx, "training started",
		"audio_dir", audioDir, "recordings", len(recordings))

	var (
		sum  []float64
		used int
	)
	for i, rec := range recordings {
		se, err := t.extractClip(ctx, rec)
		if t.onClip != nil {
			t.onClip(i+1, len(recordings))
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			t.log.WarnContext(ctx, "skipping recording",
				"recording", filepath.Base(rec), "error", err)
			continue
		}
		if sum == nil {
			sum = make([]float64, se.Dim())
		}
		if se.Dim() != len(sum) {
			t.log.WarnContext(ctx, "skipping recording with mismatched embedding dimension",
				"recording", filepath.Base(rec), "dim", se.Dim(), "expected", len(sum))
			continue
		}
		for j, v := range se {
			sum[j] += float64(v)
		}
		used++
	}

	if used == 0 {
		return nil, fmt.Errorf("all %d recordings in %s failed extraction", len(recordings), audioDir)
	}

	mean := make(voice.Embedding, len(sum))
	for j, v := range sum {
		mean[j] = float32(v / float64(used))
	}

	ck := &checkpoint.Checkpoint{
		SE:        mean,
		RunID:     ulid.Make().String(),
		CreatedAt: time.Now().UTC(),
		Sources:   used,
		Extractor: t.extractorName,
	}
	if err := checkpoint.Save(checkpointDir, ck); err != nil {
		return nil, err
	}

	t.log.InfoContext(ctx, "training complete",
		"used", used, "skipped", len(recordings)-used,
		"dim", mean.Dim(), "checkpoint_dir", checkpointDir)
	return ck, nil
}

// extractClip runs one bounded extraction. Non-WAV recordings are first
// normalized into the extractor's PCM16/16kHz layout in a scoped temp dir.
func (t *Trainer) extractClip(ctx context.Context, rec string) (voice.Embedding, error) {
	ctx, cancel := context.WithTimeout(ctx, t.clipTimeout)
	defer cancel()

	path := rec
	if !strings.EqualFold(filepath.Ext(rec), ".wav") {
		tmpDir, err := os.MkdirTemp("", "vocaltwin-train-*")
		if err != nil {
			return nil, fmt.Errorf("create temp dir: %w", err)
		}
		defer os.RemoveAll(tmpDir)

		path = filepath.Join(tmpDir, "clip.wav")
		if err := audio.ConvertToWAV(ctx, rec, path); err != nil {
			return nil, err
		}
	}

	return t.extractor.Extract(ctx, path)
}
