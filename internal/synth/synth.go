// Package synth runs the per-document synthesis pipeline: base rendering,
// source-embedding extraction, and tone-color conversion into the target
// speaker's voice.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vocaltwin/vocaltwin/internal/audio"
	"github.com/vocaltwin/vocaltwin/internal/checkpoint"
	"github.com/vocaltwin/vocaltwin/internal/corpus"
	"github.com/vocaltwin/vocaltwin/internal/voice"
)

var tracer = otel.Tracer("github.com/vocaltwin/vocaltwin/internal/synth")

// OutputExt is the extension of produced audio files.
const OutputExt = ".wav"

// defaultDocTimeout bounds one document's pipeline so a hung collaborator
// call becomes a per-document failure instead of a stuck batch.
const defaultDocTimeout = 5 * time.Minute

// errEmptyDocument marks a document whose text is empty after trimming.
var errEmptyDocument = errors.New("document is empty")

// Config wires a Synthesizer. The collaborator initializers run eagerly and
// in order inside New; any failure aborts construction before a single
// document is touched.
type Config struct {
	CheckpointDir string
	DocTimeout    time.Duration // 0 means defaultDocTimeout
	Logger        *slog.Logger

	// InitConverter builds the tone-color converter for the configured
	// compute device.
	InitConverter func(ctx context.Context) (voice.Converter, error)
	// InitExtractor builds the embedding extractor. It typically shares a
	// client with the converter.
	InitExtractor func(ctx context.Context) (voice.Extractor, error)
	// InitEngine builds the base speech engine for the configured language
	// and selects its default voice.
	InitEngine func(ctx context.Context) (voice.Engine, error)

	// OnDoc, when set, is called after each document is handled.
	OnDoc func(done, total int, name string)
}

// Summary reports the outcome of one batch run.
type Summary struct {
	Processed int
	Skipped   int
	Failed    int
	OutputDir string
}

// Synthesizer holds the loaded target embedding and the shared collaborator
// instances for the lifetime of one batch run. The collaborators are
// stateful, so documents are processed strictly sequentially.
type Synthesizer struct {
	target     *checkpoint.Checkpoint
	converter  voice.Converter
	extractor  voice.Extractor
	engine     voice.Engine
	docTimeout time.Duration
	log        *slog.Logger
	onDoc      func(done, total int, name string)
}

// New eagerly initializes the converter, loads the target checkpoint, and
// initializes the base engine, in that order. A missing checkpoint is fatal
// here, never defaulted.
func New(ctx context.Context, cfg Config) (*Synthesizer, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.DocTimeout
	if timeout == 0 {
		timeout = defaultDocTimeout
	}

	converter, err := cfg.InitConverter(ctx)
	if err != nil {
		return nil, fmt.Errorf("init tone-color converter: %w", err)
	}
	extractor, err := cfg.InitExtractor(ctx)
	if err != nil {
		return nil, fmt.Errorf("init embedding extractor: %w", err)
	}

	target, err := checkpoint.Load(cfg.CheckpointDir)
	if err != nil {
		return nil, err
	}

	engine, err := cfg.InitEngine(ctx)
	if err != nil {
		return nil, fmt.Errorf("init base speech engine: %w", err)
	}

	log.InfoContext(ctx, "synthesizer ready",
		"checkpoint_dir", cfg.CheckpointDir,
		"embedding_dim", target.SE.Dim(),
		"base_voice", engine.Voice())

	return &Synthesizer{
		target:     target,
		converter:  converter,
		extractor:  extractor,
		engine:     engine,
		docTimeout: timeout,
		log:        log,
		onDoc:      cfg.OnDoc,
	}, nil
}

// Target returns the loaded target embedding. Read-only for the lifetime of
// the synthesizer.
func (s *Synthesizer) Target() voice.Embedding { return s.target.SE }

// Close releases the base engine.
func (s *Synthesizer) Close() error { return s.engine.Close() }

// Synthesize renders every .txt document under textDir into outputDir.
// Zero documents is a valid no-op. A failure in one document never aborts
// the batch; it is logged and counted. When every attempted document fails,
// Synthesize returns the summary together with a batch-failure error.
func (s *Synthesizer) Synthesize(ctx context.Context, textDir, outputDir string) (Summary, error) {
	summary := Summary{OutputDir: outputDir}

	docs, err := corpus.Documents(textDir)
	if err != nil {
		return summary, err
	}
	if len(docs) == 0 {
		s.log.InfoContext(ctx, "no text documents found, nothing to synthesize", "text_dir", textDir)
		return summary, nil
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return summary, fmt.Errorf("create output dir %s: %w", outputDir, err)
	}

	s.log.InfoContext(ctx, "synthesis started", "documents", len(docs), "output_dir", outputDir)

	for i, doc := range docs {
		err := s.processDocument(ctx, doc, outputDir)
		if s.onDoc != nil {
			s.onDoc(i+1, len(docs), doc.Name)
		}
		switch {
		case err == nil:
			summary.Processed++
		case errors.Is(err, errEmptyDocument):
			summary.Skipped++
			s.log.WarnContext(ctx, "skipping empty document", "document", doc.Name)
		case ctx.Err() != nil:
			// The whole run was cancelled, not just this document.
			return summary, ctx.Err()
		default:
			summary.Failed++
			s.log.ErrorContext(ctx, "document failed", "document", doc.Name, "error", err)
		}
	}

	s.log.InfoContext(ctx, "synthesis complete",
		"processed", summary.Processed, "skipped", summary.Skipped,
		"failed", summary.Failed, "output_dir", outputDir)

	if summary.Processed == 0 && summary.Failed > 0 {
		return summary, fmt.Errorf("all %d attempted documents failed", summary.Failed)
	}
	return summary, nil
}

// processDocument runs the three-stage pipeline for one document. All
// intermediates live in a temp dir removed on every exit path; only the
// final converted clip lands in outputDir.
func (s *Synthesizer) processDocument(ctx context.Context, doc corpus.Document, outputDir string) error {
	ctx, cancel := context.WithTimeout(ctx, s.docTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "synth.document")
	span.SetAttributes(attribute.String("document", doc.Name))
	defer span.End()

	text, err := corpus.ReadDocument(doc.Path)
	if err != nil {
		return err
	}
	if text == "" {
		return errEmptyDocument
	}

	tmpDir, err := os.MkdirTemp("", "vocaltwin-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	basePath := filepath.Join(tmpDir, "base.wav")
	if err := s.engine.SynthesizeBase(ctx, text, basePath); err != nil {
		return err
	}

	// The source embedding characterizes whichever voice the base engine
	// used for this clip, not the user's target.
	srcSE, err := s.extractor.Extract(ctx, basePath)
	if err != nil {
		return err
	}

	outPath := filepath.Join(outputDir, doc.OutputName(OutputExt))
	if err := s.converter.Convert(ctx, basePath, srcSE, s.target.SE, outPath); err != nil {
		return err
	}

	s.log.DebugContext(ctx, "document synthesized",
		"document", doc.Name,
		"output", filepath.Base(outPath),
		"duration", audio.ProbeDuration(outPath))
	return nil
}
