// Package pipeline binds the trainer and synthesizer into the CLI commands:
// train, synthesize, and train-then-synthesize.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/vocaltwin/vocaltwin/internal/config"
	"github.com/vocaltwin/vocaltwin/internal/progress"
	"github.com/vocaltwin/vocaltwin/internal/synth"
	"github.com/vocaltwin/vocaltwin/internal/trainer"
	"github.com/vocaltwin/vocaltwin/internal/voice"
)

var tracer = otel.Tracer("github.com/vocaltwin/vocaltwin/internal/pipeline")

// Options selects which phases run and where their inputs and outputs live.
type Options struct {
	Train      bool
	Synthesize bool

	AudioDir      string
	TextDir       string
	CheckpointDir string
	OutputDir     string

	Config config.Config
	Logger *slog.Logger

	// OnProgress receives stage events for rendering. Nil means silent.
	OnProgress progress.Callback
}

// Error wraps a failure with the pipeline stage it occurred in.
type Error struct {
	Stage   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Stage, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Run executes the selected phases sequentially. SIGINT/SIGTERM cancel the
// run between (and inside) collaborator calls.
func Run(ctx context.Context, opts Options) error {
	start := time.Now()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ctx, span := tracer.Start(ctx, "pipeline.run")
	defer span.End()

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	emit := opts.OnProgress
	if emit == nil {
		emit = progress.NopCallback
	}

	// One sidecar client serves extraction for training and both extraction
	// and conversion for synthesis.
	ov := voice.NewOpenVoiceClient(voice.OpenVoiceConfig{
		BaseURL: opts.Config.OpenVoiceURL,
		Device:  opts.Config.Device,
		Timeout: opts.Config.RequestTimeout,
	})
	log.DebugContext(ctx, "openvoice client configured",
		"base_url", opts.Config.OpenVoiceURL, "device", ov.Device())

	if opts.Train {
		if err := runTrain(ctx, opts, ov, log, emit, start); err != nil {
			emit(progress.Event{Stage: progress.StageComplete, Error: err})
			return err
		}
		if !opts.Synthesize {
			emit(progress.Event{
				Stage:   progress.StageComplete,
				Message: fmt.Sprintf("Voice profile saved to %s", opts.CheckpointDir),
				Elapsed: time.Since(start),
			})
		}
	}

	if opts.Synthesize {
		summary, err := runSynthesize(ctx, opts, ov, log, emit, start)
		if err != nil {
			emit(progress.Event{Stage: progress.StageComplete, Error: err})
			return err
		}
		emit(progress.Event{
			Stage:     progress.StageComplete,
			Message:   "Synthesis complete",
			Elapsed:   time.Since(start),
			OutputDir: summary.OutputDir,
			Processed: summary.Processed,
			Skipped:   summary.Skipped,
			Failed:    summary.Failed,
		})
	}

	return nil
}

func runTrain(ctx context.Context, opts Options, ov *voice.OpenVoiceClient, log *slog.Logger, emit progress.Callback, start time.Time) error {
	ctx, span := tracer.Start(ctx, "pipeline.train")
	defer span.End()

	emit(progress.NewEvent(progress.StageTrain, "Extracting voice profile...", 0, start))

	tr := trainer.New(trainer.Config{
		Extractor:     ov,
		ExtractorName: "openvoice",
		ClipTimeout:   opts.Config.DocTimeout,
		Logger:        log,
		OnClip: func(done, total int) {
			e := progress.NewEvent(progress.StageTrain,
				fmt.Sprintf("Extracting voice profile (%d/%d recordings)...", done, total),
				float64(done)/float64(total), start)
			e.ItemNum, e.ItemSum = done, total
			emit(e)
		},
	})

	ck, err := tr.Train(ctx, opts.AudioDir, opts.CheckpointDir)
	if err != nil {
		return &Error{Stage: "train", Message: "failed to derive speaker embedding", Err: err}
	}

	log.InfoContext(ctx, "checkpoint written",
		"run_id", ck.RunID, "sources", ck.Sources, "dim", ck.SE.Dim())
	return nil
}

func runSynthesize(ctx context.Context, opts Options, ov *voice.OpenVoiceClient, log *slog.Logger, emit progress.Callback, start time.Time) (synth.Summary, error) {
	ctx, span := tracer.Start(ctx, "pipeline.synthesize")
	defer span.End()

	emit(progress.NewEvent(progress.StageSynth, "Loading models...", 0, start))

	s, err := synth.New(ctx, synth.Config{
		CheckpointDir: opts.CheckpointDir,
		DocTimeout:    opts.Config.DocTimeout,
		Logger:        log,
		InitConverter: func(ctx context.Context) (voice.Converter, error) {
			if err := ov.Ping(ctx); err != nil {
				return nil, err
			}
			return ov, nil
		},
		InitExtractor: func(ctx context.Context) (voice.Extractor, error) {
			return ov, nil
		},
		InitEngine: func(ctx context.Context) (voice.Engine, error) {
			return newEngine(ctx, opts.Config)
		},
		OnDoc: func(done, total int, name string) {
			e := progress.NewEvent(progress.StageSynth,
				fmt.Sprintf("Synthesizing %s (%d/%d)...", name, done, total),
				float64(done)/float64(total), start)
			e.ItemNum, e.ItemSum = done, total
			emit(e)
		},
	})
	if err != nil {
		return synth.Summary{}, &Error{Stage: "synthesize", Message: "failed to initialize synthesizer", Err: err}
	}
	defer s.Close()

	summary, err := s.Synthesize(ctx, opts.TextDir, opts.OutputDir)
	if err != nil {
		return summary, &Error{Stage: "synthesize", Message: "batch failed", Err: err}
	}
	return summary, nil
}

// newEngine builds the configured base speech engine.
func newEngine(ctx context.Context, cfg config.Config) (voice.Engine, error) {
	switch cfg.Engine {
	case "", "melo":
		return voice.NewMeloEngine(ctx, voice.MeloConfig{
			BaseURL:  cfg.MeloURL,
			Language: cfg.Language,
			Device:   cfg.Device,
			Timeout:  cfg.RequestTimeout,
		})
	case "google":
		return voice.NewGoogleEngine(ctx, cfg.Language, "")
	default:
		return nil, fmt.Errorf("unknown engine %q: choose melo or google", cfg.Engine)
	}
}
