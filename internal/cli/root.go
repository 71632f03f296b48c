package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vocaltwin/vocaltwin/internal/audio"
	"github.com/vocaltwin/vocaltwin/internal/config"
	"github.com/vocaltwin/vocaltwin/internal/corpus"
	"github.com/vocaltwin/vocaltwin/internal/observability"
	"github.com/vocaltwin/vocaltwin/internal/pipeline"
	"github.com/vocaltwin/vocaltwin/internal/progress"
	"github.com/vocaltwin/vocaltwin/internal/voice"
)

var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "vocaltwin",
	Short: "Clone a speaker's voice and read text documents with it",
	Long: "vocaltwin derives a speaker embedding from your recordings, then renders\n" +
		".txt documents as speech re-colored to that voice.",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("vocaltwin %s\n", Version)
	},
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Derive the target speaker embedding from a directory of recordings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, true, false)
	},
}

var synthesizeCmd = &cobra.Command{
	Use:   "synthesize",
	Short: "Render .txt documents as speech in the trained voice",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, false, true)
	},
}

var trainSynthesizeCmd = &cobra.Command{
	Use:     "train-and-synthesize",
	Aliases: []string{"train_and_synthesize"},
	Short:   "Train on recordings, then synthesize the text corpus in one go",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, true, true)
	},
}

var listVoicesCmd = &cobra.Command{
	Use:   "list-voices",
	Short: "List available base voices per engine",
	RunE:  runListVoices,
}

var (
	flagAudioDir      string
	flagTextDir       string
	flagCheckpointDir string
	flagOutputDir     string
	flagLanguage      string
	flagEngine        string
	flagDevice        string
	flagOpenVoiceURL  string
	flagMeloURL       string
	flagDocTimeout    time.Duration
	flagVerbose       bool
	flagTUI           bool
)

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(synthesizeCmd)
	rootCmd.AddCommand(trainSynthesizeCmd)
	rootCmd.AddCommand(listVoicesCmd)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagAudioDir, "audio-dir", "a", "audio_samples", "Directory containing training recordings")
	pf.StringVarP(&flagTextDir, "text-dir", "i", "texts", "Directory containing input .txt files")
	pf.StringVarP(&flagCheckpointDir, "checkpoint-dir", "c", "checkpoints", "Where to save / load the speaker embedding")
	pf.StringVarP(&flagOutputDir, "output-dir", "o", "outputs", "Where to write generated WAV files")
	pf.StringVarP(&flagLanguage, "language", "l", "EN", "Base engine language code: EN, ES, FR, ZH, JP, KR")
	pf.StringVarP(&flagEngine, "engine", "e", "", "Base speech engine: melo or google (default from env, melo)")
	pf.StringVarP(&flagDevice, "device", "d", "", "Compute device for the sidecars: cpu or cuda (default from env, cpu)")
	pf.StringVar(&flagOpenVoiceURL, "openvoice-url", "", "OpenVoice sidecar base URL (overrides VOCALTWIN_OPENVOICE_URL)")
	pf.StringVar(&flagMeloURL, "melo-url", "", "MeloTTS sidecar base URL (overrides VOCALTWIN_MELO_URL)")
	pf.DurationVar(&flagDocTimeout, "doc-timeout", 0, "Per-document (and per-recording) timeout (overrides VOCALTWIN_DOC_TIMEOUT)")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "Enable detailed JSON logging")

	trainSynthesizeCmd.Flags().BoolVarP(&flagTUI, "tui", "t", false, "Interactive setup wizard")
}

func Execute() error {
	return rootCmd.Execute()
}

// resolveConfig merges env configuration with flag overrides.
func resolveConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	if flagOpenVoiceURL != "" {
		cfg.OpenVoiceURL = flagOpenVoiceURL
	}
	if flagMeloURL != "" {
		cfg.MeloURL = flagMeloURL
	}
	if flagDevice != "" {
		cfg.Device = flagDevice
	}
	if flagEngine != "" {
		cfg.Engine = flagEngine
	}
	if flagLanguage != "" {
		cfg.Language = strings.ToUpper(flagLanguage)
	}
	if flagDocTimeout > 0 {
		cfg.DocTimeout = flagDocTimeout
	}
	return cfg, nil
}

func run(cmd *cobra.Command, train, synthesize bool) error {
	if flagTUI {
		confirmed, err := runInteractiveSetup()
		if err != nil {
			return err
		}
		if !confirmed {
			return nil
		}
	}

	cfg, err := resolveConfig()
	if err != nil {
		return err
	}

	switch cfg.Engine {
	case "", "melo", "google":
	default:
		return fmt.Errorf("invalid engine %q: must be melo or google", cfg.Engine)
	}
	switch cfg.Device {
	case "", "cpu", "cuda":
	default:
		return fmt.Errorf("invalid device %q: must be cpu or cuda", cfg.Device)
	}

	// Resolve to absolute paths so log lines and the summary stay meaningful
	// regardless of the working directory.
	audioDir, err := filepath.Abs(flagAudioDir)
	if err != nil {
		return err
	}
	textDir, err := filepath.Abs(flagTextDir)
	if err != nil {
		return err
	}
	checkpointDir, err := filepath.Abs(flagCheckpointDir)
	if err != nil {
		return err
	}
	outputDir, err := filepath.Abs(flagOutputDir)
	if err != nil {
		return err
	}

	if train {
		if err := checkFFmpegIfNeeded(audioDir); err != nil {
			return err
		}
	}

	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	log := observability.InitLogger(level)

	ctx := cmd.Context()
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		tp, err := observability.InitTracer(ctx, "vocaltwin", Version)
		if err != nil {
			log.Warn("tracing disabled", "error", err)
		} else {
			defer tp.Shutdown(ctx)
		}
	}

	opts := pipeline.Options{
		Train:         train,
		Synthesize:    synthesize,
		AudioDir:      audioDir,
		TextDir:       textDir,
		CheckpointDir: checkpointDir,
		OutputDir:     outputDir,
		Config:        cfg,
		Logger:        log,
	}

	// Progress bar on stdout unless verbose logging is on.
	if !flagVerbose {
		r := progress.NewBarRenderer(os.Stdout)
		defer r.Finish()
		opts.OnProgress = r.Handle
	}

	return pipeline.Run(ctx, opts)
}

// checkFFmpegIfNeeded requires ffmpeg only when the training corpus holds
// recordings that need transcoding before extraction.
func checkFFmpegIfNeeded(audioDir string) error {
	recordings, err := corpus.Recordings(audioDir)
	if err != nil {
		return err
	}
	for _, rec := range recordings {
		if !strings.EqualFold(filepath.Ext(rec), ".wav") {
			return audio.CheckFFmpeg()
		}
	}
	return nil
}

func runListVoices(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}

	fmt.Println("\nAvailable base voices:")

	fmt.Printf("\n  MELO (language %s)\n", cfg.Language)
	fmt.Printf("  %s\n", strings.Repeat("─", 50))
	voices, err := voice.ListMeloVoices(cmd.Context(), voice.MeloConfig{
		BaseURL:  cfg.MeloURL,
		Language: cfg.Language,
	})
	if err != nil {
		fmt.Printf("  unavailable: %v\n", err)
	} else {
		for i, v := range voices {
			def := ""
			if i == 0 {
				def = " (default)"
			}
			fmt.Printf("  %s%s\n", v, def)
		}
	}

	fmt.Println("\n  GOOGLE CLOUD TTS")
	fmt.Printf("  %s\n", strings.Repeat("─", 50))
	fmt.Printf("  %-28s %-10s\n", "ID", "LANGUAGE")
	for _, v := range voice.GoogleAvailableVoices() {
		def := ""
		if v.Default {
			def = " (default)"
		}
		fmt.Printf("  %-28s %-10s%s\n", v.ID, v.Language, def)
	}
	fmt.Println()
	return nil
}
