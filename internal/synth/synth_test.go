package synth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocaltwin/vocaltwin/internal/checkpoint"
	"github.com/vocaltwin/vocaltwin/internal/voice"
)

// fakeEngine writes the input text as the "base clip" so downstream fakes
// can key behavior off document content.
type fakeEngine struct {
	calls int
	fail  bool
}

func (f *fakeEngine) SynthesizeBase(_ context.Context, text, outPath string) error {
	f.calls++
	if f.fail {
		return &voice.EngineError{Voice: "fake", Err: fmt.Errorf("engine down")}
	}
	return os.WriteFile(outPath, []byte(text), 0o644)
}

func (f *fakeEngine) Voice() string { return "fake-voice-0" }
func (f *fakeEngine) Close() error  { return nil }

// hangingEngine blocks on documents containing hangOn until the call's
// context expires, and behaves like fakeEngine otherwise.
type hangingEngine struct {
	fakeEngine
	hangOn string
}

func (h *hangingEngine) SynthesizeBase(ctx context.Context, text, outPath string) error {
	if strings.Contains(text, h.hangOn) {
		h.calls++
		<-ctx.Done()
		return &voice.EngineError{Voice: h.Voice(), Err: ctx.Err()}
	}
	return h.fakeEngine.SynthesizeBase(ctx, text, outPath)
}

type fakeExtractor struct {
	se voice.Embedding
}

func (f *fakeExtractor) Extract(_ context.Context, audioPath string) (voice.Embedding, error) {
	if _, err := os.Stat(audioPath); err != nil {
		return nil, &voice.ExtractionError{Path: audioPath, Err: err}
	}
	return f.se.Clone(), nil
}

// fakeConverter fails for any clip whose content contains failOn, and
// otherwise copies it to the output path.
type fakeConverter struct {
	failOn  string
	lastTgt voice.Embedding
}

func (f *fakeConverter) Convert(_ context.Context, srcPath string, srcSE, tgtSE voice.Embedding, outPath string) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return &voice.ConversionError{Src: srcPath, Err: err}
	}
	if f.failOn != "" && strings.Contains(string(data), f.failOn) {
		return &voice.ConversionError{Src: srcPath, Err: fmt.Errorf("incompatible clip")}
	}
	f.lastTgt = tgtSE.Clone()
	return os.WriteFile(outPath, data, 0o644)
}

type fixture struct {
	textDir   string
	outputDir string
	ckDir     string
	engine    *fakeEngine
	converter *fakeConverter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		textDir:   t.TempDir(),
		outputDir: filepath.Join(t.TempDir(), "out"),
		ckDir:     t.TempDir(),
		engine:    &fakeEngine{},
		converter: &fakeConverter{},
	}
	require.NoError(t, checkpoint.Save(f.ckDir, &checkpoint.Checkpoint{SE: voice.Embedding{9, 8, 7}}))
	return f
}

func (f *fixture) config() Config {
	return Config{
		CheckpointDir: f.ckDir,
		InitConverter: func(context.Context) (voice.Converter, error) { return f.converter, nil },
		InitExtractor: func(context.Context) (voice.Extractor, error) {
			return &fakeExtractor{se: voice.Embedding{1, 2, 3}}, nil
		},
		InitEngine: func(context.Context) (voice.Engine, error) { return f.engine, nil },
	}
}

func (f *fixture) addDoc(t *testing.T, name, content string) {
	t.Helper()
	path := filepath.Join(f.textDir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNamingContract(t *testing.T) {
	f := newFixture(t)
	f.addDoc(t, "hello.txt", "Hello world")

	s, err := New(context.Background(), f.config())
	require.NoError(t, err)

	summary, err := s.Synthesize(context.Background(), f.textDir, f.outputDir)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)

	entries, err := os.ReadDir(f.outputDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello.wav", entries[0].Name())
}

func TestConverterReceivesTargetEmbedding(t *testing.T) {
	f := newFixture(t)
	f.addDoc(t, "doc.txt", "text")

	s, err := New(context.Background(), f.config())
	require.NoError(t, err)

	_, err = s.Synthesize(context.Background(), f.textDir, f.outputDir)
	require.NoError(t, err)
	assert.Equal(t, voice.Embedding{9, 8, 7}, s.Target())
	assert.Equal(t, s.Target(), f.converter.lastTgt)
}

func TestEmptyInputNoOp(t *testing.T) {
	f := newFixture(t)

	s, err := New(context.Background(), f.config())
	require.NoError(t, err)

	summary, err := s.Synthesize(context.Background(), f.textDir, f.outputDir)
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
	assert.Zero(t, summary.Failed)

	// No documents means no output dir gets created either.
	_, statErr := os.Stat(f.outputDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestEmptyDocumentSkipped(t *testing.T) {
	f := newFixture(t)
	f.addDoc(t, "blank.txt", "   \n\t ")
	f.addDoc(t, "real.txt", "content")

	s, err := New(context.Background(), f.config())
	require.NoError(t, err)

	summary, err := s.Synthesize(context.Background(), f.textDir, f.outputDir)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, summary.Failed)

	entries, _ := os.ReadDir(f.outputDir)
	require.Len(t, entries, 1)
	assert.Equal(t, "real.wav", entries[0].Name())
}

func TestPerDocumentIsolation(t *testing.T) {
	f := newFixture(t)
	f.converter.failOn = "boom"
	f.addDoc(t, "a.txt", "first")
	f.addDoc(t, "b.txt", "boom document")
	f.addDoc(t, "c.txt", "third")

	s, err := New(context.Background(), f.config())
	require.NoError(t, err)

	summary, err := s.Synthesize(context.Background(), f.textDir, f.outputDir)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Failed)

	entries, _ := os.ReadDir(f.outputDir)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"a.wav", "c.wav"}, names)
}

func TestDocumentTimeoutIsPerDocumentFailure(t *testing.T) {
	f := newFixture(t)
	f.addDoc(t, "a.txt", "quick")
	f.addDoc(t, "b.txt", "stuck forever")
	f.addDoc(t, "c.txt", "also quick")

	engine := &hangingEngine{hangOn: "stuck"}
	cfg := f.config()
	cfg.DocTimeout = 50 * time.Millisecond
	cfg.InitEngine = func(context.Context) (voice.Engine, error) { return engine, nil }

	s, err := New(context.Background(), cfg)
	require.NoError(t, err)

	// The hung document exhausts its own deadline; the batch keeps going.
	summary, err := s.Synthesize(context.Background(), f.textDir, f.outputDir)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Failed)

	entries, _ := os.ReadDir(f.outputDir)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"a.wav", "c.wav"}, names)
}

func TestRunCancellationAbortsBatch(t *testing.T) {
	f := newFixture(t)
	f.addDoc(t, "a.txt", "quick")
	f.addDoc(t, "b.txt", "stuck forever")
	f.addDoc(t, "c.txt", "never reached")

	engine := &hangingEngine{hangOn: "stuck"}
	cfg := f.config()
	cfg.InitEngine = func(context.Context) (voice.Engine, error) { return engine, nil }

	s, err := New(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	summary, err := s.Synthesize(ctx, f.textDir, f.outputDir)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, summary.Processed)
	assert.Zero(t, summary.Failed, "cancellation is not a document failure")
	assert.Equal(t, 2, engine.calls, "remaining documents are not attempted")
}

func TestTotalFailureReportsError(t *testing.T) {
	f := newFixture(t)
	f.engine.fail = true
	f.addDoc(t, "a.txt", "first")
	f.addDoc(t, "b.txt", "second")

	s, err := New(context.Background(), f.config())
	require.NoError(t, err)

	summary, err := s.Synthesize(context.Background(), f.textDir, f.outputDir)
	require.Error(t, err)
	assert.Equal(t, 2, summary.Failed)
	assert.Zero(t, summary.Processed)
}

func TestMissingCheckpointGuard(t *testing.T) {
	f := newFixture(t)
	cfg := f.config()
	cfg.CheckpointDir = t.TempDir() // no checkpoint here

	_, err := New(context.Background(), cfg)
	require.ErrorIs(t, err, checkpoint.ErrNotFound)
	assert.Zero(t, f.engine.calls)
}

func TestConstructionAbortsOnConverterFailure(t *testing.T) {
	f := newFixture(t)
	cfg := f.config()
	cfg.InitConverter = func(context.Context) (voice.Converter, error) {
		return nil, fmt.Errorf("sidecar unreachable")
	}

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tone-color converter")
}

func TestConstructionAbortsOnEngineFailure(t *testing.T) {
	f := newFixture(t)
	cfg := f.config()
	cfg.InitEngine = func(context.Context) (voice.Engine, error) {
		return nil, fmt.Errorf("no voices for language")
	}

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base speech engine")
}

func TestIdempotentOutputDir(t *testing.T) {
	f := newFixture(t)
	f.addDoc(t, "doc.txt", "take one")

	s, err := New(context.Background(), f.config())
	require.NoError(t, err)

	_, err = s.Synthesize(context.Background(), f.textDir, f.outputDir)
	require.NoError(t, err)

	// Second run over a non-empty output dir overwrites, never fails.
	f.addDoc(t, "doc.txt", "take two")
	summary, err := s.Synthesize(context.Background(), f.textDir, f.outputDir)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)

	data, err := os.ReadFile(filepath.Join(f.outputDir, "doc.wav"))
	require.NoError(t, err)
	assert.Equal(t, "take two", string(data))
}

func TestRecursiveDiscovery(t *testing.T) {
	f := newFixture(t)
	f.addDoc(t, filepath.Join("nested", "inner.txt"), "deep text")

	s, err := New(context.Background(), f.config())
	require.NoError(t, err)

	summary, err := s.Synthesize(context.Background(), f.textDir, f.outputDir)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)

	_, err = os.Stat(filepath.Join(f.outputDir, "inner.wav"))
	require.NoError(t, err)
}

func TestOnDocCallback(t *testing.T) {
	f := newFixture(t)
	f.addDoc(t, "a.txt", "one")
	f.addDoc(t, "b.txt", "two")

	var names []string
	cfg := f.config()
	cfg.OnDoc = func(done, total int, name string) {
		names = append(names, fmt.Sprintf("%d/%d:%s", done, total, name))
	}

	s, err := New(context.Background(), cfg)
	require.NoError(t, err)

	_, err = s.Synthesize(context.Background(), f.textDir, f.outputDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"1/2:a.txt", "2/2:b.txt"}, names)
}
