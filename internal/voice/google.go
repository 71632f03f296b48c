package voice

import (
	"context"
	"fmt"
	"os"
	"strings"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	texttospeechpb "cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
)

// googleVoices maps MeloTTS-style language codes to a Google Cloud TTS
// language and default base voice.
var googleVoices = map[string]struct {
	languageCode string
	voice        string
}{
	"EN": {"en-US", "en-US-Chirp3-HD-Charon"},
	"ES": {"es-ES", "es-ES-Chirp3-HD-Charon"},
	"FR": {"fr-FR", "fr-FR-Chirp3-HD-Charon"},
	"ZH": {"cmn-CN", "cmn-CN-Chirp3-HD-Charon"},
	"JP": {"ja-JP", "ja-JP-Chirp3-HD-Charon"},
	"KR": {"ko-KR", "ko-KR-Chirp3-HD-Charon"},
}

// GoogleEngine implements Engine using Google Cloud TTS. Output is LINEAR16
// WAV so the embedding extractor can consume the base clip directly.
// Credentials come from Application Default Credentials.
type GoogleEngine struct {
	client       *texttospeech.Client
	languageCode string
	voice        string
}

func NewGoogleEngine(ctx context.Context, language, voiceOverride string) (*GoogleEngine, error) {
	lang := strings.ToUpper(language)
	if lang == "" {
		lang = "EN"
	}
	sel, ok := googleVoices[lang]
	if !ok {
		return nil, fmt.Errorf("unsupported language %q for google engine", language)
	}
	v := sel.voice
	if voiceOverride != "" {
		v = voiceOverride
	}

	client, err := texttospeech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create Google TTS client: %w", err)
	}

	return &GoogleEngine{
		client:       client,
		languageCode: sel.languageCode,
		voice:        v,
	}, nil
}

func (e *GoogleEngine) Voice() string { return e.voice }

func (e *GoogleEngine) SynthesizeBase(ctx context.Context, text, outPath string) error {
	req := &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: e.languageCode,
			Name:         e.voice,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_LINEAR16,
		},
	}

	resp, err := e.client.SynthesizeSpeech(ctx, req)
	if err != nil {
		return &EngineError{Voice: e.voice, Err: fmt.Errorf("Google TTS synthesize: %w", err)}
	}

	if err := os.WriteFile(outPath, resp.AudioContent, 0o644); err != nil {
		return &EngineError{Voice: e.voice, Err: fmt.Errorf("write base clip: %w", err)}
	}
	return nil
}

func (e *GoogleEngine) Close() error { return e.client.Close() }

// GoogleAvailableVoices returns the base voices selectable per language,
// for the list-voices command.
func GoogleAvailableVoices() []VoiceInfo {
	out := make([]VoiceInfo, 0, len(googleVoices))
	for _, lang := range []string{"EN", "ES", "FR", "ZH", "JP", "KR"} {
		sel := googleVoices[lang]
		out = append(out, VoiceInfo{
			ID:       sel.voice,
			Language: lang,
			Default:  true,
		})
	}
	return out
}

// VoiceInfo describes an available base voice for display.
type VoiceInfo struct {
	ID       string
	Language string
	Default  bool
}
