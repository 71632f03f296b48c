package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func meloSidecar(t *testing.T, voices []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case meloVoicesPath:
			json.NewEncoder(w).Encode(map[string][]string{"voices": voices})
		case meloTTSPath:
			var req meloTTSRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			fmt.Fprintf(w, "wav:%s:%s", req.SpeakerID, req.Text)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestNewMeloEnginePicksFirstVoice(t *testing.T) {
	srv := meloSidecar(t, []string{"EN-Default", "EN-US", "EN-BR"})
	defer srv.Close()

	e, err := NewMeloEngine(context.Background(), MeloConfig{BaseURL: srv.URL, Language: "en"})
	require.NoError(t, err)

	assert.Equal(t, "EN-Default", e.Voice())
	assert.Equal(t, "EN", e.Language())
}

func TestNewMeloEngineFailsWithoutVoices(t *testing.T) {
	srv := meloSidecar(t, nil)
	defer srv.Close()

	_, err := NewMeloEngine(context.Background(), MeloConfig{BaseURL: srv.URL, Language: "KR"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no voices available")
}

func TestNewMeloEngineFailsWhenUnreachable(t *testing.T) {
	srv := meloSidecar(t, []string{"EN-Default"})
	srv.Close()

	_, err := NewMeloEngine(context.Background(), MeloConfig{BaseURL: srv.URL})
	require.Error(t, err)
}

func TestMeloSynthesizeBaseWritesClip(t *testing.T) {
	srv := meloSidecar(t, []string{"ES"})
	defer srv.Close()

	e, err := NewMeloEngine(context.Background(), MeloConfig{BaseURL: srv.URL, Language: "ES"})
	require.NoError(t, err)

	outPath := filepath.Join(t.TempDir(), "base.wav")
	require.NoError(t, e.SynthesizeBase(context.Background(), "hola mundo", outPath))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "wav:ES:hola mundo", string(data))
}

func TestMeloSynthesizeBaseWrapsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == meloVoicesPath {
			json.NewEncoder(w).Encode(map[string][]string{"voices": {"EN-Default"}})
			return
		}
		http.Error(w, "text too long", http.StatusBadRequest)
	}))
	defer srv.Close()

	e, err := NewMeloEngine(context.Background(), MeloConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	err = e.SynthesizeBase(context.Background(), "x", filepath.Join(t.TempDir(), "o.wav"))
	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "EN-Default", ee.Voice)
}

func TestListMeloVoices(t *testing.T) {
	srv := meloSidecar(t, []string{"FR", "FR-Alt"})
	defer srv.Close()

	voices, err := ListMeloVoices(context.Background(), MeloConfig{BaseURL: srv.URL, Language: "FR"})
	require.NoError(t, err)
	assert.Equal(t, []string{"FR", "FR-Alt"}, voices)
}
