// Package config resolves collaborator endpoints and compute settings from
// the environment. Flags override individual fields at the CLI layer.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the environment-backed settings shared by train and
// synthesize runs.
type Config struct {
	// OpenVoiceURL is the base URL of the OpenVoice inference sidecar
	// (embedding extraction + tone-color conversion).
	OpenVoiceURL string `env:"VOCALTWIN_OPENVOICE_URL" envDefault:"http://127.0.0.1:6800"`

	// MeloURL is the base URL of the MeloTTS sidecar.
	MeloURL string `env:"VOCALTWIN_MELO_URL" envDefault:"http://127.0.0.1:6900"`

	// Device is the compute device the sidecars are asked to use.
	Device string `env:"VOCALTWIN_DEVICE" envDefault:"cpu"`

	// Engine selects the base speech engine: melo or google.
	Engine string `env:"VOCALTWIN_ENGINE" envDefault:"melo"`

	// Language is the base-engine language code (EN, ES, FR, ZH, JP, KR).
	Language string `env:"VOCALTWIN_LANGUAGE" envDefault:"EN"`

	// RequestTimeout bounds a single sidecar HTTP call.
	RequestTimeout time.Duration `env:"VOCALTWIN_REQUEST_TIMEOUT" envDefault:"2m"`

	// DocTimeout bounds the full pipeline for one document or one training
	// recording.
	DocTimeout time.Duration `env:"VOCALTWIN_DOC_TIMEOUT" envDefault:"5m"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
