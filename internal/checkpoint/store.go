// Package checkpoint persists the target speaker embedding produced by
// training so any number of synthesizer runs can reload it. The on-disk
// artifact is a single msgpack file per checkpoint directory; writes go
// through a temp file and rename so a concurrent reader sees either the old
// or the new checkpoint, never a torn one.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/vocaltwin/vocaltwin/internal/voice"
)

// FileName is the checkpoint artifact name inside a checkpoint directory.
const FileName = "target_se.bin"

// ErrNotFound reports that no checkpoint exists at the given directory.
// The synthesizer surfaces it as fatal: training must run first.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint wraps one target speaker embedding plus provenance recorded at
// training time. The embedding is the only field consumers depend on; the
// rest exists for diagnostics.
type Checkpoint struct {
	SE        voice.Embedding `msgpack:"se"`
	RunID     string          `msgpack:"run_id,omitempty"`
	CreatedAt time.Time       `msgpack:"created_at,omitempty"`
	Sources   int             `msgpack:"sources,omitempty"`
	Extractor string          `msgpack:"extractor,omitempty"`
}

// Save writes ck to dir, creating dir if absent and overwriting any prior
// checkpoint. The write is atomic from a reader's perspective.
func Save(dir string, ck *Checkpoint) error {
	if ck == nil || len(ck.SE) == 0 {
		return fmt.Errorf("refusing to save empty embedding")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir %s: %w", dir, err)
	}

	data, err := msgpack.Marshal(ck)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(dir, FileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp checkpoint: %w", err)
	}

	final := filepath.Join(dir, FileName)
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace checkpoint %s: %w", final, err)
	}
	return nil
}

// Load reads the checkpoint from dir. Returns ErrNotFound (wrapped) when no
// artifact exists there.
func Load(dir string) (*Checkpoint, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w in %s: run training first", ErrNotFound, dir)
		}
		return nil, fmt.Errorf("read checkpoint %s: %w", path, err)
	}

	var ck Checkpoint
	if err := msgpack.Unmarshal(data, &ck); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	if len(ck.SE) == 0 {
		return nil, fmt.Errorf("checkpoint %s has no embedding", path)
	}
	return &ck, nil
}
