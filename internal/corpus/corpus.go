// Package corpus discovers the input corpora on disk: the training
// recordings and the text documents to synthesize.
package corpus

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// maxDocumentSize is the maximum allowed size for one text document (1 MB).
// Anything bigger is almost certainly not prose meant to be spoken.
const maxDocumentSize = 1 * 1024 * 1024

// audioExtensions lists the container formats handed to the embedding
// extractor. The extractor decides whether the content is actually usable.
var audioExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".flac": true,
	".ogg":  true,
	".m4a":  true,
}

// Document is one text file in the synthesis corpus. The base name (without
// extension) names the output audio file, so documents with equal base names
// and different extensions collide on output; the later one wins.
type Document struct {
	Path string
	Name string // file name including extension
	Base string // file name with extension stripped
}

// OutputName returns the output file name for this document with the given
// audio extension (e.g. ".wav").
func (d Document) OutputName(ext string) string {
	return d.Base + ext
}

// Documents recursively collects all .txt files under root, in walk order
// (lexical per directory). A missing root is an error; an empty corpus is
// not — the caller decides what zero documents means.
func Documents(root string) ([]Document, error) {
	if err := checkDir(root); err != nil {
		return nil, err
	}

	var docs []Document
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".txt") {
			return nil
		}
		name := d.Name()
		docs = append(docs, Document{
			Path: path,
			Name: name,
			Base: strings.TrimSuffix(name, filepath.Ext(name)),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan text corpus %s: %w", root, err)
	}
	return docs, nil
}

// Recordings recursively collects all supported audio files under root, in
// walk order. Walk order is deterministic, which keeps training aggregation
// reproducible for an unchanged corpus.
func Recordings(root string) ([]string, error) {
	if err := checkDir(root); err != nil {
		return nil, err
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if audioExtensions[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan audio corpus %s: %w", root, err)
	}
	return files, nil
}

// ReadDocument reads a document as UTF-8 text with surrounding whitespace
// trimmed. Empty after trimming is valid; the synthesizer skips such
// documents.
func ReadDocument(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("cannot access %s: %w", path, err)
	}
	if info.Size() > maxDocumentSize {
		return "", fmt.Errorf("%s is too large (%d bytes, max %d)", path, info.Size(), maxDocumentSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("could not read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func checkDir(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("cannot access %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", root)
	}
	return nil
}
