package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/WessleyAI/secrag/engine/domain"
)

// entry is one element of the dataset file. Ids are not stored; an entry's
// position in the array is its id.
type entry struct {
	Prompt         string `json:"prompt"`
	VulnerableCode string `json:"vulnerable_code,omitempty"`
	SecureCode     string `json:"secure_code,omitempty"`
}

// ReadDataset decodes a JSON array of entries and numbers them from zero.
func ReadDataset(r io.Reader) ([]domain.Item, error) {
	var entries []entry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("ingest: decode dataset: %w", err)
	}
	items := make([]domain.Item, len(entries))
	for i, e := range entries {
		items[i] = domain.Item{
			ID:             int64(i),
			Prompt:         e.Prompt,
			VulnerableCode: e.VulnerableCode,
			SecureCode:     e.SecureCode,
		}
	}
	return items, nil
}

// LoadDataset reads the dataset file at path.
func LoadDataset(path string) ([]domain.Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: open dataset: %w", err)
	}
	defer f.Close()
	return ReadDataset(f)
}

// WriteDataset writes items as a dataset file, dropping their ids. The file
// is replaced atomically.
func WriteDataset(path string, items []domain.Item) error {
	entries := make([]entry, len(items))
	for i, it := range items {
		entries[i] = entry{Prompt: it.Prompt, VulnerableCode: it.VulnerableCode, SecureCode: it.SecureCode}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("ingest: encode dataset: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("ingest: write dataset: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("ingest: write dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ingest: write dataset: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
