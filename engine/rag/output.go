package rag

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/WessleyAI/secrag/engine/domain"
)

// WriteResults writes results as an indented JSON array. The file appears
// only once complete.
func WriteResults(path string, results []domain.GenerationResult) error {
	if results == nil {
		results = []domain.GenerationResult{}
	}
	return writeJSON(path, results)
}

// WriteSummary writes s as indented JSON.
func WriteSummary(path string, s Summary) error {
	return writeJSON(path, s)
}

// SummaryPath derives the summary file name from the results file name:
// results.json becomes results.summary.json.
func SummaryPath(output string) string {
	return strings.TrimSuffix(output, filepath.Ext(output)) + ".summary.json"
}

func writeJSON(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("rag: output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("rag: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		return fmt.Errorf("rag: encode %s: %w", filepath.Base(path), err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("rag: write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("rag: sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("rag: close %s: %w", filepath.Base(path), err)
	}
	return os.Rename(tmp.Name(), path)
}
