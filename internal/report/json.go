// Package report renders a finished run as JSON, an interactive HTML page
// and a PNG timeline.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/motion.watch/internal/scene/pipeline"
)

// EncodeJSON writes the summary as indented JSON.
func EncodeJSON(w io.Writer, s pipeline.Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return nil
}

// WriteJSON writes the summary to path.
func WriteJSON(path string, s pipeline.Summary) error {
	return writeFile(path, func(w io.Writer) error { return EncodeJSON(w, s) })
}

func writeFile(path string, render func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := render(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
