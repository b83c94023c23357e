// Package cli provides the HTTP client and terminal output used by the doctalk CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hyperjump/doctalk/internal/models"
	"github.com/hyperjump/doctalk/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat returns the format named by s.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputJSON:
		return OutputFormat(s), nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

// WriteHistory writes the conversation to w in the given format.
func WriteHistory(w io.Writer, turns []models.Turn, format OutputFormat) error {
	if format == OutputJSON {
		if turns == nil {
			turns = []models.Turn{}
		}
		return WriteJSON(w, models.HistoryResponse{Turns: turns})
	}
	if len(turns) == 0 {
		fmt.Fprintln(w, "No conversation yet.")
		return nil
	}
	for _, t := range turns {
		fmt.Fprintf(w, "%-9s %s\n", "["+string(t.Role)+"]", t.Content)
	}
	return nil
}

// WriteDocument writes document metadata to w. A nil document prints a hint.
func WriteDocument(w io.Writer, doc *models.Document, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, doc)
	}
	if doc == nil {
		fmt.Fprintln(w, "No document uploaded.")
		return nil
	}
	fmt.Fprintf(w, "name:        %s\n", doc.Name)
	fmt.Fprintf(w, "id:          %s\n", doc.ID)
	fmt.Fprintf(w, "length:      %d   # characters\n", doc.Length)
	if doc.Checksum != "" {
		fmt.Fprintf(w, "checksum:    %s\n", utils.Truncate(doc.Checksum, 23))
	}
	fmt.Fprintf(w, "uploaded_at: %s\n", doc.UploadedAt.Format("2006-01-02 15:04:05 MST"))
	return nil
}

// WriteJSON writes v to w as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
