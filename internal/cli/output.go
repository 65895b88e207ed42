package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pfrederiksen/objstore/pkg/storage"
)

// OutputFormat specifies the output format
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (OutputFormat, error) {
	format := OutputFormat(strings.ToLower(strings.TrimSpace(s)))
	if format != FormatText && format != FormatJSON {
		return "", fmt.Errorf("invalid format: %s (must be 'text' or 'json')", s)
	}
	return format, nil
}

// textWriter is implemented by every result type.
type textWriter interface {
	writeText(w io.Writer) error
}

// WriteOutput writes the result in the specified format
func WriteOutput(w io.Writer, result textWriter, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, result)
	case FormatText:
		return result.writeText(w)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

func writeJSON(w io.Writer, result any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

// PathResult is the output of the path command.
type PathResult struct {
	Path string `json:"path"`
}

func (r *PathResult) writeText(w io.Writer) error {
	_, err := fmt.Fprintln(w, r.Path)
	return err
}

// StatusResult is the output of the status command.
type StatusResult struct {
	Path       string `json:"path"`
	FirstStart bool   `json:"first_start"`
	Objects    int    `json:"objects"`
}

func (r *StatusResult) writeText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Path:        %s\nFirst start: %t\nObjects:     %d\n",
		r.Path, r.FirstStart, r.Objects)
	return err
}

// MarkerResult is the output of the first-start commands.
type MarkerResult struct {
	FirstStart bool `json:"first_start"`
	Changed    bool `json:"changed"`
}

func (r *MarkerResult) writeText(w io.Writer) error {
	state := "finished"
	if r.FirstStart {
		state = "pending"
	}
	verb := "unchanged"
	if r.Changed {
		verb = "updated"
	}
	_, err := fmt.Fprintf(w, "First start %s (%s).\n", state, verb)
	return err
}

// ListResult is the output of the ls command.
type ListResult struct {
	Pattern string   `json:"pattern,omitempty"`
	Names   []string `json:"names"`
}

func (r *ListResult) writeText(w io.Writer) error {
	if len(r.Names) == 0 {
		_, err := fmt.Fprintln(w, "No objects found.")
		return err
	}
	for _, name := range r.Names {
		if _, err := fmt.Fprintln(w, name); err != nil {
			return err
		}
	}
	return nil
}

// InfoResult is the output of the inspect command.
type InfoResult struct {
	*storage.Info
}

func (r *InfoResult) writeText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Name:     %s\nType:     %s\nSize:     %d bytes\nModified: %s\n",
		r.Name, r.Type, r.Size, r.ModTime.UTC().Format("2006-01-02 15:04:05 MST"))
	return err
}

// DeleteResult is the output of the rm command.
type DeleteResult struct {
	Name string `json:"name"`
}

func (r *DeleteResult) writeText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Deleted %s.\n", r.Name)
	return err
}

// ResetResult is the output of the reset command.
type ResetResult struct {
	Path   string   `json:"path"`
	Failed []string `json:"failed,omitempty"`
}

func (r *ResetResult) writeText(w io.Writer) error {
	if len(r.Failed) == 0 {
		_, err := fmt.Fprintf(w, "Removed %s.\n", r.Path)
		return err
	}
	if _, err := fmt.Fprintf(w, "Reset %s, %d entries could not be removed:\n", r.Path, len(r.Failed)); err != nil {
		return err
	}
	for _, p := range r.Failed {
		if _, err := fmt.Fprintf(w, "  %s\n", p); err != nil {
			return err
		}
	}
	return nil
}

// ConfigResult is the output of the config save command.
type ConfigResult struct {
	Path string `json:"path"`
}

func (r *ConfigResult) writeText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Wrote %s.\n", r.Path)
	return err
}
