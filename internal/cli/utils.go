// Package cli provides output helpers for the shashin command line.
package cli

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/hyperjump/shashin/internal/app"
	"github.com/hyperjump/shashin/internal/indexer"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("invalid output format %q (use text or json)", s)
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, response)
	}
	writeSearchResultsText(w, response)
	return nil
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	if response.Degraded {
		fmt.Fprintln(w, "\nText encoder unavailable; no results.")
		return
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", response.Total, response.QueryTime)
	for _, result := range response.Results {
		writeOneResult(w, result)
	}
}

func writeOneResult(w io.Writer, result *models.SearchResult) {
	img := result.Image
	fmt.Fprintf(w, "%3d. %.4f  %s\n", result.Rank, result.Score, utils.Truncate(img.Path, 120))
	fmt.Fprintf(w, "     id=%s %dx%d %s\n", img.ID, img.Width, img.Height, img.Format)
}

// WriteImages writes image records, one per line in text format.
func WriteImages(w io.Writer, images []*models.Image, format OutputFormat) error {
	if format == OutputJSON {
		if images == nil {
			images = []*models.Image{}
		}
		return WriteJSON(w, images)
	}
	for _, img := range images {
		fmt.Fprintf(w, "%s  %5dx%-5d %-5s %s\n", img.ID, img.Width, img.Height, img.Format, img.Path)
	}
	return nil
}

// WriteStatus writes the application status.
func WriteStatus(w io.Writer, st *app.Status, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, st)
	}
	fmt.Fprintf(w, "Images:      %d\n", st.Images)
	fmt.Fprintf(w, "Database:    %s\n", st.DatabasePath)
	fmt.Fprintf(w, "Index:       %s\n", st.IndexPath)
	fmt.Fprintf(w, "Model:       %s (preprocess %s)\n", st.ModelProvider, st.Preprocess)
	fmt.Fprintf(w, "Disk usage:  %s\n", FormatBytes(st.DiskUsageBytes))
	if st.Index != nil {
		fmt.Fprintf(w, "Vectors:     %d x %d (%s)\n", st.Index.Size, st.Index.Dimensions, st.Index.IndexType)
		if st.Index.Dirty {
			fmt.Fprintf(w, "Unsaved:     %d\n", st.Index.Unsaved)
		}
	}
	return nil
}

// WriteReport writes a batch indexing summary.
func WriteReport(w io.Writer, rep indexer.Report, format OutputFormat) error {
	if format == OutputJSON {
		out := struct {
			indexer.Report
			SaveError string `json:"save_error,omitempty"`
		}{Report: rep}
		if rep.SaveErr != nil {
			out.SaveError = rep.SaveErr.Error()
		}
		return WriteJSON(w, out)
	}
	fmt.Fprintf(w, "Indexed %d of %d images (%d skipped, %d failed) in %s\n",
		rep.Indexed, rep.Total, rep.Skipped, rep.Failed, rep.Duration.Round(1e6))
	if rep.SaveErr != nil {
		fmt.Fprintf(w, "Warning: index not saved: %v\n", rep.SaveErr)
	}
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
