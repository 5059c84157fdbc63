// Package display renders plans, run summaries and remote listings for the
// terminal, with optional machine-readable output formats.
package display

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/UoA-eResearch/s3backupdb/internal/errors"
	"github.com/UoA-eResearch/s3backupdb/internal/reconcile"
	"github.com/UoA-eResearch/s3backupdb/internal/storage"
)

// Format selects how results are rendered
type Format string

const (
	// FormatTable is the human-readable default
	FormatTable Format = "table"
	// FormatCompact is one line per item, for scripting with grep/awk
	FormatCompact Format = "compact"
	FormatJSON    Format = "json"
	FormatYAML    Format = "yaml"
)

// RunSummary is the outcome of one sync run
type RunSummary struct {
	Uploaded      int           `json:"uploaded" yaml:"uploaded"`
	Unchanged     int           `json:"unchanged" yaml:"unchanged"`
	Reuploaded    int           `json:"reuploaded" yaml:"reuploaded"`
	RemoteDeleted int           `json:"remote_deleted" yaml:"remote_deleted"`
	LocalDeleted  int           `json:"local_deleted" yaml:"local_deleted"`
	Skipped       int           `json:"skipped" yaml:"skipped"`
	Failed        []string      `json:"failed,omitempty" yaml:"failed,omitempty"`
	DryRun        bool          `json:"dry_run" yaml:"dry_run"`
	Duration      time.Duration `json:"-" yaml:"-"`
}

// Service writes formatted output to a single destination
type Service struct {
	out    io.Writer
	colors *colorSystem
	format Format
}

// NewService creates a display service. An unknown format is a configuration
// error so it surfaces before any work happens.
func NewService(out io.Writer, format string, noColor bool) (*Service, error) {
	f := Format(format)
	switch f {
	case "", FormatTable:
		f = FormatTable
	case FormatCompact, FormatJSON, FormatYAML:
	default:
		return nil, apperrors.NewConfigurationError("unsupported output format", nil).
			WithContext("format", format).
			WithContext("supported", "table, compact, json, yaml")
	}
	return &Service{
		out:    out,
		colors: newColorSystem(noColor),
		format: f,
	}, nil
}

// ShowPlan prints the pending actions before they are applied. Machine
// formats skip it; the plan reappears in the summary counts.
func (s *Service) ShowPlan(plan *reconcile.Plan, dryRun bool) {
	if s.format == FormatJSON || s.format == FormatYAML {
		return
	}

	if plan.IsEmpty() {
		fmt.Fprintln(s.out, s.colors.Success("Remote is up to date, nothing to do"))
		return
	}

	header := "Planned actions"
	if dryRun {
		header = "Planned actions (dry-run, nothing will change)"
	}
	fmt.Fprintln(s.out, s.colors.Info(header))

	for _, upload := range plan.Uploads {
		switch upload.Reason {
		case reconcile.ReasonMissing:
			fmt.Fprintf(s.out, "  %s %s (%s)\n", s.colors.Success("upload"), upload.Key, humanSize(upload.File.Size))
		default:
			fmt.Fprintf(s.out, "  %s %s (%s, %s)\n", s.colors.Warning("re-upload"), upload.Key, humanSize(upload.File.Size), upload.Reason)
		}
	}
	for _, obj := range plan.Deletions {
		fmt.Fprintf(s.out, "  %s %s\n", s.colors.Error("delete"), obj.Key)
	}
	if len(plan.Unchanged) > 0 {
		fmt.Fprintf(s.out, "  %s\n", s.colors.Muted(fmt.Sprintf("%d unchanged", len(plan.Unchanged))))
	}
}

// ShowSummary prints the run outcome in the configured format
func (s *Service) ShowSummary(summary *RunSummary) error {
	switch s.format {
	case FormatJSON:
		return s.showSummaryJSON(summary)
	case FormatYAML:
		return s.showSummaryYAML(summary)
	case FormatCompact:
		s.showSummaryCompact(summary)
	default:
		s.showSummaryTable(summary)
	}
	return nil
}

func (s *Service) showSummaryTable(summary *RunSummary) {
	fmt.Fprintln(s.out)
	if summary.DryRun {
		fmt.Fprintln(s.out, s.colors.Warning("Dry-run summary (no changes were made)"))
	} else {
		fmt.Fprintln(s.out, s.colors.Info("Sync summary"))
	}

	w := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "  Uploaded:\t%d\n", summary.Uploaded)
	fmt.Fprintf(w, "  Unchanged:\t%d\n", summary.Unchanged)
	fmt.Fprintf(w, "  Re-uploaded:\t%d\n", summary.Reuploaded)
	fmt.Fprintf(w, "  Remote deleted:\t%d\n", summary.RemoteDeleted)
	fmt.Fprintf(w, "  Local deleted:\t%d\n", summary.LocalDeleted)
	fmt.Fprintf(w, "  Skipped:\t%d\n", summary.Skipped)
	fmt.Fprintf(w, "  Failed:\t%d\n", len(summary.Failed))
	fmt.Fprintf(w, "  Duration:\t%s\n", summary.Duration.Round(time.Millisecond))
	w.Flush()

	for _, failure := range summary.Failed {
		fmt.Fprintf(s.out, "  %s %s\n", s.colors.Error("failed:"), failure)
	}
}

func (s *Service) showSummaryCompact(summary *RunSummary) {
	fmt.Fprintf(s.out, "uploaded=%d unchanged=%d reuploaded=%d remote_deleted=%d local_deleted=%d skipped=%d failed=%d dry_run=%t\n",
		summary.Uploaded, summary.Unchanged, summary.Reuploaded,
		summary.RemoteDeleted, summary.LocalDeleted, summary.Skipped,
		len(summary.Failed), summary.DryRun)
	for _, failure := range summary.Failed {
		fmt.Fprintf(s.out, "failed %s\n", failure)
	}
}

func (s *Service) showSummaryJSON(summary *RunSummary) error {
	view := struct {
		RunSummary
		DurationMs int64 `json:"duration_ms"`
	}{*summary, summary.Duration.Milliseconds()}

	enc := json.NewEncoder(s.out)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

func (s *Service) showSummaryYAML(summary *RunSummary) error {
	view := struct {
		RunSummary `yaml:",inline"`
		DurationMs int64 `yaml:"duration_ms"`
	}{*summary, summary.Duration.Milliseconds()}

	data, err := yaml.Marshal(view)
	if err != nil {
		return err
	}
	_, err = s.out.Write(data)
	return err
}

// ShowListing prints the remote objects under the configured prefix
func (s *Service) ShowListing(objects []storage.ObjectInfo) error {
	switch s.format {
	case FormatJSON:
		enc := json.NewEncoder(s.out)
		enc.SetIndent("", "  ")
		return enc.Encode(listingView(objects))
	case FormatYAML:
		data, err := yaml.Marshal(listingView(objects))
		if err != nil {
			return err
		}
		_, err = s.out.Write(data)
		return err
	case FormatCompact:
		for _, obj := range objects {
			fmt.Fprintf(s.out, "%s\t%d\t%s\t%s\n", obj.Key, obj.Size,
				obj.LastModified.UTC().Format(time.RFC3339), obj.ETag)
		}
		return nil
	}

	if len(objects) == 0 {
		fmt.Fprintln(s.out, s.colors.Muted("No remote objects found"))
		return nil
	}

	w := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tSIZE\tLAST MODIFIED\tETAG")
	for _, obj := range objects {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", obj.Key, humanSize(obj.Size),
			obj.LastModified.UTC().Format("2006-01-02 15:04:05"), obj.ETag)
	}
	return w.Flush()
}

type objectView struct {
	Key          string `json:"key" yaml:"key"`
	Size         int64  `json:"size" yaml:"size"`
	LastModified string `json:"last_modified" yaml:"last_modified"`
	ETag         string `json:"etag" yaml:"etag"`
}

func listingView(objects []storage.ObjectInfo) []objectView {
	views := make([]objectView, len(objects))
	for i, obj := range objects {
		views[i] = objectView{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified.UTC().Format(time.RFC3339),
			ETag:         obj.ETag,
		}
	}
	return views
}

// humanSize renders a byte count in the largest sensible binary unit
func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return strings.TrimSuffix(fmt.Sprintf("%.1f", float64(n)/float64(div)), ".0") +
		" " + []string{"KiB", "MiB", "GiB", "TiB"}[exp]
}
