// Package output renders a finished lookup to a human-readable plain-text
// report, the same terminal-friendly shape the teacher project used for its
// crawl summaries, adapted here to describe one merged metadata record
// instead of a page-by-page crawl log.
package output

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Hazard804/mdcx/internal/fanout"
	"github.com/Hazard804/mdcx/internal/model"
)

// TextWriter writes a MergedRecord and its per-site outcomes to a plain
// text file, without ANSI color codes.
type TextWriter struct {
	path string
}

// NewTextWriter creates a new plain-text output writer targeting path.
func NewTextWriter(path string) *TextWriter {
	return &TextWriter{path: path}
}

// WriteResult renders one lookup's outcome and writes it to w.path.
func (w *TextWriter) WriteResult(record *model.MergedRecord, results []fanout.SiteResult, elapsed time.Duration) error {
	var b strings.Builder

	b.WriteString("\n  MDCX METADATA LOOKUP\n")
	b.WriteString("  " + strings.Repeat("-", 58) + "\n\n")

	b.WriteString(fmt.Sprintf("  Number:  %s\n", record.Number))
	b.WriteString(fmt.Sprintf("  Title:   %s\n", record.Title))
	if record.OriginalTitle != "" && record.OriginalTitle != record.Title {
		b.WriteString(fmt.Sprintf("  Original: %s\n", record.OriginalTitle))
	}
	b.WriteString(fmt.Sprintf("  Studio:  %s\n", record.Studio))
	b.WriteString(fmt.Sprintf("  Release: %s (%s)\n", record.Release, record.Year))
	b.WriteString(fmt.Sprintf("  Runtime: %s min\n", record.Runtime))
	if len(record.Actors) > 0 {
		b.WriteString(fmt.Sprintf("  Actors:  %s\n", strings.Join(record.Actors, ", ")))
	}
	if len(record.Tags) > 0 {
		b.WriteString(fmt.Sprintf("  Tags:    %s\n", strings.Join(record.Tags, ", ")))
	}
	if record.Trailer != "" {
		b.WriteString(fmt.Sprintf("  Trailer: %s\n", record.Trailer))
	}
	if record.Thumb != "" {
		b.WriteString(fmt.Sprintf("  Thumb:   %s\n", record.Thumb))
	}

	b.WriteString("\n  " + strings.Repeat("-", 50) + "\n")
	b.WriteString(fmt.Sprintf("  Sites queried in %s\n", fmtDur(elapsed)))

	ok, failed := 0, 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			site := r.Site
			if site == "" {
				site = "?"
			}
			b.WriteString(fmt.Sprintf("    [fail] %-10s %v\n", site, r.Err))
			continue
		}
		ok++
		b.WriteString(fmt.Sprintf("    [ ok ] %-10s\n", r.Site))
	}
	b.WriteString(fmt.Sprintf("\n  %d succeeded, %d failed\n\n", ok, failed))

	return os.WriteFile(w.path, []byte(b.String()), 0o644)
}

func fmtDur(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%ds", m, s)
}
