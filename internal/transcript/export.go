package transcript

import (
	"fmt"
	"strings"
	"time"
)

// ExportOptions controls the legal-formatted rendering of a result.
type ExportOptions struct {
	Title    string
	CaseRef  string
	Recorded time.Time
}

// ExportLegal renders a result as a timestamped, speaker-attributed
// plain-text transcript suitable for filing. Results without segments are
// rendered as a single unattributed body.
func ExportLegal(res *Result, opts ExportOptions) string {
	var b strings.Builder

	title := opts.Title
	if title == "" {
		title = "TRANSCRIPT OF PROCEEDINGS"
	}
	b.WriteString(strings.ToUpper(title))
	b.WriteString("\n")
	if opts.CaseRef != "" {
		fmt.Fprintf(&b, "Case reference: %s\n", opts.CaseRef)
	}
	if !opts.Recorded.IsZero() {
		fmt.Fprintf(&b, "Recorded: %s\n", opts.Recorded.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	if res.DetectedLanguage != "" {
		fmt.Fprintf(&b, "Language: %s\n", res.DetectedLanguage)
	}
	fmt.Fprintf(&b, "Transcribed via: %s\n", res.ProviderUsed)
	b.WriteString(strings.Repeat("-", 60))
	b.WriteString("\n\n")

	if !res.HasSegments() {
		b.WriteString(strings.TrimSpace(res.Text))
		b.WriteString("\n")
		return b.String()
	}

	for _, seg := range res.Segments {
		speaker := seg.Speaker
		if speaker == "" {
			speaker = "Unidentified"
		}
		fmt.Fprintf(&b, "[%s - %s] %s:\n    %s\n\n",
			formatTimestamp(seg.Start), formatTimestamp(seg.End),
			strings.ToUpper(speaker), strings.TrimSpace(seg.Text))
	}
	return b.String()
}

// formatTimestamp renders seconds as HH:MM:SS.
func formatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
