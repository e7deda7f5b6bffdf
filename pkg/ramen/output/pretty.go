package output

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
)

// PrettyFormatter renders a styled listing for terminals.
type PrettyFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Result) error {
	w.WriteString(f.formatHeader(r))
	w.WriteString("\n")
	w.WriteString(f.formatTable(r))
	w.WriteString(f.formatFooter(r))
	w.WriteString("\n")
	return nil
}

func (f *PrettyFormatter) formatHeader(r *Result) string {
	source := fmt.Sprintf("%s %s %s",
		LabelStyle.Render("Source:"),
		ValueStyle.Render(r.Host+"/"+r.Product),
		MutedStyle.Render(r.Prefix))

	committed := LabelStyle.Render("Committed: ") + MutedStyle.Render("never")
	if !r.LastCommit.IsZero() {
		committed = LabelStyle.Render("Committed: ") + ValueStyle.Render(humanize.Time(r.LastCommit))
	}
	return HeaderBox.Render(source + "\n" + committed)
}

func (f *PrettyFormatter) formatTable(r *Result) string {
	if len(r.Rows) == 0 {
		return MutedStyle.Render("  No entries stored under this prefix\n")
	}

	sizeWidth := 8
	for _, row := range r.Rows {
		sizeWidth = max(sizeWidth, runewidth.StringWidth(row.SizeHuman))
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("  %s  %s  %s  %s\n",
		TableHeaderStyle.Render(padRight("MODE", 10)),
		TableHeaderStyle.Render(padLeft("SIZE", sizeWidth)),
		TableHeaderStyle.Render(padRight("MODIFIED", 16)),
		TableHeaderStyle.Render("PATH")))

	for _, row := range r.Rows {
		path := PathStyle.Render(row.Path)
		if row.IsDir {
			path = DirStyle.Render(row.Path)
		}
		size := SizeStyle.Render(padLeft(row.SizeHuman, sizeWidth))
		if row.IsDir {
			size = MutedStyle.Render(padLeft("-", sizeWidth))
		}
		sb.WriteString(fmt.Sprintf("  %s  %s  %s  %s\n",
			MutedStyle.Render(padRight(row.Perms, 10)),
			size,
			MutedStyle.Render(padRight(formatTime(row.ModTime), 16)),
			path))
	}
	return sb.String()
}

func (f *PrettyFormatter) formatFooter(r *Result) string {
	parts := []string{
		LabelStyle.Render("Folders:") + " " + ValueStyle.Render(humanize.Comma(int64(r.Stats.Folders))),
		LabelStyle.Render("Files:") + " " + ValueStyle.Render(humanize.Comma(int64(r.Stats.Files))),
		LabelStyle.Render("Total:") + " " + SizeStyle.Render(humanize.IBytes(uint64(r.Stats.TotalSize))),
	}
	return FooterBox.Render(strings.Join(parts, "  "))
}

// padLeft pads s with spaces on the left to the given display width.
func padLeft(s string, width int) string {
	if w := runewidth.StringWidth(s); w < width {
		return strings.Repeat(" ", width-w) + s
	}
	return s
}

// padRight pads s with spaces on the right to the given display width.
func padRight(s string, width int) string {
	if w := runewidth.StringWidth(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

func init() {
	Register("pretty", func() Formatter {
		return &PrettyFormatter{}
	})
}

var _ Formatter = (*PrettyFormatter)(nil)
