// Package main provides terminal output utilities for the corpus CLI.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// UI renders human-facing command output. In JSON mode every method is a
// no-op so structured output stays parseable.
type UI struct {
	progress *mpb.Progress
	jsonMode bool
	noColor  bool
	closed   bool
}

// NewUI creates a UI for the current output mode.
func NewUI(jsonMode, noColor bool) *UI {
	return &UI{jsonMode: jsonMode, noColor: noColor}
}

// Close waits for any progress bars to finish rendering. Safe to call
// more than once.
func (ui *UI) Close() {
	if ui.progress == nil || ui.closed {
		return
	}
	ui.closed = true
	if isTerminal() {
		ui.progress.Wait()
	} else {
		// Bars cannot render when piped and Wait may hang.
		ui.progress.Shutdown()
	}
}

// Success prints a green check line.
func (ui *UI) Success(format string, args ...any) {
	ui.glyph(color.FgGreen, "✓", format, args...)
}

// Failure prints a red cross line.
func (ui *UI) Failure(format string, args ...any) {
	ui.glyph(color.FgRed, "✗", format, args...)
}

// Warning prints a yellow warning line.
func (ui *UI) Warning(format string, args ...any) {
	ui.glyph(color.FgYellow, "⚠", format, args...)
}

// Info prints a cyan info line.
func (ui *UI) Info(format string, args ...any) {
	ui.glyph(color.FgCyan, "ℹ", format, args...)
}

func (ui *UI) glyph(fg color.Attribute, glyph, format string, args ...any) {
	if ui.jsonMode {
		return
	}
	line := fmt.Sprintf(format, args...)
	if ui.noColor {
		fmt.Printf("%s %s\n", glyph, line)
		return
	}
	color.New(fg).Printf("%s %s\n", glyph, line)
}

// Section prints a section header.
func (ui *UI) Section(title string) {
	if ui.jsonMode {
		return
	}
	fmt.Println()
	if ui.noColor {
		fmt.Println(title)
		fmt.Println(strings.Repeat("─", len([]rune(title))))
		return
	}
	color.New(color.FgMagenta, color.Bold).Println(title)
	fmt.Println(strings.Repeat("─", len([]rune(title))))
}

// KeyValue prints an indented key-value pair.
func (ui *UI) KeyValue(key string, value any) {
	if ui.jsonMode {
		return
	}
	if ui.noColor {
		fmt.Printf("  %s: %v\n", key, value)
		return
	}
	color.New(color.FgYellow).Printf("  %s: ", key)
	fmt.Printf("%v\n", value)
}

// Newline prints a blank line.
func (ui *UI) Newline() {
	if !ui.jsonMode {
		fmt.Println()
	}
}

// Table prints rows under a padded header line.
func (ui *UI) Table(headers []string, rows [][]string) {
	if ui.jsonMode || len(headers) == 0 {
		return
	}

	widths := make([]int, len(headers))
	for i, header := range headers {
		widths[i] = len([]rune(header))
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len([]rune(cell)) > widths[i] {
				widths[i] = len([]rune(cell))
			}
		}
	}

	var header strings.Builder
	for i, h := range headers {
		fmt.Fprintf(&header, "%-*s", widths[i]+2, h)
	}
	if ui.noColor {
		fmt.Println(header.String())
	} else {
		color.New(color.FgCyan, color.Bold).Println(header.String())
	}

	for _, row := range rows {
		var line strings.Builder
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprintf(&line, "%-*s", widths[i]+2, cell)
			}
		}
		fmt.Println(line.String())
	}
}

// FileBar adds a per-document progress bar scaled 0-100.
func (ui *UI) FileBar(name string) *mpb.Bar {
	if ui.jsonMode || !isTerminal() {
		return nil
	}
	if ui.progress == nil {
		ui.progress = mpb.New(mpb.WithWidth(48))
	}
	return ui.progress.AddBar(100,
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DSyncSpaceR}),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WC{W: 5}),
			decor.OnComplete(decor.Elapsed(decor.ET_STYLE_GO, decor.WC{W: 10}), " done"),
		),
	)
}

// PageBar renders crawl page progress on stderr.
func (ui *UI) PageBar(total int64, description string) *progressbar.ProgressBar {
	if ui.jsonMode || !isTerminal() {
		return nil
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
	)
}

// Wait starts an indeterminate spinner on stderr. Stop it when the call
// returns; all methods are safe in JSON or piped mode.
func (ui *UI) Wait(message string) *waitSpinner {
	if ui.jsonMode || !isTerminal() {
		return &waitSpinner{}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = os.Stderr
	s.Start()
	return &waitSpinner{s: s}
}

type waitSpinner struct {
	s *spinner.Spinner
}

func (w *waitSpinner) Stop() {
	if w.s != nil {
		w.s.Stop()
	}
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

// formatBytes renders a byte count in a human-readable unit.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// isTerminal reports whether stdout is a character device.
func isTerminal() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
