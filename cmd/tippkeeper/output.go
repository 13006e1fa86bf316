package main

import (
	"fmt"
	"io"
	"os"

	"github.com/arnvgh/tippkeeper/internal/costs"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

// Progress and status go to stderr so stdout stays clean for report output.

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

// renderBreakdown writes one cost table: a row per reprediction bucket
// with the summed cost and billable document count.
func renderBreakdown(w io.Writer, title string, bd costs.Breakdown) {
	fmt.Fprintf(w, "%s\n", colorize(colorBold, title))
	rows := []struct {
		label  string
		bucket costs.Bucket
	}{
		{"index0", bd.Index0},
		{"index1", bd.Index1},
		{"index2+", bd.Index2Plus},
		{"total", bd.Total},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "  %-8s $%8.4f  %5d docs\n", r.label, r.bucket.Cost, r.bucket.Count)
	}
}
