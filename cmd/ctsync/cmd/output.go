package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gookit/color"
	"github.com/mattn/go-runewidth"
)

// outputWriter is used for printing reports, can be overridden in tests
var outputWriter io.Writer = os.Stdout

// setOutputWriter sets the output writer (used for testing)
func setOutputWriter(w io.Writer) {
	outputWriter = w
}

// resetOutputWriter resets output to stdout (used for testing)
func resetOutputWriter() {
	outputWriter = os.Stdout
}

// printHeader prints a formatted header
func printHeader(format string, args ...interface{}) {
	title := fmt.Sprintf(format, args...)
	width := visualWidth(title) + 4
	fmt.Fprintln(outputWriter, strings.Repeat("=", width))
	fmt.Fprintf(outputWriter, "  %s\n", title)
	fmt.Fprintln(outputWriter, strings.Repeat("=", width))
}

// printSection prints a section header
func printSection(title string) {
	fmt.Fprintf(outputWriter, "[%s]\n", title)
	fmt.Fprintln(outputWriter, strings.Repeat("-", visualWidth(title)+2))
}

func okMark() string   { return color.Green.Sprint("✔") }
func warnMark() string { return color.Yellow.Sprint("!") }
func failMark() string { return color.Red.Sprint("✘") }

// visualWidth returns the terminal width of s, ignoring color codes.
func visualWidth(s string) int {
	return runewidth.StringWidth(color.ClearCode(s))
}

// printTable writes rows under headers with columns padded to their widest
// cell.
func printTable(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = visualWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := visualWidth(cell); i < len(widths) && w > widths[i] {
				widths[i] = w
			}
		}
	}

	writeRow := func(cells []string) {
		var sb strings.Builder
		sb.WriteString("  ")
		for i, cell := range cells {
			sb.WriteString(cell)
			if i < len(cells)-1 {
				sb.WriteString(strings.Repeat(" ", widths[i]-visualWidth(cell)+2))
			}
		}
		fmt.Fprintln(outputWriter, strings.TrimRight(sb.String(), " "))
	}

	writeRow(headers)
	rule := make([]string, len(headers))
	for i, w := range widths {
		rule[i] = strings.Repeat("-", w)
	}
	writeRow(rule)
	for _, row := range rows {
		writeRow(row)
	}
}
