package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gookit/color"
	"github.com/stretchr/testify/assert"

	"github.com/dbsmedya/ctsync/internal/syncer"
	"github.com/dbsmedya/ctsync/internal/verifier"
)

func TestPrintTable_AlignsWideRunes(t *testing.T) {
	var buf bytes.Buffer
	setOutputWriter(&buf)
	defer resetOutputWriter()

	printTable([]string{"A", "NAME", "N"}, [][]string{
		{"1", "日本", "7"},
		{"22", "x", ""},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Equal(t, []string{
		"  A   NAME  N",
		"  --  ----  -",
		"  1   日本  7",
		"  22  x",
	}, lines)
}

func TestPrintHeader(t *testing.T) {
	var buf bytes.Buffer
	setOutputWriter(&buf)
	defer resetOutputWriter()

	printHeader("Status: %s", "sales")
	assert.Equal(t, "=================\n  Status: sales\n=================\n", buf.String())
}

func TestVisualWidth(t *testing.T) {
	assert.Equal(t, 2, visualWidth(color.Red.Sprint("ok")))
	assert.Equal(t, 4, visualWidth("日本"))
}

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	setOutputWriter(&buf)
	defer resetOutputWriter()

	printStatus([]syncer.SetStatus{{
		Set:           "sales",
		SourceVersion: 120,
		Running:       true,
		Destinations: []syncer.DestinationStatus{
			{Name: "reporting", Stored: 120, Lag: 0},
			{Name: "archive", Stored: 100, Lag: 20},
		},
	}})

	output := color.ClearCode(buf.String())
	assert.Contains(t, output, "Source version: 120")
	assert.Contains(t, output, "Sync running:   yes")
	assert.Regexp(t, `reporting\s+120\s+0\s+up to date`, output)
	assert.Regexp(t, `archive\s+100\s+20`, output)
}

func TestPrintVerifyStats(t *testing.T) {
	var buf bytes.Buffer
	setOutputWriter(&buf)
	defer resetOutputWriter()

	printVerifyStats("sales", &verifier.VerifyStats{
		Method:         verifier.MethodCount,
		TablesVerified: 2,
		TablesPassed:   1,
		TablesFailed:   1,
		TotalRows:      10,
		Results: []verifier.VerifyResult{
			{Table: "dbo.Orders", Destination: "reporting", SourceCount: 10, DestCount: 10, Match: true},
			{Table: "dbo.Orders", Destination: "archive", SourceCount: 10, DestCount: 9, ErrorMessage: "count mismatch: source=10, dest=9"},
		},
	})

	output := color.ClearCode(buf.String())
	assert.Contains(t, output, "Verify (count): sales")
	assert.Contains(t, output, "count mismatch: source=10, dest=9")
	assert.Contains(t, output, "2 verified, 1 passed, 1 failed, 10 source rows")
}
