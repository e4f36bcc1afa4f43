package cmd

import (
	"bytes"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionCommandStructure(t *testing.T) {
	assert.NotNil(t, versionCmd)
	assert.Equal(t, "version", versionCmd.Use)
	assert.NotEmpty(t, versionCmd.Short)
	assert.NotNil(t, versionCmd.Run)
}

func TestRunVersion(t *testing.T) {
	originalVersion := Version
	originalCommit := Commit
	defer func() {
		Version = originalVersion
		Commit = originalCommit
	}()

	tests := []struct {
		name         string
		version      string
		commit       string
		wantInOutput []string
	}{
		{
			name:         "dev version",
			version:      "0.0.1-dev",
			commit:       "unknown",
			wantInOutput: []string{"ctsync version 0.0.1-dev", "Commit: unknown"},
		},
		{
			name:         "release version",
			version:      "1.2.0",
			commit:       "abc123def456",
			wantInOutput: []string{"ctsync version 1.2.0", "Commit: abc123def456"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Version = tt.version
			Commit = tt.commit

			var buf bytes.Buffer
			versionCmd.SetOut(&buf)
			runVersion(versionCmd, nil)

			output := buf.String()
			for _, want := range tt.wantInOutput {
				assert.Contains(t, output, want)
			}
			assert.Contains(t, output, runtime.Version())
			assert.Contains(t, output, runtime.GOOS+"/"+runtime.GOARCH)
		})
	}
}
