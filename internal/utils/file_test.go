package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	existingFile := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(existingFile, []byte("commcell: {}\n"), 0o644))

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{name: "existing file", path: existingFile},
		{name: "missing file", path: filepath.Join(tmpDir, "missing.yaml"), wantErr: "config file not found"},
		{name: "directory", path: tmpDir, wantErr: "config path is a directory"},
		{name: "empty path", path: "", wantErr: "config file not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckConfigFile(tt.path)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
