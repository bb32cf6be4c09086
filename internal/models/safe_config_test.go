package models

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseYAML = `
commcell:
  webServiceURL: https://cs.example.com/webconsole/api
  authToken: QSDK first-token-value
server:
  host: 0.0.0.0
  port: "2113"
`

func writeYAML(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeYAML(t, t.TempDir(), baseYAML)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "QSDK first-token-value", cfg.Commcell.AuthToken)
	assert.Equal(t, DefaultServerURI, cfg.Server.URI)
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")

	path := writeYAML(t, dir, "commcell: [unclosed")
	_, err = LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode config")

	path = writeYAML(t, dir, "server:\n  port: \"2113\"\n")
	_, err = LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestSafeConfigGet(t *testing.T) {
	cfg := validConfig()
	sc := NewSafeConfig(cfg)
	assert.Same(t, cfg, sc.Get())
}

func TestSafeConfigReload(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantChanged bool
	}{
		{
			name:        "same commcell",
			content:     baseYAML + "  logName: other.log\n",
			wantChanged: false,
		},
		{
			name: "token rotated",
			content: `
commcell:
  webServiceURL: https://cs.example.com/webconsole/api
  authToken: QSDK second-token-value
`,
			wantChanged: true,
		},
		{
			name: "new web server",
			content: `
commcell:
  webServiceURL: https://cs2.example.com/webconsole/api
  authToken: QSDK first-token-value
`,
			wantChanged: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			initial, err := LoadConfig(writeYAML(t, dir, baseYAML))
			require.NoError(t, err)
			sc := NewSafeConfig(initial)

			changed, err := sc.ReloadConfig(writeYAML(t, dir, tt.content))
			require.NoError(t, err)
			assert.Equal(t, tt.wantChanged, changed)
			assert.NotSame(t, initial, sc.Get())
		})
	}
}

func TestSafeConfigReloadFromEmpty(t *testing.T) {
	sc := NewSafeConfig(nil)
	changed, err := sc.ReloadConfig(writeYAML(t, t.TempDir(), baseYAML))
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestSafeConfigReloadInvalidKeepsCurrent(t *testing.T) {
	dir := t.TempDir()
	initial, err := LoadConfig(writeYAML(t, dir, baseYAML))
	require.NoError(t, err)
	sc := NewSafeConfig(initial)

	_, err = sc.ReloadConfig(writeYAML(t, dir, "commcell:\n  authToken: x\n"))
	require.Error(t, err)
	assert.Same(t, initial, sc.Get())
}

func TestSafeConfigConcurrentReload(t *testing.T) {
	dir := t.TempDir()
	path := writeYAML(t, dir, baseYAML)
	initial, err := LoadConfig(path)
	require.NoError(t, err)
	sc := NewSafeConfig(initial)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = sc.ReloadConfig(path)
		}()
		go func() {
			defer wg.Done()
			assert.NotNil(t, sc.Get())
		}()
	}
	wg.Wait()
	assert.Equal(t, "QSDK first-token-value", sc.Get().Commcell.AuthToken)
}
