package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cliEnv struct {
	configPath string
	dbPath     string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()

	docs := filepath.Join(dir, "docs")
	require.NoError(t, os.MkdirAll(docs, 0o755))
	pages := map[string]string{
		"AudioSource.html": `<html><head><title>AudioSource</title></head><body><h1>AudioSource</h1>
			<p class="description">AudioSource plays sound clips through the mixer.</p></body></html>`,
		"Canvas.html": `<html><head><title>Canvas</title></head><body><h1>Canvas</h1>
			<p class="description">Canvas is the drawing surface for widgets.</p></body></html>`,
	}
	for name, content := range pages {
		require.NoError(t, os.WriteFile(filepath.Join(docs, name), []byte(content), 0o644))
	}

	cfg := fmt.Sprintf(`[embedding]
provider = "local"
dimension = 32
pool_size = 1

[indexing]
workers = 1

[log]
level = "error"

[[sources]]
name = "engine"
root = %q
base_url = "https://docs.example.com/"
version = "2022.3"
`, docs)
	configPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0o644))

	return &cliEnv{configPath: configPath, dbPath: filepath.Join(dir, "docsearch.db")}
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", e.configPath, "--db", e.dbPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := newRootCmd()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"index", "search", "status", "serve"})

	for _, flag := range []string{"config", "db", "log-level"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--version"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "Version: dev")
	assert.Contains(t, out.String(), "Build Mode:")
	assert.Contains(t, out.String(), "Vector Extension:")
}

func TestIndexSearchStatus(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, `Source engine (version "2022.3"): not_started`)

	out, err = env.run(t, "index")
	require.NoError(t, err)
	assert.Contains(t, out, "Files indexed:    2")

	out, err = env.run(t, "search", "--mode", "keyword", "mixer")
	require.NoError(t, err)
	assert.Contains(t, out, "1. AudioSource")
	assert.Contains(t, out, "https://docs.example.com/AudioSource.html")
	assert.NotContains(t, out, "Canvas")

	out, err = env.run(t, "search", "drawing", "surface")
	require.NoError(t, err)
	assert.Contains(t, out, "Canvas")

	out, err = env.run(t, "status", "--source", "engine")
	require.NoError(t, err)
	assert.Contains(t, out, ": complete")
	assert.Contains(t, out, "Documents: 2")
	assert.Contains(t, out, "Dimension: 32")

	// Second run finds nothing to do
	out, err = env.run(t, "index", "--source", "engine")
	require.NoError(t, err)
	assert.Contains(t, out, "Files indexed:    0")
	assert.Contains(t, out, "Files skipped:    2")
}

func TestCommandErrors(t *testing.T) {
	env := newCLIEnv(t)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown source", []string{"index", "--source", "missing"}},
		{"search without query", []string{"search"}},
		{"search invalid mode", []string{"search", "--mode", "fuzzy", "canvas"}},
		{"search unknown source", []string{"search", "--source", "missing", "canvas"}},
		{"invalid log level", []string{"--log-level", "loud", "status"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.run(t, tt.args...)
			assert.Error(t, err)
		})
	}

	t.Run("missing config file", func(t *testing.T) {
		cmd := newRootCmd()
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)
		cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "nope.toml"), "status"})
		assert.Error(t, cmd.Execute())
	})
}
