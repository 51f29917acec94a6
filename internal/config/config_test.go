package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var want = Runtime{
	Nodes:    2,
	Threads:  4,
	Seed:     42,
	LogLevel: "info",
	Clocks: []Clock{
		{Tick: 0, Dt: 0.5},
		{Tick: 1, Dt: 1, Phase: 0.25},
	},
}

func TestLoad_YAMLAndCUEAgree(t *testing.T) {
	y, err := Load(filepath.Join("testdata", "runtime.yaml"))
	require.NoError(t, err)
	c, err := Load(filepath.Join("testdata", "runtime.cue"))
	require.NoError(t, err)

	wantYAML := want
	wantYAML.Database = "journal.db"
	wantYAML.LogLevel = "debug"
	assert.Equal(t, wantYAML, y)
	assert.Equal(t, want, c)
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.toml")
	require.NoError(t, os.WriteFile(path, []byte("nodes = 1"), 0o644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "unsupported config format")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadYAML_Defaults(t *testing.T) {
	r, err := LoadYAML(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), r)

	r, err = LoadYAML([]byte("threads: 3\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, r.Nodes)
	assert.Equal(t, 3, r.Threads)
	assert.Equal(t, []Clock{}, r.Clocks)
}

func TestLoadYAML_Rejects(t *testing.T) {
	tests := []struct {
		name, src, msg string
	}{
		{"unknown key", "nodez: 2\n", "nodez"},
		{"zero nodes", "nodes: 0\n", "nodes"},
		{"too many threads", "threads: 1000\n", "threads"},
		{"bad level", "log_level: loud\n", "log_level"},
		{"zero dt", "clocks: [{tick: 0, dt: 0}]\n", "dt must be positive"},
		{"tick range", "clocks: [{tick: 16, dt: 1}]\n", "tick must be in"},
		{"negative phase", "clocks: [{tick: 0, dt: 1, phase: -1}]\n", "phase"},
		{"duplicate tick", "clocks: [{tick: 2, dt: 1}, {tick: 2, dt: 2}]\n", "set twice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadYAML([]byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestLoadCUE_SchemaDefaults(t *testing.T) {
	r, err := LoadCUE([]byte(""), "empty.cue")
	require.NoError(t, err)
	assert.Equal(t, Default(), r)
}

func TestLoadCUE_Rejects(t *testing.T) {
	tests := []struct {
		name, src string
	}{
		{"closed schema", "nodez: 2\n"},
		{"bound", "nodes: 0\n"},
		{"type", "threads: \"four\"\n"},
		{"clock dt", "clocks: [{tick: 0, dt: 0}]\n"},
		{"level", "log_level: \"loud\"\n"},
		{"syntax", "nodes: \n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCUE([]byte(tt.src), "bad.cue")
			require.Error(t, err)
			var ce *Error
			assert.ErrorAs(t, err, &ce)
		})
	}
}

func TestRuntime_LevelAndEngine(t *testing.T) {
	r := want
	r.LogLevel = "warn"
	l, err := r.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, l)

	cfg := r.Engine()
	assert.Equal(t, 2, cfg.Nodes)
	assert.Equal(t, 4, cfg.Threads)
}
