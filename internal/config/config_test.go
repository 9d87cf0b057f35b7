// Copyright 2025 James Ross
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cumin.yaml", "log_file: /tmp/cumin.log\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/cumin.log", cfg.LogFile)
	assert.Equal(t, "local", cfg.Transport)
	assert.Equal(t, 1.0, cfg.SuccessThreshold)
	assert.Equal(t, 9090, cfg.Observability.MetricsPort)
}

func TestLoadMissingLogFileFailsValidation(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cumin.yaml", "default_backend: direct\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadBackendsAndAliases(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cumin.yaml", `
log_file: /tmp/cumin.log
default_backend: direct
aliases:
  web: "D{host[01-02].example.com}"
backends:
  knownhosts:
    files:
      - /etc/ssh/ssh_known_hosts
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "direct", cfg.DefaultBackend)
	assert.Equal(t, "D{host[01-02].example.com}", cfg.Aliases["web"])
	require.Contains(t, cfg.Backends, "knownhosts")
}

func TestLoadSiblingBackendAliasFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cumin.yaml", `
log_file: /tmp/cumin.log
backends:
  knownhosts:
    files: []
`)
	writeFile(t, dir, "knownhosts_aliases.yaml", "web: host[01-02].example.com\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	aliases, ok := cfg.Backends["knownhosts"]["aliases"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "host[01-02].example.com", aliases["web"])
}

func TestLoadSiblingTopAliasFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cumin.yaml", "log_file: /tmp/cumin.log\n")
	writeFile(t, dir, "top_aliases.yaml", "web: \"D{host1}\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "D{host1}", cfg.Aliases["web"])
}

func TestValidateRejectsOutOfRangeThreshold(t *testing.T) {
	cfg := defaultConfig()
	cfg.SuccessThreshold = 1.5
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsNegativeGlobalTimeout(t *testing.T) {
	cfg := defaultConfig()
	cfg.GlobalTimeout = -1
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsBadMetricsPort(t *testing.T) {
	cfg := defaultConfig()
	cfg.Observability.MetricsPort = 0
	assert.Error(t, Validate(cfg))
}
