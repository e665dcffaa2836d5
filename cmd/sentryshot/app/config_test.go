// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig([]string{"sentryshot"}, "/tmp")
	require.NoError(t, err)
	assert.Equal(t, 2020, cfg.Port)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "/tmp/storage", cfg.StorageDir)
	assert.Equal(t, defaultSegmentCount, cfg.SegmentCount)
}

func TestLoadConfigFlags(t *testing.T) {
	cfg, err := LoadConfig([]string{
		"sentryshot",
		"--port", "8080",
		"--loglevel", "DEBUG",
		"--storagedir", "/data",
	}, "/tmp")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "/data", cfg.StorageDir)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(cfgPath,
		[]byte(`{"port": 9999, "maxdiskusagegb": 7}`), 0o644))

	cfg, err := LoadConfig([]string{"sentryshot", "--cfg", cfgPath}, "/tmp")
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, 7, cfg.MaxDiskUsageGB)

	// Flags override the config file.
	cfg, err = LoadConfig([]string{"sentryshot", "--cfg", cfgPath, "--port", "1234"}, "/tmp")
	require.NoError(t, err)
	assert.Equal(t, 1234, cfg.Port)
}

func TestCheckTLSParams(t *testing.T) {
	_, err := LoadConfig([]string{
		"sentryshot", "--domains", "a.example.com", "--certpath", "/x",
	}, "/tmp")
	require.Error(t, err)

	_, err = LoadConfig([]string{"sentryshot", "--certpath", "/x"}, "/tmp")
	require.Error(t, err)
}

func TestLoadConfigDomainsForcePort(t *testing.T) {
	cfg, err := LoadConfig([]string{"sentryshot", "--domains", "a.example.com"}, "/tmp")
	require.NoError(t, err)
	assert.Equal(t, 443, cfg.Port)
}
