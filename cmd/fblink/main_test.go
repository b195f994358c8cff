package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/NodePath81/fblink/internal/config"
	"github.com/stretchr/testify/require"
)

func TestApplyPeer(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, applyPeer(&cfg, "10.1.2.3"))
	require.Equal(t, "10.1.2.3", cfg.Peer.Address)
	require.Equal(t, config.DefaultPort, cfg.Peer.Port)

	require.NoError(t, applyPeer(&cfg, "[::1]:7000"))
	require.Equal(t, "::1", cfg.Peer.Address)
	require.Equal(t, 7000, cfg.Peer.Port)

	require.Error(t, applyPeer(&cfg, "host:notaport"))
}

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags("run", []string{"--peer", "h:1"})
	require.NoError(t, err)
	require.Equal(t, defaultConfigPath, opts.configPath)
	require.False(t, opts.configExplicit)
	require.Equal(t, "h:1", opts.peer)

	opts, err = parseFlags("echo", []string{"other.yaml"})
	require.NoError(t, err)
	require.Equal(t, "other.yaml", opts.configPath)
	require.True(t, opts.configExplicit)

	_, err = parseFlags("echo", []string{"--peer", "x"})
	require.Error(t, err)
}

func TestLoadConfigFallback(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "absent.yaml")

	cfg, err := loadConfig(options{configPath: missing, peer: "192.0.2.1:9000"})
	require.NoError(t, err)
	require.Equal(t, "192.0.2.1", cfg.Peer.Address)
	require.Equal(t, 9000, cfg.Peer.Port)

	_, err = loadConfig(options{configPath: missing, configExplicit: true})
	require.Error(t, err)

	path := filepath.Join(dir, "fblink.yaml")
	require.NoError(t, os.WriteFile(path, []byte("peer:\n  address: 198.51.100.4\n"), 0o644))
	cfg, err = loadConfig(options{configPath: path, configExplicit: true})
	require.NoError(t, err)
	require.Equal(t, "198.51.100.4", cfg.Peer.Address)
}

func TestRunUnknownCommand(t *testing.T) {
	require.Equal(t, 2, run([]string{"frobnicate"}))
	require.Equal(t, 0, run([]string{"version"}))
}
