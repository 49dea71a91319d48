package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-i2p/go-tunnelmsg/lib/config"
	"github.com/go-i2p/go-tunnelmsg/lib/relay"
)

func TestSimulationDeliversEveryMessage(t *testing.T) {
	cfg := config.Defaults()
	cfg.Tunnel.MaxFlushDelay = 10 * time.Millisecond
	cfg.Tunnel.SweepInterval = 5 * time.Millisecond

	sim := simulation{messages: 12, size: 3000, routers: 8, timeout: 5 * time.Second}
	report, err := sim.run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 12, report.Delivered)
	assert.Zero(t, report.Corrupted)
	assert.Equal(t, 992-16*2, report.PayloadSize)
	assert.Positive(t, report.Blocks)
}

func TestSimulationRejectsSmallPool(t *testing.T) {
	sim := simulation{messages: 1, size: 10, routers: 3, timeout: time.Second}
	_, err := sim.run(context.Background(), config.Defaults())
	assert.Error(t, err)
}

func TestConfigCommandPrintsYAML(t *testing.T) {
	t.Cleanup(func() {
		viper.Reset()
		config.CfgFile = ""
	})
	t.Setenv("HOME", t.TempDir())
	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("tunnel:\n  hops: 5\n"), 0o600))

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--config", file, "config"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "hops: 5")
	assert.Contains(t, out.String(), "source_rate: 60")
}

func TestRelayDemoForwardsEveryRequest(t *testing.T) {
	cfg := config.Defaults()
	cfg.Relay.DBPath = filepath.Join(t.TempDir(), "relay.db")

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	require.NoError(t, runRelay(ctx, cfg, "test-relay", 2, 100*time.Millisecond))

	store, err := relay.OpenSQLiteStore(cfg.Relay.DBPath)
	require.NoError(t, err)
	defer store.Close()
	pending, err := store.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending, "forwarded relays are removed from the store")
}

func TestRelayCommandRunsUntilCancelled(t *testing.T) {
	t.Cleanup(func() {
		viper.Reset()
		config.CfgFile = ""
	})
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	db := filepath.Join(dir, "relay.db")
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("relay:\n  db_path: "+db+"\n"), 0o600))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	root := newRootCommand()
	root.SetArgs([]string{"--config", file, "relay", "--demo", "2", "--demo-window", "100ms"})
	require.NoError(t, root.ExecuteContext(ctx))

	_, err := os.Stat(db)
	assert.NoError(t, err, "relay store is created at the configured path")
}
