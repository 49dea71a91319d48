package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultsAreValid(t *testing.T) {
	d := Defaults()
	assert.NoError(t, Validate(d))
	assert.Equal(t, 3, d.Tunnel.Hops)
	assert.Equal(t, 100*time.Millisecond, d.Tunnel.MaxFlushDelay)
	assert.Equal(t, 60*time.Second, d.Fragment.MaxDefragTime)
	assert.Equal(t, 64*1024, d.SendQueue.Burst)
	assert.True(t, filepath.IsAbs(d.Relay.DBPath))
	assert.Equal(t, "relay.db", filepath.Base(d.Relay.DBPath))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ConfigDefaults)
		want   string
	}{
		{"no hops", func(c *ConfigDefaults) { c.Tunnel.Hops = 0 }, "Tunnel.Hops"},
		{"too many hops", func(c *ConfigDefaults) { c.Tunnel.Hops = 9 }, "Tunnel.Hops"},
		{"flush delay", func(c *ConfigDefaults) { c.Tunnel.MaxFlushDelay = 0 }, "Tunnel.MaxFlushDelay"},
		{"sweep interval", func(c *ConfigDefaults) { c.Tunnel.SweepInterval = -time.Second }, "Tunnel.SweepInterval"},
		{"defrag time", func(c *ConfigDefaults) { c.Fragment.MaxDefragTime = 0 }, "Fragment.MaxDefragTime"},
		{"negative bandwidth", func(c *ConfigDefaults) { c.SendQueue.MaxBandwidth = -1 }, "SendQueue.MaxBandwidth"},
		{"limited without burst", func(c *ConfigDefaults) {
			c.SendQueue.MaxBandwidth = 1000
			c.SendQueue.Burst = 0
		}, "SendQueue.Burst"},
		{"response timeout", func(c *ConfigDefaults) { c.SendQueue.ResponseTimeout = 0 }, "SendQueue.ResponseTimeout"},
		{"db path", func(c *ConfigDefaults) { c.Relay.DBPath = "" }, "Relay.DBPath"},
		{"cleanup", func(c *ConfigDefaults) { c.Relay.CleanupInterval = 0 }, "Relay.CleanupInterval"},
		{"source rate", func(c *ConfigDefaults) { c.Relay.SourceRate = 0 }, "Relay.SourceRate"},
		{"source burst", func(c *ConfigDefaults) { c.Relay.SourceBurst = 0 }, "Relay.SourceBurst"},
		{"ban duration", func(c *ConfigDefaults) { c.Relay.BanDuration = 0 }, "Relay.BanDuration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.want)
			}
		})
	}
}

func TestUnlimitedBandwidthIgnoresBurst(t *testing.T) {
	cfg := Defaults()
	cfg.SendQueue.Burst = 0
	assert.NoError(t, Validate(cfg))
}

func TestValidationErrorMessage(t *testing.T) {
	assert.Equal(t, "configuration validation failed: bad value", newValidationError("bad value").Error())
}
