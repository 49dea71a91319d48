package config

import (
	"path/filepath"
	"time"

	"github.com/go-i2p/logger"

	"github.com/go-i2p/go-tunnelmsg/lib/fragment"
	"github.com/go-i2p/go-tunnelmsg/lib/relay"
	"github.com/go-i2p/go-tunnelmsg/lib/sendqueue"
	"github.com/go-i2p/go-tunnelmsg/lib/tunnel"
	"github.com/go-i2p/go-tunnelmsg/lib/util"
)

// ConfigDefaults holds every tunable of the tunnel message stack.
type ConfigDefaults struct {
	Tunnel    TunnelDefaults
	Fragment  FragmentDefaults
	SendQueue SendQueueDefaults
	Relay     RelayDefaults
}

// TunnelDefaults configures the in-process tunnel used by simulate.
type TunnelDefaults struct {
	// Hops is the number of hops after the gateway
	// Default: 3
	Hops int

	// MaxFlushDelay bounds how long a partial block waits at the gateway
	// Default: 100ms
	MaxFlushDelay time.Duration

	// SweepInterval is how often the preprocessor and reassembler are polled
	// Default: 50ms
	SweepInterval time.Duration
}

// FragmentDefaults configures reassembly.
type FragmentDefaults struct {
	// MaxDefragTime is how long a partial message is kept
	// Default: 60 seconds
	MaxDefragTime time.Duration
}

// SendQueueDefaults configures outbound packet scheduling.
type SendQueueDefaults struct {
	// MaxBandwidth caps outbound bytes per second, 0 for unlimited
	// Default: 0
	MaxBandwidth int

	// Burst is the token bucket size in bytes
	// Default: 64 KiB
	Burst int

	// ResponseTimeout is how long SendRequest waits for a response
	// Default: 60 seconds
	ResponseTimeout time.Duration
}

// RelayDefaults configures the relay node.
type RelayDefaults struct {
	// DBPath is the SQLite file holding pending relays
	// Default: $HOME/.go-tunnelmsg/relay.db
	DBPath string

	// CleanupInterval is how often expired relays are purged
	// Default: 1 minute
	CleanupInterval time.Duration

	// SourceRate is the number of relay requests accepted per source per minute
	// Default: 60
	SourceRate int

	// SourceBurst is the per-source burst allowance
	// Default: 10
	SourceBurst int

	// BanDuration is how long an abusive source is refused
	// Default: 10 minutes
	BanDuration time.Duration
}

// Defaults returns the built-in configuration.
func Defaults() ConfigDefaults {
	return ConfigDefaults{
		Tunnel: TunnelDefaults{
			Hops:          3,
			MaxFlushDelay: tunnel.DefaultMaxFlushDelay,
			SweepInterval: 50 * time.Millisecond,
		},
		Fragment: FragmentDefaults{
			MaxDefragTime: fragment.DefaultMaxDefragmentTime,
		},
		SendQueue: SendQueueDefaults{
			MaxBandwidth:    0,
			Burst:           64 * 1024,
			ResponseTimeout: sendqueue.DefaultResponseTimeout,
		},
		Relay: RelayDefaults{
			DBPath:          filepath.Join(util.UserHome(), BaseDirName, "relay.db"),
			CleanupInterval: relay.DefaultCleanupInterval,
			SourceRate:      relay.DefaultRequestsPerMinute,
			SourceBurst:     relay.DefaultSourceBurst,
			BanDuration:     relay.DefaultBanDuration,
		},
	}
}

// Validate checks cfg for values the stack cannot run with.
func Validate(cfg ConfigDefaults) error {
	log.WithFields(logger.Fields{
		"at":     "Validate",
		"reason": "verification_requested",
	}).Debug("validating configuration")
	validators := []func() error{
		func() error { return validateTunnel(cfg.Tunnel) },
		func() error { return validateFragment(cfg.Fragment) },
		func() error { return validateSendQueue(cfg.SendQueue) },
		func() error { return validateRelay(cfg.Relay) },
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func validateTunnel(t TunnelDefaults) error {
	if t.Hops < 1 || t.Hops > tunnel.MaxHops {
		return invalid("tunnel.hops", t.Hops, "Tunnel.Hops must be between 1 and 8")
	}
	if t.MaxFlushDelay <= 0 {
		return invalid("tunnel.max_flush_delay", t.MaxFlushDelay, "Tunnel.MaxFlushDelay must be positive")
	}
	if t.SweepInterval <= 0 {
		return invalid("tunnel.sweep_interval", t.SweepInterval, "Tunnel.SweepInterval must be positive")
	}
	return nil
}

func validateFragment(f FragmentDefaults) error {
	if f.MaxDefragTime <= 0 {
		return invalid("fragment.max_defrag_time", f.MaxDefragTime, "Fragment.MaxDefragTime must be positive")
	}
	return nil
}

func validateSendQueue(s SendQueueDefaults) error {
	if s.MaxBandwidth < 0 {
		return invalid("sendqueue.max_bandwidth", s.MaxBandwidth, "SendQueue.MaxBandwidth must not be negative")
	}
	if s.MaxBandwidth > 0 && s.Burst < 1 {
		return invalid("sendqueue.burst", s.Burst, "SendQueue.Burst must be at least 1 when bandwidth is limited")
	}
	if s.ResponseTimeout <= 0 {
		return invalid("sendqueue.response_timeout", s.ResponseTimeout, "SendQueue.ResponseTimeout must be positive")
	}
	return nil
}

func validateRelay(r RelayDefaults) error {
	switch {
	case r.DBPath == "":
		return invalid("relay.db_path", r.DBPath, "Relay.DBPath must be set")
	case r.CleanupInterval <= 0:
		return invalid("relay.cleanup_interval", r.CleanupInterval, "Relay.CleanupInterval must be positive")
	case r.SourceRate < 1:
		return invalid("relay.source_rate", r.SourceRate, "Relay.SourceRate must be at least 1")
	case r.SourceBurst < 1:
		return invalid("relay.source_burst", r.SourceBurst, "Relay.SourceBurst must be at least 1")
	case r.BanDuration <= 0:
		return invalid("relay.ban_duration", r.BanDuration, "Relay.BanDuration must be positive")
	}
	return nil
}

func invalid(key string, value interface{}, msg string) error {
	log.WithFields(logger.Fields{
		"at":     "Validate",
		"reason": "value_out_of_range",
		"key":    key,
		"value":  value,
	}).Error("invalid configuration")
	return newValidationError(msg)
}

// validationError is returned when configuration validation fails
type validationError struct {
	message string
}

func newValidationError(message string) error {
	return &validationError{message: message}
}

func (e *validationError) Error() string {
	return "configuration validation failed: " + e.message
}
