// Package config loads the tunnel message stack's settings with viper.
//
// Settings come from, in increasing priority, the built-in Defaults, the
// YAML file at $HOME/.go-tunnelmsg/config.yaml (written with the defaults
// on first run) or the file named by CfgFile, and anything set on viper
// directly, such as bound command-line flags.
//
// Keys are grouped by component:
//
//	tunnel.hops, tunnel.max_flush_delay, tunnel.sweep_interval
//	fragment.max_defrag_time
//	sendqueue.max_bandwidth, sendqueue.burst, sendqueue.response_timeout
//	relay.db_path, relay.cleanup_interval, relay.source_rate,
//	relay.source_burst, relay.ban_duration
package config
