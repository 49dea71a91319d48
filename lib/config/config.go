package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/go-i2p/go-tunnelmsg/lib/util"
)

var (
	// CfgFile is an explicit config file path; empty means the default location.
	CfgFile string
	log     = logger.GetGoI2PLogger()
)

// BaseDirName is the directory under the user's home holding config and state.
const BaseDirName = ".go-tunnelmsg"

// InitConfig loads defaults and the config file, creating the default file
// when none exists and no explicit file was requested.
func InitConfig() error {
	if CfgFile != "" {
		viper.SetConfigFile(CfgFile)
	} else {
		viper.AddConfigPath(BuildDirPath())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	setDefaults()
	if err := handleConfigFile(); err != nil {
		return err
	}
	return Validate(CurrentConfig())
}

// Reload re-reads the config file in place.
func Reload() (ConfigDefaults, error) {
	if err := viper.ReadInConfig(); err != nil {
		return ConfigDefaults{}, oops.Wrapf(err, "reload config")
	}
	cfg := CurrentConfig()
	if err := Validate(cfg); err != nil {
		return ConfigDefaults{}, err
	}
	log.WithField("file", viper.ConfigFileUsed()).Debug("configuration reloaded")
	return cfg, nil
}

func setDefaults() {
	d := Defaults()
	viper.SetDefault("tunnel.hops", d.Tunnel.Hops)
	viper.SetDefault("tunnel.max_flush_delay", d.Tunnel.MaxFlushDelay)
	viper.SetDefault("tunnel.sweep_interval", d.Tunnel.SweepInterval)

	viper.SetDefault("fragment.max_defrag_time", d.Fragment.MaxDefragTime)

	viper.SetDefault("sendqueue.max_bandwidth", d.SendQueue.MaxBandwidth)
	viper.SetDefault("sendqueue.burst", d.SendQueue.Burst)
	viper.SetDefault("sendqueue.response_timeout", d.SendQueue.ResponseTimeout)

	viper.SetDefault("relay.db_path", d.Relay.DBPath)
	viper.SetDefault("relay.cleanup_interval", d.Relay.CleanupInterval)
	viper.SetDefault("relay.source_rate", d.Relay.SourceRate)
	viper.SetDefault("relay.source_burst", d.Relay.SourceBurst)
	viper.SetDefault("relay.ban_duration", d.Relay.BanDuration)
}

// CurrentConfig reads the effective configuration from viper.
func CurrentConfig() ConfigDefaults {
	return ConfigDefaults{
		Tunnel: TunnelDefaults{
			Hops:          viper.GetInt("tunnel.hops"),
			MaxFlushDelay: viper.GetDuration("tunnel.max_flush_delay"),
			SweepInterval: viper.GetDuration("tunnel.sweep_interval"),
		},
		Fragment: FragmentDefaults{
			MaxDefragTime: viper.GetDuration("fragment.max_defrag_time"),
		},
		SendQueue: SendQueueDefaults{
			MaxBandwidth:    viper.GetInt("sendqueue.max_bandwidth"),
			Burst:           viper.GetInt("sendqueue.burst"),
			ResponseTimeout: viper.GetDuration("sendqueue.response_timeout"),
		},
		Relay: RelayDefaults{
			DBPath:          viper.GetString("relay.db_path"),
			CleanupInterval: viper.GetDuration("relay.cleanup_interval"),
			SourceRate:      viper.GetInt("relay.source_rate"),
			SourceBurst:     viper.GetInt("relay.source_burst"),
			BanDuration:     viper.GetDuration("relay.ban_duration"),
		},
	}
}

// EffectiveYAML renders every setting, defaults included, as YAML.
func EffectiveYAML() ([]byte, error) {
	out, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return nil, oops.Wrapf(err, "marshal config")
	}
	return out, nil
}

func createDefaultConfig(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return oops.Wrapf(err, "create config directory %s", dir)
	}
	out, err := EffectiveYAML()
	if err != nil {
		return err
	}
	file := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(file, out, 0o600); err != nil {
		return oops.Wrapf(err, "write default config %s", file)
	}
	log.WithField("file", file).Debug("created default configuration")
	return nil
}

func handleConfigFile() error {
	err := viper.ReadInConfig()
	if err == nil {
		log.WithField("file", viper.ConfigFileUsed()).Debug("using config file")
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) {
		return oops.Wrapf(err, "read config file")
	}
	if CfgFile != "" {
		return oops.Wrapf(err, "config file %s not found", CfgFile)
	}
	return createDefaultConfig(BuildDirPath())
}

// BuildDirPath returns $HOME/.go-tunnelmsg.
func BuildDirPath() string {
	return filepath.Join(util.UserHome(), BaseDirName)
}
