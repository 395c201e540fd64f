package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/spf13/viper"
)

var (
	CfgFile string
	log     = logger.GetGoI2PLogger()
)

const GO_ONION_BASE_DIR = ".go-onion"

const envPrefix = "GO_ONION"

// NodeConfig is the resolved configuration a node starts from.
type NodeConfig struct {
	ListenAddress     string
	WorkingDir        string
	KeyCacheSize      int
	RotationInterval  time.Duration
	RateLimit         float64
	RateBurst         int
	SourceIdleTimeout time.Duration
	MetricsAddress    string
}

// InitConfig prepares viper: defaults, environment and the config file.
// A missing default config file is created from the defaults.
func InitConfig() error {
	if CfgFile != "" {
		viper.SetConfigFile(CfgFile)
	} else {
		viper.AddConfigPath(BuildOnionDirPath())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	setDefaults()

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	return handleConfigFile()
}

func setDefaults() {
	d := Defaults()

	viper.SetDefault("listen_address", d.Node.ListenAddress)
	viper.SetDefault("working_dir", d.Node.WorkingDir)

	viper.SetDefault("onion.key_cache_size", d.Onion.KeyCacheSize)
	viper.SetDefault("onion.rotation_interval", d.Onion.RotationInterval)

	viper.SetDefault("transport.rate_limit", d.Transport.RateLimit)
	viper.SetDefault("transport.rate_burst", d.Transport.RateBurst)
	viper.SetDefault("transport.source_idle_timeout", d.Transport.SourceIdleTimeout)

	viper.SetDefault("metrics.listen_address", d.Metrics.ListenAddress)
}

// CurrentConfig reads the current viper settings into a NodeConfig.
func CurrentConfig() *NodeConfig {
	return &NodeConfig{
		ListenAddress:     viper.GetString("listen_address"),
		WorkingDir:        viper.GetString("working_dir"),
		KeyCacheSize:      viper.GetInt("onion.key_cache_size"),
		RotationInterval:  viper.GetDuration("onion.rotation_interval"),
		RateLimit:         viper.GetFloat64("transport.rate_limit"),
		RateBurst:         viper.GetInt("transport.rate_burst"),
		SourceIdleTimeout: viper.GetDuration("transport.source_idle_timeout"),
		MetricsAddress:    viper.GetString("metrics.listen_address"),
	}
}

// Validate rejects settings a node cannot start with.
func (c *NodeConfig) Validate() error {
	if c.ListenAddress == "" {
		return oops.Errorf("listen_address must be set")
	}
	if c.WorkingDir == "" {
		return oops.Errorf("working_dir must be set")
	}
	if c.KeyCacheSize < 1 {
		return oops.Errorf("onion.key_cache_size must be positive, got %d", c.KeyCacheSize)
	}
	if c.RotationInterval <= 0 {
		return oops.Errorf("onion.rotation_interval must be positive, got %s", c.RotationInterval)
	}
	if c.RateLimit < 0 {
		return oops.Errorf("transport.rate_limit must not be negative, got %v", c.RateLimit)
	}
	if c.RateBurst < 1 {
		return oops.Errorf("transport.rate_burst must be positive, got %d", c.RateBurst)
	}
	return nil
}

func createDefaultConfig(defaultConfigDir string) error {
	defaultConfigFile := filepath.Join(defaultConfigDir, "config.yaml")
	if err := os.MkdirAll(defaultConfigDir, 0o755); err != nil {
		return oops.Wrapf(err, "creating config directory %s", defaultConfigDir)
	}
	if err := viper.WriteConfigAs(defaultConfigFile); err != nil {
		return oops.Wrapf(err, "writing default config file %s", defaultConfigFile)
	}
	log.Debugf("Created default configuration at: %s", defaultConfigFile)
	return nil
}

func handleConfigFile() error {
	err := viper.ReadInConfig()
	if err == nil {
		log.Debugf("Using config file: %s", viper.ConfigFileUsed())
		return nil
	}
	if _, ok := err.(viper.ConfigFileNotFoundError); ok && CfgFile == "" {
		return createDefaultConfig(BuildOnionDirPath())
	}
	if CfgFile != "" && os.IsNotExist(err) {
		return oops.Wrapf(err, "config file %s not found", CfgFile)
	}
	return oops.Wrapf(err, "reading config file")
}

// BuildOnionDirPath returns $HOME/.go-onion.
func BuildOnionDirPath() string {
	return filepath.Join(userHome(), GO_ONION_BASE_DIR)
}

// userHome falls back to $HOME and then the working directory when
// os.UserHomeDir fails, as in minimal containers.
func userHome() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if wd, err := os.Getwd(); err == nil {
		log.Warn("home directory unavailable; using working directory")
		return wd
	}
	return "."
}
