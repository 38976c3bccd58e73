// Package config provides a reusable loader for Boson DHT node configuration
// files and environment variables.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"boson/pkg/utils"
)

// Config is the unified configuration for a Boson DHT node.
type Config struct {
	Network struct {
		Address4       string   `mapstructure:"address4" json:"address4"`
		Address6       string   `mapstructure:"address6" json:"address6"`
		Port           int      `mapstructure:"port" json:"port"`
		DataDir        string   `mapstructure:"data_dir" json:"data_dir"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
		DeveloperMode  bool     `mapstructure:"developer_mode" json:"developer_mode"`
	} `mapstructure:"network" json:"network"`

	Routing struct {
		K                     int `mapstructure:"k" json:"k"`
		MaxTimeouts           int `mapstructure:"max_timeouts" json:"max_timeouts"`
		BucketRefreshInterval int `mapstructure:"bucket_refresh_interval_s" json:"bucket_refresh_interval_s"`
	} `mapstructure:"routing" json:"routing"`

	RPC struct {
		CallTimeoutMaxMS   int `mapstructure:"call_timeout_max_ms" json:"call_timeout_max_ms"`
		TimeoutBaselineMin int `mapstructure:"timeout_baseline_min_ms" json:"timeout_baseline_min_ms"`
		MaxRetries         int `mapstructure:"max_retries" json:"max_retries"`
		ThrottleQPS        int `mapstructure:"throttle_qps" json:"throttle_qps"`
	} `mapstructure:"rpc" json:"rpc"`

	Token struct {
		RotationIntervalS int `mapstructure:"rotation_interval_s" json:"rotation_interval_s"`
	} `mapstructure:"token" json:"token"`

	Lookup struct {
		Alpha    int `mapstructure:"alpha" json:"alpha"`
		TimeoutS int `mapstructure:"timeout_s" json:"timeout_s"`
	} `mapstructure:"lookup" json:"lookup"`

	Storage struct {
		ExpireIntervalS int `mapstructure:"expire_interval_s" json:"expire_interval_s"`
		MaxValueAgeS    int `mapstructure:"max_value_age_s" json:"max_value_age_s"`
		MaxPeerAgeS     int `mapstructure:"max_peer_age_s" json:"max_peer_age_s"`
		AnnounceS       int `mapstructure:"announce_interval_s" json:"announce_interval_s"`
		RepublishS      int `mapstructure:"republish_interval_s" json:"republish_interval_s"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

func setDefaults() {
	viper.SetDefault("routing.k", 8)
	viper.SetDefault("routing.max_timeouts", 3)
	viper.SetDefault("routing.bucket_refresh_interval_s", 900)
	viper.SetDefault("rpc.call_timeout_max_ms", 10000)
	viper.SetDefault("rpc.timeout_baseline_min_ms", 100)
	viper.SetDefault("rpc.max_retries", 2)
	viper.SetDefault("rpc.throttle_qps", 20)
	viper.SetDefault("token.rotation_interval_s", 300)
	viper.SetDefault("lookup.alpha", 3)
	viper.SetDefault("lookup.timeout_s", 60)
	viper.SetDefault("storage.expire_interval_s", 300)
	viper.SetDefault("storage.max_value_age_s", 7200)
	viper.SetDefault("storage.max_peer_age_s", 1800)
	viper.SetDefault("storage.announce_interval_s", 3600)
	viper.SetDefault("storage.republish_interval_s", 900)
	viper.SetDefault("logging.level", "info")
}

// Load reads the default configuration file and merges an environment
// specific overlay on top of it. If env is empty, only the default
// configuration is loaded. Missing config files are not an error: defaults
// set via setDefaults still apply.
func Load(path, env string) (*Config, error) {
	setDefaults()

	viper.SetConfigName("default")
	if path != "" {
		viper.AddConfigPath(path)
	}
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
			}
		}
	}

	viper.SetEnvPrefix("BOSON")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the BOSON_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load("", utils.EnvOrDefault("BOSON_ENV", ""))
}

// Topology is a multi-node bootstrap layout for local test networks: a list
// of "id:host:port" bootstrap entries shared by every node that joins it.
type Topology struct {
	Bootstrap []string `yaml:"bootstrap"`
}

// LoadTopology reads a YAML topology file such as:
//
//	bootstrap:
//	  - "<base58-id>:127.0.0.1:9001"
//	  - "<base58-id>:127.0.0.1:9002"
func LoadTopology(path string) (*Topology, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, utils.Wrap(err, "read topology file")
	}
	var t Topology
	if err := yaml.Unmarshal(b, &t); err != nil {
		return nil, utils.Wrap(err, "parse topology file")
	}
	return &t, nil
}
