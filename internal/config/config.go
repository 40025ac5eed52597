package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "OPENGRID"

// GridConfig holds the worker-side client settings.
type GridConfig struct {
	Addr         string        `mapstructure:"addr"`
	ID           string        `mapstructure:"id"`
	Identity     string        `mapstructure:"identity"`
	IdentityWait time.Duration `mapstructure:"identity_wait"`
	LogMsgs      bool          `mapstructure:"log_msgs"`
	Verbose      bool          `mapstructure:"verbose"`
	Compression  bool          `mapstructure:"compression"`
}

type Config struct {
	Mode        string        `mapstructure:"mode"`
	Verbose     bool          `mapstructure:"verbose"`
	Port        int           `mapstructure:"port"`
	ReadLimit   int64         `mapstructure:"read_limit"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	PingTimeout time.Duration `mapstructure:"ping_timeout"`
	Secret      string        `mapstructure:"secret"`
	Identity    string        `mapstructure:"identity"`
	ReplyMode   string        `mapstructure:"reply_mode"`

	ConnectLimit  int           `mapstructure:"connect_limit"`
	ConnectWindow time.Duration `mapstructure:"connect_window"`

	Grid GridConfig `mapstructure:"grid"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("verbose", false)
	v.SetDefault("port", 5000)
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("ping_period", "25s")
	v.SetDefault("ping_timeout", "20s")
	v.SetDefault("secret", "opengrid-dev-secret")
	v.SetDefault("identity", "OpenGrid")
	v.SetDefault("reply_mode", "echo")
	v.SetDefault("connect_limit", 0)
	v.SetDefault("connect_window", "1m")

	v.SetDefault("grid.addr", "http://localhost:5000")
	v.SetDefault("grid.id", "")
	v.SetDefault("grid.identity", "OpenGrid")
	v.SetDefault("grid.identity_wait", "5s")
	v.SetDefault("grid.log_msgs", false)
	v.SetDefault("grid.verbose", false)
	v.SetDefault("grid.compression", false)
}

// Load reads config/config.<CONFIG_ENV>.yaml, then environment overrides
// (OPENGRID_GRID_ADDR and friends), then any flags set on fs, bound to
// config keys through keys. fs may be nil.
func Load(fs *pflag.FlagSet, keys map[string]string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := bindFlags(v, fs, keys); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Debug().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("grid_addr", cfg.Grid.Addr).Msg("config ready")
	return &cfg, nil
}

// CoordinatorFlags maps coordinator flag names to config keys.
var CoordinatorFlags = map[string]string{
	"mode":          "mode",
	"port":          "port",
	"identity":      "identity",
	"reply-mode":    "reply_mode",
	"ping-period":   "ping_period",
	"connect-limit": "connect_limit",
	"verbose":       "verbose",
}

// WorkerFlags maps worker flag names to config keys.
var WorkerFlags = map[string]string{
	"addr":          "grid.addr",
	"id":            "grid.id",
	"expect":        "grid.identity",
	"identity-wait": "grid.identity_wait",
	"log-msgs":      "grid.log_msgs",
	"verbose":       "grid.verbose",
	"compression":   "grid.compression",
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) error {
	for name, key := range keys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}
