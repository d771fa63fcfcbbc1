package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gogpu/halcore"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// probeConfig is the merged configuration: defaults, then config file,
// then HALPROBE_* environment (including .env), then flags.
type probeConfig struct {
	Backend string        `mapstructure:"backend"`
	AppName string        `mapstructure:"app_name"`
	API     string        `mapstructure:"api"`
	Debug   bool          `mapstructure:"debug"`
	Verbose bool          `mapstructure:"verbose"`
	Count   uint64        `mapstructure:"count"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("backend", "")
	v.SetDefault("app_name", "halprobe")
	v.SetDefault("api", "1.3")
	v.SetDefault("debug", false)
	v.SetDefault("verbose", false)
	v.SetDefault("count", 1024)
	v.SetDefault("timeout", 5*time.Second)

	v.SetEnvPrefix("HALPROBE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// loadConfig reads .env (if present) and the config file into v.
func loadConfig(v *viper.Viper, cfgFile string) (*probeConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("halprobe")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &probeConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if cfg.Count == 0 {
		return nil, errors.New("count must be positive")
	}
	return cfg, nil
}

var apiVersions = map[string]halcore.APIVersion{
	"1.0": halcore.APIVersion10,
	"1.1": halcore.APIVersion11,
	"1.2": halcore.APIVersion12,
	"1.3": halcore.APIVersion13,
}

// contextConfig converts the probe configuration to a halcore.Config.
func (c *probeConfig) contextConfig() (halcore.Config, error) {
	api, ok := apiVersions[c.API]
	if !ok {
		return halcore.Config{}, fmt.Errorf("unsupported api version %q (want 1.0 to 1.3)", c.API)
	}
	cfg := halcore.DefaultConfig()
	cfg.AppName = c.AppName
	cfg.APIVersion = api
	cfg.Backend = c.Backend
	cfg.Debug = c.Debug
	return cfg, nil
}

// installLogger routes halcore logging to stderr when verbose.
func (c *probeConfig) installLogger() {
	if !c.Verbose {
		return
	}
	halcore.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))
}
