// Package config resolves runtime settings from flags, ADAPTIQ_* environment
// variables and an optional adaptiq.yaml, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/abhisek/adaptiq/internal/ability"
	"github.com/abhisek/adaptiq/internal/engine"
	"github.com/abhisek/adaptiq/internal/llm"
	"github.com/abhisek/adaptiq/internal/store"
)

const envPrefix = "ADAPTIQ"

// Config is the resolved configuration of one command invocation.
type Config struct {
	DB        string
	LogLevel  string
	LogFormat string
	Addr      string

	// RedisAddr enables the shared item cache when set.
	RedisAddr string
	CacheTTL  time.Duration

	// Trace selects the span exporter: "" (off) or "stdout".
	Trace string

	Engine engine.Config
	LLM    llm.Config
}

// RegisterGlobalFlags adds the flags every command understands.
func RegisterGlobalFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String("config", "", "Config file (default: adaptiq.yaml in ., $HOME/.config/adaptiq, /etc/adaptiq)")
	f.String("db", "", "SQLite database path (default: $XDG_DATA_HOME/adaptiq/adaptiq.db)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	f.String("trace", "", "Span exporter (stdout); empty disables tracing")
	f.String("llm-provider", "", "LLM provider for study plans (none, anthropic, openai, gemini, openrouter, mock)")
}

// RegisterEngineFlags adds the assessment tuning flags.
func RegisterEngineFlags(cmd *cobra.Command) {
	def := engine.DefaultConfig()
	f := cmd.Flags()
	f.Int("min-items", def.Stopping.MinItems, "Minimum items before precision can stop an attempt")
	f.Int("max-items", def.Stopping.MaxItems, "Maximum items per attempt")
	f.Float64("se-target", def.Stopping.SETarget, "Stop once the standard error drops below this")
	f.String("method", string(def.Ability.Method), "Ability estimation method (mle, eap)")
	f.Float64("initial-se", def.Ability.InitialSE, "Prior standard error of the ability estimate")
	f.Float64("fallback-step", def.Ability.FallbackStep, "Fixed theta step before the response pattern is mixed")
	f.Int("max-exposures", 0, "Skip items administered this many times (0 = no cap)")
}

// RegisterServeFlags adds the HTTP server flags.
func RegisterServeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("redis-addr", "", "Redis address for the shared item cache (empty = in-process cache)")
	f.Duration("cache-ttl", 10*time.Minute, "Item cache TTL in Redis")
}

// NewViper binds a command's flags and environment to a fresh viper instance.
func NewViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("adaptiq")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/adaptiq")
		v.AddConfigPath("/etc/adaptiq")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}
	return v, nil
}

// Load resolves the configuration of cmd.
func Load(cmd *cobra.Command) (Config, error) {
	v, err := NewViper(cmd)
	if err != nil {
		return Config{}, err
	}
	return FromViper(v)
}

// FromViper builds a Config from v. Keys that were never set keep their
// package defaults.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		DB:        v.GetString("db"),
		LogLevel:  v.GetString("log-level"),
		LogFormat: v.GetString("log-format"),
		Addr:      v.GetString("addr"),
		RedisAddr: v.GetString("redis-addr"),
		CacheTTL:  v.GetDuration("cache-ttl"),
		Trace:     v.GetString("trace"),
		Engine:    engine.DefaultConfig(),
	}
	if cfg.DB == "" {
		path, err := store.DefaultDBPath()
		if err != nil {
			return Config{}, err
		}
		cfg.DB = path
	}

	e := &cfg.Engine
	setInt(v, "min-items", &e.Stopping.MinItems)
	setInt(v, "max-items", &e.Stopping.MaxItems)
	setFloat(v, "se-target", &e.Stopping.SETarget)
	setFloat(v, "initial-se", &e.Ability.InitialSE)
	setFloat(v, "fallback-step", &e.Ability.FallbackStep)
	setInt(v, "max-exposures", &e.Constraints.MaxExposures)
	if v.IsSet("method") {
		e.Ability.Method = ability.Method(strings.ToLower(v.GetString("method")))
	}
	if v.IsSet("category-min") {
		if err := v.UnmarshalKey("category-min", &e.Constraints.CategoryMin); err != nil {
			return Config{}, fmt.Errorf("category-min: %w", err)
		}
	}
	if v.IsSet("category-max") {
		if err := v.UnmarshalKey("category-max", &e.Constraints.CategoryMax); err != nil {
			return Config{}, fmt.Errorf("category-max: %w", err)
		}
	}

	cfg.LLM = llm.DefaultConfig()
	if v.IsSet("llm") {
		if err := v.UnmarshalKey("llm", &cfg.LLM); err != nil {
			return Config{}, fmt.Errorf("llm: %w", err)
		}
	}
	cfg.LLM = llm.ConfigFromEnv(cfg.LLM)
	if p := v.GetString("llm-provider"); p != "" {
		cfg.LLM.Provider = p
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the resolved configuration.
func (c Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm config: %w", err)
	}
	switch c.Trace {
	case "", "stdout":
	default:
		return fmt.Errorf("unknown trace exporter %q", c.Trace)
	}
	return nil
}

func setInt(v *viper.Viper, key string, dst *int) {
	if v.IsSet(key) {
		*dst = v.GetInt(key)
	}
}

func setFloat(v *viper.Viper, key string, dst *float64) {
	if v.IsSet(key) {
		*dst = v.GetFloat64(key)
	}
}
