package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// QuotaConfig is the plan quota policy table. It is the only variability
// point of admission control.
type QuotaConfig struct {
	AnonymousLimit int `mapstructure:"anonymousLimit"`
	FreeLimit      int `mapstructure:"freeLimit"`
	ProLimit       int `mapstructure:"proLimit"`
}

func DefaultQuotaConfig() QuotaConfig {
	return QuotaConfig{
		AnonymousLimit: 1,
		FreeLimit:      3,
		ProLimit:       25,
	}
}

// QuotaConfigHolder serves the current quota table and hot-reloads it
// from an optional quota.yml.
type QuotaConfigHolder struct {
	current atomic.Value // holds QuotaConfig
}

func NewQuotaConfigHolder() (*QuotaConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("quota")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/clipbrief/config")
	v.AddConfigPath("/etc/clipbrief")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CLIPBRIEF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultQuotaConfig()
	v.SetDefault("quota.anonymousLimit", defaults.AnonymousLimit)
	v.SetDefault("quota.freeLimit", defaults.FreeLimit)
	v.SetDefault("quota.proLimit", defaults.ProLimit)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg QuotaConfig
	if err := v.UnmarshalKey("quota", &cfg); err != nil {
		return nil, err
	}
	if err := validateQuotaConfig(cfg); err != nil {
		return nil, err
	}

	holder := &QuotaConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(_ fsnotify.Event) {
		var next QuotaConfig
		if err := v.UnmarshalKey("quota", &next); err != nil {
			zap.L().Warn("quota config reload failed", zap.Error(err))
			return
		}
		if err := validateQuotaConfig(next); err != nil {
			zap.L().Warn("quota config reload rejected", zap.Error(err))
			return
		}
		holder.current.Store(next)
		zap.L().Info("quota config reloaded",
			zap.Int("anonymous_limit", next.AnonymousLimit),
			zap.Int("free_limit", next.FreeLimit),
			zap.Int("pro_limit", next.ProLimit),
		)
	})

	return holder, nil
}

func (h *QuotaConfigHolder) Get() QuotaConfig {
	if h == nil {
		return DefaultQuotaConfig()
	}
	if cfg, ok := h.current.Load().(QuotaConfig); ok {
		return cfg
	}
	return DefaultQuotaConfig()
}

// Store replaces the active table. Used by tests.
func (h *QuotaConfigHolder) Store(cfg QuotaConfig) {
	h.current.Store(cfg)
}

func validateQuotaConfig(cfg QuotaConfig) error {
	if cfg.AnonymousLimit <= 0 || cfg.FreeLimit <= 0 || cfg.ProLimit <= 0 {
		return errors.New("quota limits must be positive")
	}
	return nil
}
