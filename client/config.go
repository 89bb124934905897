// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

// Package client ties the transport, object cache, and write-back engine
// together into domain sessions, and loads their shared configuration from
// the environment and the user's .hscfg file.
package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	mapstructurev2 "github.com/go-viper/mapstructure/v2"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/HDFGroup/hsgo/client/transport"
)

const (
	ConfigFileName = ".hscfg"

	DefaultExpireTime = time.Second
	DefaultLogLevel   = "info"
)

var DefaultConfig = Config{
	ExpireTime: DefaultExpireTime,
	Retries:    transport.DefaultRetries,
	Timeout:    transport.DefaultTimeout,
	LogLevel:   DefaultLogLevel,
}

type Config struct {
	Endpoint string `json:"hs_endpoint,omitempty" mapstructure:"hs_endpoint"`
	Username string `json:"hs_username,omitempty" mapstructure:"hs_username"`
	Password string `json:"hs_password,omitempty" mapstructure:"hs_password"`
	APIKey   string `json:"hs_api_key,omitempty"  mapstructure:"hs_api_key"`
	Bucket   string `json:"hs_bucket,omitempty"   mapstructure:"hs_bucket"`

	// ExpireTime is the cache freshness window; zero disables expiry.
	ExpireTime time.Duration `json:"hs_expire_time,omitempty" mapstructure:"hs_expire_time"`

	// MaxObjects caps the cache; zero means unbounded.
	MaxObjects int `json:"hs_max_objects,omitempty" mapstructure:"hs_max_objects"`

	// MaxAge, when positive, defers link and attribute writes.
	MaxAge time.Duration `json:"hs_max_age,omitempty" mapstructure:"hs_max_age"`

	Retries  int           `json:"hs_retries,omitempty"   mapstructure:"hs_retries"`
	Timeout  time.Duration `json:"hs_timeout,omitempty"   mapstructure:"hs_timeout"`
	LogLevel string        `json:"hs_log_level,omitempty" mapstructure:"hs_log_level"`
}

// TransportOptions maps the config onto connection options for one domain.
func (c *Config) TransportOptions(domain string, mode transport.Mode) transport.Options {
	return transport.Options{
		Endpoint: c.Endpoint,
		Domain:   domain,
		Bucket:   c.Bucket,
		Username: c.Username,
		Password: c.Password,
		APIKey:   c.APIKey,
		Mode:     mode,
		Retries:  c.Retries,
		Timeout:  c.Timeout,
	}
}

// DefaultConfigPath returns the per-user config file location, or empty when
// no home directory is available.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ConfigFileName)
}

// LoadConfig reads configuration from the user's .hscfg file overlaid with
// HS_* environment variables.
func LoadConfig() (*Config, error) {
	return LoadConfigFile(afero.NewOsFs(), DefaultConfigPath())
}

// LoadConfigFile is LoadConfig with an explicit filesystem and file path,
// primarily for tests. A missing file is not an error; environment variables
// still apply.
func LoadConfigFile(fs afero.Fs, path string) (*Config, error) {
	v := viper.NewWithOptions(
		viper.KeyDelimiter("."),
		viper.EnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_")),
	)

	v.SetFs(fs)
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	_ = v.BindEnv("hs_endpoint")
	v.SetDefault("hs_endpoint", "")

	_ = v.BindEnv("hs_username")
	v.SetDefault("hs_username", "")

	_ = v.BindEnv("hs_password")
	v.SetDefault("hs_password", "")

	_ = v.BindEnv("hs_api_key")
	v.SetDefault("hs_api_key", "")

	_ = v.BindEnv("hs_bucket")
	v.SetDefault("hs_bucket", "")

	_ = v.BindEnv("hs_expire_time")
	v.SetDefault("hs_expire_time", DefaultExpireTime)

	_ = v.BindEnv("hs_max_objects")
	v.SetDefault("hs_max_objects", 0)

	_ = v.BindEnv("hs_max_age")
	v.SetDefault("hs_max_age", 0)

	_ = v.BindEnv("hs_retries")
	v.SetDefault("hs_retries", transport.DefaultRetries)

	_ = v.BindEnv("hs_timeout")
	v.SetDefault("hs_timeout", transport.DefaultTimeout)

	_ = v.BindEnv("hs_log_level")
	v.SetDefault("hs_log_level", DefaultLogLevel)

	if path != "" {
		if ok, _ := afero.Exists(fs, path); ok {
			// .hscfg uses key = value lines, which the env format accepts
			v.SetConfigFile(path)
			v.SetConfigType("env")

			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
	}

	decodeHooks := mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)

	config := &Config{}

	// env values arrive as strings, so numeric fields need weak typing
	err := v.Unmarshal(config,
		viper.DecodeHook(decodeHooks),
		func(c *mapstructurev2.DecoderConfig) { c.WeaklyTypedInput = true })
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return config, nil
}
