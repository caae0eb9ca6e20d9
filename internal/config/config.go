// Package config loads the per-role identities configuration and the
// bridge's structural limits (spec.md §6) via viper, the same way the
// command-line entrypoint loads its own settings.
package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/guregu/null.v3"
)

// RoleConfig is one role's entry in the identities configuration
// (spec.md §4.4 setIdentitiesConfiguration).
type RoleConfig struct {
	AuthPath     string    `mapstructure:"authPath" yaml:"authPath"`
	DefaultURL   string    `mapstructure:"defaultUrl" yaml:"defaultUrl"`
	AuthRequired null.Bool `mapstructure:"authRequired" yaml:"authRequired"`
}

// HasAuthPath reports whether a role names an auth state file to load.
func (r RoleConfig) HasAuthPath() bool { return r.AuthPath != "" }

// RequiresAuth reports whether a missing/unloadable auth state must be
// surfaced as a fatal Authentication error rather than a warning.
func (r RoleConfig) RequiresAuth() bool { return r.AuthRequired.ValueOrZero() }

// Limits are the bridge's recognized structural limits (spec.md §6).
type Limits struct {
	MaxDepth       int `mapstructure:"maxDepth" yaml:"maxDepth"`
	MaxSiblings    int `mapstructure:"maxSiblings" yaml:"maxSiblings"`
	MaxDescendants int `mapstructure:"maxDescendants" yaml:"maxDescendants"`
}

// Identities is the full configuration surface: per-role settings plus the
// shared bridge limits.
type Identities struct {
	Roles  map[string]RoleConfig `mapstructure:"roles" yaml:"roles"`
	Limits Limits                `mapstructure:"limits" yaml:"limits"`
}

const (
	defaultMaxDepth       = 10
	defaultMaxSiblings    = 50
	defaultMaxDescendants = 200
)

// New returns a viper instance pre-bound to the conventions this module's
// config files follow: YAML, optional env override prefixed AGENTBRIDGE_.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("agentbridge")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("limits.maxDepth", defaultMaxDepth)
	v.SetDefault("limits.maxSiblings", defaultMaxSiblings)
	v.SetDefault("limits.maxDescendants", defaultMaxDescendants)
	return v
}

// Load reads the identities configuration from path using a fresh viper
// instance, applying the package defaults for any limit left unset.
func Load(path string) (*Identities, error) {
	v := New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var ids Identities
	if err := v.Unmarshal(&ids, viper.DecodeHook(nullBoolHook)); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if ids.Roles == nil {
		ids.Roles = make(map[string]RoleConfig)
	}
	return &ids, nil
}

// nullBoolHook decodes a plain YAML boolean into a null.Bool field.
func nullBoolHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(null.Bool{}) {
		return data, nil
	}
	if b, ok := data.(bool); ok {
		return null.BoolFrom(b), nil
	}
	return data, nil
}
