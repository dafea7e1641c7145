// Package config loads the daemon's YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/joshp123/gomow/internal/astro"
	"github.com/joshp123/gomow/internal/blob"
	"github.com/joshp123/gomow/internal/controller"
	"github.com/joshp123/gomow/internal/gardena"
	"github.com/joshp123/gomow/internal/lock"
	"github.com/joshp123/gomow/internal/mowtime"
	"github.com/joshp123/gomow/internal/scheduler"
	"github.com/joshp123/gomow/internal/statebus"
)

const (
	SchemaVersion     = 1
	DefaultPath       = "/etc/gomow/config.yaml"
	DefaultGRPCAddr   = "0.0.0.0:9010"
	DefaultHTTPAddr   = "0.0.0.0:8090"
	DefaultStatePath  = "/var/lib/gomow/state.db"
	DefaultBaseKey    = "gomow"
	DefaultBlobPrefix = "gomow/state"
)

type Config struct {
	SchemaVersion int             `yaml:"schema_version"`
	Core          CoreConfig      `yaml:"core"`
	Location      LocationConfig  `yaml:"location"`
	Keys          KeysConfig      `yaml:"keys"`
	Schedule      ScheduleConfig  `yaml:"schedule"`
	Locks         []LockConfig    `yaml:"locks"`
	Notify        NotifyConfig    `yaml:"notify"`
	MQTT          *MQTTConfig     `yaml:"mqtt"`
	Blob          *blob.Config    `yaml:"blob"`
	Gardena       *gardena.Config `yaml:"gardena"`
}

type CoreConfig struct {
	GRPCAddr  string `yaml:"grpc_addr"`
	HTTPAddr  string `yaml:"http_addr"`
	StatePath string `yaml:"state_path"`
	Debug     bool   `yaml:"debug"`
}

type LocationConfig struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Timezone  string  `yaml:"timezone"`
}

// KeysConfig names the device keys on the state bus.
type KeysConfig struct {
	Base         string `yaml:"base"`
	Activity     string `yaml:"activity"`
	Health       string `yaml:"health"`
	LastError    string `yaml:"last_error"`
	BatteryState string `yaml:"battery_state"`
	BatteryLevel string `yaml:"battery_level"`
	Command      string `yaml:"command"`
}

type ScheduleConfig struct {
	Active bool           `yaml:"active"`
	Week   scheduler.Week `yaml:"week"`
}

type LockConfig struct {
	Trigger                string  `yaml:"trigger"`
	Value                  any     `yaml:"value"`
	Mode                   string  `yaml:"mode"`
	ReleaseDelay           float64 `yaml:"release_delay"`
	ReleaseDelayMultiplier bool    `yaml:"release_delay_multiplier"`
}

type NotifyConfig struct {
	Targets []string `yaml:"targets"`
	Message string   `yaml:"message"`
}

type MQTTConfig struct {
	Broker       string `yaml:"broker"`
	Username     string `yaml:"username"`
	PasswordFile string `yaml:"password_file"`
	ClientID     string `yaml:"client_id"`
	TopicPrefix  string `yaml:"topic_prefix"`
}

// Load parses the YAML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse is Load for config bytes.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	cfg.Core.GRPCAddr = envOrDefault("GOMOW_GRPC_ADDR", cfg.Core.GRPCAddr, DefaultGRPCAddr)
	cfg.Core.HTTPAddr = envOrDefault("GOMOW_HTTP_ADDR", cfg.Core.HTTPAddr, DefaultHTTPAddr)
	if cfg.Core.StatePath == "" {
		cfg.Core.StatePath = DefaultStatePath
	}
	if cfg.Keys.Base == "" {
		cfg.Keys.Base = DefaultBaseKey
	}
	if cfg.Blob != nil && cfg.Blob.Prefix == "" {
		cfg.Blob.Prefix = DefaultBlobPrefix
	}
	for i := range cfg.Locks {
		if cfg.Locks[i].Mode == "" {
			cfg.Locks[i].Mode = lock.Equal.String()
		}
	}
}

// envOrDefault prefers the environment, then the configured value.
func envOrDefault(key, configured, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	if configured != "" {
		return configured
	}
	return fallback
}

// Validate enforces required invariants beyond YAML typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version must be %d", SchemaVersion)
	}
	if cfg.Core.GRPCAddr == "" {
		return fmt.Errorf("core.grpc_addr is required")
	}
	if cfg.Core.HTTPAddr == "" {
		return fmt.Errorf("core.http_addr is required")
	}

	if cfg.Location.Latitude < -90 || cfg.Location.Latitude > 90 {
		return fmt.Errorf("location.latitude must be within [-90, 90]")
	}
	if cfg.Location.Longitude < -180 || cfg.Location.Longitude > 180 {
		return fmt.Errorf("location.longitude must be within [-180, 180]")
	}
	if _, err := cfg.TimeLocation(); err != nil {
		return fmt.Errorf("location.timezone: %w", err)
	}

	if cfg.Keys.Activity == "" {
		return fmt.Errorf("keys.activity is required")
	}
	if cfg.Keys.Command == "" {
		return fmt.Errorf("keys.command is required")
	}
	if cfg.Keys.BatteryLevel == "" {
		return fmt.Errorf("keys.battery_level is required")
	}

	for id, day := range cfg.Schedule.Week {
		if !knownWeekday(id) {
			return fmt.Errorf("schedule.week: unknown day %q (use %s)", id, strings.Join(mowtime.WeekdayIDs, ", "))
		}
		if err := day.Validate(); err != nil {
			return fmt.Errorf("schedule.week.%s: %w", id, err)
		}
	}

	seen := make(map[string]bool, len(cfg.Locks))
	for i, l := range cfg.Locks {
		if strings.TrimSpace(l.Trigger) == "" {
			return fmt.Errorf("locks[%d].trigger is required", i)
		}
		if seen[l.Trigger] {
			return fmt.Errorf("locks[%d]: duplicate trigger %s", i, l.Trigger)
		}
		seen[l.Trigger] = true
		mode, err := lock.ParseMode(l.Mode)
		if err != nil {
			return fmt.Errorf("locks[%d].mode: %w", i, err)
		}
		if mode != lock.Equal {
			if _, ok := statebus.Float(l.Value); !ok {
				return fmt.Errorf("locks[%d].value must be numeric for mode %s", i, mode)
			}
		}
		if l.ReleaseDelay < 0 {
			return fmt.Errorf("locks[%d].release_delay must be >= 0", i)
		}
	}

	if cfg.MQTT != nil && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if cfg.Blob != nil {
		if cfg.Blob.Endpoint == "" {
			return fmt.Errorf("blob.endpoint is required")
		}
		if cfg.Blob.Bucket == "" {
			return fmt.Errorf("blob.bucket is required")
		}
		if cfg.Blob.AccessKeyFile == "" {
			return fmt.Errorf("blob.access_key_file is required")
		}
		if cfg.Blob.SecretKeyFile == "" {
			return fmt.Errorf("blob.secret_key_file is required")
		}
	}
	if cfg.Gardena != nil {
		if err := cfg.Gardena.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func knownWeekday(id string) bool {
	for _, known := range mowtime.WeekdayIDs {
		if id == known {
			return true
		}
	}
	return false
}

// TimeLocation is the zone calendar days are evaluated in.
func (c *Config) TimeLocation() (*time.Location, error) {
	if c.Location.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Location.Timezone)
}

// Sun returns the astro clock for the configured position.
func (c *Config) Sun() astro.Clock {
	return astro.Location{Latitude: c.Location.Latitude, Longitude: c.Location.Longitude}
}

// LockRules converts the lock list. Validate has already checked the modes.
func (c *Config) LockRules() []lock.Rule {
	rules := make([]lock.Rule, 0, len(c.Locks))
	for _, l := range c.Locks {
		mode, _ := lock.ParseMode(l.Mode)
		rules = append(rules, lock.Rule{
			Trigger:                l.Trigger,
			Value:                  l.Value,
			Mode:                   mode,
			ReleaseDelay:           l.ReleaseDelay,
			ReleaseDelayMultiplier: l.ReleaseDelayMultiplier,
		})
	}
	return rules
}

func (c *Config) ControllerKeys() controller.Keys {
	return controller.Keys{
		Base:         c.Keys.Base,
		Activity:     c.Keys.Activity,
		Health:       c.Keys.Health,
		LastError:    c.Keys.LastError,
		BatteryState: c.Keys.BatteryState,
		BatteryLevel: c.Keys.BatteryLevel,
		Command:      c.Keys.Command,
	}
}

// Controller builds the controller configuration.
func (c *Config) Controller() controller.Config {
	return controller.Config{
		Keys:           c.ControllerKeys(),
		Week:           c.Schedule.Week,
		ScheduleActive: c.Schedule.Active,
		Locks:          c.LockRules(),
		NotifyTargets:  append([]string(nil), c.Notify.Targets...),
		NotifyMessage:  c.Notify.Message,
		Debug:          c.Core.Debug,
	}
}

// ForwardsToGardena reports whether commands go to the Gardena cloud rather
// than to the MQTT command topic.
func (c *Config) ForwardsToGardena() bool {
	return c.Gardena != nil && c.Gardena.Enabled()
}

// Bridge maps the bus onto MQTT: device keys and lock triggers come in,
// everything under the base key goes out, and the stop switch accepts requests.
func (c *Config) Bridge() (statebus.MQTTConfig, error) {
	if c.MQTT == nil {
		return statebus.MQTTConfig{}, fmt.Errorf("mqtt is not configured")
	}
	password := ""
	if c.MQTT.PasswordFile != "" {
		data, err := os.ReadFile(c.MQTT.PasswordFile)
		if err != nil {
			return statebus.MQTTConfig{}, fmt.Errorf("read mqtt password: %w", err)
		}
		password = strings.TrimSpace(string(data))
	}

	keys := c.ControllerKeys()
	var inbound []string
	seen := map[string]bool{}
	add := func(key string) {
		if key == "" || seen[key] || strings.HasPrefix(key, keys.Base+".") {
			return
		}
		seen[key] = true
		inbound = append(inbound, key)
	}
	for _, key := range []string{keys.Activity, keys.Health, keys.LastError, keys.BatteryState, keys.BatteryLevel} {
		add(key)
	}
	for _, l := range c.Locks {
		add(l.Trigger)
	}

	out := statebus.MQTTConfig{
		Broker:      c.MQTT.Broker,
		Username:    c.MQTT.Username,
		Password:    password,
		ClientID:    c.MQTT.ClientID,
		TopicPrefix: c.MQTT.TopicPrefix,
		Inbound:     inbound,
		Outbound:    []string{keys.Base + ".*"},
		Requests:    []string{keys.Published(controller.KeyStopMowing)},
	}
	if !c.ForwardsToGardena() {
		out.Commands = []string{keys.Command}
	}
	return out, nil
}

// PersistedPrefixes are the bus keys kept in the local state database.
func (c *Config) PersistedPrefixes() []string {
	return []string{c.Keys.Base + "."}
}
