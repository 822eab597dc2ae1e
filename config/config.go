// Package config loads cpu-energy-meter configuration.
//
// Configuration lives in INI-style key=value files. Keys are
// case-insensitive and conventionally written upper-case
// (TARGET_USER, LOG, SAMPLE_INTERVAL_MS, ...). Values from the environment
// override values from the file: the variable CPU_ENERGY_METER_<KEY>
// takes precedence over <KEY> from any file.
//
// The configuration file is located by trying, in order:
//  1. the path in the CPU_ENERGY_METER_CONFIG environment variable
//  2. /etc/cpu-energy-meter/cpu-energy-meter.conf
//  3. ./cpu-energy-meter.conf
//
// A missing file is not an error; New returns an empty configuration
// so the tool can run entirely on defaults and flags.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/ini.v1"
)

const (
	// EnvConfigPath names the environment variable that overrides the
	// configuration file location.
	EnvConfigPath = "CPU_ENERGY_METER_CONFIG"

	// EnvPrefix is prepended to a key to form its environment override.
	EnvPrefix = "CPU_ENERGY_METER_"

	// SystemPath is the default system-wide configuration file.
	SystemPath = "/etc/cpu-energy-meter/cpu-energy-meter.conf"

	localPath = "cpu-energy-meter.conf"
)

// Config holds the resolved configuration key/value pairs.
type Config struct {
	mu     sync.RWMutex
	values map[string]string
	// Source is the file the configuration was loaded from, empty if
	// no file was found.
	Source string
}

// New loads the configuration from the first file found in the search
// order. If no file exists, it returns an empty configuration.
func New() (*Config, error) {
	if path := os.Getenv(EnvConfigPath); path != "" {
		// An explicit path must exist; silently ignoring a typo in
		// CPU_ENERGY_METER_CONFIG would run with the wrong settings.
		return NewFromFile(path)
	}

	for _, path := range []string{SystemPath, localPath} {
		if _, err := os.Stat(path); err == nil {
			return NewFromFile(path)
		}
	}

	return NewEmpty(), nil
}

// NewFromFile loads the configuration from the given file.
func NewFromFile(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return fromINI(f, path), nil
}

// NewFromReader loads the configuration from r.
func NewFromReader(r io.Reader) (*Config, error) {
	f, err := ini.Load(io.NopCloser(r))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return fromINI(f, ""), nil
}

func fromINI(f *ini.File, source string) *Config {
	cfg := NewEmpty()
	cfg.Source = source
	for _, section := range f.Sections() {
		for _, key := range section.Keys() {
			name := strings.ToUpper(key.Name())
			if section.Name() != ini.DefaultSection {
				name = strings.ToUpper(section.Name()) + "_" + name
			}
			cfg.values[name] = key.String()
		}
	}
	return cfg
}

// NewEmpty returns a configuration with no values set.
func NewEmpty() *Config {
	return &Config{values: make(map[string]string)}
}

// Get returns the value for key and whether it was set. Environment
// overrides (CPU_ENERGY_METER_<KEY>) win over file values.
func (c *Config) Get(key string) (string, bool) {
	key = strings.ToUpper(key)

	if v, ok := os.LookupEnv(EnvPrefix + key); ok {
		return v, true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Set stores a value, replacing any file-loaded value for the key.
// Environment overrides still take precedence on Get.
func (c *Config) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[strings.ToUpper(key)] = value
}

// GetBool returns the value for key interpreted as a boolean.
// Recognized true values: "true", "yes", "1", "on" (case-insensitive).
func (c *Config) GetBool(key string) (bool, bool) {
	v, ok := c.Get(key)
	if !ok {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "1", "on":
		return true, true
	default:
		return false, true
	}
}

// GetInt returns the value for key parsed as a base-10 integer.
// A set but unparseable value reports as unset.
func (c *Config) GetInt(key string) (int, bool) {
	v, ok := c.Get(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Keys returns all configured keys in no particular order. Environment
// overrides are not enumerated.
func (c *Config) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	return keys
}
