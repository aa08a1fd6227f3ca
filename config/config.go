// Package config handles configuration persistence for the SSH TUI host
// server: listen address, host key material, authentication policy, and the
// optional telemetry/admin sinks.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigListenerID is a unique identifier for a config change listener.
type ConfigListenerID string

// Config holds the full persisted configuration for an AppServer.
//
// Callers that modify config should Lock(), modify the fields, then call
// UnlockAndSave(); Save() acquires the lock internally for callers that
// don't already hold it.
type Config struct {
	BindAddr string `yaml:"bind_addr"`
	Port     int    `yaml:"port"`

	HostKeyPaths []string `yaml:"host_key_paths"`

	AllowAnonymous       bool     `yaml:"allow_anonymous"`
	AuthorizedKeysPath   string   `yaml:"authorized_keys_path,omitempty"`
	PermittedAuthMethods []string `yaml:"permitted_auth_methods"`

	ConnectionTimeout  time.Duration `yaml:"connection_timeout"`
	AuthRejectionDelay time.Duration `yaml:"auth_rejection_delay"`

	DebugLogPath   string `yaml:"debug_log_path,omitempty"`
	DebugLogFilter string `yaml:"debug_log_filter,omitempty"`
	AccessLogPath  string `yaml:"access_log_path,omitempty"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
	Admin     AdminConfig     `yaml:"admin"`

	dataMu          sync.Mutex                  `yaml:"-"`
	changeListeners map[ConfigListenerID]func() `yaml:"-"`
	listenersMu     sync.RWMutex                 `yaml:"-"`
	listenerCounter uint64                       `yaml:"-"`
}

// TelemetryConfig holds the optional session-lifecycle event sink settings.
type TelemetryConfig struct {
	MQTT   MQTTSinkConfig   `yaml:"mqtt"`
	Kafka  KafkaSinkConfig  `yaml:"kafka"`
	Valkey ValkeySinkConfig `yaml:"valkey"`
}

// MQTTSinkConfig configures the MQTT session-event publisher.
type MQTTSinkConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
}

// KafkaSinkConfig configures the Kafka session-event publisher.
type KafkaSinkConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// ValkeySinkConfig configures the Redis/Valkey session-event publisher.
type ValkeySinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Channel string `yaml:"channel"`
}

// AdminConfig configures the read-only admin HTTP introspection endpoint.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// DefaultConfig returns a Config populated with the library defaults
// described for the Server Front component: public-key-only auth,
// anonymous logins rejected, a 600s connection timeout, and no
// auth-rejection delay.
func DefaultConfig() *Config {
	return &Config{
		BindAddr:             "0.0.0.0",
		Port:                 2222,
		AllowAnonymous:       false,
		PermittedAuthMethods: []string{"publickey"},
		ConnectionTimeout:    600 * time.Second,
		AuthRejectionDelay:   0,
	}
}

// DefaultPath returns the default configuration file path (~/.sshtui/config.yaml).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".sshtui", "config.yaml")
}

// Load reads configuration from a YAML file, falling back to defaults for
// any field the file doesn't set. A missing file is not an error: the
// defaults are returned and persisted on first save.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config at %s: %w", path, err)
	}

	return cfg, nil
}

// AddOnChangeListener registers a callback invoked after every successful
// save. Returns an ID that can later be passed to RemoveOnChangeListener.
func (c *Config) AddOnChangeListener(cb func()) ConfigListenerID {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	if c.changeListeners == nil {
		c.changeListeners = make(map[ConfigListenerID]func())
	}

	id := ConfigListenerID(fmt.Sprintf("listener-%d", atomic.AddUint64(&c.listenerCounter, 1)))
	c.changeListeners[id] = cb
	return id
}

// RemoveOnChangeListener removes a previously registered listener.
func (c *Config) RemoveOnChangeListener(id ConfigListenerID) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	delete(c.changeListeners, id)
}

func (c *Config) notifyChangeListeners() {
	c.listenersMu.RLock()
	listeners := make([]func(), 0, len(c.changeListeners))
	for _, cb := range c.changeListeners {
		listeners = append(listeners, cb)
	}
	c.listenersMu.RUnlock()

	for _, cb := range listeners {
		go cb()
	}
}

// Lock acquires the config data mutex for exclusive access. Use this before
// modifying fields, then call UnlockAndSave.
func (c *Config) Lock() { c.dataMu.Lock() }

// Unlock releases the config data mutex without saving. Prefer
// UnlockAndSave when modifications were made.
func (c *Config) Unlock() { c.dataMu.Unlock() }

// Save acquires the lock, marshals, writes, and notifies listeners. Use
// this when the caller does not already hold the lock.
func (c *Config) Save(path string) error {
	c.dataMu.Lock()
	return c.saveLocked(path)
}

// UnlockAndSave marshals, releases the lock, writes, and notifies. The
// caller must already hold the lock via Lock().
func (c *Config) UnlockAndSave(path string) error {
	return c.saveLocked(path)
}

func (c *Config) saveLocked(path string) error {
	data, err := yaml.Marshal(c)
	c.dataMu.Unlock() // release before I/O

	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}

	c.notifyChangeListeners()
	return nil
}

// Validate reports a configuration that cannot be run: no permitted auth
// method while anonymous logins are also disallowed, or a port outside
// 1-65535. Host key paths are not checked.
func (c *Config) Validate() error {
	if len(c.PermittedAuthMethods) == 0 && !c.AllowAnonymous {
		return fmt.Errorf("config: no authentication method configured")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	return nil
}
