package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"teslafi/internal/coordinator"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when neither a flag nor TESLAFI_CONFIG names a file.
const DefaultPath = "teslafi.yaml"

// ErrNoEntries means no vehicle is configured.
var ErrNoEntries = errors.New("no entries configured")

// Entry is one TeslaFi account, i.e. one vehicle.
type Entry struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	APIKey string `yaml:"api_key"`
}

// MQTTConfig configures the Home Assistant MQTT bridge.
type MQTTConfig struct {
	URL             string `yaml:"url"`
	ClientID        string `yaml:"client_id"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	TopicPrefix     string `yaml:"topic_prefix"`
}

// HAConfig configures the Home Assistant websocket notifier.
type HAConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// HTTPConfig configures the status API.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// Config is the teslafi.yaml structure
type Config struct {
	Entries        []Entry               `yaml:"entries"`
	Polling        coordinator.Intervals `yaml:"polling"`
	Delays         coordinator.Delays    `yaml:"delays"`
	PendingTimeout time.Duration         `yaml:"pending_timeout"`
	ReadOnly       bool                  `yaml:"read_only"`
	MQTT           MQTTConfig            `yaml:"mqtt"`
	HA             HAConfig              `yaml:"ha"`
	HTTP           HTTPConfig            `yaml:"http"`
}

// Coordinator returns the coordinator timings.
func (c *Config) Coordinator() coordinator.Config {
	return coordinator.Config{Intervals: c.Polling, Delays: c.Delays}
}

// Entry looks an entry up by id.
func (c *Config) Entry(id string) (Entry, bool) {
	for _, e := range c.Entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Loader manages configuration file loading and reloading
type Loader struct {
	path     string
	logger   *zap.Logger
	getenv   func(string) string
	stopChan chan struct{}
	stopOnce sync.Once

	mu      sync.RWMutex
	config  *Config
	modTime time.Time
}

// NewLoader creates a new configuration loader
func NewLoader(path string, logger *zap.Logger) *Loader {
	if path == "" {
		path = DefaultPath
	}
	return &Loader{
		path:     path,
		logger:   logger.Named("config"),
		getenv:   os.Getenv,
		stopChan: make(chan struct{}),
	}
}

// Load reads the file, applies environment overrides and validates the
// result. A missing file is fine as long as the environment supplies an API
// key.
func (l *Loader) Load() (*Config, error) {
	l.logger.Debug("Loading config", zap.String("path", l.path))

	config := &Config{}
	var modTime time.Time
	data, err := os.ReadFile(l.path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		if info, statErr := os.Stat(l.path); statErr == nil {
			modTime = info.ModTime()
		}
	case errors.Is(err, os.ErrNotExist):
		l.logger.Info("No config file, using environment only", zap.String("path", l.path))
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := l.applyEnv(config); err != nil {
		return nil, err
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.config = config
	l.modTime = modTime
	l.mu.Unlock()

	l.logger.Info("Config loaded successfully",
		zap.Int("entries", len(config.Entries)),
		zap.Bool("read_only", config.ReadOnly))
	return config, nil
}

// Config returns the last loaded configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

func (l *Loader) applyEnv(c *Config) error {
	if key := l.getenv("TESLAFI_API_KEY"); key != "" {
		switch len(c.Entries) {
		case 0:
			c.Entries = []Entry{{APIKey: key}}
		case 1:
			c.Entries[0].APIKey = key
		default:
			l.logger.Warn("TESLAFI_API_KEY ignored with multiple entries")
		}
	}
	if v := l.getenv("MQTT_URL"); v != "" {
		c.MQTT.URL = v
	}
	if v := l.getenv("HA_URL"); v != "" {
		c.HA.URL = v
	}
	if v := l.getenv("HA_TOKEN"); v != "" {
		c.HA.Token = v
	}
	if v := l.getenv("READ_ONLY"); v != "" {
		readOnly, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid READ_ONLY %q: %w", v, err)
		}
		c.ReadOnly = readOnly
	}
	return nil
}

func (c *Config) validate() error {
	if len(c.Entries) == 0 {
		return ErrNoEntries
	}
	seen := make(map[string]bool, len(c.Entries))
	for i := range c.Entries {
		e := &c.Entries[i]
		if e.APIKey == "" {
			return fmt.Errorf("entry %d: api_key is required", i)
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if seen[e.ID] {
			return fmt.Errorf("entry %d: duplicate id %s", i, e.ID)
		}
		seen[e.ID] = true
	}
	if c.PendingTimeout < 0 {
		return fmt.Errorf("pending_timeout must not be negative")
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "teslafi"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "teslafi-bridge"
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = ":8080"
	}
	return nil
}

// StartAutoReload checks the file every interval and reloads it when it
// changed. onChange receives the new config; a file that fails to load keeps
// the previous one.
func (l *Loader) StartAutoReload(interval time.Duration, onChange func(*Config)) {
	l.logger.Info("Starting auto-reload", zap.Duration("interval", interval))

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if !l.changed() {
					continue
				}
				l.logger.Info("Config file changed, reloading")
				config, err := l.Load()
				if err != nil {
					l.logger.Error("Failed to reload config", zap.Error(err))
					continue
				}
				if onChange != nil {
					onChange(config)
				}

			case <-l.stopChan:
				l.logger.Info("Stopping auto-reload")
				return
			}
		}
	}()
}

func (l *Loader) changed() bool {
	info, err := os.Stat(l.path)
	if err != nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return info.ModTime().After(l.modTime)
}

// Stop stops the auto-reload goroutine
func (l *Loader) Stop() {
	l.stopOnce.Do(func() { close(l.stopChan) })
}
