package config

// Configuration loading and validation for sitecon

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tonylturner/sitecon/internal/errors"
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "sitecon.yaml"

// SiteConfig identifies the site and the controller credentials.
type SiteConfig struct {
	Name         string `yaml:"name"`
	Organization string `yaml:"organization"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
}

// UplinkConfig configures the session with the fulfillment server.
type UplinkConfig struct {
	URI                 string `yaml:"uri"`
	Origin              string `yaml:"origin"`
	ConnectTimeoutMs    int    `yaml:"connect_timeout_ms"`
	WriteTimeoutMs      int    `yaml:"write_timeout_ms"`
	KeepaliveIntervalMs int    `yaml:"keepalive_interval_ms"`
	IdleWarningMs       int    `yaml:"idle_warning_ms"`
	IdleErrorMs         int    `yaml:"idle_error_ms"`
	QueueEnabled        bool   `yaml:"queue_enabled"`
	QueueMax            int    `yaml:"queue_max"`
	ReconnectDelayMs    int    `yaml:"reconnect_delay_ms"`
}

// ConnectTimeout returns connect_timeout_ms as a duration.
func (u UplinkConfig) ConnectTimeout() time.Duration { return ms(u.ConnectTimeoutMs) }

// WriteTimeout returns write_timeout_ms as a duration.
func (u UplinkConfig) WriteTimeout() time.Duration { return ms(u.WriteTimeoutMs) }

// KeepaliveInterval returns keepalive_interval_ms as a duration.
func (u UplinkConfig) KeepaliveInterval() time.Duration { return ms(u.KeepaliveIntervalMs) }

// IdleWarning returns idle_warning_ms as a duration.
func (u UplinkConfig) IdleWarning() time.Duration { return ms(u.IdleWarningMs) }

// IdleError returns idle_error_ms as a duration.
func (u UplinkConfig) IdleError() time.Duration { return ms(u.IdleErrorMs) }

// ReconnectDelay returns reconnect_delay_ms as a duration.
func (u UplinkConfig) ReconnectDelay() time.Duration { return ms(u.ReconnectDelayMs) }

// RadioConfig configures the radio gateway.
type RadioConfig struct {
	Transport    string `yaml:"transport"` // "serial" or "tcp"
	Port         string `yaml:"port,omitempty"`
	BaudRate     int    `yaml:"baud_rate,omitempty"`
	Address      string `yaml:"address,omitempty"`
	NetworkID    int    `yaml:"network_id"`
	Channel      *int   `yaml:"channel,omitempty"` // unset: keep the device's channel
	ForceChannel bool   `yaml:"force_channel,omitempty"`
	CaptureFile  string `yaml:"capture_file,omitempty"`
}

// Endpoint names the gateway for logs and errors.
func (r RadioConfig) Endpoint() string {
	if r.Transport == "tcp" {
		return r.Address
	}
	return r.Port
}

// DeviceConfig is a statically configured device.
type DeviceConfig struct {
	ID        string `yaml:"id"`
	GUID      string `yaml:"guid"`
	Kind      string `yaml:"kind"` // "che" or "aisle"
	Positions int    `yaml:"positions,omitempty"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	LogEveryN int    `yaml:"log_every_n,omitempty"`
	LogFile   string `yaml:"log_file,omitempty"`
}

// Config is the sitecon configuration file.
type Config struct {
	Site    SiteConfig     `yaml:"site"`
	Uplink  UplinkConfig   `yaml:"uplink"`
	Radio   RadioConfig    `yaml:"radio"`
	Devices []DeviceConfig `yaml:"devices,omitempty"`
	Logging LoggingConfig  `yaml:"logging"`
}

// CreateDefaultConfig creates a default configuration
func CreateDefaultConfig() *Config {
	channel := 3
	cfg := &Config{
		Site: SiteConfig{
			Name:         "DC-01",
			Organization: "default",
			Username:     "sitecon",
		},
		Uplink: UplinkConfig{
			URI:          "ws://localhost:8181/ws/site",
			QueueEnabled: true,
		},
		Radio: RadioConfig{
			Transport: "serial",
			Port:      "/dev/ttyUSB0",
			NetworkID: 1,
			Channel:   &channel,
		},
		Devices: []DeviceConfig{
			{ID: "CHE1", GUID: "00000101", Kind: "che", Positions: 6},
			{ID: "AISLE-A", GUID: "00000201", Kind: "aisle"},
		},
	}
	applyDefaults(cfg)
	return cfg
}

// WriteDefaultConfig writes a default configuration to a file
func WriteDefaultConfig(path string) error {
	data, err := MarshalConfig(CreateDefaultConfig())
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// MarshalConfig renders cfg as YAML.
func MarshalConfig(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// LoadConfig loads a configuration from a YAML file.
// If the file doesn't exist and autoCreate is true, a default file is written first.
func LoadConfig(path string, autoCreate bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.WrapConfigError(fmt.Errorf("read config file: %w", err), path)
		}
		if !autoCreate {
			return nil, errors.WrapConfigError(fmt.Errorf("config file not found: %s", path), path)
		}
		if err := WriteDefaultConfig(path); err != nil {
			return nil, fmt.Errorf("create default config: %w", err)
		}
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapConfigError(fmt.Errorf("read created config file: %w", err), path)
		}
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, errors.WrapConfigError(err, path)
	}
	return cfg, nil
}

// ParseConfig decodes YAML, applies defaults and validates.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	applyDefaults(&cfg)
	if err := ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	u := &cfg.Uplink
	if u.ConnectTimeoutMs == 0 {
		u.ConnectTimeoutMs = 10000
	}
	if u.WriteTimeoutMs == 0 {
		u.WriteTimeoutMs = 5000
	}
	if u.KeepaliveIntervalMs == 0 {
		u.KeepaliveIntervalMs = 10000
	}
	if u.IdleWarningMs == 0 {
		u.IdleWarningMs = 15000
	}
	if u.IdleErrorMs == 0 {
		u.IdleErrorMs = 60000
	}
	if u.QueueMax == 0 && u.QueueEnabled {
		u.QueueMax = 1000
	}
	if u.ReconnectDelayMs == 0 {
		u.ReconnectDelayMs = 5000
	}
	if u.Origin == "" && u.URI != "" {
		u.Origin = originFor(u.URI)
	}

	if cfg.Radio.Transport == "" {
		cfg.Radio.Transport = "serial"
	}
	if cfg.Radio.Transport == "serial" && cfg.Radio.BaudRate == 0 {
		cfg.Radio.BaudRate = 115200
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.LogEveryN == 0 {
		cfg.Logging.LogEveryN = 1
	}
}

// originFor derives an http(s) origin from a ws(s) URI.
func originFor(uri string) string {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return ""
	}
	host, _, _ := strings.Cut(rest, "/")
	if scheme == "wss" {
		return "https://" + host
	}
	return "http://" + host
}

// ValidateConfig validates a configuration
func ValidateConfig(cfg *Config) error {
	if cfg.Site.Name == "" {
		return fmt.Errorf("site.name is required")
	}
	if err := validateUplink(cfg.Uplink); err != nil {
		return err
	}
	if err := validateRadio(cfg.Radio); err != nil {
		return err
	}
	seen := make(map[string]string, len(cfg.Devices))
	for i, dev := range cfg.Devices {
		if err := validateDevice(dev, i); err != nil {
			return err
		}
		guid := strings.ToLower(dev.GUID)
		if prev, ok := seen[guid]; ok {
			return fmt.Errorf("devices[%d]: guid %s already used by %s", i, dev.GUID, prev)
		}
		seen[guid] = dev.ID
	}
	return validateLogging(cfg.Logging)
}

func validateUplink(u UplinkConfig) error {
	if u.URI == "" {
		return fmt.Errorf("uplink.uri is required")
	}
	if !strings.HasPrefix(u.URI, "ws://") && !strings.HasPrefix(u.URI, "wss://") {
		return fmt.Errorf("uplink.uri must start with ws:// or wss://, got %q", u.URI)
	}
	for name, v := range map[string]int{
		"connect_timeout_ms":    u.ConnectTimeoutMs,
		"write_timeout_ms":      u.WriteTimeoutMs,
		"keepalive_interval_ms": u.KeepaliveIntervalMs,
		"idle_warning_ms":       u.IdleWarningMs,
		"idle_error_ms":         u.IdleErrorMs,
		"reconnect_delay_ms":    u.ReconnectDelayMs,
	} {
		if v < 0 {
			return fmt.Errorf("uplink.%s must be >= 0, got %d", name, v)
		}
	}
	if u.IdleWarningMs >= u.IdleErrorMs {
		return fmt.Errorf("uplink.idle_warning_ms (%d) must be less than idle_error_ms (%d)", u.IdleWarningMs, u.IdleErrorMs)
	}
	if u.QueueEnabled && u.QueueMax <= 0 {
		return fmt.Errorf("uplink.queue_max must be > 0 when queue_enabled is set")
	}
	return nil
}

func validateRadio(r RadioConfig) error {
	switch r.Transport {
	case "serial":
		if r.Port == "" {
			return fmt.Errorf("radio.port is required for serial transport")
		}
		if r.BaudRate <= 0 {
			return fmt.Errorf("radio.baud_rate must be > 0")
		}
	case "tcp":
		if r.Address == "" {
			return fmt.Errorf("radio.address is required for tcp transport")
		}
	default:
		return fmt.Errorf("radio.transport must be 'serial' or 'tcp', got %q", r.Transport)
	}
	if r.NetworkID < 1 || r.NetworkID > 254 {
		return fmt.Errorf("radio.network_id must be in [1, 254], got %d", r.NetworkID)
	}
	if r.Channel != nil && (*r.Channel < 0 || *r.Channel > 15) {
		return fmt.Errorf("radio.channel must be in [0, 15], got %d", *r.Channel)
	}
	if r.ForceChannel && r.Channel == nil {
		return fmt.Errorf("radio.force_channel requires radio.channel")
	}
	return nil
}

func validateDevice(dev DeviceConfig, index int) error {
	if dev.ID == "" {
		return fmt.Errorf("devices[%d]: id is required", index)
	}
	if dev.GUID == "" {
		return fmt.Errorf("devices[%d] (%s): guid is required", index, dev.ID)
	}
	if len(dev.GUID) > 255 {
		return fmt.Errorf("devices[%d] (%s): guid longer than 255 bytes", index, dev.ID)
	}
	switch dev.Kind {
	case "che":
		if dev.Positions < 0 || dev.Positions > 255 {
			return fmt.Errorf("devices[%d] (%s): positions must be in [0, 255], got %d", index, dev.ID, dev.Positions)
		}
	case "aisle":
	default:
		return fmt.Errorf("devices[%d] (%s): kind must be 'che' or 'aisle', got %q", index, dev.ID, dev.Kind)
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	switch l.Level {
	case "silent", "error", "info", "verbose", "debug":
	default:
		return fmt.Errorf("logging.level must be one of silent, error, info, verbose, debug; got %q", l.Level)
	}
	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", l.Format)
	}
	if l.LogEveryN < 1 {
		return fmt.Errorf("logging.log_every_n must be >= 1")
	}
	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
