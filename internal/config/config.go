package config

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/jkaberg/leafspy-hass/internal/sensors"
	"github.com/jkaberg/leafspy-hass/internal/store"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the leafspy-hass bridge
type Config struct {
	// HTTP
	ListenAddr  string `json:"listen_addr" yaml:"listen_addr"`   // address the webhook server binds
	WebhookPath string `json:"webhook_path" yaml:"webhook_path"` // path Leaf Spy calls
	Secret      string `json:"secret" yaml:"secret"`             // installation secret, generated when empty

	// Device
	DisplayName string `json:"display_name" yaml:"display_name"` // device name shown in Home Assistant

	// MQTT
	MQTTUrl         string `json:"mqtt_url" yaml:"mqtt_url"`                 // broker URL (ws, wss, mqtt, mqtts)
	DiscoveryPrefix string `json:"discovery_prefix" yaml:"discovery_prefix"` // Home Assistant discovery prefix
	BaseTopic       string `json:"base_topic" yaml:"base_topic"`             // prefix of state topics
	ClientID        string `json:"client_id" yaml:"client_id"`
	InsecureTLS     bool   `json:"insecure_tls" yaml:"insecure_tls"` // skip broker certificate verification

	// State persistence
	StateBackend string `json:"state_backend" yaml:"state_backend"` // file, redis or none
	StatePath    string `json:"state_path" yaml:"state_path"`
	RedisURL     string `json:"redis_url" yaml:"redis_url"`

	// Sensors
	Precision map[string]int `json:"precision" yaml:"precision"` // decimal places per sensor key

	Verbose bool `json:"verbose" yaml:"verbose"`
}

// GetDefaultConfig returns a configuration with sensible defaults
func GetDefaultConfig() *Config {
	return &Config{
		ListenAddr:      DefaultListenAddr,
		WebhookPath:     DefaultWebhookPath,
		DisplayName:     DefaultDisplayName,
		DiscoveryPrefix: DefaultDiscoveryPrefix,
		BaseTopic:       DefaultBaseTopic,
		ClientID:        DefaultClientID,
		StateBackend:    DefaultStateBackend,
		StatePath:       DefaultStatePath,
	}
}

// LoadFile overlays the YAML file at path onto c. Keys missing from the file
// keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml %s: %w", path, err)
	}
	return nil
}

// GenerateSecret returns a new random secret of 16 hex characters.
func GenerateSecret() (string, error) {
	b := make([]byte, SecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// EnsureSecret generates a secret when none is configured. It reports
// whether a new one was generated.
func (c *Config) EnsureSecret() (bool, error) {
	if c.Secret != "" {
		return false, nil
	}
	s, err := GenerateSecret()
	if err != nil {
		return false, err
	}
	c.Secret = s
	return true, nil
}

// ParsePrecision parses "key=places,key=places" into a map.
func ParsePrecision(s string) (map[string]int, error) {
	out := make(map[string]int)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("precision %q: expected key=places", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return nil, fmt.Errorf("precision %q: %w", part, err)
		}
		out[strings.TrimSpace(key)] = n
	}
	return out, nil
}

// FormatPrecision is the inverse of ParsePrecision, sorted by key.
func FormatPrecision(p map[string]int) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strconv.Itoa(p[k]))
	}
	return strings.Join(parts, ",")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if !strings.HasPrefix(c.WebhookPath, "/") {
		return fmt.Errorf("webhook path must start with /")
	}
	if strings.ContainsAny(c.WebhookPath, "{}?#") {
		return fmt.Errorf("webhook path %q contains invalid characters", c.WebhookPath)
	}
	if c.Secret == "" {
		return fmt.Errorf("secret is required")
	}
	if strings.ContainsAny(c.Secret, "/?#&") {
		return fmt.Errorf("secret must not contain URL delimiters")
	}

	if c.MQTTUrl == "" {
		return fmt.Errorf("MQTT URL is required")
	}
	if !strings.HasPrefix(c.MQTTUrl, "ws://") &&
		!strings.HasPrefix(c.MQTTUrl, "wss://") &&
		!strings.HasPrefix(c.MQTTUrl, "mqtt://") &&
		!strings.HasPrefix(c.MQTTUrl, "mqtts://") {
		return fmt.Errorf("MQTT URL must use supported protocol (ws://, wss://, mqtt://, or mqtts://)")
	}
	if c.DiscoveryPrefix == "" || c.BaseTopic == "" {
		return fmt.Errorf("discovery prefix and base topic are required")
	}

	switch c.StateBackend {
	case store.BackendFile:
		if c.StatePath == "" {
			return fmt.Errorf("state path is required for the file backend")
		}
	case store.BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis backend")
		}
	case store.BackendNone:
	default:
		return fmt.Errorf("unknown state backend %q (supported: file, redis, none)", c.StateBackend)
	}

	for key, places := range c.Precision {
		if places < 0 || places > maxPrecision {
			return fmt.Errorf("precision for %s must be between 0 and %d", key, maxPrecision)
		}
		d, ok := sensors.Lookup(sensors.PlatformSensor, key)
		if !ok {
			return fmt.Errorf("precision for unknown sensor %q", key)
		}
		if k := d.Transform.Kind; k != sensors.TransformFloat && k != sensors.TransformConductance {
			return fmt.Errorf("sensor %q is not rounded, precision cannot be set", key)
		}
	}

	if c.DisplayName == "" {
		c.DisplayName = DefaultDisplayName
	}
	return nil
}

// StoreOptions returns the persistence settings.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Backend:  c.StateBackend,
		Path:     c.StatePath,
		RedisURL: c.RedisURL,
	}
}

// WebhookURL returns the URL to enter in Leaf Spy for host, with the secret
// embedded in the path.
func (c *Config) WebhookURL(host string) string {
	path := strings.Trim(c.WebhookPath, "/")
	if path == "" {
		return "http://" + host + "/" + c.Secret
	}
	return "http://" + host + "/" + path + "/" + c.Secret
}
