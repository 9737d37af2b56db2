package config

// Central place for application-wide defaults. Changing a value here
// immediately affects all components that import
// github.com/jkaberg/leafspy-hass/internal/config.

const (
	DefaultListenAddr      = ":8080"
	DefaultWebhookPath     = "/api/leafspy/"
	DefaultDisplayName     = "Leaf"
	DefaultDiscoveryPrefix = "homeassistant"
	DefaultBaseTopic       = "leafspy"
	DefaultClientID        = "leafspy-hass"
	DefaultStateBackend    = "file"
	DefaultStatePath       = "leafspy-state.json"

	// SecretBytes is the entropy of generated secrets; the hex form is
	// twice as long.
	SecretBytes = 8

	// EnvPrefix prefixes every environment variable.
	EnvPrefix = "LEAFSPY_HASS_"

	maxPrecision = 10
)
