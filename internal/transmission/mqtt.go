package transmission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jkaberg/leafspy-hass/internal/device"
	"github.com/jkaberg/leafspy-hass/internal/entity"
	"github.com/jkaberg/leafspy-hass/internal/mqtt"
	"github.com/jkaberg/leafspy-hass/internal/tracker"
	"github.com/sirupsen/logrus"
)

// ErrNotConnected is returned while the broker connection is down.
var ErrNotConnected = errors.New("MQTT client not connected")

// HADiscoveryConfig represents Home Assistant MQTT discovery configuration
type HADiscoveryConfig struct {
	Base                string   `json:"~"`
	Name                string   `json:"name"`
	UniqueID            string   `json:"unique_id"`
	ObjectID            string   `json:"object_id,omitempty"`
	StateTopic          string   `json:"state_topic,omitempty"`
	JSONAttributesTopic string   `json:"json_attributes_topic,omitempty"`
	DeviceClass         string   `json:"device_class,omitempty"`
	UnitOfMeasurement   string   `json:"unit_of_measurement,omitempty"`
	Device              HADevice `json:"device"`
	AvailabilityTopic   string   `json:"availability_topic"`
	Icon                string   `json:"icon,omitempty"`
	StateClass          string   `json:"state_class,omitempty"`
	EntityCategory      string   `json:"entity_category,omitempty"`
	EnabledByDefault    *bool    `json:"enabled_by_default,omitempty"`
	Options             []string `json:"options,omitempty"`
	PayloadOn           string   `json:"payload_on,omitempty"`
	PayloadOff          string   `json:"payload_off,omitempty"`
	SourceType          string   `json:"source_type,omitempty"`
}

// HADevice represents the device information for Home Assistant
type HADevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Model        string   `json:"model,omitempty"`
	Manufacturer string   `json:"manufacturer"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// MQTTTransmitter renders entities and trackers through Home Assistant MQTT
// discovery. It implements entity.Platform and tracker.Sink.
type MQTTTransmitter struct {
	client          Publisher
	discoveryPrefix string
	baseTopic       string
	swVersion       string
	logger          *logrus.Logger

	mu        sync.Mutex
	published map[string][]byte // discovery topic -> payload
}

var (
	_ entity.Platform = (*MQTTTransmitter)(nil)
	_ tracker.Sink    = (*MQTTTransmitter)(nil)
)

// NewMQTTTransmitter creates a new MQTT transmitter
func NewMQTTTransmitter(client Publisher, discoveryPrefix, baseTopic, swVersion string, logger *logrus.Logger) *MQTTTransmitter {
	return &MQTTTransmitter{
		client:          client,
		discoveryPrefix: discoveryPrefix,
		baseTopic:       baseTopic,
		swVersion:       swVersion,
		logger:          logger,
		published:       make(map[string][]byte),
	}
}

// AvailabilityTopic is shared by every entity of the bridge.
func AvailabilityTopic(baseTopic string) string {
	return mqtt.BuildCleanTopic(baseTopic, "availability")
}

// AvailabilityTopic returns the bridge availability topic.
func (t *MQTTTransmitter) AvailabilityTopic() string {
	return AvailabilityTopic(t.baseTopic)
}

// StatusTopic is where Home Assistant announces its own restarts.
func (t *MQTTTransmitter) StatusTopic() string {
	return t.discoveryPrefix + "/status"
}

func (t *MQTTTransmitter) entityBase(deviceID, platform, key string) string {
	return mqtt.BuildCleanTopic(t.baseTopic, deviceID, platform, key)
}

// StateTopic returns the state topic of an entity.
func (t *MQTTTransmitter) StateTopic(e *entity.Entity) string {
	return t.entityBase(e.Device.ID, string(e.Description.Platform), e.Description.Key) + "/state"
}

// AttributesTopic returns the JSON attributes topic of a device tracker.
func (t *MQTTTransmitter) AttributesTopic(deviceID string) string {
	return t.entityBase(deviceID, tracker.Platform, "location") + "/attributes"
}

func (t *MQTTTransmitter) discoveryTopic(component, deviceID, objectID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", t.discoveryPrefix, component, deviceID, objectID)
}

func (t *MQTTTransmitter) haDevice(dev device.Info) HADevice {
	return HADevice{
		Identifiers:  []string{dev.ID},
		Name:         dev.Name,
		Model:        dev.Model,
		Manufacturer: dev.Manufacturer,
		SWVersion:    t.swVersion,
	}
}

// DiscoveryConfig builds the discovery payload of an entity.
func (t *MQTTTransmitter) DiscoveryConfig(e *entity.Entity) HADiscoveryConfig {
	d := e.Description
	enabled := d.EnabledByDefault
	cfg := HADiscoveryConfig{
		Base:              t.entityBase(e.Device.ID, string(d.Platform), d.Key),
		Name:              d.Name,
		UniqueID:          e.UniqueID(),
		ObjectID:          e.UniqueID(),
		StateTopic:        "~/state",
		DeviceClass:       d.DeviceClass,
		UnitOfMeasurement: d.Unit,
		Device:            t.haDevice(e.Device),
		AvailabilityTopic: t.AvailabilityTopic(),
		Icon:              d.Icon,
		StateClass:        d.StateClass,
		EntityCategory:    d.EntityCategory,
		Options:           d.Options(),
	}
	if !enabled {
		cfg.EnabledByDefault = &enabled
	}
	return cfg
}

// AddEntity publishes the discovery config of e once per process.
func (t *MQTTTransmitter) AddEntity(ctx context.Context, e *entity.Entity) error {
	cfg := t.DiscoveryConfig(e)
	topic := t.discoveryTopic(string(e.Description.Platform), e.Device.ID, e.Description.Key)
	if err := t.publishConfig(topic, cfg); err != nil {
		return fmt.Errorf("failed to publish %s discovery config: %w", e.UniqueID(), err)
	}

	t.logger.WithFields(logrus.Fields{
		"unique_id": cfg.UniqueID,
		"topic":     topic,
	}).Debug("Published discovery config")
	return nil
}

// WriteState publishes the current value of e, retained.
func (t *MQTTTransmitter) WriteState(ctx context.Context, e *entity.Entity) error {
	if !t.client.IsConnected() {
		return ErrNotConnected
	}
	topic := t.StateTopic(e)
	if err := t.client.Publish(topic, []byte(e.Value), true); err != nil {
		return fmt.Errorf("failed to publish state to %s: %w", topic, err)
	}
	return nil
}

// AddTracker publishes the device_tracker discovery config for l.
func (t *MQTTTransmitter) AddTracker(ctx context.Context, l *tracker.Location) error {
	cfg := HADiscoveryConfig{
		Base:                t.entityBase(l.Device.ID, tracker.Platform, "location"),
		Name:                l.Name,
		UniqueID:            l.UniqueID(),
		ObjectID:            l.UniqueID(),
		JSONAttributesTopic: "~/attributes",
		Device:              t.haDevice(l.Device),
		AvailabilityTopic:   t.AvailabilityTopic(),
		Icon:                "mdi:car-electric",
		SourceType:          tracker.SourceTypeGPS,
	}
	topic := t.discoveryTopic(tracker.Platform, l.Device.ID, "location")
	if err := t.publishConfig(topic, cfg); err != nil {
		return fmt.Errorf("failed to publish tracker discovery config: %w", err)
	}
	return nil
}

// WriteLocation publishes the tracker attributes of l.
func (t *MQTTTransmitter) WriteLocation(ctx context.Context, l *tracker.Location) error {
	if !t.client.IsConnected() {
		return ErrNotConnected
	}
	payload, err := json.Marshal(l.Attributes())
	if err != nil {
		return fmt.Errorf("failed to marshal location data: %w", err)
	}
	topic := t.AttributesTopic(l.Device.ID)
	if err := t.client.Publish(topic, payload, true); err != nil {
		return fmt.Errorf("failed to publish location to %s: %w", topic, err)
	}
	return nil
}

// publishConfig publishes a discovery payload and remembers it for
// Republish. Unchanged payloads are not sent again.
func (t *MQTTTransmitter) publishConfig(topic string, config interface{}) error {
	payload, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal discovery config: %w", err)
	}

	t.mu.Lock()
	prev, seen := t.published[topic]
	t.mu.Unlock()
	if seen && string(prev) == string(payload) {
		return nil
	}

	if !t.client.IsConnected() {
		return ErrNotConnected
	}
	if err := t.client.Publish(topic, payload, true); err != nil {
		return fmt.Errorf("failed to publish discovery config to %s: %w", topic, err)
	}

	t.mu.Lock()
	t.published[topic] = payload
	t.mu.Unlock()
	return nil
}

// Republish resends every discovery config published so far. It runs after
// Home Assistant announces a restart on StatusTopic.
func (t *MQTTTransmitter) Republish() error {
	t.mu.Lock()
	topics := make([]string, 0, len(t.published))
	for topic := range t.published {
		topics = append(topics, topic)
	}
	payloads := make(map[string][]byte, len(t.published))
	for topic, p := range t.published {
		payloads[topic] = p
	}
	t.mu.Unlock()
	sort.Strings(topics)

	var errs []error
	for _, topic := range topics {
		if err := t.client.Publish(topic, payloads[topic], true); err != nil {
			errs = append(errs, err)
		}
	}
	t.logger.WithField("configs", len(topics)).Info("Republished discovery configs")
	return errors.Join(errs...)
}

// HandleStatus reacts to Home Assistant birth messages.
func (t *MQTTTransmitter) HandleStatus(topic string, payload []byte) {
	if string(payload) != mqtt.PayloadOnline {
		return
	}
	if err := t.Republish(); err != nil {
		t.logger.WithError(err).Warn("Failed to republish discovery configs")
	}
}

// IsConnected checks if the MQTT client is connected
func (t *MQTTTransmitter) IsConnected() bool {
	return t.client.IsConnected()
}
