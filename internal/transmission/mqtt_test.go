package transmission

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/jkaberg/leafspy-hass/internal/device"
	"github.com/jkaberg/leafspy-hass/internal/entity"
	"github.com/jkaberg/leafspy-hass/internal/sensors"
	"github.com/jkaberg/leafspy-hass/internal/tracker"
	"github.com/sirupsen/logrus"
)

type message struct {
	topic    string
	payload  string
	retained bool
}

type fakePublisher struct {
	connected bool
	messages  []message
	err       error
}

func (f *fakePublisher) Publish(topic string, payload []byte, retained bool) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, message{topic, string(payload), retained})
	return nil
}

func (f *fakePublisher) IsConnected() bool { return f.connected }

func (f *fakePublisher) last(topic string) (message, bool) {
	for i := len(f.messages) - 1; i >= 0; i-- {
		if f.messages[i].topic == topic {
			return f.messages[i], true
		}
	}
	return message{}, false
}

func newTestTransmitter(pub Publisher) *MQTTTransmitter {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return NewMQTTTransmitter(pub, "homeassistant", "leafspy", "1.0.0", l)
}

func testEntity(t *testing.T, p sensors.Platform, key, value string) *entity.Entity {
	t.Helper()
	d, ok := sensors.Lookup(p, key)
	if !ok {
		t.Fatalf("unknown key %s", key)
	}
	return &entity.Entity{
		Device:      device.NewInfo("1N4AZ0CP7F-123456", ""),
		Description: d,
		Value:       value,
		State:       entity.StateActive,
	}
}

func TestAddEntity_DiscoveryPayload(t *testing.T) {
	pub := &fakePublisher{connected: true}
	tx := newTestTransmitter(pub)
	e := testEntity(t, sensors.PlatformSensor, "plug_state", "Plugged")

	if err := tx.AddEntity(context.Background(), e); err != nil {
		t.Fatalf("AddEntity: %v", err)
	}

	topic := "homeassistant/sensor/leaf_1n4az0cp7f_123456/plug_state/config"
	msg, ok := pub.last(topic)
	if !ok {
		t.Fatalf("no discovery published to %s; got %+v", topic, pub.messages)
	}
	if !msg.retained {
		t.Error("expected retained discovery config")
	}

	var cfg map[string]any
	if err := json.Unmarshal([]byte(msg.payload), &cfg); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if cfg["unique_id"] != "leaf_1n4az0cp7f_123456_plug_state" {
		t.Errorf("unexpected unique_id %v", cfg["unique_id"])
	}
	if cfg["~"] != "leafspy/leaf_1n4az0cp7f_123456/sensor/plug_state" {
		t.Errorf("unexpected base topic %v", cfg["~"])
	}
	if cfg["availability_topic"] != "leafspy/availability" {
		t.Errorf("unexpected availability topic %v", cfg["availability_topic"])
	}
	if cfg["enabled_by_default"] != false {
		t.Errorf("expected plug_state disabled by default, got %v", cfg["enabled_by_default"])
	}
	opts, _ := cfg["options"].([]any)
	if len(opts) != 4 || opts[3] != "unknown" {
		t.Errorf("unexpected options %v", cfg["options"])
	}
	dev, _ := cfg["device"].(map[string]any)
	if dev["manufacturer"] != "Nissan" || dev["model"] != "1N4AZ0CP7F" {
		t.Errorf("unexpected device %v", dev)
	}
}

func TestAddEntity_EnabledOmittedWhenTrue(t *testing.T) {
	pub := &fakePublisher{connected: true}
	tx := newTestTransmitter(pub)
	cfg := tx.DiscoveryConfig(testEntity(t, sensors.PlatformSensor, "state_of_charge", "80"))
	if cfg.EnabledByDefault != nil {
		t.Errorf("expected enabled_by_default omitted, got %v", *cfg.EnabledByDefault)
	}
	if cfg.StateClass != sensors.StateClassMeasurement {
		t.Errorf("unexpected state class %q", cfg.StateClass)
	}
}

func TestAddEntity_DeduplicatesAndRepublishes(t *testing.T) {
	pub := &fakePublisher{connected: true}
	tx := newTestTransmitter(pub)
	ctx := context.Background()
	e := testEntity(t, sensors.PlatformSensor, "gids", "230")

	_ = tx.AddEntity(ctx, e)
	_ = tx.AddEntity(ctx, e)
	if len(pub.messages) != 1 {
		t.Fatalf("expected single discovery publish, got %d", len(pub.messages))
	}

	tx.HandleStatus(tx.StatusTopic(), []byte("offline"))
	if len(pub.messages) != 1 {
		t.Fatalf("expected no republish on offline, got %d", len(pub.messages))
	}
	tx.HandleStatus(tx.StatusTopic(), []byte("online"))
	if len(pub.messages) != 2 {
		t.Fatalf("expected republish on online, got %d", len(pub.messages))
	}
}

func TestWriteState(t *testing.T) {
	pub := &fakePublisher{connected: true}
	tx := newTestTransmitter(pub)
	e := testEntity(t, sensors.PlatformBinarySensor, "power", sensors.StateOn)

	if err := tx.WriteState(context.Background(), e); err != nil {
		t.Fatalf("WriteState: %v", err)
	}
	msg, ok := pub.last("leafspy/leaf_1n4az0cp7f_123456/binary_sensor/power/state")
	if !ok || msg.payload != "ON" {
		t.Errorf("expected ON state, got %+v", pub.messages)
	}
}

func TestWriteState_Disconnected(t *testing.T) {
	tx := newTestTransmitter(&fakePublisher{})
	err := tx.WriteState(context.Background(), testEntity(t, sensors.PlatformSensor, "gids", "1"))
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestTracker(t *testing.T) {
	pub := &fakePublisher{connected: true}
	tx := newTestTransmitter(pub)
	soc := 80.5
	l := &tracker.Location{
		Device:       device.NewInfo("1N4AZ0CP7F-123456", ""),
		Name:         "alice",
		Latitude:     59.91,
		Longitude:    10.75,
		BatteryLevel: &soc,
	}
	ctx := context.Background()

	if err := tx.AddTracker(ctx, l); err != nil {
		t.Fatalf("AddTracker: %v", err)
	}
	if err := tx.WriteLocation(ctx, l); err != nil {
		t.Fatalf("WriteLocation: %v", err)
	}

	cfgMsg, ok := pub.last("homeassistant/device_tracker/leaf_1n4az0cp7f_123456/location/config")
	if !ok {
		t.Fatalf("no tracker discovery; got %+v", pub.messages)
	}
	var cfg map[string]any
	_ = json.Unmarshal([]byte(cfgMsg.payload), &cfg)
	if cfg["source_type"] != "gps" || cfg["json_attributes_topic"] != "~/attributes" {
		t.Errorf("unexpected tracker config %v", cfg)
	}
	if cfg["unique_id"] != "leaf_1n4az0cp7f_123456" {
		t.Errorf("unexpected tracker unique_id %v", cfg["unique_id"])
	}

	attrMsg, ok := pub.last(tx.AttributesTopic(l.Device.ID))
	if !ok {
		t.Fatal("no attributes published")
	}
	var attrs map[string]any
	_ = json.Unmarshal([]byte(attrMsg.payload), &attrs)
	if attrs["latitude"] != 59.91 || attrs["battery_level"] != 80.5 {
		t.Errorf("unexpected attributes %v", attrs)
	}
}
