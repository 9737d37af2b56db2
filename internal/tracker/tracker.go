// Package tracker maintains one GPS device tracker per vehicle.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jkaberg/leafspy-hass/internal/device"
	"github.com/jkaberg/leafspy-hass/internal/entity"
	"github.com/jkaberg/leafspy-hass/internal/leafspy"
	"github.com/jkaberg/leafspy-hass/internal/store"
	"github.com/sirupsen/logrus"
)

// SourceTypeGPS is the tracker source type reported to the host.
const SourceTypeGPS = "gps"

// Platform is the entity platform name of trackers.
const Platform = "device_tracker"

// recordKey is the store key of the single tracker of a device.
const recordKey = "location"

// Location is the last reported position of a vehicle.
type Location struct {
	Device       device.Info
	Name         string
	Latitude     float64
	Longitude    float64
	Altitude     *float64
	BatteryLevel *float64
	State        entity.State
	UpdatedAt    time.Time
}

// UniqueID is the device id: there is one tracker per device.
func (l *Location) UniqueID() string { return l.Device.ID }

// Attributes returns the tracker attributes in the host's naming.
func (l *Location) Attributes() map[string]any {
	attrs := map[string]any{
		"latitude":    l.Latitude,
		"longitude":   l.Longitude,
		"source_type": SourceTypeGPS,
	}
	if l.Altitude != nil {
		attrs["altitude"] = *l.Altitude
	}
	if l.BatteryLevel != nil {
		attrs["battery_level"] = *l.BatteryLevel
	}
	return attrs
}

// Sink renders trackers on the host.
type Sink interface {
	AddTracker(ctx context.Context, l *Location) error
	WriteLocation(ctx context.Context, l *Location) error
}

// Manager creates trackers lazily from messages carrying coordinates.
type Manager struct {
	sink     Sink
	store    store.Store
	observer entity.Observer
	logger   *logrus.Logger
	now      func() time.Time

	mu        sync.Mutex
	locations map[string]*Location
}

// Option customises a Manager.
type Option func(*Manager)

// WithObserver reports host write failures to o.
func WithObserver(o entity.Observer) Option { return func(m *Manager) { m.observer = o } }

// NewManager returns a tracker manager. st may be nil.
func NewManager(sink Sink, st store.Store, logger *logrus.Logger, opts ...Option) *Manager {
	m := &Manager{
		sink:      sink,
		store:     st,
		logger:    logger,
		now:       time.Now,
		locations: make(map[string]*Location),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Update applies msg to the tracker of dev. Messages without both
// coordinates leave the tracker untouched, as do fixes within GPS jitter of
// the current position when nothing else changed. A write the host rejects
// is logged and skipped; the next fix retries it.
func (m *Manager) Update(ctx context.Context, dev device.Info, msg *leafspy.Message) error {
	if msg == nil {
		return errors.New("tracker: nil message")
	}
	if !msg.HasLocation() {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.apply(ctx, dev, msg); err != nil {
		if m.observer != nil {
			m.observer.HostWriteFailed(Platform, recordKey)
		}
		m.logger.WithField("device", dev.ID).WithError(err).Warn("Skipping tracker update the host did not accept")
	}
	return nil
}

// apply must be called with m.mu held.
func (m *Manager) apply(ctx context.Context, dev device.Info, msg *leafspy.Message) error {
	name := dev.Name
	if msg.User != nil && *msg.User != "" {
		name = *msg.User
	}

	next := Location{
		Device:       dev,
		Name:         name,
		Latitude:     *msg.Lat,
		Longitude:    *msg.Long,
		Altitude:     msg.Elv,
		BatteryLevel: msg.SOC,
		State:        entity.StateActive,
		UpdatedAt:    m.now(),
	}

	if cur, ok := m.locations[dev.ID]; ok {
		if !changed(cur, &next) {
			// Parked car; the retained attributes are still accurate.
			return nil
		}
		prev := *cur
		*cur = next
		if err := m.sink.WriteLocation(ctx, cur); err != nil {
			*cur = prev
			return fmt.Errorf("tracker %s: %w", dev.ID, err)
		}
		m.persist(ctx, cur)
		return nil
	}

	l := &next
	if err := m.sink.AddTracker(ctx, l); err != nil {
		return fmt.Errorf("tracker %s: %w", dev.ID, err)
	}
	if err := m.sink.WriteLocation(ctx, l); err != nil {
		return fmt.Errorf("tracker %s: %w", dev.ID, err)
	}
	m.locations[dev.ID] = l
	m.logger.WithFields(logrus.Fields{
		"device": dev.ID,
		"name":   name,
	}).Info("Created device tracker")
	m.persist(ctx, l)
	return nil
}

func (m *Manager) persist(ctx context.Context, l *Location) {
	if m.store == nil {
		return
	}
	rec := store.Record{
		DeviceID:   l.Device.ID,
		VIN:        l.Device.VIN,
		DeviceName: l.Device.Name,
		Platform:   Platform,
		Key:        recordKey,
		Value:      l.Name,
		Attributes: l.Attributes(),
		UpdatedAt:  l.UpdatedAt,
	}
	if err := m.store.Save(ctx, rec); err != nil {
		m.logger.WithError(err).WithField("device", l.Device.ID).Warn("Failed to persist tracker state")
	}
}

// Restore rebuilds trackers from persisted records and republishes their
// last position.
func (m *Manager) Restore(ctx context.Context, records []store.Record) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	restored := 0
	for _, rec := range records {
		if rec.Platform != Platform || rec.Key != recordKey {
			continue
		}
		if _, ok := m.locations[rec.DeviceID]; ok {
			continue
		}
		lat, okLat := attrFloat(rec.Attributes, "latitude")
		long, okLong := attrFloat(rec.Attributes, "longitude")
		if !okLat || !okLong {
			m.logger.WithField("device", rec.DeviceID).Debug("Ignoring persisted tracker without coordinates")
			continue
		}
		dev := device.NewInfo(rec.VIN, rec.DeviceName)
		dev.ID = rec.DeviceID

		l := &Location{
			Device:    dev,
			Name:      rec.Value,
			Latitude:  lat,
			Longitude: long,
			State:     entity.StateRestored,
			UpdatedAt: rec.UpdatedAt,
		}
		if v, ok := attrFloat(rec.Attributes, "altitude"); ok {
			l.Altitude = &v
		}
		if v, ok := attrFloat(rec.Attributes, "battery_level"); ok {
			l.BatteryLevel = &v
		}
		if err := m.sink.AddTracker(ctx, l); err != nil {
			errs = append(errs, fmt.Errorf("restore tracker %s: %w", rec.DeviceID, err))
			continue
		}
		if err := m.sink.WriteLocation(ctx, l); err != nil {
			errs = append(errs, fmt.Errorf("restore tracker %s: %w", rec.DeviceID, err))
			continue
		}
		m.locations[rec.DeviceID] = l
		restored++
	}
	return restored, errors.Join(errs...)
}

// attrFloat reads a numeric attribute. JSON-decoded attributes arrive as
// float64; values written by other tools may be strings.
func attrFloat(attrs store.Attrs, key string) (float64, bool) {
	switch v := attrs[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// HasDevice reports whether a tracker exists for id.
func (m *Manager) HasDevice(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.locations[id]
	return ok
}

// Get returns a copy of the tracker for id.
func (m *Manager) Get(id string) (Location, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locations[id]
	if !ok {
		return Location{}, false
	}
	return *l, true
}
