package entity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jkaberg/leafspy-hass/internal/device"
	"github.com/jkaberg/leafspy-hass/internal/leafspy"
	"github.com/jkaberg/leafspy-hass/internal/sensors"
	"github.com/jkaberg/leafspy-hass/internal/store"
	"github.com/sirupsen/logrus"
)

type entityKey struct {
	deviceID string
	key      string
}

// Reconciler owns the entities of one platform. A single mutex guards the
// map, so at most one entity is ever created per (device id, key) even when
// messages for the same vehicle arrive concurrently.
type Reconciler struct {
	platform sensors.Platform
	descs    []sensors.Description
	sink     Platform
	store    store.Store
	observer Observer
	logger   *logrus.Logger
	now      func() time.Time

	mu       sync.Mutex
	entities map[entityKey]*Entity
}

// Option customises a Reconciler.
type Option func(*Reconciler)

// WithStore persists every created or updated entity to s.
func WithStore(s store.Store) Option { return func(r *Reconciler) { r.store = s } }

// WithObserver reports outcomes to o.
func WithObserver(o Observer) Option { return func(r *Reconciler) { r.observer = o } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(r *Reconciler) { r.now = now } }

// NewReconciler returns a reconciler for the descriptions of one platform.
func NewReconciler(platform sensors.Platform, descs []sensors.Description, sink Platform, logger *logrus.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		platform: platform,
		descs:    descs,
		sink:     sink,
		observer: nopObserver{},
		logger:   logger,
		now:      time.Now,
		entities: make(map[entityKey]*Entity),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile applies msg to every description. An absent source field skips
// the description. A failed transform or a failed host write is logged and
// skipped; neither stops sibling descriptions from updating. An entity whose
// creation failed stays unregistered, so the next message retries it.
func (r *Reconciler) Reconcile(ctx context.Context, dev device.Info, msg *leafspy.Message) error {
	if msg == nil {
		return errors.New("reconcile: nil message")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, desc := range r.descs {
		raw, ok := msg.Field(desc.Field)
		if !ok || raw == "" {
			continue
		}

		value, err := desc.Transform.Apply(raw)
		if err != nil || value == "" {
			r.observer.TransformFailed(string(r.platform), desc.Key)
			r.logger.WithFields(logrus.Fields{
				"device":   dev.ID,
				"platform": r.platform,
				"key":      desc.Key,
				"field":    desc.Field,
				"raw":      raw,
			}).WithError(err).Warn("Skipping entity with untransformable value")
			continue
		}

		if err := r.apply(ctx, dev, desc, value); err != nil {
			r.observer.HostWriteFailed(string(r.platform), desc.Key)
			r.logger.WithFields(logrus.Fields{
				"device":   dev.ID,
				"platform": r.platform,
				"key":      desc.Key,
			}).WithError(err).Warn("Skipping entity the host did not accept")
		}
	}
	return nil
}

// apply updates an existing entity or creates a new one. Must be called with
// r.mu held.
func (r *Reconciler) apply(ctx context.Context, dev device.Info, desc sensors.Description, value string) error {
	k := entityKey{deviceID: dev.ID, key: desc.Key}
	now := r.now()

	if e, ok := r.entities[k]; ok {
		prev := *e
		e.Value = value
		e.State = StateActive
		e.UpdatedAt = now
		// Descriptions may evolve between releases; identity stays.
		e.Description = desc
		if e.Device.VIN == "" {
			e.Device = dev
		}
		if err := r.sink.WriteState(ctx, e); err != nil {
			*e = prev
			return err
		}
		r.observer.EntityUpdated(string(r.platform))
		r.persist(ctx, e)
		return nil
	}

	e := &Entity{
		Device:      dev,
		Description: desc,
		Value:       value,
		State:       StateActive,
		UpdatedAt:   now,
	}
	if err := r.sink.AddEntity(ctx, e); err != nil {
		return err
	}
	if err := r.sink.WriteState(ctx, e); err != nil {
		return err
	}
	r.entities[k] = e
	r.observer.EntityCreated(string(r.platform))
	r.logger.WithFields(logrus.Fields{
		"device":    dev.ID,
		"unique_id": e.UniqueID(),
		"value":     value,
	}).Info("Created entity")
	r.persist(ctx, e)
	return nil
}

// persist saves e. Persistence is best effort: a failure is logged and the
// live entity keeps its value.
func (r *Reconciler) persist(ctx context.Context, e *Entity) {
	if r.store == nil {
		return
	}
	rec := store.Record{
		DeviceID:   e.Device.ID,
		VIN:        e.Device.VIN,
		DeviceName: e.Device.Name,
		Platform:   string(r.platform),
		Key:        e.Description.Key,
		Value:      e.Value,
		UpdatedAt:  e.UpdatedAt,
	}
	if err := r.store.Save(ctx, rec); err != nil {
		r.logger.WithError(err).WithField("unique_id", e.UniqueID()).Warn("Failed to persist entity state")
	}
}

// Restore constructs entities from persisted records of this platform and
// republishes their last value. It is the first lifecycle phase and must run
// before live messages are accepted.
// Records for unknown keys or other platforms are ignored. Entities that
// already exist are left untouched.
func (r *Reconciler) Restore(ctx context.Context, records []store.Record) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	restored := 0
	for _, rec := range records {
		if rec.Platform != string(r.platform) {
			continue
		}
		desc, ok := r.lookup(rec.Key)
		if !ok {
			r.logger.WithField("key", rec.Key).Debug("Ignoring persisted state for unknown key")
			continue
		}
		k := entityKey{deviceID: rec.DeviceID, key: rec.Key}
		if _, exists := r.entities[k]; exists {
			continue
		}
		dev := device.NewInfo(rec.VIN, rec.DeviceName)
		dev.ID = rec.DeviceID

		e := &Entity{
			Device:      dev,
			Description: desc,
			Value:       rec.Value,
			State:       StateRestored,
			UpdatedAt:   rec.UpdatedAt,
		}
		if err := r.sink.AddEntity(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", e.UniqueID(), err))
			continue
		}
		if err := r.sink.WriteState(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", e.UniqueID(), err))
			continue
		}
		r.entities[k] = e
		restored++
	}
	return restored, errors.Join(errs...)
}

func (r *Reconciler) lookup(key string) (sensors.Description, bool) {
	for _, d := range r.descs {
		if d.Key == key {
			return d, true
		}
	}
	return sensors.Description{}, false
}

// HasDevice reports whether any entity exists for the device id.
func (r *Reconciler) HasDevice(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.entities {
		if k.deviceID == id {
			return true
		}
	}
	return false
}

// Get returns a copy of the entity for (deviceID, key).
func (r *Reconciler) Get(deviceID, key string) (Entity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entities[entityKey{deviceID: deviceID, key: key}]
	if !ok {
		return Entity{}, false
	}
	return *e, true
}

// Entities returns copies of all entities of a device, sorted by key.
func (r *Reconciler) Entities(deviceID string) []Entity {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entity
	for k, e := range r.entities {
		if k.deviceID == deviceID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Description.Key < out[j].Description.Key })
	return out
}

// Len returns the number of live entities.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entities)
}
