package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jkaberg/leafspy-hass/internal/bus"
	"github.com/jkaberg/leafspy-hass/internal/device"
	"github.com/jkaberg/leafspy-hass/internal/entity"
	"github.com/jkaberg/leafspy-hass/internal/leafspy"
	"github.com/jkaberg/leafspy-hass/internal/metrics"
	"github.com/jkaberg/leafspy-hass/internal/sensors"
	"github.com/jkaberg/leafspy-hass/internal/store"
	"github.com/jkaberg/leafspy-hass/internal/tracker"
	"github.com/sirupsen/logrus"
)

// Platform renders sensors, binary sensors and trackers on the host.
type Platform interface {
	entity.Platform
	tracker.Sink
}

// Options configures a Bridge.
type Options struct {
	DisplayName string
	Precision   map[string]int
}

// Bridge turns decoded messages into entity updates. It owns the bus, the
// per-platform reconcilers and the tracker manager.
type Bridge struct {
	bus      *bus.Bus
	resolver *device.Resolver
	sensors  *entity.Reconciler
	binary   *entity.Reconciler
	trackers *tracker.Manager
	store    store.Store
	metrics  *metrics.Metrics
	logger   *logrus.Logger
	now      func() time.Time

	// mu serializes dispatch so each message is one unit of work.
	mu sync.Mutex
}

// NewBridge wires reconcilers and trackers onto a fresh bus.
func NewBridge(opts Options, platform Platform, st store.Store, m *metrics.Metrics, logger *logrus.Logger) *Bridge {
	if m == nil {
		m = metrics.New()
	}
	b := &Bridge{
		bus:     bus.New(),
		store:   st,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}

	b.sensors = entity.NewReconciler(sensors.PlatformSensor,
		sensors.WithPrecision(sensors.SensorTypes, opts.Precision), platform, logger,
		entity.WithStore(st), entity.WithObserver(m))
	b.binary = entity.NewReconciler(sensors.PlatformBinarySensor,
		sensors.BinarySensorTypes, platform, logger,
		entity.WithStore(st), entity.WithObserver(m))
	b.trackers = tracker.NewManager(platform, st, logger, tracker.WithObserver(m))

	b.resolver = device.NewResolver(device.Registries{b.sensors, b.binary, b.trackers}, opts.DisplayName)

	b.bus.Subscribe(bus.TopicNewDevice, "metrics", func(ctx context.Context, ev bus.Event) error {
		b.metrics.NewDevice()
		b.logger.WithFields(logrus.Fields{
			"device": ev.Device.ID,
			"model":  ev.Device.Model,
		}).Info("New Leaf Spy device")
		return nil
	})

	b.bus.Subscribe(bus.TopicUpdateDevice, string(sensors.PlatformSensor), func(ctx context.Context, ev bus.Event) error {
		return b.sensors.Reconcile(ctx, ev.Device, ev.Message)
	})
	b.bus.Subscribe(bus.TopicUpdateDevice, string(sensors.PlatformBinarySensor), func(ctx context.Context, ev bus.Event) error {
		return b.binary.Reconcile(ctx, ev.Device, ev.Message)
	})
	b.bus.Subscribe(bus.TopicUpdateDevice, tracker.Platform, func(ctx context.Context, ev bus.Event) error {
		return b.trackers.Update(ctx, ev.Device, ev.Message)
	})
	b.bus.Subscribe(bus.TopicUpdateDevice, "metrics", func(ctx context.Context, ev bus.Event) error {
		b.metrics.MessageAccepted(ev.Device.ID, b.now())
		return nil
	})

	return b
}

// Restore loads persisted state and constructs restored entities. It must
// complete before the webhook accepts messages.
func (b *Bridge) Restore(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	records, loadErr := b.store.Load(ctx)
	if loadErr != nil && len(records) == 0 {
		return fmt.Errorf("load state: %w", loadErr)
	}

	ns, errS := b.sensors.Restore(ctx, records)
	nb, errB := b.binary.Restore(ctx, records)
	nt, errT := b.trackers.Restore(ctx, records)

	b.logger.WithFields(logrus.Fields{
		"records":        len(records),
		"sensors":        ns,
		"binary_sensors": nb,
		"trackers":       nt,
	}).Info("Restored entity state")

	return errors.Join(loadErr, errS, errB, errT)
}

// Dispatch resolves the device of msg and publishes it. Unknown devices get
// a new-device event followed by an update-device event with the same
// message, so every entity is created and populated in one pass. Entities the
// host rejects are skipped by their reconciler; an error here means the
// message was not handled at all.
func (b *Bridge) Dispatch(ctx context.Context, msg *leafspy.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	res, err := b.resolver.Resolve(msg)
	if err != nil {
		return err
	}
	ev := bus.Event{Device: res.Device, Message: msg}

	b.logger.WithFields(logrus.Fields{
		"device": res.Device.ID,
		"new":    res.New,
		"fields": len(msg.Fields()),
	}).Debug("Dispatching Leaf Spy message")

	var errs []error
	if res.New {
		if err := b.bus.Publish(ctx, bus.TopicNewDevice, ev); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.bus.Publish(ctx, bus.TopicUpdateDevice, ev); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Sensors exposes the sensor reconciler.
func (b *Bridge) Sensors() *entity.Reconciler { return b.sensors }

// BinarySensors exposes the binary sensor reconciler.
func (b *Bridge) BinarySensors() *entity.Reconciler { return b.binary }

// Trackers exposes the tracker manager.
func (b *Bridge) Trackers() *tracker.Manager { return b.trackers }
