package device

import (
	"fmt"

	"github.com/jkaberg/leafspy-hass/internal/leafspy"
)

// Registry answers whether any entities are already associated with a
// device id.
type Registry interface {
	HasDevice(id string) bool
}

// Resolution is the outcome of resolving a message to a device.
type Resolution struct {
	Device Info
	New    bool // no entities existed for the device before this message
}

// Resolver maps decoded messages to devices and decides between the
// new-device and update-device paths.
type Resolver struct {
	registry Registry
	name     string
}

// NewResolver returns a resolver that consults registry. name is the display
// name given to every device.
func NewResolver(registry Registry, name string) *Resolver {
	return &Resolver{registry: registry, name: name}
}

// Resolve derives the device for msg. It fails only for messages without a
// VIN, which the decoder already rejects.
func (r *Resolver) Resolve(msg *leafspy.Message) (Resolution, error) {
	if msg == nil || msg.VIN == "" {
		return Resolution{}, fmt.Errorf("message has no VIN")
	}
	info := NewInfo(msg.VIN, r.name)
	if info.ID == "" {
		return Resolution{}, fmt.Errorf("VIN %q yields an empty device id", msg.VIN)
	}
	return Resolution{
		Device: info,
		New:    !r.registry.HasDevice(info.ID),
	}, nil
}

// Registries combines several registries: a device is known when any of
// them knows it.
type Registries []Registry

func (rs Registries) HasDevice(id string) bool {
	for _, r := range rs {
		if r.HasDevice(id) {
			return true
		}
	}
	return false
}
