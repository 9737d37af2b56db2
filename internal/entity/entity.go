// Package entity keeps the live mapping from (device, sensor key) to entity
// and reconciles it against incoming Leaf Spy messages.
package entity

import (
	"context"
	"fmt"
	"time"

	"github.com/jkaberg/leafspy-hass/internal/device"
	"github.com/jkaberg/leafspy-hass/internal/sensors"
)

// State is the lifecycle phase of an entity.
type State int

const (
	StateUnseen   State = iota // never created in this process
	StateRestored              // constructed from persisted state, no live value yet
	StateActive                // holds a value from a live message
)

func (s State) String() string {
	switch s {
	case StateUnseen:
		return "unseen"
	case StateRestored:
		return "restored"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Entity is one sensor or binary sensor of a device.
type Entity struct {
	Device      device.Info
	Description sensors.Description
	Value       string
	State       State
	UpdatedAt   time.Time
}

// UniqueID is the stable identity of the entity: device id and key. It never
// changes once the entity exists.
func (e *Entity) UniqueID() string {
	return UniqueID(e.Device.ID, e.Description.Key)
}

// UniqueID joins a device id and description key.
func UniqueID(deviceID, key string) string {
	return deviceID + "_" + key
}

// Platform renders entities on the home automation host.
type Platform interface {
	// AddEntity registers a newly created or restored entity.
	AddEntity(ctx context.Context, e *Entity) error
	// WriteState pushes the current value of an entity. Repeating the same
	// value is harmless.
	WriteState(ctx context.Context, e *Entity) error
}

// Observer receives reconciliation outcomes, typically for metrics.
type Observer interface {
	EntityCreated(platform string)
	EntityUpdated(platform string)
	TransformFailed(platform, key string)
	HostWriteFailed(platform, key string)
}

type nopObserver struct{}

func (nopObserver) EntityCreated(string)           {}
func (nopObserver) EntityUpdated(string)           {}
func (nopObserver) TransformFailed(string, string) {}
func (nopObserver) HostWriteFailed(string, string) {}
