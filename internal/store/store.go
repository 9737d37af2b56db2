// Package store persists the last known state of every entity so that
// entities can be restored when the bridge restarts.
package store

import (
	"context"
	"fmt"
	"time"
)

// Backend names accepted by Open.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
	BackendNone  = "none"
)

// Record is the persisted state of one entity.
type Record struct {
	DeviceID   string    `json:"device_id"`
	VIN        string    `json:"vin"`
	DeviceName string    `json:"device_name,omitempty"`
	Platform   string    `json:"platform"`
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	Attributes Attrs     `json:"attributes,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Attrs holds extra entity attributes, such as device tracker coordinates.
type Attrs map[string]any

// ID is the unique key of the record within a store.
func (r Record) ID() string {
	return r.Platform + "/" + r.DeviceID + "/" + r.Key
}

// Store loads and saves entity records.
type Store interface {
	Load(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, rec Record) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend  string
	Path     string // file backend
	RedisURL string // redis backend
}

// Open returns the backend named in opts.
func Open(opts Options) (Store, error) {
	switch opts.Backend {
	case BackendFile, "":
		return NewFileStore(opts.Path)
	case BackendRedis:
		return NewRedisStore(opts.RedisURL)
	case BackendNone:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", opts.Backend)
	}
}
