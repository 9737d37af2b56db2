package device

import (
	"strings"
	"unicode"

	"github.com/gosimple/slug"
)

// idPrefix is prepended to the VIN before slugifying.
const idPrefix = "leaf_"

// Manufacturer reported for every Leaf Spy device.
const Manufacturer = "Nissan"

// ID derives the stable device identifier from a VIN: the slug of
// "leaf_" + VIN, lower-case, with every run of non-alphanumeric characters
// collapsed into a single underscore. The result depends on nothing but the
// VIN.
func ID(vin string) string {
	// slug spells out symbols such as & and @; separators are wanted instead.
	vin = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return '_'
	}, vin)
	s := slug.Make(idPrefix + vin)
	s = strings.ReplaceAll(s, "-", "_")
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return strings.Trim(s, "_")
}

// Model returns the model part of a VIN, i.e. everything before the first
// dash. Leaf Spy appends a suffix to the VIN it reports.
func Model(vin string) string {
	model, _, _ := strings.Cut(vin, "-")
	return model
}

// Info describes a device for the host platform's device registry.
type Info struct {
	ID           string
	VIN          string
	Name         string
	Manufacturer string
	Model        string
}

// NewInfo builds the registry description for vin. An empty name falls back
// to "Leaf".
func NewInfo(vin, name string) Info {
	if name == "" {
		name = "Leaf"
	}
	return Info{
		ID:           ID(vin),
		VIN:          vin,
		Name:         name,
		Manufacturer: Manufacturer,
		Model:        Model(vin),
	}
}
