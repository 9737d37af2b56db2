package device

import (
	"net/url"
	"testing"

	"github.com/jkaberg/leafspy-hass/internal/leafspy"
)

func TestID(t *testing.T) {
	testCases := []struct {
		vin      string
		expected string
	}{
		{"1N4AZ0CP7F-123456", "leaf_1n4az0cp7f_123456"},
		{"SJNFAAZE0U6012345", "leaf_sjnfaaze0u6012345"},
		{"abc  --  123", "leaf_abc_123"},
		{"VIN/with.dots", "leaf_vin_with_dots"},
		{"ABC&123", "leaf_abc_123"},
		{"ABC@123", "leaf_abc_123"},
	}
	for _, tc := range testCases {
		t.Run(tc.vin, func(t *testing.T) {
			if got := ID(tc.vin); got != tc.expected {
				t.Errorf("expected %q, got %q", tc.expected, got)
			}
		})
	}
}

func TestID_Deterministic(t *testing.T) {
	vin := "1N4AZ0CP7F-123456"
	first := ID(vin)
	for i := 0; i < 10; i++ {
		if got := ID(vin); got != first {
			t.Fatalf("expected stable id %q, got %q", first, got)
		}
	}
	if ID("1N4AZ0CP7F-123457") == first {
		t.Error("expected distinct VINs to yield distinct ids")
	}
}

func TestNewInfo(t *testing.T) {
	info := NewInfo("1N4AZ0CP7F-123456", "")
	if info.Name != "Leaf" {
		t.Errorf("expected default name Leaf, got %q", info.Name)
	}
	if info.Manufacturer != "Nissan" {
		t.Errorf("expected manufacturer Nissan, got %q", info.Manufacturer)
	}
	if info.Model != "1N4AZ0CP7F" {
		t.Errorf("expected model 1N4AZ0CP7F, got %q", info.Model)
	}
	if info.ID != "leaf_1n4az0cp7f_123456" {
		t.Errorf("unexpected id %q", info.ID)
	}
}

type fakeRegistry map[string]bool

func (f fakeRegistry) HasDevice(id string) bool { return f[id] }

func TestResolver_Resolve(t *testing.T) {
	msg, err := leafspy.Decode(url.Values{"VIN": []string{"1N4AZ0CP7F-123456"}})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	reg := fakeRegistry{}
	r := NewResolver(reg, "My Leaf")

	res, err := r.Resolve(msg)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if !res.New {
		t.Error("expected unknown device to resolve as new")
	}
	if res.Device.Name != "My Leaf" {
		t.Errorf("expected name My Leaf, got %q", res.Device.Name)
	}

	reg[res.Device.ID] = true
	res, err = r.Resolve(msg)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if res.New {
		t.Error("expected known device to resolve as update")
	}
}

func TestResolver_RejectsMissingVIN(t *testing.T) {
	r := NewResolver(fakeRegistry{}, "")
	if _, err := r.Resolve(&leafspy.Message{}); err == nil {
		t.Error("expected error for message without VIN")
	}
	if _, err := r.Resolve(nil); err == nil {
		t.Error("expected error for nil message")
	}
}

func TestRegistries(t *testing.T) {
	rs := Registries{fakeRegistry{}, fakeRegistry{"leaf_a": true}}
	if !rs.HasDevice("leaf_a") {
		t.Error("expected leaf_a to be known")
	}
	if rs.HasDevice("leaf_b") {
		t.Error("expected leaf_b to be unknown")
	}
	if (Registries{}).HasDevice("leaf_a") {
		t.Error("expected empty registries to know nothing")
	}
}
