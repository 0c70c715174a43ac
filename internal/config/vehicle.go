package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// VehicleProfile selects which decoder to build and how to configure the
// data broker for it — the YAML counterpart of the firmware's compile-time
// vehicle_config_t selection.
type VehicleProfile struct {
	// Platform names the decoder to build: "nissan-leaf-ze1", "vw-meb-rwd",
	// or "vw-meb-awd".
	Platform string `yaml:"platform"`

	// FastAverage enables two-sample averaging on every broker publish.
	FastAverage bool `yaml:"fast_average"`
}

// DefaultVehicleProfile matches a Leaf ZE1 with fast averaging off.
func DefaultVehicleProfile() *VehicleProfile {
	return &VehicleProfile{
		Platform:    "nissan-leaf-ze1",
		FastAverage: false,
	}
}

// LoadVehicleProfile reads path as YAML, falling back to defaults if the
// file doesn't exist — matching the ambient config package's pattern of
// tolerating a missing config rather than failing the daemon's startup.
func LoadVehicleProfile(path string) (*VehicleProfile, error) {
	profile := DefaultVehicleProfile()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return profile, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read vehicle profile %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("parse vehicle profile %s: %w", path, err)
	}
	return profile, nil
}
