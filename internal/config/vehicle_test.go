package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadVehicleProfileMissingFileReturnsDefaults(t *testing.T) {
	profile, err := LoadVehicleProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultVehicleProfile(), profile)
}

func TestLoadVehicleProfileParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vehicle.yaml")
	require.NoError(t, os.WriteFile(path, []byte("platform: vw-meb-awd\nfast_average: true\n"), 0o644))

	profile, err := LoadVehicleProfile(path)
	require.NoError(t, err)
	require.Equal(t, "vw-meb-awd", profile.Platform)
	require.True(t, profile.FastAverage)
}

func TestLoadVehicleProfileRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vehicle.yaml")
	require.NoError(t, os.WriteFile(path, []byte("platform: [unterminated"), 0o644))

	_, err := LoadVehicleProfile(path)
	require.Error(t, err)
}
