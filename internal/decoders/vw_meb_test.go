package decoders

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/LoveWonYoung/obdtelemetry/internal/broker"
)

func findVWDecode(t *testing.T, dec *vwMEB, name string) func([]byte, broker.Publisher) error {
	t.Helper()
	for _, r := range dec.Requests() {
		if r.Name == name {
			return r.Decode
		}
	}
	t.Fatalf("request %q not found", name)
	return nil
}

func TestVWMEBRWDHasNoFrontTorqueRequest(t *testing.T) {
	dec := NewVWMEBRWD(nil)
	for _, r := range dec.Requests() {
		require.NotEqual(t, "front_torque", r.Name)
	}
}

func TestVWMEBAWDHasFrontTorqueRequest(t *testing.T) {
	dec := NewVWMEBAWD(nil)
	found := false
	for _, r := range dec.Requests() {
		if r.Name == "front_torque" {
			found = true
		}
	}
	require.True(t, found)
}

func TestVWMEB12vBattInfo(t *testing.T) {
	dec := NewVWMEBRWD(nil).(*vwMEB)
	decode := findVWDecode(t, dec, "12v_batt_info")

	resp := make([]byte, 26)
	resp[3], resp[4] = 0x00, 0x00
	resp[5], resp[6], resp[7], resp[8] = 0, 0, 0x04, 0x00 // 1024 -> 1.0A

	pub := newFakePublisher()
	require.NoError(t, decode(resp, pub))
	require.InDelta(t, 4.26, pub.values[broker.ItemLVBattV], 0.001)
	require.InDelta(t, 1.0, pub.values[broker.ItemLVBattI], 0.001)
}

func TestVWMEBHVBattCurrentOffset(t *testing.T) {
	dec := NewVWMEBRWD(nil).(*vwMEB)
	decode := findVWDecode(t, dec, "hv_batt_current")

	resp := make([]byte, 8)
	// raw 150000 -> (150000-150000)/100 == 0
	resp[3] = byte(150000 >> 24)
	resp[4] = byte(150000 >> 16)
	resp[5] = byte(150000 >> 8)
	resp[6] = byte(150000)

	pub := newFakePublisher()
	require.NoError(t, decode(resp, pub))
	require.InDelta(t, 0.0, pub.values[broker.ItemHVBattI], 0.001)
}

func TestVWMEBTorqueFlipsOnReverse(t *testing.T) {
	dec := NewVWMEBAWD(nil).(*vwMEB)
	gear := findVWDecode(t, dec, "gear_position")
	torque := findVWDecode(t, dec, "front_torque")

	pub := newFakePublisher()
	require.NoError(t, torque([]byte{0x62, 0x03, 0x35, 0x00, 0x64}, pub))
	require.InDelta(t, 100.0, pub.values[broker.ItemFrontTorque], 0.01)

	require.NoError(t, gear([]byte{0x62, 0x21, 0x0E, 0x00, vwMEBGearReverse}, pub))
	require.NoError(t, torque([]byte{0x62, 0x03, 0x35, 0x00, 0x64}, pub))
	require.InDelta(t, -100.0, pub.values[broker.ItemFrontTorque], 0.01)
}

func TestVWMEBSpeed(t *testing.T) {
	dec := NewVWMEBRWD(nil).(*vwMEB)
	decode := findVWDecode(t, dec, "speed")

	pub := newFakePublisher()
	require.NoError(t, decode([]byte{0x41, 0x0D, 88}, pub))
	require.InDelta(t, 88.0, pub.values[broker.ItemSpeed], 0.01)
}

func TestVWMEBShortResponseErrors(t *testing.T) {
	dec := NewVWMEBAWD(nil)
	for _, r := range dec.Requests() {
		err := r.Decode([]byte{0x62}, newFakePublisher())
		require.Error(t, err)
	}
}
