package decoders

import (
	"github.com/LoveWonYoung/obdtelemetry/internal/broker"
	"github.com/LoveWonYoung/obdtelemetry/internal/canio"
	"github.com/LoveWonYoung/obdtelemetry/internal/vehicle"
)

// Leaf ZE1 capability bits gate which requests the round-robin evaluator is
// allowed to issue for a given vehicle configuration — a different bit
// space from broker.Item, matching the platform's own vm_mask_check table.
const (
	LeafCapFrontTorque vehicle.Capability = 1 << 0
	LeafCapLVBattV     vehicle.Capability = 1 << 1
	LeafCapLVBattI     vehicle.Capability = 1 << 2
	LeafCapAuxKW       vehicle.Capability = 1 << 3
	LeafCapSpeed       vehicle.Capability = 1 << 4
	LeafCapHVBattIV    vehicle.Capability = 1 << 5
	LeafCapHVBattTemp  vehicle.Capability = 1 << 6

	LeafCapAll = LeafCapFrontTorque | LeafCapLVBattV | LeafCapLVBattI |
		LeafCapAuxKW | LeafCapSpeed | LeafCapHVBattIV | LeafCapHVBattTemp
)

const (
	leafBodyReqID  = 0x797
	leafBodyRspID  = 0x79A
	leafHVReqID    = 0x79B
	leafHVRspID    = 0x7BB
	leafMotorReqID = 0x784
	leafMotorRspID = 0x78C

	leafGearReverse = 2
)

// leafZE1 decodes the Nissan Leaf ZE1 (2018+) platform's UDS telemetry
// responses, publishing to the data broker. Front-wheel torque needs the
// gear-position response's reverse-gear flag, carried as decoder-local state
// between ticks exactly like the firmware's static in_reverse variable, and
// the two aux-power requests combine into one published quantity exactly
// like the firmware's static lv_aux_kw/ac_aux_kw pair.
type leafZE1 struct {
	pub broker.Publisher

	inReverse bool
	lvAuxKW   float64
	acAuxKW   float64
}

// NewLeafZE1 builds the Leaf ZE1 decoder, publishing decoded values to pub.
func NewLeafZE1(pub broker.Publisher) vehicle.Decoder {
	return &leafZE1{pub: pub}
}

func (d *leafZE1) Name() string { return "nissan-leaf-ze1" }

func (d *leafZE1) Capabilities() vehicle.Capability { return LeafCapAll }

func (d *leafZE1) NoteError(kind canio.ErrorKind) {}

func (d *leafZE1) Bitrate500k() bool { return true }

// Requests returns the platform's static request catalogue. Every entry's
// Request field is the bare UDS payload (SID + sub-bytes); the ISO-TP
// single-frame PCI byte and zero padding the firmware's literal byte arrays
// carried inline is now applied by internal/isotp at transmit time.
//
// No entry sets RequiredBy explicitly: on this single-variant platform the
// firmware's _leaf_ze1_set_req_mask dependency table collapses onto the
// same bit as the vehicle-variant Capability gate for every entry (e.g.
// gear_position and front_torque are both needed exactly when
// LeafCapFrontTorque is wanted), so vehicle.Manager's Capability fallback
// already reproduces it.
func (d *leafZE1) Requests() []vehicle.RequestDescriptor {
	return []vehicle.RequestDescriptor{
		{
			Name:       "gear_position",
			ReqID:      leafBodyReqID,
			RspID:      leafBodyRspID,
			Request:    []byte{0x22, 0x11, 0x56},
			Capability: LeafCapFrontTorque,
			Decode:     d.decodeGearPosition,
		},
		{
			Name:       "12v_batt_v",
			ReqID:      leafBodyReqID,
			RspID:      leafBodyRspID,
			Request:    []byte{0x22, 0x11, 0x03},
			Capability: LeafCapLVBattV,
			Decode:     d.decode12vBattV,
		},
		{
			Name:       "12v_batt_i",
			ReqID:      leafBodyReqID,
			RspID:      leafBodyRspID,
			Request:    []byte{0x22, 0x11, 0x83},
			Capability: LeafCapLVBattI,
			Decode:     d.decode12vBattI,
		},
		{
			Name:       "lv_aux_pwr",
			ReqID:      leafBodyReqID,
			RspID:      leafBodyRspID,
			Request:    []byte{0x22, 0x11, 0x52},
			Capability: LeafCapAuxKW,
			Decode:     d.decodeLVAuxPwr,
		},
		{
			Name:       "ac_aux_pwr",
			ReqID:      leafBodyReqID,
			RspID:      leafBodyRspID,
			Request:    []byte{0x22, 0x11, 0x51},
			Capability: LeafCapAuxKW,
			Decode:     d.decodeACAuxPwr,
		},
		{
			Name:       "vehicle_speed",
			ReqID:      leafBodyReqID,
			RspID:      leafBodyRspID,
			Request:    []byte{0x22, 0x12, 0x1A},
			Capability: LeafCapSpeed,
			Decode:     d.decodeSpeed,
		},
		{
			Name:       "hv_batt_info",
			ReqID:      leafHVReqID,
			RspID:      leafHVRspID,
			Request:    []byte{0x21, 0x01},
			Capability: LeafCapHVBattIV,
			Decode:     d.decodeHVBattInfo,
		},
		{
			Name:       "hv_batt_temp",
			ReqID:      leafHVReqID,
			RspID:      leafHVRspID,
			Request:    []byte{0x21, 0x04},
			Capability: LeafCapHVBattTemp,
			Decode:     d.decodeHVBattTemp,
		},
		{
			Name:       "front_torque",
			ReqID:      leafMotorReqID,
			RspID:      leafMotorRspID,
			Request:    []byte{0x22, 0x12, 0x25},
			Capability: LeafCapFrontTorque,
			Decode:     d.decodeTorque,
		},
	}
}

func (d *leafZE1) decodeGearPosition(resp []byte, pub broker.Publisher) error {
	if len(resp) != 4 {
		return vehicle.ErrShortResponse
	}
	d.inReverse = resp[3] == leafGearReverse
	return nil
}

func (d *leafZE1) decode12vBattV(resp []byte, pub broker.Publisher) error {
	if len(resp) != 4 {
		return vehicle.ErrShortResponse
	}
	pub.Publish(broker.ItemLVBattV, float64(resp[3])*0.08)
	return nil
}

func (d *leafZE1) decode12vBattI(resp []byte, pub broker.Publisher) error {
	if len(resp) != 5 {
		return vehicle.ErrShortResponse
	}
	raw := int16At(resp, 3)
	pub.Publish(broker.ItemLVBattI, float64(raw)/256.0)
	return nil
}

func (d *leafZE1) decodeLVAuxPwr(resp []byte, pub broker.Publisher) error {
	if len(resp) != 4 {
		return vehicle.ErrShortResponse
	}
	d.lvAuxKW = float64(resp[3]) * 0.1
	pub.Publish(broker.ItemAuxKW, d.lvAuxKW+d.acAuxKW)
	return nil
}

func (d *leafZE1) decodeACAuxPwr(resp []byte, pub broker.Publisher) error {
	if len(resp) != 4 {
		return vehicle.ErrShortResponse
	}
	d.acAuxKW = float64(resp[3]) * 0.250
	pub.Publish(broker.ItemAuxKW, d.lvAuxKW+d.acAuxKW)
	return nil
}

func (d *leafZE1) decodeSpeed(resp []byte, pub broker.Publisher) error {
	if len(resp) != 5 {
		return vehicle.ErrShortResponse
	}
	raw := uint16At(resp, 3)
	pub.Publish(broker.ItemSpeed, float64(raw)/10.0)
	return nil
}

// decodeHVBattInfo publishes HV battery current and voltage from a large
// aggregated response; only two of its many fields are read, matching the
// firmware's choice of its "more accurate" second current reading over the
// first (left commented out there, not carried forward here at all).
func (d *leafZE1) decodeHVBattInfo(resp []byte, pub broker.Publisher) error {
	if len(resp) != 53 {
		return vehicle.ErrShortResponse
	}
	current := int32At(resp, 8)
	voltage := uint16At(resp, 20)
	pub.Publish(broker.ItemHVBattI, float64(current)/1024.0)
	pub.Publish(broker.ItemHVBattV, float64(voltage)/100.0)
	return nil
}

// decodeHVBattTemp reads three of the response's four raw cell-group
// temperature fields — the firmware reads a fourth (its index 2, at
// resp[8:10]) but leaves it commented out as "Not used in ZE1" — converts
// each through the platform's piecewise curve, and publishes the min and
// max across the three.
func (d *leafZE1) decodeHVBattTemp(resp []byte, pub broker.Publisher) error {
	if len(resp) != 31 {
		return vehicle.ErrShortResponse
	}
	t0 := fahrenheitToCelsius(hvBattRawToFahrenheit(int16At(resp, 2)))
	t1 := fahrenheitToCelsius(hvBattRawToFahrenheit(int16At(resp, 5)))
	t3 := fahrenheitToCelsius(hvBattRawToFahrenheit(int16At(resp, 11)))

	min, max := t0, t0
	for _, t := range []float64{t1, t3} {
		if t < min {
			min = t
		}
		if t > max {
			max = t
		}
	}
	pub.Publish(broker.ItemHVBattMinT, min)
	pub.Publish(broker.ItemHVBattMaxT, max)
	return nil
}

func (d *leafZE1) decodeTorque(resp []byte, pub broker.Publisher) error {
	if len(resp) != 5 {
		return vehicle.ErrShortResponse
	}
	raw := int16At(resp, 3)
	torque := float64(raw) / 64.0
	if d.inReverse {
		torque = -torque
	}
	pub.Publish(broker.ItemFrontTorque, torque)
	return nil
}
