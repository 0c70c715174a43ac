package decoders

import (
	"github.com/LoveWonYoung/obdtelemetry/internal/broker"
	"github.com/LoveWonYoung/obdtelemetry/internal/canio"
	"github.com/LoveWonYoung/obdtelemetry/internal/vehicle"
)

// VW MEB capability bits — front torque only applies to the AWD variant,
// matching the platform's RWD/AWD vehicle_config_t pair which differ only
// in whether DB_ITEM_FRONT_TORQUE (and so req_front_torque) is included.
const (
	VWMEBCapLVBatt       vehicle.Capability = 1 << 0
	VWMEBCapGPS          vehicle.Capability = 1 << 1
	VWMEBCapAuxKW        vehicle.Capability = 1 << 2
	VWMEBCapHVBattI      vehicle.Capability = 1 << 3
	VWMEBCapHVBattMinT   vehicle.Capability = 1 << 4
	VWMEBCapHVBattMaxT   vehicle.Capability = 1 << 5
	VWMEBCapHVBattV      vehicle.Capability = 1 << 6
	VWMEBCapFrontTorque  vehicle.Capability = 1 << 7
	VWMEBCapRearTorque   vehicle.Capability = 1 << 8
	VWMEBCapGearPosition vehicle.Capability = 1 << 9
	VWMEBCapSpeed        vehicle.Capability = 1 << 10

	vwMEBCapRWD = VWMEBCapLVBatt | VWMEBCapGPS | VWMEBCapAuxKW |
		VWMEBCapHVBattI | VWMEBCapHVBattMinT | VWMEBCapHVBattMaxT | VWMEBCapHVBattV |
		VWMEBCapRearTorque | VWMEBCapGearPosition | VWMEBCapSpeed

	vwMEBCapAWD = vwMEBCapRWD | VWMEBCapFrontTorque
)

const (
	vwMEB12vReqID        = 0x710
	vwMEB12vRspID        = 0x77A
	vwMEBGPSReqID        = 0x767
	vwMEBGPSRspID        = 0x7D1
	vwMEBPowertrainReqID = 0x17fc0076
	vwMEBPowertrainRspID = 0x17fe0076
	vwMEBBatteryReqID    = 0x17fc007b
	vwMEBBatteryRspID    = 0x17fe007b
	vwMEBSpeedReqID      = 0x18DB33F1
	vwMEBSpeedRspID      = 0x18DAF101

	vwMEBGearReverse = 0x07
)

// vwMEB decodes the Volkswagen MEB platform's UDS telemetry responses,
// shared between the RWD and AWD variants (the only difference is whether
// front_torque is in the filtered request catalogue, driven by capability).
type vwMEB struct {
	pub          broker.Publisher
	capabilities vehicle.Capability

	inReverse bool
}

// NewVWMEBRWD builds the rear-drive MEB decoder: no front motor, so no
// front-torque request is ever issued.
func NewVWMEBRWD(pub broker.Publisher) vehicle.Decoder {
	return &vwMEB{pub: pub, capabilities: vwMEBCapRWD}
}

// NewVWMEBAWD builds the dual-motor MEB decoder, adding the front-torque
// request to the RWD catalogue.
func NewVWMEBAWD(pub broker.Publisher) vehicle.Decoder {
	return &vwMEB{pub: pub, capabilities: vwMEBCapAWD}
}

func (d *vwMEB) Name() string {
	if d.capabilities&VWMEBCapFrontTorque != 0 {
		return "vw-meb-awd"
	}
	return "vw-meb-rwd"
}

func (d *vwMEB) Capabilities() vehicle.Capability { return d.capabilities }

func (d *vwMEB) NoteError(kind canio.ErrorKind) {}

func (d *vwMEB) Bitrate500k() bool { return true }

// Requests returns the platform's static request catalogue, gated by
// d.capabilities so the RWD variant never issues the front-torque request
// at all (not merely ignores its response) — matching the C firmware's
// build-time choice of two distinct vehicle_config_t structs rather than a
// single shared catalogue with a silently-unused entry.
func (d *vwMEB) Requests() []vehicle.RequestDescriptor {
	all := []vehicle.RequestDescriptor{
		{
			Name:       "12v_batt_info",
			ReqID:      vwMEB12vReqID,
			RspID:      vwMEB12vRspID,
			Request:    []byte{0x22, 0x2A, 0xF7},
			Capability: VWMEBCapLVBatt,
			Decode:     d.decode12vBattInfo,
		},
		{
			Name:       "gps_info",
			ReqID:      vwMEBGPSReqID,
			RspID:      vwMEBGPSRspID,
			Request:    []byte{0x22, 0x24, 0x30},
			Capability: VWMEBCapGPS,
			Decode:     d.decodeGPSInfo,
		},
		{
			Name:       "aux_power",
			ReqID:      vwMEBPowertrainReqID,
			RspID:      vwMEBPowertrainRspID,
			Request:    []byte{0x22, 0x03, 0x64},
			Capability: VWMEBCapAuxKW,
			Decode:     d.decodeAuxPower,
		},
		{
			Name:       "hv_batt_current",
			ReqID:      vwMEBBatteryReqID,
			RspID:      vwMEBBatteryRspID,
			Request:    []byte{0x22, 0x1E, 0x3D},
			Capability: VWMEBCapHVBattI,
			Decode:     d.decodeHVBattCurrent,
		},
		{
			Name:       "hv_batt_min_t",
			ReqID:      vwMEBBatteryReqID,
			RspID:      vwMEBBatteryRspID,
			Request:    []byte{0x22, 0x1E, 0x0F},
			Capability: VWMEBCapHVBattMinT,
			Decode:     d.decodeHVBattMinT,
		},
		{
			Name:       "hv_batt_max_t",
			ReqID:      vwMEBBatteryReqID,
			RspID:      vwMEBBatteryRspID,
			Request:    []byte{0x22, 0x1E, 0x0E},
			Capability: VWMEBCapHVBattMaxT,
			Decode:     d.decodeHVBattMaxT,
		},
		{
			Name:       "hv_batt_volt",
			ReqID:      vwMEBBatteryReqID,
			RspID:      vwMEBBatteryRspID,
			Request:    []byte{0x22, 0x1E, 0x3B},
			Capability: VWMEBCapHVBattV,
			// hv_batt_volt doubles as an aux-power dependency in the
			// firmware's _vw_meb_set_req_mask table.
			RequiredBy: VWMEBCapHVBattV | VWMEBCapAuxKW,
			Decode:     d.decodeHVBattVolt,
		},
		{
			Name:       "front_torque",
			ReqID:      vwMEBPowertrainReqID,
			RspID:      vwMEBPowertrainRspID,
			Request:    []byte{0x22, 0x03, 0x35},
			Capability: VWMEBCapFrontTorque,
			Decode:     d.decodeFrontTorque,
		},
		{
			Name:       "rear_torque",
			ReqID:      vwMEBPowertrainReqID,
			RspID:      vwMEBPowertrainRspID,
			Request:    []byte{0x22, 0x03, 0x3B},
			Capability: VWMEBCapRearTorque,
			Decode:     d.decodeRearTorque,
		},
		{
			Name:       "gear_position",
			ReqID:      vwMEBPowertrainReqID,
			RspID:      vwMEBPowertrainRspID,
			Request:    []byte{0x22, 0x21, 0x0E},
			Capability: VWMEBCapGearPosition,
			// Needed whenever either torque request is active, matching the
			// firmware's _vw_meb_set_req_mask table — not gated on its own
			// standalone capability bit.
			RequiredBy: VWMEBCapFrontTorque | VWMEBCapRearTorque,
			Decode:     d.decodeGearPosition,
		},
		{
			Name:       "speed",
			ReqID:      vwMEBSpeedReqID,
			RspID:      vwMEBSpeedRspID,
			Request:    []byte{0x01, 0x0D},
			Capability: VWMEBCapSpeed,
			Decode:     d.decodeSpeed,
		},
	}

	filtered := make([]vehicle.RequestDescriptor, 0, len(all))
	for _, r := range all {
		if r.Capability&d.capabilities != 0 {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

func (d *vwMEB) decode12vBattInfo(resp []byte, pub broker.Publisher) error {
	if len(resp) != 26 {
		return vehicle.ErrShortResponse
	}
	v := float64(uint16At(resp, 3))/1024.0 + 4.26
	i := float64(int32At(resp, 5)) / 1024.0
	pub.Publish(broker.ItemLVBattV, v)
	pub.Publish(broker.ItemLVBattI, i)
	return nil
}

func (d *vwMEB) decodeGPSInfo(resp []byte, pub broker.Publisher) error {
	if len(resp) != 33 {
		return vehicle.ErrShortResponse
	}
	raw := int16At(resp, 31)
	pub.Publish(broker.ItemGPSElevation, float64(raw)-501.0)
	return nil
}

func (d *vwMEB) decodeAuxPower(resp []byte, pub broker.Publisher) error {
	if len(resp) != 5 {
		return vehicle.ErrShortResponse
	}
	raw := int16At(resp, 3)
	pub.Publish(broker.ItemAuxKW, float64(raw)/10.0)
	return nil
}

func (d *vwMEB) decodeHVBattCurrent(resp []byte, pub broker.Publisher) error {
	if len(resp) != 8 {
		return vehicle.ErrShortResponse
	}
	raw := int32At(resp, 3)
	pub.Publish(broker.ItemHVBattI, float64(raw-150000)/100.0)
	return nil
}

func (d *vwMEB) decodeHVBattMinT(resp []byte, pub broker.Publisher) error {
	if len(resp) != 7 {
		return vehicle.ErrShortResponse
	}
	raw := int16At(resp, 3) / 64
	pub.Publish(broker.ItemHVBattMinT, float64(raw))
	return nil
}

func (d *vwMEB) decodeHVBattMaxT(resp []byte, pub broker.Publisher) error {
	if len(resp) != 7 {
		return vehicle.ErrShortResponse
	}
	raw := int16At(resp, 3) / 64
	pub.Publish(broker.ItemHVBattMaxT, float64(raw))
	return nil
}

func (d *vwMEB) decodeHVBattVolt(resp []byte, pub broker.Publisher) error {
	if len(resp) != 5 {
		return vehicle.ErrShortResponse
	}
	raw := int16At(resp, 3)
	pub.Publish(broker.ItemHVBattV, float64(raw)/4.0)
	return nil
}

// decodeFrontTorque and decodeRearTorque negate the raw torque value while
// in reverse: the MEB's reported torque is the actual value delivered to
// the motor, so going in reverse reads the same as regen braking while
// driving forward — negating it when in_reverse keeps a forward-motion
// request reading positive regardless of gear.
func (d *vwMEB) decodeFrontTorque(resp []byte, pub broker.Publisher) error {
	if len(resp) != 5 {
		return vehicle.ErrShortResponse
	}
	torque := float64(int16At(resp, 3))
	if d.inReverse {
		torque = -torque
	}
	pub.Publish(broker.ItemFrontTorque, torque)
	return nil
}

func (d *vwMEB) decodeRearTorque(resp []byte, pub broker.Publisher) error {
	if len(resp) != 5 {
		return vehicle.ErrShortResponse
	}
	torque := float64(int16At(resp, 3))
	if d.inReverse {
		torque = -torque
	}
	pub.Publish(broker.ItemRearTorque, torque)
	return nil
}

func (d *vwMEB) decodeGearPosition(resp []byte, pub broker.Publisher) error {
	if len(resp) != 5 {
		return vehicle.ErrShortResponse
	}
	d.inReverse = resp[4] == vwMEBGearReverse
	return nil
}

func (d *vwMEB) decodeSpeed(resp []byte, pub broker.Publisher) error {
	if len(resp) != 3 {
		return vehicle.ErrShortResponse
	}
	pub.Publish(broker.ItemSpeed, float64(resp[2]))
	return nil
}
