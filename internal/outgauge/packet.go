// Package outgauge receives and decodes the OutGauge telemetry stream that
// BeamNG.drive (LFS wire format) sends over UDP.
package outgauge

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// PacketSize is the full OutGauge frame including the trailing ID.
	PacketSize = 96
	// packetSizeNoID is the legacy frame without the optional ID field.
	packetSizeNoID = 92
)

// Packet is one OutGauge datagram. All fields are little-endian on the wire.
type Packet struct {
	Time        uint32  // game time, ms
	Car         [4]byte // car short name
	Flags       uint16
	Gear        byte // 0 reverse, 1 neutral, 2+ forward
	PLID        byte
	Speed       float32 // m/s
	RPM         float32
	Turbo       float32 // bar
	EngTemp     float32 // °C
	Fuel        float32 // 0..1
	OilPressure float32 // bar
	OilTemp     float32 // °C
	DashLights  uint32
	ShowLights  uint32
	Throttle    float32 // 0..1
	Brake       float32 // 0..1
	Clutch      float32 // 0..1
	Display1    [16]byte
	Display2    [16]byte
	ID          int32 // optional, only in 96-byte frames
}

// Decode parses a 92- or 96-byte OutGauge frame.
func Decode(b []byte) (Packet, error) {
	if len(b) != PacketSize && len(b) != packetSizeNoID {
		return Packet{}, fmt.Errorf("outgauge: bad frame length %d", len(b))
	}

	le := binary.LittleEndian
	f32 := func(off int) float32 {
		return math.Float32frombits(le.Uint32(b[off : off+4]))
	}

	var p Packet
	p.Time = le.Uint32(b[0:4])
	copy(p.Car[:], b[4:8])
	p.Flags = le.Uint16(b[8:10])
	p.Gear = b[10]
	p.PLID = b[11]
	p.Speed = f32(12)
	p.RPM = f32(16)
	p.Turbo = f32(20)
	p.EngTemp = f32(24)
	p.Fuel = f32(28)
	p.OilPressure = f32(32)
	p.OilTemp = f32(36)
	p.DashLights = le.Uint32(b[40:44])
	p.ShowLights = le.Uint32(b[44:48])
	p.Throttle = f32(48)
	p.Brake = f32(52)
	p.Clutch = f32(56)
	copy(p.Display1[:], b[60:76])
	copy(p.Display2[:], b[76:92])
	if len(b) == PacketSize {
		p.ID = int32(le.Uint32(b[92:96]))
	}
	return p, nil
}

// SpeedKMH returns the vehicle speed in km/h, rounded to two decimals.
func (p Packet) SpeedKMH() float64 {
	return math.Round(float64(p.Speed)*3.6*100) / 100
}
