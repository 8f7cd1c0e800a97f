// Package vlp16 decodes Velodyne VLP-16 telemetry packets.
//
// The sensor emits fixed-size 1206-byte UDP payloads: 12 data blocks of 100
// bytes followed by a 6-byte tail. Each block carries a 2-byte preamble
// (0xEEFF), a 2-byte azimuth in 0.01-degree units, and 32 channel records of
// 2-byte distance (2 mm units) plus 1-byte reflectivity. The 16 lasers fire
// twice per block, so channel indexes 16-31 repeat lasers 0-15. The tail holds
// a 4-byte microsecond timestamp, the return-mode byte and the product ID.
//
// This decoder exists for the live-preview path only: it confirms that a
// datagram is parseable sensor telemetry and produces a point batch for
// display. The capture path persists raw datagrams without ever consulting it.
package vlp16

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/banshee-data/lidarcap/internal/lidar"
)

// VLP-16 packet structure constants.
const (
	PacketSize       = 1206   // fixed UDP payload size
	BlocksPerPacket  = 12     // data blocks per packet
	ChannelsPerBlock = 32     // channel records per block (16 lasers fired twice)
	LaserCount       = 16     // physical laser channels
	BlockSize        = 100    // preamble + azimuth + 32 * 3 bytes
	BlockPreamble    = 0xEEFF // little-endian block start marker
	TailOffset       = BlocksPerPacket * BlockSize

	// Physical measurement conversion constants.
	DistanceResolution = 0.002 // meters per LSB
	AzimuthResolution  = 0.01  // degrees per LSB
	RotationMaxUnits   = 36000 // raw azimuth value for 360.00 degrees

	// Tail factory bytes.
	ReturnModeStrongest = 0x37
	ReturnModeLast      = 0x38
	ReturnModeDual      = 0x39
	ProductIDVLP16      = 0x22
)

// elevationByLaser is the fixed VLP-16 beam table: vertical angle in degrees
// for each of the 16 lasers, in firing order.
var elevationByLaser = [LaserCount]float64{
	-15, 1, -13, 3, -11, 5, -9, 7, -7, 9, -5, 11, -3, 13, -1, 15,
}

// PointBatch is the decoded content of one telemetry packet.
type PointBatch struct {
	Timestamp    time.Time // host arrival time of the datagram
	DeviceMicros uint32    // sensor clock, microseconds past the hour
	ReturnMode   byte
	ProductID    byte
	Points       []lidar.PointPolar
}

// Decoder parses VLP-16 packets into point batches. The zero value is ready
// for use.
type Decoder struct {
	lastAzimuth uint16
}

// NewDecoder creates a Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode parses a raw datagram captured at ts. It returns an error when the
// payload is not valid VLP-16 telemetry (wrong size or bad block preamble);
// callers on the preview path skip such datagrams.
func (d *Decoder) Decode(ts time.Time, payload []byte) (*PointBatch, error) {
	if len(payload) != PacketSize {
		return nil, fmt.Errorf("invalid packet size: got %d bytes, want %d", len(payload), PacketSize)
	}

	batch := &PointBatch{
		Timestamp:    ts,
		DeviceMicros: binary.LittleEndian.Uint32(payload[TailOffset:]),
		ReturnMode:   payload[TailOffset+4],
		ProductID:    payload[TailOffset+5],
		Points:       make([]lidar.PointPolar, 0, BlocksPerPacket*ChannelsPerBlock),
	}

	for block := 0; block < BlocksPerPacket; block++ {
		base := block * BlockSize
		if preamble := binary.LittleEndian.Uint16(payload[base:]); preamble != BlockPreamble {
			return nil, fmt.Errorf("block %d: bad preamble 0x%04X", block, preamble)
		}

		rawAzimuth := binary.LittleEndian.Uint16(payload[base+2:])
		if rawAzimuth >= RotationMaxUnits {
			return nil, fmt.Errorf("block %d: azimuth %d out of range", block, rawAzimuth)
		}
		d.lastAzimuth = rawAzimuth
		azimuth := float64(rawAzimuth) * AzimuthResolution

		for ch := 0; ch < ChannelsPerBlock; ch++ {
			rec := base + 4 + ch*3
			rawDistance := binary.LittleEndian.Uint16(payload[rec:])
			if rawDistance == 0 {
				continue // no return on this channel
			}
			laser := ch % LaserCount
			batch.Points = append(batch.Points, lidar.PointPolar{
				Channel:   laser,
				Azimuth:   azimuth,
				Elevation: elevationByLaser[laser],
				Distance:  float64(rawDistance) * DistanceResolution,
				Intensity: payload[rec+2],
			})
		}
	}

	return batch, nil
}

// LastAzimuth returns the raw azimuth of the most recently decoded block, in
// 0.01-degree units.
func (d *Decoder) LastAzimuth() uint16 {
	return d.lastAzimuth
}

// ReturnModeName maps a tail return-mode byte to its setting name.
func ReturnModeName(b byte) string {
	switch b {
	case ReturnModeStrongest:
		return "strongest"
	case ReturnModeLast:
		return "last"
	case ReturnModeDual:
		return "dual"
	default:
		return fmt.Sprintf("unknown(0x%02X)", b)
	}
}
