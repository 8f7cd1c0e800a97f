package vlp16

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

// buildTestPacket creates a valid VLP-16 packet. Each block carries the given
// azimuth and a single return on laser 0 with the given raw distance.
func buildTestPacket(rawAzimuth uint16, rawDistance uint16) []byte {
	packet := make([]byte, PacketSize)
	for block := 0; block < BlocksPerPacket; block++ {
		base := block * BlockSize
		binary.LittleEndian.PutUint16(packet[base:], BlockPreamble)
		binary.LittleEndian.PutUint16(packet[base+2:], rawAzimuth)
		binary.LittleEndian.PutUint16(packet[base+4:], rawDistance)
		packet[base+6] = 42 // reflectivity for laser 0
	}
	binary.LittleEndian.PutUint32(packet[TailOffset:], 123456)
	packet[TailOffset+4] = ReturnModeDual
	packet[TailOffset+5] = ProductIDVLP16
	return packet
}

func TestDecodeValidPacket(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	packet := buildTestPacket(9000, 1000) // 90.00 deg, 2.0 m

	batch, err := NewDecoder().Decode(ts, packet)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if !batch.Timestamp.Equal(ts) {
		t.Errorf("batch timestamp = %v, want %v", batch.Timestamp, ts)
	}
	if batch.DeviceMicros != 123456 {
		t.Errorf("device micros = %d, want 123456", batch.DeviceMicros)
	}
	if batch.ReturnMode != ReturnModeDual || batch.ProductID != ProductIDVLP16 {
		t.Errorf("tail bytes = 0x%02X/0x%02X", batch.ReturnMode, batch.ProductID)
	}

	// One return per block (zero-distance channels are skipped).
	if len(batch.Points) != BlocksPerPacket {
		t.Fatalf("point count = %d, want %d", len(batch.Points), BlocksPerPacket)
	}
	p := batch.Points[0]
	if p.Channel != 0 {
		t.Errorf("channel = %d, want 0", p.Channel)
	}
	if math.Abs(p.Azimuth-90.0) > 1e-9 {
		t.Errorf("azimuth = %f, want 90.0", p.Azimuth)
	}
	if math.Abs(p.Distance-2.0) > 1e-9 {
		t.Errorf("distance = %f, want 2.0", p.Distance)
	}
	if math.Abs(p.Elevation-(-15.0)) > 1e-9 {
		t.Errorf("elevation = %f, want -15.0", p.Elevation)
	}
	if p.Intensity != 42 {
		t.Errorf("intensity = %d, want 42", p.Intensity)
	}
}

func TestDecodeRejectsWrongSize(t *testing.T) {
	d := NewDecoder()
	for _, size := range []int{0, 100, PacketSize - 1, PacketSize + 1} {
		if _, err := d.Decode(time.Now(), make([]byte, size)); err == nil {
			t.Errorf("size %d: expected error", size)
		}
	}
}

func TestDecodeRejectsBadPreamble(t *testing.T) {
	packet := buildTestPacket(0, 100)
	packet[0] = 0x00 // corrupt first block marker

	if _, err := NewDecoder().Decode(time.Now(), packet); err == nil {
		t.Fatal("expected preamble error")
	}
}

func TestDecodeRejectsAzimuthOutOfRange(t *testing.T) {
	packet := buildTestPacket(RotationMaxUnits, 100)

	if _, err := NewDecoder().Decode(time.Now(), packet); err == nil {
		t.Fatal("expected azimuth range error")
	}
}

func TestDecodeSecondFiringMapsToSameLaser(t *testing.T) {
	packet := buildTestPacket(0, 0)
	// Single return on channel 17 of block 0, which is laser 1's second firing.
	rec := 4 + 17*3
	binary.LittleEndian.PutUint16(packet[rec:], 500)

	batch, err := NewDecoder().Decode(time.Now(), packet)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(batch.Points) != 1 {
		t.Fatalf("point count = %d, want 1", len(batch.Points))
	}
	if batch.Points[0].Channel != 1 {
		t.Errorf("channel = %d, want 1", batch.Points[0].Channel)
	}
	if batch.Points[0].Elevation != 1 {
		t.Errorf("elevation = %f, want 1", batch.Points[0].Elevation)
	}
}

func TestReturnModeName(t *testing.T) {
	cases := map[byte]string{
		ReturnModeStrongest: "strongest",
		ReturnModeLast:      "last",
		ReturnModeDual:      "dual",
	}
	for b, want := range cases {
		if got := ReturnModeName(b); got != want {
			t.Errorf("ReturnModeName(0x%02X) = %q, want %q", b, got, want)
		}
	}
	if got := ReturnModeName(0x00); got != "unknown(0x00)" {
		t.Errorf("unexpected name for unknown byte: %q", got)
	}
}
