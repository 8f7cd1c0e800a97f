package capture

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/lidarcap/internal/monitoring"
)

// ErrWriteFailed marks a disk write failure. The session terminates and the
// partial capture file is retained.
var ErrWriteFailed = errors.New("capture file write failed")

// pcapSnapLen is the snapshot length recorded in the pcap file header.
const pcapSnapLen = 65536

// Synthetic framing constants. The sensor's real link and network headers are
// stripped by the OS before the payload reaches the socket, so the writer
// reconstructs well-formed ones. The values match captures produced by the
// vendor's own recording tool: broadcast MACs, a fixed synthetic source IP
// and the broadcast destination. Downstream tooling ignores all of them.
var (
	broadcastMAC   = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	syntheticSrcIP = net.IPv4(192, 168, 0, 200)
	broadcastIP    = net.IPv4(255, 255, 255, 255)
)

// FrameWriter consumes the transfer queue and appends each datagram to a pcap
// file as a synthetic Ethernet/IPv4/UDP frame, in arrival order. The first
// datagram of a session is discarded: a firmware/OS artifact gives it a
// timestamp anomalously far from the second datagram's, which would corrupt
// downstream timing analysis.
type FrameWriter struct {
	path   string
	file   *os.File
	pcap   *pcapgo.Writer
	frames atomic.Uint64
	sawAny bool
}

// NewFrameWriter creates the capture file (and its parent directories) and
// writes the pcap file header.
func NewFrameWriter(path string) (*FrameWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	w := pcapgo.NewWriter(file)
	if err := w.WriteFileHeader(pcapSnapLen, layers.LinkTypeEthernet); err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	monitoring.Logf("writing capture to %s", path)
	return &FrameWriter{path: path, file: file, pcap: w}, nil
}

// Run pops datagrams until the queue is closed and drained, wrapping and
// appending each one. It never stops early: cancellation closes the queue on
// the producer side, and Run still drains everything already buffered before
// returning.
func (w *FrameWriter) Run(queue *Queue) error {
	for {
		d, ok := queue.Pop()
		if !ok {
			return nil
		}
		if !w.sawAny {
			w.sawAny = true
			monitoring.Logf("discarding first datagram of the session (timestamp %s)", d.Timestamp.Format("15:04:05.000000"))
			continue
		}
		if err := w.write(d); err != nil {
			return fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
	}
}

func (w *FrameWriter) write(d *Datagram) error {
	frame, err := synthesizeFrame(d)
	if err != nil {
		return err
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     d.Timestamp,
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	if err := w.pcap.WritePacket(ci, frame); err != nil {
		return err
	}
	// Flush every record so the file is replayable even if the process is
	// interrupted mid-run.
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.frames.Add(1)
	return nil
}

// synthesizeFrame reconstructs the wire-level frame around a raw payload.
// The UDP source and destination ports both equal the port observed on the
// datagram; the UDP checksum stays zero (unverified). The IPv4 header
// checksum is computed so the headers are well-formed.
func synthesizeFrame(d *Datagram) ([]byte, error) {
	port := layers.UDPPort(d.Source.Port)

	eth := &layers.Ethernet{
		SrcMAC:       broadcastMAC,
		DstMAC:       broadcastMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    syntheticSrcIP,
		DstIP:    broadcastIP,
	}
	udp := &layers.UDP{SrcPort: port, DstPort: port}

	// Serialized innermost-out so the UDP checksum can stay zero while the
	// IPv4 header checksum is still computed.
	buf := gopacket.NewSerializeBuffer()
	noChecksum := gopacket.SerializeOptions{FixLengths: true}
	withChecksum := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	if err := gopacket.Payload(d.Payload).SerializeTo(buf, noChecksum); err != nil {
		return nil, err
	}
	if err := udp.SerializeTo(buf, noChecksum); err != nil {
		return nil, err
	}
	if err := ip.SerializeTo(buf, withChecksum); err != nil {
		return nil, err
	}
	if err := eth.SerializeTo(buf, noChecksum); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Frames returns the number of records written so far.
func (w *FrameWriter) Frames() uint64 {
	return w.frames.Load()
}

// Path returns the capture file path.
func (w *FrameWriter) Path() string {
	return w.path
}

// Close closes the capture file and reports the final frame count.
func (w *FrameWriter) Close() error {
	err := w.file.Close()
	monitoring.Logf("capture file closed: %d frames written to %s", w.frames.Load(), w.path)
	return err
}
