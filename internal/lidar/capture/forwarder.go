package capture

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/banshee-data/lidarcap/internal/monitoring"
)

// Forwarder re-broadcasts received datagrams to a viewer address (for example
// a workstation running VeloView) without ever blocking the receive loop.
// Packets are queued on a bounded channel and dropped when the viewer cannot
// keep up; forwarding is monitoring, the pcap file is the record.
type Forwarder struct {
	conn        *net.UDPConn
	channel     chan []byte
	address     string
	logInterval time.Duration
	dropped     atomic.Uint64
}

// NewForwarder creates a Forwarder that sends datagrams to addr:port.
func NewForwarder(addr string, port int, logInterval time.Duration) (*Forwarder, error) {
	target := fmt.Sprintf("%s:%d", addr, port)
	udpAddr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %v", err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %v", err)
	}
	if logInterval == 0 {
		logInterval = time.Minute
	}
	return &Forwarder{
		conn:        conn,
		channel:     make(chan []byte, 1000),
		address:     target,
		logInterval: logInterval,
	}, nil
}

// Start begins the forwarding goroutine. Send errors are counted and reported
// at the log interval rather than per packet.
func (f *Forwarder) Start(ctx context.Context) {
	go func() {
		errCount := 0
		var lastError error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case packet := <-f.channel:
				if _, err := f.conn.Write(packet); err != nil {
					errCount++
					lastError = err
				}
			case <-ticker.C:
				if errCount > 0 && lastError != nil {
					monitoring.Logf("dropped %d forwarded packets due to errors (latest: %v)", errCount, lastError)
					errCount = 0
					lastError = nil
				}
			}
		}
	}()

	monitoring.Logf("forwarding datagrams to %s", f.address)
}

// ForwardAsync queues a packet for forwarding without blocking. The packet is
// copied because the caller reuses its receive buffer; if the channel is full
// the packet is dropped and counted.
func (f *Forwarder) ForwardAsync(packet []byte) {
	packetCopy := make([]byte, len(packet))
	copy(packetCopy, packet)

	select {
	case f.channel <- packetCopy:
	default:
		f.dropped.Add(1)
	}
}

// Dropped returns how many packets were discarded because the channel was full.
func (f *Forwarder) Dropped() uint64 {
	return f.dropped.Load()
}

// Close releases the UDP connection.
func (f *Forwarder) Close() error {
	return f.conn.Close()
}
