package capture

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/banshee-data/lidarcap/internal/lidar/vlp16"
	"github.com/banshee-data/lidarcap/internal/monitoring"
)

// ErrBindFailed marks a local UDP port that could not be bound. The session
// never starts in that case.
var ErrBindFailed = errors.New("failed to bind capture socket")

// readDeadline bounds each blocking receive so cancellation is honoured
// within one deadline period even when the sensor goes quiet.
const readDeadline = 100 * time.Millisecond

// ReceiverConfig configures the capture receiver.
type ReceiverConfig struct {
	BindAddr  string // local interface; empty listens on all
	Port      int
	Queue     *Queue
	Forwarder *Forwarder // optional viewer re-broadcast
	ReadBuf   int        // socket receive buffer; 0 selects 4MB
}

// Receiver owns the capture socket. It drains incoming datagrams, stamps each
// on arrival, and hands them to the transfer queue in socket-read order.
type Receiver struct {
	cfg      ReceiverConfig
	conn     *net.UDPConn
	received atomic.Uint64
}

// NewReceiver creates a Receiver. Call Bind before the device is told to
// start emitting, then Run.
func NewReceiver(cfg ReceiverConfig) *Receiver {
	if cfg.ReadBuf == 0 {
		cfg.ReadBuf = 4 << 20
	}
	return &Receiver{cfg: cfg}
}

// Bind opens the UDP socket. Binding happens before configuration so no
// telemetry is lost once the laser turns on.
func (r *Receiver) Bind() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", r.cfg.BindAddr, r.cfg.Port))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBindFailed, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBindFailed, err)
	}
	if err := conn.SetReadBuffer(r.cfg.ReadBuf); err != nil {
		monitoring.Logf("warning: failed to set UDP receive buffer to %d: %v", r.cfg.ReadBuf, err)
	}
	r.conn = conn
	monitoring.Logf("capture socket bound on %s with receive buffer %d bytes", conn.LocalAddr(), r.cfg.ReadBuf)
	return nil
}

// LocalPort returns the bound UDP port. Useful when Bind was given port 0.
func (r *Receiver) LocalPort() int {
	if r.conn == nil {
		return 0
	}
	return r.conn.LocalAddr().(*net.UDPAddr).Port
}

// Run drains the socket until ctx is cancelled, then closes the socket and
// the queue so the consumer knows no more data is coming. Each datagram is
// timestamped immediately after the receive returns.
func (r *Receiver) Run(ctx context.Context) {
	defer r.cfg.Queue.Close()
	defer r.conn.Close()

	// Twice the sensor's maximum datagram size, to tolerate overrun.
	buffer := make([]byte, 2*vlp16.PacketSize)

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("receiver stopping after %d datagrams", r.received.Load())
			return
		default:
		}

		r.conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, addr, err := r.conn.ReadFromUDP(buffer)
		ts := time.Now()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				monitoring.Logf("receiver stopping after %d datagrams", r.received.Load())
				return
			}
			monitoring.Logf("UDP read error: %v", err)
			continue
		}

		if r.cfg.Forwarder != nil {
			r.cfg.Forwarder.ForwardAsync(buffer[:n])
		}

		payload := make([]byte, n)
		copy(payload, buffer[:n])
		r.cfg.Queue.Push(&Datagram{Timestamp: ts, Payload: payload, Source: addr})
		r.received.Add(1)
	}
}

// Received returns how many datagrams have been queued so far.
func (r *Receiver) Received() uint64 {
	return r.received.Load()
}

// Close releases the socket without running the receive loop. Run closes the
// socket itself; Close is for abandoning a bound receiver before Run starts.
func (r *Receiver) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}
