// Package capture implements the acquisition pipeline: the UDP receiver, the
// ordered hand-off queue, the synthetic-frame pcap writer, the optional
// viewer forwarder, and the session orchestrator that drives them alongside
// the device control channel.
package capture

import (
	"net"
	"time"
)

// Datagram is one raw sensor packet as it arrived on the socket. Immutable
// once created; ownership passes from the receiver through the queue to the
// single consumer.
type Datagram struct {
	// Timestamp is the host wall-clock time taken immediately after the
	// blocking receive returned. Capture records carry this, never write time.
	Timestamp time.Time
	// Payload is a private copy of the datagram bytes.
	Payload []byte
	// Source is the sensor-side endpoint observed on the socket.
	Source *net.UDPAddr
}
