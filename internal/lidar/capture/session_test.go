package capture

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidarcap/internal/lidar/device"
)

// fakeControl stands in for the device controller so session tests exercise
// the lifecycle without a sensor or real settle delays.
type fakeControl struct {
	configureErr   error
	configureCalls atomic.Int32
	powerDownCalls atomic.Int32
}

func (f *fakeControl) Configure(ctx context.Context) error {
	f.configureCalls.Add(1)
	return f.configureErr
}

func (f *fakeControl) PowerDown(ctx context.Context) error {
	f.powerDownCalls.Add(1)
	return nil
}

// failingConsumer simulates a disk write failure on the first datagram.
type failingConsumer struct {
	err error
}

func (f *failingConsumer) Run(queue *Queue) error {
	for {
		_, ok := queue.Pop()
		if !ok {
			return nil
		}
		return f.err
	}
}

func (f *failingConsumer) Close() error { return nil }

// freeUDPPort reserves an ephemeral port and releases it for the session's
// receiver to bind.
func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()
	return port
}

func testDeviceConfig(port int) device.Config {
	return device.Config{
		Model:      "VLP-16",
		SensorAddr: "192.168.1.201",
		DataPort:   port,
		RPM:        600,
		ReturnMode: device.ReturnModeDual,
		BindAddr:   "127.0.0.1",
	}
}

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("session never reached state %s (at %s)", want, s.State())
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestSessionCaptureEndToEnd(t *testing.T) {
	port := freeUDPPort(t)
	path := filepath.Join(t.TempDir(), "session.pcap")
	writer, err := NewFrameWriter(path)
	require.NoError(t, err)

	control := &fakeControl{}
	session := NewSession(SessionConfig{
		Device:   testDeviceConfig(port),
		Control:  control,
		Consumer: writer,
	})
	assert.Equal(t, StateIdle, session.State())

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- session.Run(ctx) }()

	waitForState(t, session, StateActive)

	conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()

	const n = 5
	for i := 0; i < n; i++ {
		_, err := conn.Write([]byte(fmt.Sprintf("telemetry-%d", i)))
		require.NoError(t, err)
	}

	// The first datagram is discarded, so n-1 frames must land on disk.
	require.Eventually(t, func() bool { return writer.Frames() == n-1 },
		5*time.Second, 5*time.Millisecond, "frames = %d", writer.Frames())

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop on cancellation")
	}

	assert.Equal(t, StateStopped, session.State())
	assert.EqualValues(t, 1, control.configureCalls.Load())
	assert.EqualValues(t, 1, control.powerDownCalls.Load(), "power-down must run exactly once")

	packets, infos := readCapture(t, path)
	require.Len(t, packets, n-1)
	for i, pkt := range packets {
		app := pkt.ApplicationLayer()
		require.NotNil(t, app)
		assert.Equal(t, fmt.Sprintf("telemetry-%d", i+1), string(app.Payload()))
		if i > 0 {
			assert.False(t, infos[i].Timestamp.Before(infos[i-1].Timestamp),
				"record %d timestamp regressed", i)
		}
	}
}

func TestSessionPowerDownOnConfigureFailure(t *testing.T) {
	port := freeUDPPort(t)
	path := filepath.Join(t.TempDir(), "session.pcap")
	writer, err := NewFrameWriter(path)
	require.NoError(t, err)

	control := &fakeControl{configureErr: device.ErrConfigFailed}
	session := NewSession(SessionConfig{
		Device:   testDeviceConfig(port),
		Control:  control,
		Consumer: writer,
	})

	err = session.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, device.ErrConfigFailed))
	assert.Equal(t, StateStopped, session.State())
	assert.EqualValues(t, 1, control.powerDownCalls.Load(),
		"power-down must still run when configuration fails")
}

func TestSessionDurationElapses(t *testing.T) {
	port := freeUDPPort(t)
	path := filepath.Join(t.TempDir(), "session.pcap")
	writer, err := NewFrameWriter(path)
	require.NoError(t, err)

	control := &fakeControl{}
	session := NewSession(SessionConfig{
		Device:   testDeviceConfig(port),
		Control:  control,
		Consumer: writer,
		Duration: 100 * time.Millisecond,
	})

	start := time.Now()
	require.NoError(t, session.Run(context.Background()))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Equal(t, StateStopped, session.State())
	assert.EqualValues(t, 1, control.powerDownCalls.Load())
}

func TestSessionConsumerFailureTerminatesSession(t *testing.T) {
	port := freeUDPPort(t)
	writeErr := fmt.Errorf("%w: disk full", ErrWriteFailed)
	control := &fakeControl{}
	session := NewSession(SessionConfig{
		Device:   testDeviceConfig(port),
		Control:  control,
		Consumer: &failingConsumer{err: writeErr},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- session.Run(ctx) }()

	waitForState(t, session, StateActive)

	conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("telemetry"))
	require.NoError(t, err)

	select {
	case err := <-runErr:
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrWriteFailed))
	case <-time.After(5 * time.Second):
		t.Fatal("session did not terminate on consumer failure")
	}
	assert.EqualValues(t, 1, control.powerDownCalls.Load())
}

func TestSessionBindFailureNeverTouchesDevice(t *testing.T) {
	// Occupy the port so the session's receiver cannot bind.
	blocker, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer blocker.Close()
	port := blocker.LocalAddr().(*net.UDPAddr).Port

	control := &fakeControl{}
	session := NewSession(SessionConfig{
		Device:   testDeviceConfig(port),
		Control:  control,
		Consumer: &failingConsumer{},
	})

	err = session.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBindFailed))
	assert.EqualValues(t, 0, control.configureCalls.Load())
	assert.EqualValues(t, 0, control.powerDownCalls.Load(),
		"an unreachable socket precedes the session; the device was never touched")
}
