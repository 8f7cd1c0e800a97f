package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/lidarcap/internal/lidar/device"
	"github.com/banshee-data/lidarcap/internal/monitoring"
)

// State is the lifecycle position of a session.
type State int32

const (
	StateIdle State = iota
	StateConfiguring
	StateActive
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfiguring:
		return "configuring"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ControlChannel is the slice of the device controller the session drives.
type ControlChannel interface {
	Configure(ctx context.Context) error
	PowerDown(ctx context.Context) error
}

// Consumer drains the transfer queue. FrameWriter implements it for capture
// mode; PreviewConsumer for live mode.
type Consumer interface {
	// Run pops until the queue is closed and drained. A returned error
	// terminates the session.
	Run(queue *Queue) error
	// Close releases the consumer's resources once Run has returned.
	Close() error
}

// powerDownTimeout bounds the stop sequence when the session context is
// already cancelled; power-down must still run to completion.
const powerDownTimeout = 90 * time.Second

// SessionConfig wires a session together.
type SessionConfig struct {
	Device    device.Config
	Control   ControlChannel
	Consumer  Consumer
	Forwarder *Forwarder // optional
	Queue     QueueConfig
	// Duration bounds the active phase; 0 runs until the context is
	// cancelled.
	Duration time.Duration
}

// Session owns one acquisition run against one device: it sequences
// configuration, runs the receiver/consumer pipeline, and guarantees the
// device is powered down and the queue drained on exit, however the active
// phase ends.
type Session struct {
	cfg   SessionConfig
	id    uuid.UUID
	state atomic.Int32
}

// NewSession creates a Session in the idle state.
func NewSession(cfg SessionConfig) *Session {
	return &Session{cfg: cfg, id: uuid.New()}
}

// ID identifies this session in logs.
func (s *Session) ID() uuid.UUID { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	monitoring.Logf("session %s: %s", s.id, st)
}

// Run executes the full session. It returns the first fatal error: a bind
// failure (before the device is touched), a configuration failure after the
// retry budget, or a consumer failure. Power-down is attempted exactly once
// per session no matter how the active phase ended, including on
// configuration failure; a bind failure precedes the session, so the
// untouched device is left alone.
func (s *Session) Run(ctx context.Context) error {
	queue := NewQueue(s.cfg.Queue)
	receiver := NewReceiver(ReceiverConfig{
		BindAddr:  s.cfg.Device.BindAddr,
		Port:      s.cfg.Device.DataPort,
		Queue:     queue,
		Forwarder: s.cfg.Forwarder,
	})

	// Bind before the device is told to start emitting.
	if err := receiver.Bind(); err != nil {
		return err
	}

	var consumerErr error
	err := func() error {
		// Power down exactly once, even on configuration failure or panic in
		// the pipeline, with a budget independent of the (possibly cancelled)
		// session context.
		defer func() {
			pdCtx, cancel := context.WithTimeout(context.Background(), powerDownTimeout)
			defer cancel()
			if err := s.cfg.Control.PowerDown(pdCtx); err != nil {
				monitoring.Logf("session %s: power-down reported error: %v", s.id, err)
			}
		}()

		s.setState(StateConfiguring)
		if err := s.cfg.Control.Configure(ctx); err != nil {
			receiver.Close()
			s.cfg.Consumer.Close()
			return err
		}

		s.setState(StateActive)
		runCtx := ctx
		var cancel context.CancelFunc
		if s.cfg.Duration > 0 {
			runCtx, cancel = context.WithTimeout(ctx, s.cfg.Duration)
		} else {
			runCtx, cancel = context.WithCancel(ctx)
		}
		defer cancel()

		if s.cfg.Forwarder != nil {
			s.cfg.Forwarder.Start(runCtx)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			receiver.Run(runCtx)
		}()
		go func() {
			defer wg.Done()
			// The consumer never stops on cancellation; it drains whatever
			// the receiver queued before the queue closed. A consumer error
			// (e.g. disk full) cancels the receiver so the session winds
			// down.
			if err := s.cfg.Consumer.Run(queue); err != nil {
				consumerErr = err
				cancel()
			}
		}()

		<-runCtx.Done()
		s.setState(StateStopping)
		// Receiver exits and closes the queue; the consumer then drains the
		// remainder and returns.
		wg.Wait()

		if err := s.cfg.Consumer.Close(); err != nil && consumerErr == nil {
			consumerErr = err
		}
		if dropped := queue.Dropped(); dropped > 0 {
			monitoring.Logf("session %s: transfer queue dropped %d datagrams (policy %s)",
				s.id, dropped, s.cfg.Queue.Policy)
		}
		monitoring.Logf("session %s: received %d datagrams", s.id, receiver.Received())
		return consumerErr
	}()

	s.setState(StateStopped)
	return err
}
