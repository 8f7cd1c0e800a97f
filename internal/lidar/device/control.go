package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/banshee-data/lidarcap/internal/httputil"
	"github.com/banshee-data/lidarcap/internal/monitoring"
)

const (
	// commandAttempts is the per-step retry budget for control commands.
	commandAttempts = 3
	// retryDelay separates attempts of the same command.
	retryDelay = 5 * time.Second
)

// Firmware settle delays between configuration steps. The sensor needs real
// wall-clock time to act on each setting before it accepts the next one.
const (
	settleAfterReset      = 5 * time.Second
	settleAfterReturnMode = 5 * time.Second
	settleAfterRPM        = 10 * time.Second
	settleAfterRPMZero    = 2 * time.Second
	settleAfterLaserOff   = 10 * time.Second
)

// ErrConfigFailed marks a configuration step that exhausted its retry budget.
// Later steps depend on earlier ones, so the sequence stops at the first
// failed step.
var ErrConfigFailed = errors.New("sensor configuration failed")

// Status is the device status document served at /cgi/status.json.
type Status struct {
	Laser struct {
		State string `json:"state"` // "On" or "Off"
	} `json:"laser"`
	Motor struct {
		RPM int `json:"rpm"`
	} `json:"motor"`
}

// LaserOn reports whether the laser is emitting.
func (s Status) LaserOn() bool { return s.Laser.State == "On" }

// Controller drives one sensor through its HTTP control interface. All calls
// are synchronous: configuration must complete in order before capture starts,
// and power-down must complete before a session is reported finished.
type Controller struct {
	cfg     Config
	baseURL string
	client  httputil.Client

	// sleep waits out settle and retry delays; injectable so tests run the
	// full sequences without real time passing.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewController creates a Controller for the sensor described by cfg. A nil
// client selects a standard HTTP client with a request timeout.
func NewController(cfg Config, client httputil.Client) *Controller {
	if client == nil {
		client = httputil.NewStandardClient(&http.Client{Timeout: 10 * time.Second})
	}
	return &Controller{
		cfg:     cfg,
		baseURL: cfg.BaseURL(),
		client:  client,
		sleep:   sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// do posts one command, retrying up to the budget on transport errors or
// non-success status codes. Success is an HTTP status in [200,207).
func (c *Controller) do(ctx context.Context, cmd Command) error {
	target := c.baseURL + cmd.Path()
	var lastErr error

	for attempt := 1; attempt <= commandAttempts; attempt++ {
		if attempt > 1 {
			monitoring.Logf("retrying %s in %s (attempt %d/%d)", cmd, retryDelay, attempt, commandAttempts)
			if err := c.sleep(ctx, retryDelay); err != nil {
				return err
			}
		}

		resp, err := c.client.PostForm(target, cmd.Values())
		if err != nil {
			monitoring.Logf("%s %s: %v (ERROR)", target, cmd.Values().Encode(), err)
			lastErr = err
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		ok := resp.StatusCode >= 200 && resp.StatusCode < 207
		if ok {
			monitoring.Logf("%s %s: %d (OK)", target, cmd.Values().Encode(), resp.StatusCode)
			return nil
		}
		monitoring.Logf("%s %s: %d (ERROR)", target, cmd.Values().Encode(), resp.StatusCode)
		lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return fmt.Errorf("command %s failed after %d attempts: %w", cmd, commandAttempts, lastErr)
}

// configStep pairs a command with the settle delay the firmware requires
// after it succeeds.
type configStep struct {
	cmd    Command
	settle time.Duration
}

// Configure runs the launch sequence: reset, return mode, rotation speed,
// laser on, each separated by its settle delay. The first step to exhaust its
// retry budget aborts the remainder. On success the status document is polled
// and logged for confirmation.
func (c *Controller) Configure(ctx context.Context) error {
	monitoring.Logf("launching sensor %s at %s", c.cfg.Model, c.cfg.SensorAddr)

	steps := []configStep{
		{Reset{}, settleAfterReset},
		{SetReturnMode{Mode: c.cfg.ReturnMode}, settleAfterReturnMode},
		{SetRPM{RPM: c.cfg.RPM}, settleAfterRPM},
		{SetLaser{On: true}, 0},
	}
	for _, step := range steps {
		if err := c.do(ctx, step.cmd); err != nil {
			return fmt.Errorf("%w: %v", ErrConfigFailed, err)
		}
		if step.settle > 0 {
			if err := c.sleep(ctx, step.settle); err != nil {
				return fmt.Errorf("%w: %v", ErrConfigFailed, err)
			}
		}
	}

	if status, err := c.Status(ctx); err != nil {
		monitoring.Logf("post-configure status query failed: %v", err)
	} else {
		monitoring.Logf("sensor laser is %s, motor rpm is %d", status.Laser.State, status.Motor.RPM)
	}
	return nil
}

// PowerDown runs the stop sequence: motor to zero, laser off, then a status
// query for confirmation. Unlike Configure it is best-effort: a failed step
// does not stop the remaining ones, and the first error is returned after
// everything has been attempted.
func (c *Controller) PowerDown(ctx context.Context) error {
	monitoring.Logf("stopping sensor %s at %s", c.cfg.Model, c.cfg.SensorAddr)

	var firstErr error
	steps := []configStep{
		{SetRPM{RPM: 0}, settleAfterRPMZero},
		{SetLaser{On: false}, settleAfterLaserOff},
	}
	for _, step := range steps {
		if err := c.do(ctx, step.cmd); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := c.sleep(ctx, step.settle); err != nil {
			return err
		}
	}

	if status, err := c.Status(ctx); err != nil {
		monitoring.Logf("post-stop status query failed: %v", err)
		if firstErr == nil {
			firstErr = err
		}
	} else {
		monitoring.Logf("sensor laser is %s, motor rpm is %d", status.Laser.State, status.Motor.RPM)
	}
	return firstErr
}

// Status fetches and parses the sensor's status document.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	var status Status
	if err := ctx.Err(); err != nil {
		return status, err
	}

	resp, err := c.client.Get(c.baseURL + "/cgi/status.json")
	if err != nil {
		return status, fmt.Errorf("status query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 207 {
		return status, fmt.Errorf("status query: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return status, fmt.Errorf("status query: decoding body: %w", err)
	}
	return status, nil
}

// IsAlive reports whether the sensor is still emitting or spinning: laser on
// or motor rpm non-zero.
func (c *Controller) IsAlive(ctx context.Context) (bool, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return false, err
	}
	return status.LaserOn() || status.Motor.RPM != 0, nil
}
