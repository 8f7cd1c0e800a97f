// Package device implements the HTTP control channel for Velodyne sensors:
// typed configuration commands, the sequenced launch/stop procedures with
// firmware settle delays and retries, and the status query.
package device

import (
	"fmt"
	"strings"
)

// ReturnMode selects how multiple laser pulse reflections per shot are
// reported by the sensor.
type ReturnMode string

const (
	ReturnModeStrongest ReturnMode = "strongest"
	ReturnModeLast      ReturnMode = "last"
	ReturnModeDual      ReturnMode = "dual"
)

// ParseReturnMode validates and normalises a user-supplied return mode.
func ParseReturnMode(s string) (ReturnMode, error) {
	switch ReturnMode(strings.ToLower(s)) {
	case ReturnModeStrongest:
		return ReturnModeStrongest, nil
	case ReturnModeLast:
		return ReturnModeLast, nil
	case ReturnModeDual:
		return ReturnModeDual, nil
	default:
		return "", fmt.Errorf("invalid return mode %q (want strongest, last or dual)", s)
	}
}

// Wire returns the capitalised form the sensor's setting endpoint expects.
func (m ReturnMode) Wire() string {
	return strings.ToUpper(string(m[:1])) + string(m[1:])
}

// Config describes one sensor and the settings a session will apply to it.
// It is immutable once validated; invalid values never reach the network.
type Config struct {
	Model      string     // sensor model, e.g. "VLP-16"
	SensorAddr string     // control endpoint host (plain HTTP, device design)
	DataPort   int        // UDP port the sensor emits telemetry on
	RPM        int        // target rotation speed
	ReturnMode ReturnMode // strongest, last or dual
	BindAddr   string     // local interface to receive on; empty = all
}

// Validate checks the configuration against the device's constraints.
func (c Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model must not be empty")
	}
	if c.SensorAddr == "" {
		return fmt.Errorf("sensor address must not be empty")
	}
	if c.DataPort < 1 || c.DataPort > 65535 {
		return fmt.Errorf("data port %d out of range [1,65535]", c.DataPort)
	}
	// The motor accepts 300-1200 rpm in steps of 60.
	if c.RPM < 300 || c.RPM > 1200 || c.RPM%60 != 0 {
		return fmt.Errorf("rpm %d invalid: must be 300-1200 and a multiple of 60", c.RPM)
	}
	if _, err := ParseReturnMode(string(c.ReturnMode)); err != nil {
		return err
	}
	return nil
}

// BaseURL is the root of the sensor's CGI control interface.
func (c Config) BaseURL() string {
	return "http://" + c.SensorAddr
}
