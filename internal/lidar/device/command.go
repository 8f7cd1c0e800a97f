package device

import (
	"fmt"
	"net/url"
	"strconv"
)

// Command is a single control setting sent to the sensor as one form-encoded
// HTTP POST. The closed set of variants below covers everything the firmware
// accepts.
type Command interface {
	// Path is the CGI endpoint the command posts to.
	Path() string
	// Values is the form body carrying the setting.
	Values() url.Values
	// String names the command with its parameters for logs.
	String() string
}

// Reset issues a full system reset.
type Reset struct{}

func (Reset) Path() string       { return "/cgi/reset" }
func (Reset) Values() url.Values { return url.Values{"data": {"reset_system"}} }
func (Reset) String() string     { return "reset" }

// SetReturnMode selects the per-shot return reporting mode.
type SetReturnMode struct {
	Mode ReturnMode
}

func (SetReturnMode) Path() string { return "/cgi/setting" }
func (c SetReturnMode) Values() url.Values {
	return url.Values{"returns": {c.Mode.Wire()}}
}
func (c SetReturnMode) String() string { return fmt.Sprintf("returns=%s", c.Mode.Wire()) }

// SetRPM sets the motor rotation speed. Zero stops the motor.
type SetRPM struct {
	RPM int
}

func (SetRPM) Path() string { return "/cgi/setting" }
func (c SetRPM) Values() url.Values {
	return url.Values{"rpm": {strconv.Itoa(c.RPM)}}
}
func (c SetRPM) String() string { return fmt.Sprintf("rpm=%d", c.RPM) }

// SetLaser enables or disables laser emission.
type SetLaser struct {
	On bool
}

func (SetLaser) Path() string { return "/cgi/setting" }
func (c SetLaser) Values() url.Values {
	if c.On {
		return url.Values{"laser": {"on"}}
	}
	return url.Values{"laser": {"off"}}
}
func (c SetLaser) String() string {
	if c.On {
		return "laser=on"
	}
	return "laser=off"
}
