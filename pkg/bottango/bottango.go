// Package bottango speaks the Bottango actuator controller protocol.
//
// The controller is driven by newline-terminated ASCII commands. After the
// firmware prints a boot marker the host requests a handshake, waits for the
// handshake token and a trailing OK, and from then on every command is
// answered by an OK line. Tokens are matched by containment because the
// firmware interleaves its own log output.
package bottango

import (
	"fmt"

	"github.com/teslashibe/go-parrot/pkg/robot"
)

// Protocol tokens.
const (
	BootMarker       = "BOOT"
	HandshakeRequest = "hRQ,144"
	HandshakeAck     = "btngoHSK"
	OK               = "OK"
)

// PositionScale is the controller's integer range for a normalized position.
const PositionScale = 8192

// Controller pins for each axis.
const (
	PinHeadRotation = 12
	PinWing         = 13
	PinHeadTilt     = 14
	PinMouth        = 27
)

// Pin returns the controller pin for an axis.
func Pin(a robot.Axis) (int, bool) {
	switch a {
	case robot.Mouth:
		return PinMouth, true
	case robot.Wing:
		return PinWing, true
	case robot.HeadTilt:
		return PinHeadTilt, true
	case robot.HeadRotation:
		return PinHeadRotation, true
	default:
		return 0, false
	}
}

// Raw converts a normalized position to the controller range.
func Raw(pos float64) int {
	return int(robot.Clamp(pos) * PositionScale)
}

// PositionCommand formats an instant position command for pin.
func PositionCommand(pin int, pos float64) string {
	return fmt.Sprintf("sCI,%d,%d", pin, Raw(pos))
}

// ServoPin registers a servo with the controller.
type ServoPin struct {
	Pin        int
	MinPulse   int
	MaxPulse   int
	MaxSpeed   int
	StartPulse int
}

// Command formats the servo registration command.
func (s ServoPin) Command() string {
	return fmt.Sprintf("rSVPin,%d,%d,%d,%d,%d", s.Pin, s.MinPulse, s.MaxPulse, s.MaxSpeed, s.StartPulse)
}

// DefaultServos are the pulse ranges of the parrot's four servos.
var DefaultServos = []ServoPin{
	{Pin: PinHeadRotation, MinPulse: 1275, MaxPulse: 1725, MaxSpeed: 3000, StartPulse: 1500},
	{Pin: PinHeadTilt, MinPulse: 850, MaxPulse: 2100, MaxSpeed: 3000, StartPulse: 1760},
	{Pin: PinMouth, MinPulse: 1450, MaxPulse: 1700, MaxSpeed: 3000, StartPulse: 1700},
	{Pin: PinWing, MinPulse: 1500, MaxPulse: 2000, MaxSpeed: 3000, StartPulse: 2000},
}

// Curve is a timed bezier movement in raw controller units.
type Curve struct {
	Pin        int
	StartMs    int
	DurationMs int
	StartPos   int
	StartTanX  int
	StartTanY  int
	EndPos     int
	EndTanX    int
	EndTanY    int
}

// Command formats the curve command.
func (c Curve) Command() string {
	return fmt.Sprintf("sC,%d,%d,%d,%d,%d,%d,%d,%d,%d",
		c.Pin, c.StartMs, c.DurationMs, c.StartPos, c.StartTanX, c.StartTanY, c.EndPos, c.EndTanX, c.EndTanY)
}
