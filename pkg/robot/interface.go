// Package robot holds the parrot's animated axes and the fixed-rate control
// loop that moves them.
//
// Producers (the audio analyzer, the idle generator) only set targets. The
// Controller owns current positions, advances them toward their targets by a
// per-axis rate once per tick, and sends changed positions to an Actuator.
package robot

import (
	"context"
	"math"
)

// Axis is one independently animated degree of freedom.
type Axis int

const (
	Mouth Axis = iota
	Wing
	HeadTilt
	HeadRotation

	numAxes
)

// Axes lists every axis in a stable order.
var Axes = [numAxes]Axis{Mouth, Wing, HeadTilt, HeadRotation}

func (a Axis) String() string {
	switch a {
	case Mouth:
		return "mouth"
	case Wing:
		return "wing"
	case HeadTilt:
		return "head_tilt"
	case HeadRotation:
		return "head_rotation"
	default:
		return "unknown"
	}
}

// Actuator moves one axis to a normalized position in [0, 1].
type Actuator interface {
	SetPosition(ctx context.Context, axis Axis, pos float64) error
}

// ActuatorFunc adapts a function to Actuator.
type ActuatorFunc func(ctx context.Context, axis Axis, pos float64) error

// SetPosition implements Actuator.
func (f ActuatorFunc) SetPosition(ctx context.Context, axis Axis, pos float64) error {
	return f(ctx, axis, pos)
}

// Clamp restricts v to [0, 1]. NaN maps to 0.
func Clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Positions holds one value per axis.
type Positions [numAxes]float64

// Get returns the value for axis.
func (p Positions) Get(a Axis) float64 {
	if a < 0 || a >= numAxes {
		return 0
	}
	return p[a]
}
