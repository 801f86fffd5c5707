package accel

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
)

// Rotation is the screen orientation derived from the gravity vector.
type Rotation int

const (
	Normal Rotation = iota
	Left
	Inverted
	Right
)

var rotationNames = [...]string{
	Normal:   "normal",
	Left:     "left",
	Inverted: "inverted",
	Right:    "right",
}

func (r Rotation) String() string {
	if r < 0 || int(r) >= len(rotationNames) {
		return fmt.Sprintf("rotation(%d)", int(r))
	}
	return rotationNames[r]
}

// ParseRotation accepts the names produced by String, case-insensitively.
func ParseRotation(s string) (Rotation, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range rotationNames {
		if n == s {
			return Rotation(i), nil
		}
	}
	return 0, fmt.Errorf("unknown rotation %q", s)
}

func (r Rotation) MarshalText() ([]byte, error) {
	if r < 0 || int(r) >= len(rotationNames) {
		return nil, fmt.Errorf("invalid rotation %d", int(r))
	}
	return []byte(r.String()), nil
}

func (r *Rotation) UnmarshalText(b []byte) error {
	v, err := ParseRotation(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Deadband is the minimum separation between the in-plane axes (beyond the
// sensitivity-scaled z share) required before a tilt is classified.
const Deadband = 1.4715

// Classify maps a physical acceleration vector to a rotation. ok is false
// when the device is too close to flat to tell. Higher sensitivity values make
// the classifier less sensitive to tilt out of the screen plane.
func Classify(v Vector[float64], sensitivity float64) (r Rotation, ok bool) {
	ax, ay, az := math.Abs(v.X), math.Abs(v.Y), math.Abs(v.Z)
	if math.Abs(ax-ay) <= az/sensitivity+Deadband {
		return 0, false
	}
	if ax > ay {
		if v.X < 0 {
			return Right, true
		}
		return Left, true
	}
	if v.Y < 0 {
		return Normal, true
	}
	return Inverted, true
}

// Orientator yields the current device orientation.
type Orientator interface {
	// Orientation returns ok=false when no orientation can be determined.
	Orientation() (r Rotation, ok bool, err error)
}

// Classifier adapts an Accelerometer into an Orientator.
type Classifier struct {
	Accel       Accelerometer
	Sensitivity float64
	Logger      *slog.Logger
}

func (c *Classifier) Orientation() (Rotation, bool, error) {
	v, err := c.Accel.Read()
	if err != nil {
		return 0, false, err
	}
	r, ok := Classify(v, c.Sensitivity)
	if c.Logger != nil {
		if ok {
			c.Logger.Debug("classified", "vector", v, "rotation", r)
		} else {
			c.Logger.Debug("classified", "vector", v, "rotation", "none")
		}
	}
	return r, ok, nil
}
