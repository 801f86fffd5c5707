package accel

import (
	"fmt"
	"time"
)

// Alpha returns the smoothing factor for an exponential moving average whose
// averaging window is hysteresis when sampled every period. The result is
// clamped to (0, 1]; hysteresis <= 0 disables smoothing.
func Alpha(period, hysteresis time.Duration) float64 {
	if hysteresis <= 0 || period <= 0 {
		return 1
	}
	a := float64(period) / float64(hysteresis)
	if a > 1 {
		return 1
	}
	return a
}

// Filtered is a low-pass filter over another Accelerometer.
//
// Not safe for concurrent use; owned by the poll loop.
type Filtered struct {
	src      Accelerometer
	alpha    float64
	estimate Vector[float64]
}

// NewFiltered seeds the estimate from one read of a.
func NewFiltered(a Accelerometer, alpha float64) (*Filtered, error) {
	if alpha <= 0 || alpha > 1 {
		return nil, fmt.Errorf("filter alpha %v out of range (0, 1]", alpha)
	}
	seed, err := a.Read()
	if err != nil {
		return nil, fmt.Errorf("seed filter: %w", err)
	}
	return &Filtered{src: a, alpha: alpha, estimate: seed}, nil
}

// Update folds one new sample into the estimate. On error the estimate is
// left untouched.
func (f *Filtered) Update() error {
	s, err := f.src.Read()
	if err != nil {
		return err
	}
	f.estimate = f.estimate.Add(s.Sub(f.estimate).Scale(f.alpha))
	return nil
}

// Read updates the filter and returns the new estimate.
func (f *Filtered) Read() (Vector[float64], error) {
	if err := f.Update(); err != nil {
		return f.estimate, err
	}
	return f.estimate, nil
}

// ReadRaw returns the current estimate in raw device units without sampling.
func (f *Filtered) ReadRaw() (Vector[int32], error) {
	return Round(f.estimate.Div(f.src.Scale())), nil
}

func (f *Filtered) Scale() float64            { return f.src.Scale() }
func (f *Filtered) Estimate() Vector[float64] { return f.estimate }
func (f *Filtered) Alpha() float64            { return f.alpha }
