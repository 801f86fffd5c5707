package accel

import (
	"fmt"
	"math"
)

// Number is the set of component types a Vector may carry.
type Number interface {
	~int32 | ~int64 | ~float64
}

// Vector is a three-axis acceleration sample.
type Vector[T Number] struct {
	X, Y, Z T
}

func (v Vector[T]) Add(o Vector[T]) Vector[T] {
	return Vector[T]{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

func (v Vector[T]) Sub(o Vector[T]) Vector[T] {
	return Vector[T]{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Scale multiplies every component by f, yielding a float vector.
func (v Vector[T]) Scale(f float64) Vector[float64] {
	return Vector[float64]{float64(v.X) * f, float64(v.Y) * f, float64(v.Z) * f}
}

// Div divides every component by d, yielding a float vector.
func (v Vector[T]) Div(d float64) Vector[float64] {
	return Vector[float64]{float64(v.X) / d, float64(v.Y) / d, float64(v.Z) / d}
}

func (v Vector[T]) Abs() Vector[T] {
	return Vector[T]{abs(v.X), abs(v.Y), abs(v.Z)}
}

func (v Vector[T]) Float() Vector[float64] {
	return Vector[float64]{float64(v.X), float64(v.Y), float64(v.Z)}
}

func (v Vector[T]) String() string {
	return fmt.Sprintf("(%v, %v, %v)", v.X, v.Y, v.Z)
}

func abs[T Number](n T) T {
	if n < 0 {
		return -n
	}
	return n
}

// Round rounds each component to the nearest integer, truncating to int32.
func Round(v Vector[float64]) Vector[int32] {
	return Vector[int32]{
		int32(math.Round(v.X)),
		int32(math.Round(v.Y)),
		int32(math.Round(v.Z)),
	}
}
