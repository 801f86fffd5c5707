package accel

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Kind names a supported orientation backend.
type Kind string

const (
	// KindFsAccel is the sysfs accelerometer behind a low-pass filter.
	KindFsAccel Kind = "fsaccel"
	// KindFsAccelRaw is the sysfs accelerometer without filtering.
	KindFsAccelRaw Kind = "fsaccel_raw"
)

// Kinds lists every backend in default preference order.
var Kinds = []Kind{KindFsAccel, KindFsAccelRaw}

var (
	ErrNoSuchBackend = errors.New("no such backend")
	ErrNoBackend     = errors.New("no backend could be initialised")
)

// ParseKind validates a backend name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrNoSuchBackend, s)
}

// BackendOptions carries everything any backend may need.
type BackendOptions struct {
	Fs          FsOptions
	Period      time.Duration
	Hysteresis  time.Duration
	Sensitivity float64
	Logger      *slog.Logger
}

// Backend is an initialised orientation source.
type Backend struct {
	Kind  Kind
	Accel Accelerometer

	orientator Orientator
	closer     io.Closer
}

func (b *Backend) Orientation() (Rotation, bool, error) {
	return b.orientator.Orientation()
}

func (b *Backend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

// opener builds the accelerometer for a backend; replaced in tests.
type opener func(FsOptions) (Accelerometer, io.Closer, error)

func openFs(opts FsOptions) (Accelerometer, io.Closer, error) {
	a, err := NewFsAccelerometer(opts)
	if err != nil {
		return nil, nil, err
	}
	return a, a, nil
}

// InitBackend tries each named backend in order and returns the first that
// initialises. An empty list means Kinds.
func InitBackend(names []string, opts BackendOptions) (*Backend, error) {
	return initBackend(names, opts, openFs)
}

func initBackend(names []string, opts BackendOptions, open opener) (*Backend, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Fs.Logger == nil {
		opts.Fs.Logger = logger
	}
	if len(names) == 0 {
		for _, k := range Kinds {
			names = append(names, string(k))
		}
	}

	var errs []error
	for _, name := range names {
		kind, err := ParseKind(name)
		if err != nil {
			return nil, err
		}
		b, err := newBackend(kind, opts, open)
		if err != nil {
			logger.Warn("backend failed", "backend", kind, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		logger.Info("backend initialised", "backend", kind)
		return b, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrNoBackend, errors.Join(errs...))
}

func newBackend(kind Kind, opts BackendOptions, open opener) (*Backend, error) {
	a, closer, err := open(opts.Fs)
	if err != nil {
		return nil, err
	}

	var src Accelerometer = a
	if kind == KindFsAccel {
		f, err := NewFiltered(a, Alpha(opts.Period, opts.Hysteresis))
		if err != nil {
			if closer != nil {
				closer.Close()
			}
			return nil, err
		}
		src = f
	}

	return &Backend{
		Kind:  kind,
		Accel: src,
		orientator: &Classifier{
			Accel:       src,
			Sensitivity: opts.Sensitivity,
			Logger:      opts.Logger,
		},
		closer: closer,
	}, nil
}
