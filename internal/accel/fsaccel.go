package accel

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ============================================================================
// Sysfs layout defaults
// ============================================================================

const (
	DefaultDeviceGlob  = "/sys/bus/iio/devices/iio:device*"
	DefaultDeviceName  = "accel_3d"
	DefaultDataPrefix  = "in_accel_"
	DefaultDataSuffix  = "_raw"
	DefaultDescrPrefix = "scan_elements/in_accel_"
	DefaultDescrSuffix = "_type"
	DefaultScaleFile   = "in_accel_scale"
)

var (
	ErrNoDevice = errors.New("no accelerometer device found")
	ErrNoScale  = errors.New("no accelerometer scale available")
)

// Accelerometer produces acceleration samples.
type Accelerometer interface {
	// Read returns a sample in physical units (m/s^2).
	Read() (Vector[float64], error)
	// ReadRaw returns an unscaled sample.
	ReadRaw() (Vector[int32], error)
	// Scale is the factor converting raw units to physical units.
	Scale() float64
}

// FsOptions configures a sysfs accelerometer. Zero string fields take the
// Default* values above.
type FsOptions struct {
	// Path is the IIO device directory. Empty means discover via DeviceGlob.
	Path       string
	DeviceGlob string

	// Scale overrides the device's scale file when > 0.
	Scale float64
	// DefaultScale is used when neither Scale nor the scale file is usable.
	DefaultScale float64
	ScaleFile    string

	DataPrefix  string
	DataSuffix  string
	DescrPrefix string
	DescrSuffix string

	FixSign bool
	Logger  *slog.Logger
}

func (o *FsOptions) applyDefaults() {
	if o.DeviceGlob == "" {
		o.DeviceGlob = DefaultDeviceGlob
	}
	if o.ScaleFile == "" {
		o.ScaleFile = DefaultScaleFile
	}
	if o.DataPrefix == "" {
		o.DataPrefix = DefaultDataPrefix
	}
	if o.DataSuffix == "" {
		o.DataSuffix = DefaultDataSuffix
	}
	if o.DescrPrefix == "" {
		o.DescrPrefix = DefaultDescrPrefix
	}
	if o.DescrSuffix == "" {
		o.DescrSuffix = DefaultDescrSuffix
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
}

// FsAccelerometer reads x, y and z channels from an IIO sysfs directory.
type FsAccelerometer struct {
	path  string
	scale float64
	x     *Channel
	y     *Channel
	z     *Channel
}

// NewFsAccelerometer resolves the device directory and scale, then opens the
// three axis channels.
func NewFsAccelerometer(opts FsOptions) (*FsAccelerometer, error) {
	opts.applyDefaults()
	logger := opts.Logger

	path := opts.Path
	if path == "" {
		p, err := DiscoverDevice(opts.DeviceGlob)
		if err != nil {
			return nil, err
		}
		path = p
		logger.Info("discovered accelerometer", "path", path)
	}

	scale, err := resolveScale(path, opts)
	if err != nil {
		return nil, err
	}

	a := &FsAccelerometer{path: path, scale: scale}
	chans := []**Channel{&a.x, &a.y, &a.z}
	for i, axis := range []string{"x", "y", "z"} {
		data := filepath.Join(path, opts.DataPrefix+axis+opts.DataSuffix)
		descr := filepath.Join(path, opts.DescrPrefix+axis+opts.DescrSuffix)
		ch, err := OpenChannel(axis, data, descr, opts.FixSign)
		if err != nil {
			a.Close()
			return nil, err
		}
		logger.Debug("opened channel", "axis", axis, "data", data, "scan", ch.Scan)
		*chans[i] = ch
	}

	logger.Info("accelerometer ready", "path", path, "scale", scale)
	return a, nil
}

// resolveScale picks the override, then the device scale file, then the
// configured fallback.
func resolveScale(path string, opts FsOptions) (float64, error) {
	if opts.Scale > 0 {
		return opts.Scale, nil
	}
	f, fileErr := readFloat(filepath.Join(path, opts.ScaleFile))
	if fileErr == nil && f > 0 {
		return f, nil
	}
	if opts.DefaultScale > 0 {
		opts.Logger.Warn("using default scale", "default_scale", opts.DefaultScale, "error", fileErr)
		return opts.DefaultScale, nil
	}
	if fileErr == nil {
		fileErr = fmt.Errorf("non-positive scale %v", f)
	}
	return 0, fmt.Errorf("%w: %v", ErrNoScale, fileErr)
}

func readFloat(path string) (float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", path, s, err)
	}
	return f, nil
}

// DiscoverDevice returns the first directory matching glob whose name file
// reads DefaultDeviceName and which the process may read.
func DiscoverDevice(glob string) (string, error) {
	matches, err := filepath.Glob(glob)
	if err != nil {
		return "", fmt.Errorf("discover %q: %w", glob, err)
	}
	sort.Strings(matches)
	for _, dev := range matches {
		nameFile := filepath.Join(dev, "name")
		b, err := os.ReadFile(nameFile)
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(b)) != DefaultDeviceName {
			continue
		}
		if unix.Access(dev, unix.R_OK|unix.X_OK) != nil {
			continue
		}
		return dev, nil
	}
	return "", fmt.Errorf("%w (glob %q, name %q)", ErrNoDevice, glob, DefaultDeviceName)
}

func (a *FsAccelerometer) Path() string   { return a.path }
func (a *FsAccelerometer) Scale() float64 { return a.scale }

func (a *FsAccelerometer) readAll() (Vector[int64], error) {
	var v Vector[int64]
	var err error
	if v.X, err = a.x.Read(); err != nil {
		return v, err
	}
	if v.Y, err = a.y.Read(); err != nil {
		return v, err
	}
	if v.Z, err = a.z.Read(); err != nil {
		return v, err
	}
	return v, nil
}

func (a *FsAccelerometer) Read() (Vector[float64], error) {
	v, err := a.readAll()
	if err != nil {
		return Vector[float64]{}, err
	}
	return v.Scale(a.scale), nil
}

func (a *FsAccelerometer) ReadRaw() (Vector[int32], error) {
	v, err := a.readAll()
	if err != nil {
		return Vector[int32]{}, err
	}
	return Vector[int32]{int32(v.X), int32(v.Y), int32(v.Z)}, nil
}

func (a *FsAccelerometer) Close() error {
	var errs []error
	for _, ch := range []*Channel{a.x, a.y, a.z} {
		if ch != nil {
			errs = append(errs, ch.Close())
		}
	}
	return errors.Join(errs...)
}
