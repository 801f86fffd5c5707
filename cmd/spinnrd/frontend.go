package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"spinnrd/internal/accel"
)

// ============================================================================
// Frontends - rotation sinks
// ============================================================================

// Frontend receives every newly committed rotation.
type Frontend interface {
	Name() string
	Send(r accel.Rotation) error
	Close() error
}

type frontendKind string

const (
	frontendFile      frontendKind = "file"
	frontendMQTT      frontendKind = "mqtt"
	frontendWebsocket frontendKind = "websocket"
	frontendStdout    frontendKind = "stdout"
)

var frontendKinds = []frontendKind{frontendFile, frontendMQTT, frontendWebsocket, frontendStdout}

var errNoSuchFrontend = errors.New("no such frontend")

func parseFrontendKind(s string) (frontendKind, error) {
	for _, k := range frontendKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", errNoSuchFrontend, s)
}

// SendError reports a failed delivery to one frontend.
type SendError struct {
	Frontend string
	Rotation accel.Rotation
	Err      error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s to %s: %v", e.Rotation, e.Frontend, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// frontendDeps carries shared services frontends may attach to.
type frontendDeps struct {
	hub      *Hub
	dialMQTT func(MQTTFrontendConfig) (mqttPublisher, error)
	stdout   io.Writer
	logger   *slog.Logger
}

// initFrontends builds every enabled frontend. Frontends that fail to
// initialise are logged and skipped; an error is returned only if none
// remain.
func initFrontends(cfg FrontendsConfig, deps frontendDeps) ([]Frontend, error) {
	if deps.dialMQTT == nil {
		deps.dialMQTT = dialMQTT
	}
	if deps.stdout == nil {
		deps.stdout = os.Stdout
	}

	var out []Frontend
	var errs []error
	for _, name := range cfg.Enabled {
		kind, err := parseFrontendKind(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		var fe Frontend
		switch kind {
		case frontendFile:
			fe, err = newFileFrontend(ExpandPath(cfg.File.Path))
		case frontendMQTT:
			var pub mqttPublisher
			pub, err = deps.dialMQTT(cfg.MQTT)
			if err == nil {
				fe = newMQTTFrontend(pub, cfg.MQTT)
			}
		case frontendWebsocket:
			if deps.hub == nil {
				err = errors.New("websocket hub not running (is http.listen set?)")
			} else {
				fe = &wsFrontend{hub: deps.hub}
			}
		case frontendStdout:
			fe = &stdoutFrontend{w: deps.stdout}
		}

		if err != nil {
			deps.logger.Warn("frontend failed to initialise", "frontend", kind, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		deps.logger.Info("frontend ready", "frontend", fe.Name())
		out = append(out, fe)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no usable frontend: %w", errors.Join(errs...))
	}
	return out, nil
}

func closeFrontends(fes []Frontend, logger *slog.Logger) {
	for _, fe := range fes {
		if err := fe.Close(); err != nil {
			logger.Warn("frontend close failed", "frontend", fe.Name(), "error", err)
		}
	}
}

// ============================================================================
// File frontend
// ============================================================================

// fileFrontend rewrites the whole file on each send, so watchers only need to
// wait for a single CLOSE_WRITE.
type fileFrontend struct {
	path string
}

func newFileFrontend(path string) (*fileFrontend, error) {
	if path == "" {
		return nil, errors.New("file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close %s: %w", path, err)
	}
	return &fileFrontend{path: path}, nil
}

func (f *fileFrontend) Name() string { return "file:" + f.path }

func (f *fileFrontend) Send(r accel.Rotation) error {
	fh, err := os.Create(f.path)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(fh, r.String()); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}

func (f *fileFrontend) Close() error { return nil }

// ============================================================================
// Stdout frontend
// ============================================================================

type stdoutFrontend struct {
	w io.Writer
}

func (s *stdoutFrontend) Name() string { return "stdout" }

func (s *stdoutFrontend) Send(r accel.Rotation) error {
	_, err := fmt.Fprintln(s.w, r)
	return err
}

func (s *stdoutFrontend) Close() error { return nil }
