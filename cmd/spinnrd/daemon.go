package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"spinnrd/internal/accel"
)

// ============================================================================
// Poll loop
// ============================================================================
//
// One goroutine owns the orientator, the debouncer and the frontends:
//
//	read -> classify -> debounce -> (maybe) send -> publish -> wait
//
// A second goroutine only blocks on termination signals and hands one of them
// over a 1-slot channel; the loop checks it without blocking once per tick.
// Cancellation happens only between ticks.
//
// ============================================================================

// loopConfig is the part of Config the poll loop needs.
type loopConfig struct {
	Interval        time.Duration
	Delay           time.Duration
	QuitOnSendError bool
	QuitOnReadError bool
}

type loopDeps struct {
	cfg        loopConfig
	orientator accel.Orientator
	frontends  []Frontend
	signals    <-chan os.Signal

	// Optional
	board   *statusBoard
	backend string
	dump    func()
	now     func() time.Time
	logger  *slog.Logger
}

// runLoop polls until a signal arrives, ctx is canceled or a configured
// error policy aborts. It returns the process exit status.
func runLoop(ctx context.Context, d loopDeps) int {
	if d.now == nil {
		d.now = time.Now
	}
	logger := d.logger
	deb := newDebouncer(d.cfg.Delay)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		// Non-blocking signal check.
		select {
		case sig, ok := <-d.signals:
			if !ok {
				logger.Error("signal watcher terminated unexpectedly")
				return exitSignalWatcher
			}
			logger.Info("shutting down", "signal", sig.String())
			return exitOK
		default:
		}

		r, ok, err := d.orientator.Orientation()
		if err != nil {
			logger.Warn("read failed", "error", err)
			if d.cfg.QuitOnReadError {
				return exitReadError
			}
		}
		logger.Log(ctx, levelTrace, "tick", "rotation", r, "ok", ok)
		if d.dump != nil {
			d.dump()
		}

		if err == nil {
			if r, commit := deb.observe(r, ok, d.now()); commit {
				if sendErr := sendAll(d.frontends, r, logger); sendErr != nil && d.cfg.QuitOnSendError {
					logger.Error("aborting on send error", "error", sendErr)
					return exitSendError
				}
			}
		}

		if d.board != nil {
			snap := deb.snapshot()
			snap.Backend = d.backend
			d.board.publish(snap)
		}

		select {
		case <-ctx.Done():
			logger.Info("poll loop stopping (context canceled)")
			return exitOK
		case <-ticker.C:
		}
	}
}

// sendAll delivers r to every frontend and returns the joined SendErrors.
func sendAll(frontends []Frontend, r accel.Rotation, logger *slog.Logger) error {
	var errs []error
	for _, fe := range frontends {
		logger.Info("writing rotation", "rotation", r, "frontend", fe.Name())
		if err := fe.Send(r); err != nil {
			sendErr := &SendError{Frontend: fe.Name(), Rotation: r, Err: err}
			logger.Error("send failed", "error", sendErr)
			errs = append(errs, sendErr)
		}
	}
	return errors.Join(errs...)
}

// trapSignals delivers the first of sigs on the returned channel and then
// closes it. A closed channel with no value means the watcher died.
func trapSignals(sigs ...os.Signal) <-chan os.Signal {
	out := make(chan os.Signal, 1)
	in := make(chan os.Signal, 1)
	signal.Notify(in, sigs...)

	go func() {
		defer close(out)
		defer signal.Stop(in)
		out <- <-in
	}()
	return out
}
