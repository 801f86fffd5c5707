package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
)

// ============================================================================
// Status board
// ============================================================================

// statusBoard holds the latest rotationSnapshot published by the poll loop
// and fans committed-rotation changes out to watchers.
type statusBoard struct {
	mu       sync.Mutex
	snap     rotationSnapshot
	watchers map[chan rotationSnapshot]struct{}
}

func newStatusBoard() *statusBoard {
	return &statusBoard{watchers: make(map[chan rotationSnapshot]struct{})}
}

func (b *statusBoard) get() rotationSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap
}

// publish stores s. Watchers are notified only when the committed rotation
// changes; a watcher that is not keeping up misses intermediate values.
func (b *statusBoard) publish(s rotationSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	changed := !sameRotation(b.snap.Rotation, s.Rotation)
	b.snap = s
	if !changed {
		return
	}
	for ch := range b.watchers {
		select {
		case ch <- s:
		default:
		}
	}
}

// watch registers a watcher. The returned func unregisters it.
func (b *statusBoard) watch() (<-chan rotationSnapshot, func()) {
	ch := make(chan rotationSnapshot, 4)
	b.mu.Lock()
	b.watchers[ch] = struct{}{}
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		delete(b.watchers, ch)
		b.mu.Unlock()
	}
}

func sameRotation[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ============================================================================
// Status socket - Unix Domain Socket Interface
// ============================================================================
// Protocol: line-delimited JSON
//   - Client sends: {"type": "get"} or {"type": "watch"}
//   - Server responds: {"status": "ok", "data": {...}} or
//     {"status": "error", "error": "msg"}
//   - After "watch" the server keeps writing one "ok" line per committed
//     rotation until the client disconnects.
// ============================================================================

// StatusRequest is one client request line.
type StatusRequest struct {
	Type string `json:"type"`
}

// StatusResponse is sent back to status socket clients.
type StatusResponse struct {
	Status string            `json:"status"`          // "ok" or "error"
	Error  string            `json:"error,omitempty"` // error message if status == "error"
	Data   *rotationSnapshot `json:"data,omitempty"`
}

// runStatusServer serves the status socket until ctx is canceled.
func runStatusServer(ctx context.Context, socketPath string, board *statusBoard, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0o666); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("status socket listening", "socket", socketPath)

	// Close the listener on shutdown. This unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Debug("status listener closed")
				return nil
			}
			logger.Error("status accept error", "error", err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			handleStatusConnection(ctx, conn, board, logger)
		}()
	}
}

// statusService runs the status socket as an optional side service: a failure
// is logged and does not stop rotation reporting.
func statusService(ctx context.Context, socketPath string, board *statusBoard, logger *slog.Logger) func() error {
	return func() error {
		if err := runStatusServer(ctx, socketPath, board, logger); err != nil {
			logger.Error("status socket disabled", "socket", socketPath, "error", err)
		}
		return nil
	}
}

// handleStatusConnection serves a single status socket client.
func handleStatusConnection(ctx context.Context, conn net.Conn, board *statusBoard, logger *slog.Logger) {
	defer conn.Close()

	// Unblock the scanner on shutdown.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	logger.Debug("status connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	reply := func(resp StatusResponse) bool {
		if err := encoder.Encode(resp); err != nil {
			logger.Debug("status write failed", "error", err)
			return false
		}
		return true
	}

	for scanner.Scan() {
		var req StatusRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			if !reply(StatusResponse{Status: "error", Error: fmt.Sprintf("parse request: %v", err)}) {
				return
			}
			continue
		}

		switch req.Type {
		case "get":
			s := board.get()
			if !reply(StatusResponse{Status: "ok", Data: &s}) {
				return
			}

		case "watch":
			watchStatus(ctx, conn, board, reply)
			return

		default:
			if !reply(StatusResponse{Status: "error", Error: fmt.Sprintf("unknown request type %q", req.Type)}) {
				return
			}
		}
	}

	logger.Debug("status connection closed")
}

// watchStatus streams committed rotations until the client goes away.
func watchStatus(ctx context.Context, conn net.Conn, board *statusBoard, reply func(StatusResponse) bool) {
	ch, cancel := board.watch()
	defer cancel()

	s := board.get()
	if !reply(StatusResponse{Status: "ok", Data: &s}) {
		return
	}

	// Detect client disconnect while we only write.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		buf := make([]byte, 64)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gone:
			return
		case s := <-ch:
			if !reply(StatusResponse{Status: "ok", Data: &s}) {
				return
			}
		}
	}
}
