package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"spinnrd/internal/accel"
)

func startStatusServer(t *testing.T, board *statusBoard) (string, context.CancelFunc, <-chan error) {
	t.Helper()
	dir, err := os.MkdirTemp("", "spin")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	// Unix socket paths are length-limited; keep it short.
	sock := filepath.Join(dir, "s.sock")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- runStatusServer(ctx, sock, board, discardLogger()) }()

	waitUntil(t, time.Second, func() bool {
		_, err := os.Stat(sock)
		return err == nil
	}, "status socket not created")
	return sock, cancel, errCh
}

func dialStatus(t *testing.T, sock string) (net.Conn, *bufio.Scanner) {
	t.Helper()
	var conn net.Conn
	var err error
	waitUntil(t, time.Second, func() bool {
		conn, err = net.Dial("unix", sock)
		return err == nil
	}, "status socket not accepting")
	_ = conn.SetDeadline(time.Now().Add(3 * time.Second))
	return conn, bufio.NewScanner(conn)
}

func request(t *testing.T, conn net.Conn, typ string) {
	t.Helper()
	if err := json.NewEncoder(conn).Encode(StatusRequest{Type: typ}); err != nil {
		t.Fatalf("write request: %v", err)
	}
}

func readResponse(t *testing.T, sc *bufio.Scanner) StatusResponse {
	t.Helper()
	if !sc.Scan() {
		t.Fatalf("no response: %v", sc.Err())
	}
	var resp StatusResponse
	if err := json.Unmarshal(sc.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", sc.Bytes(), err)
	}
	return resp
}

func TestStatusServer_Get(t *testing.T) {
	board := newStatusBoard()
	r := accel.Left
	pending := accel.Normal
	board.publish(rotationSnapshot{Rotation: &r, Pending: &pending, Backend: "fsaccel_raw"})

	sock, cancel, errCh := startStatusServer(t, board)

	conn, sc := dialStatus(t, sock)
	defer conn.Close()

	request(t, conn, "get")
	resp := readResponse(t, sc)
	if resp.Status != "ok" || resp.Data == nil {
		t.Fatalf("response = %+v", resp)
	}
	if *resp.Data.Rotation != accel.Left || *resp.Data.Pending != accel.Normal || resp.Data.Backend != "fsaccel_raw" {
		t.Fatalf("data = %+v", resp.Data)
	}

	request(t, conn, "reboot")
	if resp := readResponse(t, sc); resp.Status != "error" || resp.Error == "" {
		t.Fatalf("unknown request response = %+v", resp)
	}

	if _, err := conn.Write([]byte("not json\n")); err != nil {
		t.Fatal(err)
	}
	if resp := readResponse(t, sc); resp.Status != "error" {
		t.Fatalf("bad json response = %+v", resp)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("runStatusServer: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("status server did not stop")
	}
	if _, err := os.Stat(sock); !os.IsNotExist(err) {
		t.Fatalf("socket not removed on shutdown")
	}
}

func TestStatusServer_Watch(t *testing.T) {
	board := newStatusBoard()
	sock, cancel, _ := startStatusServer(t, board)
	defer cancel()

	conn, sc := dialStatus(t, sock)
	defer conn.Close()

	request(t, conn, "watch")
	first := readResponse(t, sc)
	if first.Status != "ok" || first.Data == nil || first.Data.Rotation != nil {
		t.Fatalf("initial watch response = %+v", first)
	}

	waitUntil(t, time.Second, func() bool {
		board.mu.Lock()
		defer board.mu.Unlock()
		return len(board.watchers) == 1
	}, "watcher not registered")

	// Pending-only changes are not streamed.
	p := accel.Right
	board.publish(rotationSnapshot{Pending: &p})
	r := accel.Right
	board.publish(rotationSnapshot{Rotation: &r})

	got := readResponse(t, sc)
	if got.Data == nil || got.Data.Rotation == nil || *got.Data.Rotation != accel.Right {
		t.Fatalf("watch update = %+v", got)
	}

	conn.Close()
	waitUntil(t, time.Second, func() bool {
		board.mu.Lock()
		defer board.mu.Unlock()
		return len(board.watchers) == 0
	}, "watcher not removed after disconnect")
}

func TestStatusBoard_PublishNotifiesOnCommitChangeOnly(t *testing.T) {
	board := newStatusBoard()
	ch, stop := board.watch()
	defer stop()

	l := accel.Left
	board.publish(rotationSnapshot{Rotation: &l})
	l2 := accel.Left
	board.publish(rotationSnapshot{Rotation: &l2, Backend: "x"})

	select {
	case s := <-ch:
		if *s.Rotation != accel.Left {
			t.Fatalf("got %v", *s.Rotation)
		}
	default:
		t.Fatalf("expected notification")
	}
	select {
	case s := <-ch:
		t.Fatalf("unexpected second notification %+v", s)
	default:
	}
	if board.get().Backend != "x" {
		t.Fatalf("latest snapshot not stored")
	}
}

func TestStatusService_FailureDoesNotStopDaemon(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sock := filepath.Join(t.TempDir(), "missing", "dir", "s.sock")
	done := make(chan error, 1)
	go func() { done <- statusService(ctx, sock, newStatusBoard(), discardLogger())() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("statusService returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("statusService did not return after listen failure")
	}
	if ctx.Err() != nil {
		t.Fatalf("context canceled by status failure")
	}
}

func TestRunLoop_KeepsPollingWhenStatusSocketFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(statusService(gctx, filepath.Join(t.TempDir(), "missing", "s.sock"), newStatusBoard(), discardLogger()))

	o := &scriptedOrientator{steps: []orientStep{{r: accel.Left, ok: true}}}
	fe := &recordingFrontend{}
	done := startLoop(gctx, newTestLoop(o, []Frontend{fe}, make(chan os.Signal)))

	waitUntil(t, time.Second, func() bool { return len(fe.sent()) == 1 }, "rotation not reported after status socket failure")
	if gctx.Err() != nil {
		t.Fatalf("status socket failure canceled the service group")
	}
	cancel()
	if code := waitLoop(t, done); code != exitOK {
		t.Fatalf("exit code = %d, want %d", code, exitOK)
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("service group error: %v", err)
	}
}
