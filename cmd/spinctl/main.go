package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// ============================================================================
// spinctl - status socket client for spinnrd
// ============================================================================
// Usage:
//   spinctl get
//   spinctl rotation
//   spinctl watch
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/spinnrd.sock)
// ============================================================================

// Snapshot mirrors the daemon's rotation snapshot (standalone binary).
type Snapshot struct {
	Rotation    *string    `json:"rotation"`
	CommittedAt *time.Time `json:"committed_at,omitempty"`
	Pending     *string    `json:"pending,omitempty"`
	Backend     string     `json:"backend,omitempty"`
}

type StatusRequest struct {
	Type string `json:"type"`
}

type StatusResponse struct {
	Status string    `json:"status"`
	Error  string    `json:"error,omitempty"`
	Data   *Snapshot `json:"data,omitempty"`
}

func main() {
	socketPath := "/tmp/spinnrd.sock"

	args := os.Args[1:]
	if len(args) > 0 && (args[0] == "-socket" || args[0] == "--socket") {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch args[0] {
	case "get", "status":
		err = get(socketPath, os.Stdout, false)

	case "rotation", "rot":
		err = get(socketPath, os.Stdout, true)

	case "watch":
		err = watch(socketPath, os.Stdout)

	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "error: unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func dial(socketPath, typ string) (net.Conn, *bufio.Scanner, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	if err := json.NewEncoder(conn).Encode(StatusRequest{Type: typ}); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("send request: %w", err)
	}
	return conn, bufio.NewScanner(conn), nil
}

func readResponse(sc *bufio.Scanner) (*Snapshot, error) {
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return nil, io.EOF
	}
	var resp StatusResponse
	if err := json.Unmarshal(sc.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status == "error" {
		return nil, fmt.Errorf("daemon error: %s", resp.Error)
	}
	if resp.Data == nil {
		return &Snapshot{}, nil
	}
	return resp.Data, nil
}

func get(socketPath string, w io.Writer, nameOnly bool) error {
	conn, sc, err := dial(socketPath, "get")
	if err != nil {
		return err
	}
	defer conn.Close()

	s, err := readResponse(sc)
	if err != nil {
		return err
	}
	if nameOnly {
		fmt.Fprintln(w, rotationName(s.Rotation))
		return nil
	}
	return printSnapshot(w, s)
}

func watch(socketPath string, w io.Writer) error {
	conn, sc, err := dial(socketPath, "watch")
	if err != nil {
		return err
	}
	defer conn.Close()

	for {
		s, err := readResponse(sc)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(w, rotationName(s.Rotation))
	}
}

func rotationName(r *string) string {
	if r == nil {
		return "unknown"
	}
	return *r
}

func printSnapshot(w io.Writer, s *Snapshot) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `spinctl - Query the spinnrd daemon via its status socket

Usage:
  spinctl [options] <command>

Options:
  -socket PATH    Unix domain socket path (default: /tmp/spinnrd.sock)

Commands:
  get, status       Print the full rotation snapshot as JSON
  rotation, rot     Print the committed rotation only
  watch             Print every newly committed rotation until interrupted
  help, -h, --help  Show this help message

Examples:
  spinctl rotation
  spinctl -socket /run/spinnrd.sock watch
`)
}
