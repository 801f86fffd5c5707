package accel

import (
	"fmt"
	"io"
	"os"

	"spinnrd/internal/scan"
)

// ChannelError is an I/O failure while reading a channel's data source.
type ChannelError struct {
	Axis string
	Op   string
	Err  error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %s: %s: %v", e.Axis, e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// Channel owns one sysfs data file and the descriptor used to decode it.
//
// Every Read seeks back to offset 0: sysfs attributes report the current
// value on each read rather than a stream.
type Channel struct {
	Axis string
	Scan scan.ScanType

	src io.ReadSeeker
	buf []byte
}

func NewChannel(axis string, st scan.ScanType, src io.ReadSeeker) *Channel {
	return &Channel{Axis: axis, Scan: st, src: src, buf: make([]byte, 0, 32)}
}

// OpenChannel opens dataPath for reading and parses the descriptor file at
// descrPath.
func OpenChannel(axis, dataPath, descrPath string, fixSign bool) (*Channel, error) {
	st, err := scan.ParseFile(descrPath, fixSign)
	if err != nil {
		return nil, fmt.Errorf("channel %s: %w", axis, err)
	}
	f, err := os.Open(dataPath)
	if err != nil {
		return nil, &ChannelError{Axis: axis, Op: "open", Err: err}
	}
	return NewChannel(axis, st, f), nil
}

// Read returns the channel's current decoded value.
func (c *Channel) Read() (int64, error) {
	if _, err := c.src.Seek(0, io.SeekStart); err != nil {
		return 0, &ChannelError{Axis: c.Axis, Op: "seek", Err: err}
	}
	c.buf = c.buf[:0]
	var chunk [64]byte
	for {
		n, err := c.src.Read(chunk[:])
		c.buf = append(c.buf, chunk[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, &ChannelError{Axis: c.Axis, Op: "read", Err: err}
		}
		if n == 0 {
			break
		}
	}
	return c.Scan.Decode(string(c.buf))
}

// Close closes the underlying source if it is closable.
func (c *Channel) Close() error {
	if cl, ok := c.src.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}
