package gpu

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/amdgpu-stats/amdgpu-stats/pkg/clock"
)

// DefaultReadTimeout bounds a single metric file read.
const DefaultReadTimeout = 250 * time.Millisecond

// ErrReadTimeout is wrapped by readings that exceeded the read timeout.
var ErrReadTimeout = errors.New("read timed out")

// Status is the outcome of reading one metric.
type Status string

const (
	StatusOK     Status = "ok"
	StatusAbsent Status = "absent"
	StatusError  Status = "error"
)

// Reading is the result of reading one metric file.
type Reading struct {
	Metric    string
	Raw       int64
	Status    Status
	Err       error
	Timestamp time.Time
}

// Reader reads and parses metric files.
type Reader struct {
	timeout  time.Duration
	clock    clock.Clock
	readFile func(string) ([]byte, error)
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithTimeout bounds each read. Zero disables the bound.
func WithTimeout(d time.Duration) ReaderOption {
	return func(r *Reader) { r.timeout = d }
}

// WithReaderClock sets the clock used for timestamps and timeouts.
func WithReaderClock(c clock.Clock) ReaderOption {
	return func(r *Reader) { r.clock = c }
}

// NewReader creates a Reader with DefaultReadTimeout.
func NewReader(opts ...ReaderOption) *Reader {
	r := &Reader{
		timeout:  DefaultReadTimeout,
		clock:    clock.Real(),
		readFile: os.ReadFile,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReadMetric reads the descriptor's file and parses it as a base-10 integer.
// Failures are reported in the Reading, never as a panic.
func (r *Reader) ReadMetric(ctx context.Context, desc MetricDescriptor) Reading {
	reading := Reading{Metric: desc.Name, Timestamp: r.clock.Now()}

	if desc.Path == "" {
		return missing(reading, desc, fmt.Errorf("%s: %w", desc.RelativePath, fs.ErrNotExist))
	}

	data, err := r.read(ctx, desc.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return missing(reading, desc, err)
		}
		reading.Status = StatusError
		reading.Err = fmt.Errorf("reading %s: %w", desc.Path, err)
		return reading
	}

	value, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		reading.Status = StatusError
		reading.Err = fmt.Errorf("parsing %s: %w", desc.Path, err)
		return reading
	}

	reading.Raw = value
	reading.Status = StatusOK
	return reading
}

func missing(reading Reading, desc MetricDescriptor, err error) Reading {
	if desc.Optional {
		reading.Status = StatusAbsent
		return reading
	}
	reading.Status = StatusError
	reading.Err = fmt.Errorf("required metric %s missing: %w", desc.Name, err)
	return reading
}

// read returns the file contents, giving up after the timeout or when ctx is
// done. A read that is given up on finishes in the background.
func (r *Reader) read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.timeout <= 0 {
		return r.readFile(path)
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		data, err := r.readFile(path)
		done <- result{data: data, err: err}
	}()

	select {
	case res := <-done:
		return res.data, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.clock.After(r.timeout):
		return nil, fmt.Errorf("%w after %s", ErrReadTimeout, r.timeout)
	}
}
