// Package forward implements the per-connection engine that pumps bytes
// between a client and an upstream socket through a pair of toxic pipelines.
package forward

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pingcap/failpoint"

	"github.com/rom8726/faultproxy/internal/pipeline"
	"github.com/rom8726/faultproxy/internal/toxic"
)

// bufSize is the fixed chunk size every pump reads into. Not configurable in
// v1: larger buffers amortise syscall cost but delay toxic granularity, and
// 4 KiB matches a typical page size.
const bufSize = 4096

const dialTimeout = 5 * time.Second

// Metrics is the subset of a metrics handle a Forwarder needs. Satisfied by
// *metrics.ProxyRecorder (for toxic.Recorder) plus the proxy-scoped counters
// below; kept as a local interface so this package never imports
// internal/metrics and stays testable with lightweight fakes.
type Metrics interface {
	toxic.Recorder
	AddBytes(proxy string, dir toxic.Direction, n int)
	ConnectionOpened(proxy string)
	ConnectionClosed(proxy string)
	ConnectError(proxy string)
}

// Forwarder drives one accepted client connection to completion: dial
// upstream, pump both directions through their pipelines, and tear down.
type Forwarder struct {
	ProxyName    string
	UpstreamAddr string
	PipelineUp   *pipeline.Pipeline
	PipelineDown *pipeline.Pipeline
	Metrics      Metrics
	Logger       *slog.Logger
}

// Run dials upstream and blocks until both directions have finished.
// Cancelling ctx aborts a dial in progress and makes each pump return before
// its next read; a pump already blocked in a read keeps waiting for it.
// Always closes client before returning.
func (f *Forwarder) Run(ctx context.Context, client net.Conn) {
	defer client.Close()

	logger := f.logger()

	var dialErr error
	failpoint.Inject("forwardDialUpstream", func(val failpoint.Value) {
		if msg, ok := val.(string); ok {
			dialErr = errors.New(msg)
		}
	})

	var upstream net.Conn
	if dialErr == nil {
		d := net.Dialer{Timeout: dialTimeout}
		upstream, dialErr = d.DialContext(ctx, "tcp", f.UpstreamAddr)
	}
	if dialErr != nil {
		f.Metrics.ConnectError(f.ProxyName)
		logger.Debug("upstream dial failed", "proxy", f.ProxyName, "upstream", f.UpstreamAddr, "error", dialErr)

		return
	}
	defer upstream.Close()

	f.Metrics.ConnectionOpened(f.ProxyName)
	defer f.Metrics.ConnectionClosed(f.ProxyName)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		f.pump(ctx, upstream, client, toxic.Upstream, f.PipelineUp)
	}()

	go func() {
		defer wg.Done()
		f.pump(ctx, client, upstream, toxic.Downstream, f.PipelineDown)
	}()

	wg.Wait()
}

func (f *Forwarder) logger() *slog.Logger {
	if f.Logger == nil {
		return slog.Default()
	}

	return f.Logger
}

// pump reads chunks from src, runs them through p in direction dir, and
// writes the result to dst. It returns when src reaches EOF, a read or write
// error occurs, or, once ctx is cancelled, before its next read. On EOF or a
// read error it consults p for a SlowClose delay and closes dst's write side
// after waiting the maximum delay.
func (f *Forwarder) pump(ctx context.Context, dst, src net.Conn, dir toxic.Direction, p *pipeline.Pipeline) {
	buf := make([]byte, bufSize)

	for {
		if ctx.Err() != nil {
			return
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			f.Metrics.AddBytes(f.ProxyName, dir, n)
			p.Apply(dir, chunk, f.Metrics)

			if err := writeFull(dst, chunk); err != nil {
				f.logger().Debug("pump write failed", "proxy", f.ProxyName, "direction", dir, "error", err)

				return
			}
		}

		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				f.logger().Debug("pump read failed", "proxy", f.ProxyName, "direction", dir, "error", readErr)
			}
			f.closeWrite(dst, p)

			return
		}
	}
}

// closeWrite half-closes dst's write side, delaying by the maximum
// SlowClose entry configured on p, if any. A dst that is not a *net.TCPConn
// has no half-close and is closed outright.
func (f *Forwarder) closeWrite(dst net.Conn, p *pipeline.Pipeline) {
	if delayMS, has := p.SlowCloseDelay(); has && delayMS > 0 {
		time.Sleep(time.Duration(delayMS) * time.Millisecond)
	}

	if tc, ok := dst.(*net.TCPConn); ok {
		_ = tc.CloseWrite()

		return
	}
	_ = dst.Close()
}

// writeFull loops until buf is fully written or an error occurs. Toxics
// transform whole chunks, not byte streams, so a short write must resume
// from where it left off rather than being treated as a partial success.
func writeFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}

	return nil
}
