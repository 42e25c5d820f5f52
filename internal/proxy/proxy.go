// Package proxy implements the listener lifecycle around a Forwarder: bind,
// accept, enable/disable, and delete.
package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rom8726/faultproxy/internal/forward"
	"github.com/rom8726/faultproxy/internal/pipeline"
)

// State is one point in a Proxy's lifecycle.
type State string

const (
	Unbound   State = "unbound"
	Listening State = "listening"
	Paused    State = "paused"
	Stopped   State = "stopped"
)

// acceptBackoff bounds the pause between retries on a transient Accept
// error, so a flaky NIC cannot spin the loop hot.
const acceptBackoff = 100 * time.Millisecond

// Metrics is the subset of a metrics handle the accept loop needs per
// forwarded connection; satisfied by forward.Metrics plus nothing extra, so
// a *metrics.Registry's ForProxy(name) handle can be passed straight through.
type Metrics = forward.Metrics

// Proxy binds a TCP listener and hands every accepted connection to a fresh
// Forwarder. A Proxy does not own its live connections — forwarders are
// detached goroutines the Proxy never waits for. They run under the
// listener's context, so Pause and Stop both cancel them, and each pump
// returns before its next read.
type Proxy struct {
	Name         string
	ListenAddr   string
	UpstreamAddr string

	PipelineUp   *pipeline.Pipeline
	PipelineDown *pipeline.Pipeline
	Metrics      Metrics
	Logger       *slog.Logger

	mu       sync.Mutex
	state    State
	ln       net.Listener
	cancel   context.CancelFunc
	stopped  chan struct{}
}

// New constructs an unbound Proxy with fresh, empty pipelines.
func New(name, listenAddr, upstreamAddr string, m Metrics, logger *slog.Logger) *Proxy {
	return &Proxy{
		Name:         name,
		ListenAddr:   listenAddr,
		UpstreamAddr: upstreamAddr,
		PipelineUp:   pipeline.New(),
		PipelineDown: pipeline.New(),
		Metrics:      m,
		Logger:       logger,
		state:        Unbound,
	}
}

// State returns the current lifecycle state.
func (p *Proxy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

// Start binds the listener and begins accepting connections in a background
// goroutine. Valid from Unbound or Stopped-by-disable (Paused); returns an
// error if already Listening.
func (p *Proxy) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Listening {
		return errors.New("proxy already listening")
	}
	if p.state == Stopped {
		return errors.New("proxy is stopped")
	}

	ln, err := net.Listen("tcp", p.ListenAddr)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.ln = ln
	p.cancel = cancel
	p.state = Listening
	p.stopped = make(chan struct{})

	go p.acceptLoop(runCtx, ln, p.stopped)

	return nil
}

// Pause stops accepting new connections without dropping the pipelines or
// forgetting the configured addresses — Resume binds a fresh listener on
// the same address. Live connections already accepted are cancelled along
// with the accept loop: each pump returns before its next read.
func (p *Proxy) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Listening {
		return errors.New("proxy is not listening")
	}

	p.cancel()
	<-p.waitStoppedLocked()
	p.state = Paused

	return nil
}

// Resume re-binds the listener after a Pause.
func (p *Proxy) Resume(ctx context.Context) error {
	p.mu.Lock()
	if p.state != Paused {
		p.mu.Unlock()

		return errors.New("proxy is not paused")
	}
	p.mu.Unlock()

	return p.Start(ctx)
}

// Stop permanently closes the listener and signals cancellation to any
// still-draining forwarders, without waiting for their pumps to finish.
// Stopped is terminal.
func (p *Proxy) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Stopped {
		return
	}
	if p.cancel != nil {
		p.cancel()
	}
	if p.ln != nil {
		_ = p.ln.Close()
	}
	p.state = Stopped
}

// waitStoppedLocked returns the channel that closes once the accept loop has
// exited; callers hold p.mu to read the channel reference. Pause also waits
// on it while still holding p.mu, which cannot deadlock because the accept
// loop never takes p.mu.
func (p *Proxy) waitStoppedLocked() <-chan struct{} {
	return p.stopped
}

func (p *Proxy) acceptLoop(ctx context.Context, ln net.Listener, stopped chan struct{}) {
	defer close(stopped)

	logger := p.logger()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(acceptBackoff)

				continue
			}
			logger.Debug("accept error", "proxy", p.Name, "error", err)
			time.Sleep(acceptBackoff)

			continue
		}

		f := &forward.Forwarder{
			ProxyName:    p.Name,
			UpstreamAddr: p.UpstreamAddr,
			PipelineUp:   p.PipelineUp,
			PipelineDown: p.PipelineDown,
			Metrics:      p.Metrics,
			Logger:       logger,
		}

		go f.Run(ctx, conn)
	}
}

func (p *Proxy) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}

	return p.Logger
}

// Summary is the read-only view of a Proxy returned by list/get routes.
type Summary struct {
	Name         string `json:"name"`
	ListenAddr   string `json:"listen"`
	UpstreamAddr string `json:"upstream"`
	Enabled      bool   `json:"enabled"`
}

// Summarize snapshots the Proxy's externally-visible state.
func (p *Proxy) Summarize() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Summary{
		Name:         p.Name,
		ListenAddr:   p.ListenAddr,
		UpstreamAddr: p.UpstreamAddr,
		Enabled:      p.state == Listening,
	}
}
