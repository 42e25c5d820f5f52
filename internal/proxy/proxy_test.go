package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rom8726/faultproxy/internal/toxic"
)

type fakeMetrics struct{}

func (fakeMetrics) AddBytes(string, toxic.Direction, int) {}
func (fakeMetrics) ConnectionOpened(string)                {}
func (fakeMetrics) ConnectionClosed(string)                {}
func (fakeMetrics) ConnectError(string)                    {}
func (fakeMetrics) RecordActivation(string)                {}
func (fakeMetrics) ObserveLatency(time.Duration)            {}
func (fakeMetrics) RecordCorruption()                       {}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	return port
}

func echoServer(t *testing.T, port int) func() {
	t.Helper()
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				_, _ = io.Copy(c, c)
			}(conn)
		}
	}()

	return func() { ln.Close() }
}

func TestProxy_StartAcceptsAndForwards(t *testing.T) {
	upPort := freePort(t)
	stopUp := echoServer(t, upPort)
	defer stopUp()

	listenPort := freePort(t)
	p := New("p1", fmt.Sprintf("127.0.0.1:%d", listenPort), fmt.Sprintf("127.0.0.1:%d", upPort), fakeMetrics{}, nil)

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	assert.Equal(t, Listening, p.State())

	conn, err := net.Dial("tcp", p.ListenAddr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
}

func TestProxy_DoubleStart_Errors(t *testing.T) {
	listenPort := freePort(t)
	p := New("p1", fmt.Sprintf("127.0.0.1:%d", listenPort), "127.0.0.1:1", fakeMetrics{}, nil)

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	assert.Error(t, p.Start(context.Background()))
}

func TestProxy_PauseStopsAccepting(t *testing.T) {
	listenPort := freePort(t)
	p := New("p1", fmt.Sprintf("127.0.0.1:%d", listenPort), "127.0.0.1:1", fakeMetrics{}, nil)

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Pause())
	assert.Equal(t, Paused, p.State())

	_, err := net.DialTimeout("tcp", p.ListenAddr, 200*time.Millisecond)
	assert.Error(t, err, "no listener should be bound while paused")
}

func TestProxy_ResumeAfterPause(t *testing.T) {
	upPort := freePort(t)
	stopUp := echoServer(t, upPort)
	defer stopUp()

	listenPort := freePort(t)
	addr := fmt.Sprintf("127.0.0.1:%d", listenPort)
	p := New("p1", addr, fmt.Sprintf("127.0.0.1:%d", upPort), fakeMetrics{}, nil)

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Pause())
	require.NoError(t, p.Resume(context.Background()))
	defer p.Stop()

	assert.Equal(t, Listening, p.State())

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
}

func TestProxy_StopIsTerminalAndIdempotent(t *testing.T) {
	listenPort := freePort(t)
	p := New("p1", fmt.Sprintf("127.0.0.1:%d", listenPort), "127.0.0.1:1", fakeMetrics{}, nil)

	require.NoError(t, p.Start(context.Background()))
	p.Stop()
	assert.Equal(t, Stopped, p.State())

	assert.NotPanics(t, func() { p.Stop() })
	assert.Equal(t, Stopped, p.State())
}

func TestProxy_Summarize(t *testing.T) {
	p := New("p1", "127.0.0.1:9100", "127.0.0.1:9200", fakeMetrics{}, nil)
	sum := p.Summarize()
	assert.Equal(t, "p1", sum.Name)
	assert.Equal(t, "127.0.0.1:9100", sum.ListenAddr)
	assert.Equal(t, "127.0.0.1:9200", sum.UpstreamAddr)
	assert.False(t, sum.Enabled)

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()
	assert.True(t, p.Summarize().Enabled)
}
