package forward

import (
	"context"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rom8726/faultproxy/internal/pipeline"
	"github.com/rom8726/faultproxy/internal/toxic"
)

// fakeMetrics is an in-memory Metrics double so these tests never depend on
// internal/metrics or a live Prometheus registry.
type fakeMetrics struct {
	bytesUp, bytesDown int
	opened, closed     int
	connectErrors      int
	activations        map[string]int
	corruptions        int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{activations: map[string]int{}}
}

func (m *fakeMetrics) AddBytes(_ string, dir toxic.Direction, n int) {
	if dir == toxic.Upstream {
		m.bytesUp += n
	} else {
		m.bytesDown += n
	}
}
func (m *fakeMetrics) ConnectionOpened(string)      { m.opened++ }
func (m *fakeMetrics) ConnectionClosed(string)       { m.closed++ }
func (m *fakeMetrics) ConnectError(string)           { m.connectErrors++ }
func (m *fakeMetrics) RecordActivation(t string)     { m.activations[t]++ }
func (m *fakeMetrics) ObserveLatency(time.Duration)  {}
func (m *fakeMetrics) RecordCorruption()             { m.corruptions++ }

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	return port
}

// echoServer accepts one connection and echoes everything it reads until
// the peer closes its write side.
func echoServer(t *testing.T, port int) func() {
	t.Helper()
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = io.Copy(conn, conn)
	}()

	return func() { ln.Close() }
}

// newForwarder builds a Forwarder with empty pipelines and an in-memory
// fakeMetrics, so a test can drive Run directly against a provided client
// conn and an upstream address.
func newForwarder(proxyName, upstreamAddr string) (*Forwarder, *fakeMetrics) {
	m := newFakeMetrics()
	f := &Forwarder{
		ProxyName:    proxyName,
		UpstreamAddr: upstreamAddr,
		PipelineUp:   pipeline.New(),
		PipelineDown: pipeline.New(),
		Metrics:      m,
	}

	return f, m
}

func TestForwarder_PlainPassthrough(t *testing.T) {
	upPort := freePort(t)
	stop := echoServer(t, upPort)
	defer stop()

	clientSide, serverSide := net.Pipe()
	f, m := newForwarder("p1", fmt.Sprintf("127.0.0.1:%d", upPort))

	done := make(chan struct{})
	go func() {
		f.Run(context.Background(), serverSide)
		close(done)
	}()

	_, err := clientSide.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = io.ReadFull(clientSide, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	clientSide.Close()
	<-done

	assert.Equal(t, 4, m.bytesUp)
	assert.Equal(t, 4, m.bytesDown)
	assert.Equal(t, 1, m.opened)
	assert.Equal(t, 1, m.closed)
}

func TestForwarder_UpstreamUnreachable_IncrementsConnectError(t *testing.T) {
	unreachablePort := freePort(t) // nothing is listening here

	clientSide, serverSide := net.Pipe()
	f, m := newForwarder("p1", fmt.Sprintf("127.0.0.1:%d", unreachablePort))

	done := make(chan struct{})
	go func() {
		f.Run(context.Background(), serverSide)
		close(done)
	}()

	// Forwarder should close its end promptly on dial failure.
	buf := make([]byte, 1)
	_, err := clientSide.Read(buf)
	assert.Error(t, err)

	<-done
	assert.Equal(t, 1, m.connectErrors)
	assert.Equal(t, 0, m.opened)
}

func TestForwarder_HalfClose_ClientCloseWritePropagates(t *testing.T) {
	upPort := freePort(t)
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", upPort))
	require.NoError(t, err)
	defer ln.Close()

	upstreamDone := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = io.ReadAll(conn) // drains until the proxy half-closes the upstream write side
		close(upstreamDone)
	}()

	clientLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer clientLn.Close()

	f, _ := newForwarder("p1", fmt.Sprintf("127.0.0.1:%d", upPort))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		conn, err := clientLn.Accept()
		if err != nil {
			return
		}
		f.Run(ctx, conn)
	}()

	client, err := net.Dial("tcp", clientLn.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, client.(*net.TCPConn).CloseWrite())

	select {
	case <-upstreamDone:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream never observed EOF after client half-close")
	}
}

func TestForwarder_BinaryIntegrity_FullByteRange(t *testing.T) {
	upPort := freePort(t)
	stop := echoServer(t, upPort)
	defer stop()

	clientSide, serverSide := net.Pipe()
	f, _ := newForwarder("p1", fmt.Sprintf("127.0.0.1:%d", upPort))

	done := make(chan struct{})
	go func() {
		f.Run(context.Background(), serverSide)
		close(done)
	}()

	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}

	writeDone := make(chan error, 1)
	go func() {
		_, err := clientSide.Write(payload)
		writeDone <- err
	}()

	got := make([]byte, len(payload))
	_, err := io.ReadFull(clientSide, got)
	require.NoError(t, err)
	require.NoError(t, <-writeDone)
	assert.Equal(t, payload, got)

	clientSide.Close()
	<-done
}

func TestForwarder_PipelineInsert_CorruptsFirstByteOnly(t *testing.T) {
	upPort := freePort(t)
	stop := echoServer(t, upPort)
	defer stop()

	clientSide, serverSide := net.Pipe()
	f, m := newForwarder("p1", fmt.Sprintf("127.0.0.1:%d", upPort))
	f.PipelineUp.Insert(toxic.Both, toxic.NewCorrupt(1.0))

	done := make(chan struct{})
	go func() {
		f.Run(context.Background(), serverSide)
		close(done)
	}()

	_, err := clientSide.Write([]byte("ABCD"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = io.ReadFull(clientSide, buf)
	require.NoError(t, err)
	assert.Equal(t, "BCD", string(buf[1:]))
	assert.Equal(t, 1, m.corruptions)

	clientSide.Close()
	<-done
}

func TestForwarder_ConcurrentConnections(t *testing.T) {
	upPort := freePort(t)
	stop := echoServer2(t, upPort)
	defer stop()

	const n = 25
	results := make(chan error, n)

	for i := 0; i < n; i++ {
		go func(i int) {
			clientSide, serverSide := net.Pipe()
			f, _ := newForwarder("p1", fmt.Sprintf("127.0.0.1:%d", upPort))

			done := make(chan struct{})
			go func() {
				f.Run(context.Background(), serverSide)
				close(done)
			}()

			msg := fmt.Sprintf("msg-%d", i)
			if _, err := clientSide.Write([]byte(msg)); err != nil {
				results <- err

				return
			}
			buf := make([]byte, len(msg))
			if _, err := io.ReadFull(clientSide, buf); err != nil {
				results <- err

				return
			}
			if string(buf) != msg {
				results <- fmt.Errorf("got %q want %q", buf, msg)

				return
			}
			clientSide.Close()
			<-done
			results <- nil
		}(i)
	}

	for i := 0; i < n; i++ {
		assert.NoError(t, <-results)
	}
}

// echoServer2 accepts connections in a loop rather than once, for the
// concurrent-connections test.
func echoServer2(t *testing.T, port int) func() {
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
