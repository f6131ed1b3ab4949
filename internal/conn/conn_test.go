package conn

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/die-net/sshsocks/internal/testutil"
)

func TestCopyBidirectional(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn.Close()

	up, err := net.Dial("tcp", echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}

	client, server := net.Pipe()

	done := make(chan RelayStats, 1)
	go func() {
		stats, _ := CopyBidirectional(ctx, server, up, RelayOptions{})
		done <- stats
	}()

	testutil.AssertEcho(t, client, client, []byte("hello"))
	testutil.AssertEcho(t, client, client, []byte("world!"))

	_ = client.Close()

	select {
	case stats := <-done:
		if stats.LeftToRight != 11 || stats.RightToLeft != 11 {
			t.Fatalf("unexpected stats %+v", stats)
		}
	case <-ctx.Done():
		t.Fatal("relay did not finish")
	}
}

func TestCopyBidirectionalFirstCloseTearsDownBoth(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	leftClient, leftServer := net.Pipe()
	rightServer, rightClient := net.Pipe()
	defer leftClient.Close()
	defer rightClient.Close()

	done := make(chan error, 1)
	go func() {
		_, err := CopyBidirectional(ctx, leftServer, rightServer, RelayOptions{})
		done <- err
	}()

	// Only the right peer hangs up; the left peer must observe closure too.
	_ = rightClient.Close()

	buf := make([]byte, 1)
	if _, err := leftClient.Read(buf); !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("expected closed left side, got %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected relay error: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("relay did not finish")
	}
}

func TestCopyBidirectionalContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	leftClient, leftServer := net.Pipe()
	rightServer, rightClient := net.Pipe()
	defer leftClient.Close()
	defer rightClient.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = CopyBidirectional(ctx, leftServer, rightServer, RelayOptions{})
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay ignored cancellation")
	}
}

func TestRateLimitedReader(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("x"), 3000)

	r := NewRateLimitedReader(context.Background(), bytes.NewReader(payload), 1000)
	start := time.Now()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("payload corrupted")
	}
	// Burst covers the first 1000 bytes; the rest needs ~2s of tokens.
	if elapsed := time.Since(start); elapsed < 1500*time.Millisecond {
		t.Fatalf("read finished too quickly: %s", elapsed)
	}
}

func TestRateLimitedReaderUnlimited(t *testing.T) {
	t.Parallel()

	src := bytes.NewReader([]byte("abc"))
	if r := NewRateLimitedReader(context.Background(), src, 0); r != io.Reader(src) {
		t.Fatal("expected passthrough reader")
	}
}

func TestListenTCP(t *testing.T) {
	t.Parallel()

	ln, err := ListenTCP("tcp", "127.0.0.1:0", net.KeepAliveConfig{Enable: false}, false)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	if _, ok := ln.(*KeepAliveListener); !ok {
		t.Fatalf("unexpected listener type %T", ln)
	}

	go func() {
		c, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			_ = c.Close()
		}
	}()

	c, err := ln.Accept()
	if err != nil {
		t.Fatal(err)
	}
	_ = c.Close()
}

func TestListenTCPReusePort(t *testing.T) {
	t.Parallel()

	if !ReusePortSupported {
		if _, err := ListenTCP("tcp", "127.0.0.1:0", net.KeepAliveConfig{}, true); err == nil {
			t.Fatal("expected error on unsupported platform")
		}
		return
	}

	ln1, err := ListenTCP("tcp", "127.0.0.1:0", net.KeepAliveConfig{}, true)
	if err != nil {
		t.Fatal(err)
	}
	defer ln1.Close()

	ln2, err := ListenTCP("tcp", ln1.Addr().String(), net.KeepAliveConfig{}, true)
	if err != nil {
		t.Fatalf("second SO_REUSEPORT bind failed: %v", err)
	}
	_ = ln2.Close()
}

func TestBufferPool(t *testing.T) {
	t.Parallel()

	b := GetDatagramBuffer()
	if len(*b) != DatagramBufferSize {
		t.Fatalf("unexpected size %d", len(*b))
	}
	PutDatagramBuffer(b)
}
