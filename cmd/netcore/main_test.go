package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"netcore/internal/network"
	"netcore/pkg/databuf"
)

func TestStatsFrameSurvivesSplitDelivery(t *testing.T) {
	t.Parallel()
	frame := encodeStats(statsFrame{ID: "abc", Peers: 3, BytesIn: 2048, BytesOut: 10, Uptime: 90 * time.Second})
	stream := append([]byte("hello\n"), frame...)
	stream = append(stream, "bye\n"...)

	var out bytes.Buffer
	c := newClient(&out)
	for i := 0; i < len(stream); i++ {
		c.OnReceived(nil, stream[i:i+1])
	}
	want := "hello\n[stats] 3 online, in 2.0 kB, out 10 B, up 1m30s\nbye\n"
	if out.String() != want {
		t.Fatalf("output = %q, want %q", out.String(), want)
	}
}

func TestDecodeStats(t *testing.T) {
	t.Parallel()
	in := statsFrame{ID: "id-1", Peers: 7, BytesIn: 1, BytesOut: 2, Uptime: time.Minute}
	b := databuf.New(encodeStats(in))
	got, err := decodeStats(b)
	if err != nil || got != in || b.Len() != 0 {
		t.Fatalf("decode = %+v, %v (left %d)", got, err, b.Len())
	}

	short := databuf.New(encodeStats(in)[:5])
	if _, err := decodeStats(short); !errors.Is(err, databuf.ErrShortBuffer) || short.Len() != 5 {
		t.Fatalf("short decode = %v (left %d)", err, short.Len())
	}

	// Length prefix shorter than the fields.
	bad := databuf.New([]byte{statsTag, 0, 2, 0, 0})
	if _, err := decodeStats(bad); !errors.Is(err, errBadFrame) {
		t.Fatalf("bad decode = %v", err)
	}
}

func TestStrayTagByteStaysText(t *testing.T) {
	t.Parallel()
	frame := encodeStats(statsFrame{ID: "abc", Peers: 1})
	stream := []byte("a\x01bc\nnext\n")
	stream = append(stream, frame...)

	var out bytes.Buffer
	c := newClient(&out)
	for i := 0; i < len(stream); i++ {
		c.OnReceived(nil, stream[i:i+1])
	}
	want := "a\x01bc\nnext\n[stats] 1 online, in 0 B, out 0 B, up 0s\n"
	if out.String() != want {
		t.Fatalf("output = %q, want %q", out.String(), want)
	}
}

func TestDecodeStatsRejectsLengthMismatch(t *testing.T) {
	t.Parallel()
	frame := encodeStats(statsFrame{ID: "abc"})
	// Declare one extra body byte and supply it.
	frame[2]++
	frame = append(frame, 'x')
	b := databuf.New(frame)
	if _, err := decodeStats(b); !errors.Is(err, errBadFrame) {
		t.Fatalf("decode = %v, want errBadFrame", err)
	}
	if b.Len() != len(frame) {
		t.Fatalf("bad frame consumed %d bytes", len(frame)-b.Len())
	}

	long := encodeStats(statsFrame{ID: strings.Repeat("i", 200)})
	got, err := decodeStats(databuf.New(long))
	if err != nil || len(got.ID) != maxStatsID {
		t.Fatalf("long id decode = %d bytes, %v", len(got.ID), err)
	}
}

func TestForwardStdin(t *testing.T) {
	t.Parallel()
	var got []string
	send := func(b []byte) int {
		got = append(got, string(b))
		if strings.HasPrefix(string(b), "drop") {
			return 0
		}
		return 1
	}
	var warn bytes.Buffer
	if err := forwardStdin(strings.NewReader("a\r\ndrop\nb"), send, &warn); err != nil {
		t.Fatalf("forwardStdin: %v", err)
	}
	if strings.Join(got, "|") != "a\n|drop\n|b\n" {
		t.Fatalf("sent %q", got)
	}
	if !strings.Contains(warn.String(), "dropped") {
		t.Fatalf("warn = %q", warn.String())
	}
}

type lineReader struct {
	c net.Conn
	r *bufio.Reader
}

func chatDial(t *testing.T, l *network.Listener) *lineReader {
	t.Helper()
	c, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return &lineReader{c: c, r: bufio.NewReader(c)}
}

func (lr *lineReader) line(t *testing.T) string {
	t.Helper()
	_ = lr.c.SetReadDeadline(time.Now().Add(3 * time.Second))
	s, err := lr.r.ReadString('\n')
	if err != nil {
		t.Fatalf("read line: %v", err)
	}
	return s
}

func TestChatEchoesAndRelays(t *testing.T) {
	t.Parallel()
	l := network.NewListener(network.ListenerConfig{Host: "127.0.0.1"}, newChatRoom().hooks)
	if err := l.Bind(); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = l.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
		l.CloseAll()
	})

	alice := chatDial(t, l)
	if s := alice.line(t); !strings.HasPrefix(s, "welcome ") {
		t.Fatalf("alice greeting = %q", s)
	}
	bob := chatDial(t, l)
	if s := bob.line(t); !strings.HasSuffix(s, "2 online\n") {
		t.Fatalf("bob greeting = %q", s)
	}
	if s := alice.line(t); !strings.HasSuffix(s, " joined\n") {
		t.Fatalf("join notice = %q", s)
	}

	// Split across writes: the room frames by newline.
	_, _ = alice.c.Write([]byte("hel"))
	time.Sleep(20 * time.Millisecond)
	_, _ = alice.c.Write([]byte("lo\n"))
	if s := alice.line(t); s != "hello\n" {
		t.Fatalf("echo = %q", s)
	}
	if s := bob.line(t); !strings.HasSuffix(s, ": hello\n") {
		t.Fatalf("relay = %q", s)
	}

	_, _ = bob.c.Write([]byte("/quit\n"))
	if s := bob.line(t); s != "bye\n" {
		t.Fatalf("quit reply = %q", s)
	}
	if s := alice.line(t); !strings.HasSuffix(s, " left\n") {
		t.Fatalf("leave notice = %q", s)
	}
}
