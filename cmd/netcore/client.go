package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"netcore/internal/network"
	"netcore/pkg/databuf"
)

// client is the dial-mode hooks: text goes to out as-is, stats frames are
// decoded and printed in a readable form.
type client struct {
	network.NopHooks
	out io.Writer
	buf databuf.Buffer
}

func newClient(out io.Writer) *client { return &client{out: out} }

func (c *client) OnConnected(conn network.Conn) {
	fmt.Fprintf(c.out, "connected to %s\n", conn.RemoteAddr())
}

func (c *client) OnReceived(_ network.Conn, data []byte) {
	_, _ = c.buf.Write(data)
	for c.buf.Len() > 0 {
		rem := c.buf.Remaining()
		if rem[0] != statsTag {
			i := bytes.IndexByte(rem, statsTag)
			if i < 0 {
				i = len(rem)
			}
			chunk, _ := c.buf.Next(i)
			_, _ = c.out.Write(chunk)
			continue
		}
		f, err := decodeStats(&c.buf)
		if errors.Is(err, databuf.ErrShortBuffer) {
			break
		}
		if err != nil {
			// A stray tag byte in plain text.
			chunk, _ := c.buf.Next(1)
			_, _ = c.out.Write(chunk)
			continue
		}
		fmt.Fprintf(c.out, "[stats] %d online, in %s, out %s, up %s\n",
			f.Peers, humanize.Bytes(f.BytesIn), humanize.Bytes(f.BytesOut), f.Uptime.Round(time.Second))
	}
	c.buf.Compact()
}

func (c *client) OnDisconnected(conn network.Conn) {
	fmt.Fprintf(c.out, "disconnected from %s\n", conn.RemoteAddr())
}

// forwardStdin sends each line read from r through send until r ends.
func forwardStdin(r io.Reader, send func([]byte) int, warn io.Writer) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLine)
	for sc.Scan() {
		line := append(append([]byte(nil), sc.Bytes()...), '\n')
		if send(line) == 0 {
			fmt.Fprintln(warn, "not connected; line dropped")
		}
	}
	return sc.Err()
}
