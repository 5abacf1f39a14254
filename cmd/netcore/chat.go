package main

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"netcore/internal/network"
)

// maxLine bounds a pending line; longer input is relayed in pieces.
const maxLine = 64 << 10

// chatRoom is the serve-mode demo: every line is echoed to its sender and
// relayed to all other peers. Lines starting with '/' are commands.
type chatRoom struct {
	started time.Time
}

func newChatRoom() *chatRoom {
	return &chatRoom{started: time.Now()}
}

// hooks is the network.HooksFactory of the room.
func (r *chatRoom) hooks(h *network.Handler) network.Hooks {
	return &chatConn{room: r, h: h, nick: shortID(h.ID())}
}

type chatConn struct {
	room    *chatRoom
	h       *network.Handler
	nick    string
	pending []byte
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (c *chatConn) OnConnected(conn network.Conn) {
	peers := c.h.Listener().Len()
	conn.Send([]byte(fmt.Sprintf("welcome %s, %d online\n", c.nick, peers)))
	c.h.Listener().Broadcast([]byte("* "+c.nick+" joined\n"), conn)
}

func (c *chatConn) OnReceived(conn network.Conn, data []byte) {
	c.pending = append(c.pending, data...)
	for {
		i := bytes.IndexByte(c.pending, '\n')
		if i < 0 {
			if len(c.pending) < maxLine {
				return
			}
			i = len(c.pending) - 1
		}
		line := c.pending[:i+1]
		c.handle(conn, line)
		c.pending = c.pending[i+1:]
	}
}

func (c *chatConn) OnDisconnected(network.Conn) {
	// Already deregistered, so the broadcast only reaches the others.
	c.h.Listener().Broadcast([]byte("* " + c.nick + " left\n"))
}

func (c *chatConn) handle(conn network.Conn, line []byte) {
	cmd := strings.TrimSpace(string(line))
	switch cmd {
	case "/stats":
		st := c.h.Stats()
		conn.Send(encodeStats(statsFrame{
			ID:       c.h.ID(),
			Peers:    uint32(c.h.Listener().Len()),
			BytesIn:  st.BytesIn,
			BytesOut: st.BytesOut,
			Uptime:   time.Since(c.room.started),
		}))
	case "/who":
		var b strings.Builder
		for _, h := range c.h.Listener().Handlers() {
			b.WriteString("  " + shortID(h.ID()) + " " + h.RemoteAddr().String() + "\n")
		}
		conn.Send([]byte(b.String()))
	case "/quit":
		conn.Send([]byte("bye\n"))
		conn.Close()
	default:
		conn.Send(line)
		msg := make([]byte, 0, len(c.nick)+2+len(line))
		msg = append(msg, c.nick...)
		msg = append(msg, ": "...)
		msg = append(msg, line...)
		c.h.Listener().Broadcast(msg, conn)
	}
}
