// Package sockopt creates listening TCP sockets with an explicit backlog and
// SO_REUSEADDR set.
package sockopt

import (
	"context"
	"fmt"
	"net"
)

// Listen opens a TCP listener on addr. backlog <= 0 keeps the system default.
func Listen(addr string, backlog int) (net.Listener, error) {
	return ListenContext(context.Background(), addr, backlog)
}

func ListenContext(ctx context.Context, addr string, backlog int) (net.Listener, error) {
	lc := net.ListenConfig{Control: control}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if backlog > 0 {
		if err := setBacklog(ln, backlog); err != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("set backlog %d: %w", backlog, err)
		}
	}
	return ln, nil
}
