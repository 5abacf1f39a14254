//go:build !unix

package sockopt

import (
	"net"
	"syscall"
)

func control(_, _ string, _ syscall.RawConn) error { return nil }

func setBacklog(net.Listener, int) error { return nil }
