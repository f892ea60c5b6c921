package peerserver

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/anacrolix/missinggo"
)

// tcpListenConfig mirrors the teacher's: BitTorrent-style connections (and
// this fabric's chunk transfers) manage their own keepalives, so the
// kernel's is disabled.
var tcpListenConfig = net.ListenConfig{
	KeepAlive: -1,
}

// listenTcpRetries bounds how many times listenTcp retries an ephemeral
// (port 0) bind that loses a race against another process, mirroring the
// teacher's listenAllRetry retry-on-EADDRINUSE loop for dynamic ports.
const listenTcpRetries = 3

func listenTcp(addr string) (net.Listener, error) {
	_, portStr, splitErr := net.SplitHostPort(addr)
	dynamic := splitErr == nil && portStr == "0"

	var lastErr error
	attempts := 1
	if dynamic {
		attempts = listenTcpRetries
	}
	for i := 0; i < attempts; i++ {
		l, err := tcpListenConfig.Listen(context.Background(), "tcp", addr)
		if err == nil {
			return l, nil
		}
		lastErr = err
		if !dynamic || !missinggo.IsAddrInUse(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// isUnsupportedNetworkError reports whether err is the bind failure Linux
// returns for an address family the host doesn't support, which Accept
// loops should log and skip rather than treat as fatal.
func isUnsupportedNetworkError(err error) bool {
	var sysErr *net.OpError
	if !errors.As(err, &sysErr) {
		return false
	}
	var errno syscall.Errno
	if !errors.As(sysErr.Err, &errno) {
		return false
	}
	return errno == syscall.EAFNOSUPPORT
}
