package directory

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/anacrolix/log"
	"github.com/frankban/quicktest"

	"github.com/dannyzb/p2pfabric/wire"
)

// fakeTracker answers every request with a canned success reply carrying no
// peers, enough to exercise Client's retry/connectivity bookkeeping without
// standing up a full tracker.Server.
func fakeTracker(t *testing.T) *net.UDPAddr {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	go func() {
		buf := make([]byte, 65535)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			var req wire.Request
			if err := wire.DecodeUDP(buf[:n], &req); err != nil {
				continue
			}
			data, _ := wire.EncodeUDP(wire.Response{Status: wire.StatusSuccess, Peers: map[string]wire.PeerInfo{}}, wire.CompressionThreshold)
			conn.WriteToUDP(data, from)
		}
	}()
	return conn.LocalAddr().(*net.UDPAddr)
}

func TestIsConnectedToTrackerFalseBeforeFirstSuccess(t *testing.T) {
	c := quicktest.New(t)
	addr := fakeTracker(t)
	client, err := NewClient(addr.String(), "p", 7000, func() map[string][]int { return nil }, log.Default.WithNames("directory-test"))
	c.Assert(err, quicktest.IsNil)
	t.Cleanup(func() { client.Close() })

	c.Assert(client.IsConnectedToTracker(), quicktest.IsFalse)
}

func TestRegisterSucceedsAndMarksConnected(t *testing.T) {
	c := quicktest.New(t)
	addr := fakeTracker(t)
	client, err := NewClient(addr.String(), "p", 7000, func() map[string][]int { return nil }, log.Default.WithNames("directory-test"))
	c.Assert(err, quicktest.IsNil)
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c.Assert(client.Register(ctx), quicktest.IsNil)
	c.Assert(client.IsConnectedToTracker(), quicktest.IsTrue)
}

func TestSendWithRetryGivesUpAndDisconnects(t *testing.T) {
	c := quicktest.New(t)
	// An address nothing listens on: no reply ever arrives, so every attempt
	// fails (on loopback the kernel reports the port unreachable, so attempts
	// fail fast and retries exhaust; if they instead waited out the 5s
	// response timeout, ctx's deadline would end Register first).
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	c.Assert(err, quicktest.IsNil)
	deadAddr := conn.LocalAddr().(*net.UDPAddr)
	conn.Close() // nothing answers on this port once closed

	client, err := NewClient(deadAddr.String(), "p", 7000, func() map[string][]int { return nil }, log.Default.WithNames("directory-test"))
	c.Assert(err, quicktest.IsNil)
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = client.Register(ctx)
	c.Assert(err, quicktest.IsNotNil)
	c.Assert(client.IsConnectedToTracker(), quicktest.IsFalse)
}
