package tracker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/anacrolix/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/dannyzb/p2pfabric/wire"
)

func startTestServer(t *testing.T) (*Server, *net.UDPConn) {
	t.Helper()
	s, err := NewServer("127.0.0.1:0", log.Default.WithNames("tracker-test"), prometheus.NewRegistry())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Serve(ctx)
	t.Cleanup(func() {
		cancel()
		s.Close()
	})

	client, err := net.DialUDP("udp", nil, s.Addr().(*net.UDPAddr))
	require.NoError(t, err)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	t.Cleanup(func() { client.Close() })
	return s, client
}

func roundTrip(t *testing.T, conn *net.UDPConn, req wire.Request) wire.Response {
	t.Helper()
	data, err := wire.EncodeUDP(req, wire.CompressionThreshold)
	require.NoError(t, err)
	_, err = conn.Write(data)
	require.NoError(t, err)

	buf := make([]byte, 65535)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	var resp wire.Response
	require.NoError(t, wire.DecodeUDP(buf[:n], &resp))
	return resp
}

func TestServerRegisterReturnsPeerList(t *testing.T) {
	_, conn := startTestServer(t)
	resp := roundTrip(t, conn, wire.Request{Command: wire.CmdRegister, PeerID: "alice", Port: 7000})
	require.Equal(t, wire.StatusSuccess, resp.Status)
	require.NotContains(t, resp.Peers, "alice")
}

func TestServerUnknownCommand(t *testing.T) {
	_, conn := startTestServer(t)
	resp := roundTrip(t, conn, wire.Request{Command: "BOGUS", PeerID: "alice"})
	require.Equal(t, wire.StatusError, resp.Status)
	require.Equal(t, wire.ErrCodeUnknownCommand, resp.ErrorCode)
}

func TestServerMalformedJSONGetsProcessingError(t *testing.T) {
	_, conn := startTestServer(t)
	_, err := conn.Write([]byte("{not json"))
	require.NoError(t, err)

	buf := make([]byte, 65535)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	var resp wire.Response
	require.NoError(t, wire.DecodeUDP(buf[:n], &resp))
	require.Equal(t, wire.ErrCodeProcessing, resp.ErrorCode)
}

func TestServerTwoPeersSeeEachOther(t *testing.T) {
	s, connA := startTestServer(t)
	roundTrip(t, connA, wire.Request{Command: wire.CmdRegister, PeerID: "alice", Port: 7000})

	connB, err := net.DialUDP("udp", nil, s.Addr().(*net.UDPAddr))
	require.NoError(t, err)
	connB.SetReadDeadline(time.Now().Add(2 * time.Second))
	defer connB.Close()

	resp := roundTrip(t, connB, wire.Request{Command: wire.CmdRegister, PeerID: "bob", Port: 7001})
	require.Contains(t, resp.Peers, "alice")
	require.NotContains(t, resp.Peers, "bob")
}
