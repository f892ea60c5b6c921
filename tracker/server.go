// Package tracker implements the directory protocol's server half: peer
// registration, liveness tracking, membership gossip via reply
// piggybacking, and timeout-based eviction (spec §4.1).
package tracker

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"github.com/dannyzb/p2pfabric/config"
	"github.com/dannyzb/p2pfabric/wire"
)

// Server is a single-process UDP tracker with a fixed-size worker pool.
type Server struct {
	conn    *net.UDPConn
	table   *Table
	logger  log.Logger
	metrics *Metrics
	sem     *semaphore.Weighted

	closing chansync.SetOnce
	wg      sync.WaitGroup
}

// NewServer binds a UDP socket on addr (host optional, defaults to all
// interfaces; port defaults to config.TrackerPort when addr has none) and
// returns a Server ready to Serve.
func NewServer(addr string, logger log.Logger, reg prometheus.Registerer) (*Server, error) {
	if addr == "" {
		addr = net.JoinHostPort("", strconv.Itoa(config.TrackerPort))
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "resolve tracker udp address")
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, errors.Wrap(err, "bind tracker udp socket")
	}
	return &Server{
		conn:    conn,
		table:   NewTable(),
		logger:  logger,
		metrics: NewMetrics(reg),
		sem:     semaphore.NewWeighted(config.TrackerHandlerPoolSize),
	}, nil
}

// Addr returns the bound local address.
func (s *Server) Addr() net.Addr { return s.conn.LocalAddr() }

// Table exposes the peer directory for tests and for a metrics/CLI facade.
func (s *Server) Table() *Table { return s.table }

// Serve runs the receive loop and the reaper. Canceling ctx stops the
// reaper; the receive loop returns when Close is called, or, once ctx is
// canceled, when the next datagram arrives. It always returns a non-nil
// error (net.ErrClosed after Close).
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		runReaper(ctx, s.table, s.metrics, s.logger)
	}()

	buf := make([]byte, config.MaxDatagramSize)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if s.closing.IsSet() {
				return errors.Wrap(net.ErrClosed, "tracker udp socket closed")
			}
			return errors.Wrap(err, "tracker udp read")
		}
		datagram := append([]byte(nil), buf[:n]...)

		if err := s.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		s.wg.Add(1)
		go func(data []byte, from *net.UDPAddr) {
			defer s.wg.Done()
			defer s.sem.Release(1)
			s.handleDatagram(data, from)
		}(datagram, from)
	}
}

// handleDatagram decodes one request and writes the reply, converting
// malformed or incomplete input into the error-handling policy of spec §7:
// a decode failure gets PROCESSING_ERROR, a decoded-but-incomplete request
// (missing command or peer_id) is logged and dropped silently.
func (s *Server) handleDatagram(data []byte, from *net.UDPAddr) {
	var req wire.Request
	if err := wire.DecodeUDP(data, &req); err != nil {
		s.metrics.DecodeErrors.Inc()
		s.logger.Levelf(log.Warning, "malformed datagram from %s: %v", from, err)
		s.reply(from, wire.Response{
			Status:    wire.StatusError,
			ErrorCode: wire.ErrCodeProcessing,
			Message:   "could not parse request",
		})
		return
	}
	if req.Command == "" || req.PeerID == "" {
		s.logger.Levelf(log.Warning, "incomplete request from %s: missing command or peer_id", from)
		return
	}
	resp := s.handle(req, from.IP.String(), time.Now())
	s.reply(from, resp)
}

func (s *Server) reply(to *net.UDPAddr, resp wire.Response) {
	data, err := wire.EncodeUDP(resp, wire.CompressionThreshold)
	if err != nil {
		s.logger.Levelf(log.Error, "encode reply to %s: %v", to, err)
		return
	}
	if _, err := s.conn.WriteToUDP(data, to); err != nil {
		s.logger.Levelf(log.Error, "send reply to %s: %v", to, err)
	}
}

// Close stops the receive loop and the reaper, and waits for in-flight
// handlers to finish.
func (s *Server) Close() error {
	s.closing.Set()
	err := s.conn.Close()
	s.wg.Wait()
	return err
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
