// Package peerserver implements the peer-to-peer TCP wire endpoint: an
// inbound server that answers GET_CHUNK and FILE_INFO requests, and a
// client the swarm downloader uses to issue them. Its listen/accept
// plumbing is adapted from the teacher's generic socket handling, trimmed
// to the one network (TCP) and one accept loop this fabric needs.
package peerserver

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/log"
	missinggo "github.com/anacrolix/missinggo/v2"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/dannyzb/p2pfabric/config"
	"github.com/dannyzb/p2pfabric/content"
	"github.com/dannyzb/p2pfabric/wire"
)

// Server answers wire.CmdGetChunk and wire.CmdFileInfo requests from other
// peers over TCP (spec §4.3).
type Server struct {
	listener net.Listener
	store    *content.Store
	logger   log.Logger
	sem      *semaphore.Weighted

	closing chansync.SetOnce
	wg      sync.WaitGroup
}

// NewServer binds addr (host:port, port 0 picks any free port).
func NewServer(addr string, store *content.Store, logger log.Logger) (*Server, error) {
	l, err := listenTcp(addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen tcp on %s", addr)
	}
	return &Server{
		listener: l,
		store:    store,
		logger:   logger,
		sem:      semaphore.NewWeighted(config.WireServerPoolSize),
	}, nil
}

// Addr is the bound TCP listen address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Port is the bound TCP port, for REGISTER/UPDATE requests to the tracker.
func (s *Server) Port() int { return int(missinggo.AddrPort(s.listener.Addr())) }

// Serve accepts connections until ctx is canceled or Close is called. Each
// connection is handled by a goroutine bounded by a semaphore sized
// config.WireServerPoolSize.
func (s *Server) Serve(ctx context.Context) error {
	s.wg.Add(1)
	defer s.wg.Done()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.closing.Done():
		}
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closing.IsSet() || ctx.Err() != nil {
				return nil
			}
			if isUnsupportedNetworkError(err) {
				s.logger.Levelf(log.Warning, "accept: skipping unsupported network error: %v", err)
				continue
			}
			return errors.Wrap(err, "accept")
		}
		if err := s.sem.Acquire(ctx, 1); err != nil {
			conn.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.sem.Release(1)
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(config.WireServerIdleTimeout))

	header, err := wire.ReadHeader(conn)
	if err != nil {
		s.logger.Levelf(log.Debug, "read header from %s: %v", conn.RemoteAddr(), err)
		return
	}

	switch header.Command {
	case wire.CmdGetChunk:
		s.handleGetChunk(conn, header)
	case wire.CmdFileInfo:
		s.handleFileInfo(conn, header)
	default:
		s.logger.Levelf(log.Warning, "unknown peer command %q from %s", header.Command, conn.RemoteAddr())
		wire.WriteMessage(conn, wire.Header{
			Status:    wire.StatusError,
			ErrorCode: "UNKNOWN_COMMAND",
			Message:   "unrecognized command",
		}, nil)
	}
}

func (s *Server) handleGetChunk(conn net.Conn, h wire.Header) {
	data, ok, err := s.store.LoadChunk(h.FileName, h.ChunkIndex)
	if err != nil {
		s.logger.Levelf(log.Error, "load chunk %d of %s: %v", h.ChunkIndex, h.FileName, err)
	}
	if err != nil || !ok {
		wire.WriteMessage(conn, wire.Header{
			Status:     wire.StatusError,
			ErrorCode:  wire.ErrCodeChunkNotFound,
			FileName:   h.FileName,
			ChunkIndex: h.ChunkIndex,
		}, nil)
		return
	}
	wire.WriteMessage(conn, wire.Header{
		Status:     wire.StatusSuccess,
		FileName:   h.FileName,
		ChunkIndex: h.ChunkIndex,
		ChunkSize:  len(data),
	}, data)
}

func (s *Server) handleFileInfo(conn net.Conn, h wire.Header) {
	meta, ok := s.store.GetFileMetadata(h.FileName)
	if !ok {
		wire.WriteMessage(conn, wire.Header{
			Status:    wire.StatusError,
			ErrorCode: wire.ErrCodeFileNotFound,
			FileName:  h.FileName,
		}, nil)
		return
	}
	wireMeta := wire.FileMetadata{
		FileName:    meta.FileName,
		FileSize:    meta.FileSize,
		FileHash:    meta.FileHash,
		TotalChunks: meta.TotalChunks,
		CreatedAt:   meta.CreatedAt,
	}
	wire.WriteMessage(conn, wire.Header{
		Status:   wire.StatusSuccess,
		FileName: h.FileName,
		Metadata: &wireMeta,
	}, nil)
}

// Close stops accepting, unblocks Accept with a self-connect so Serve can
// return promptly, and waits up to config.ShutdownJoinTimeout for in-flight
// handlers to finish.
func (s *Server) Close() error {
	if !s.closing.Set() {
		return nil
	}
	if conn, err := net.DialTimeout("tcp", s.listener.Addr().String(), time.Second); err == nil {
		conn.Close()
	}
	err := s.listener.Close()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(config.ShutdownJoinTimeout):
	}
	return err
}
