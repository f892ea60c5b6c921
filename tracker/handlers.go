package tracker

import (
	"time"

	"github.com/anacrolix/log"

	"github.com/dannyzb/p2pfabric/wire"
)

// handle dispatches one decoded request and returns the reply to send.
// sourceIP is the peer's IP as observed by the UDP socket (the port in req.Port, if
// any, is the peer's advertised TCP listen port, not the UDP source port).
func (s *Server) handle(req wire.Request, sourceIP string, now time.Time) wire.Response {
	s.metrics.RequestsTotal.WithLabelValues(string(req.Command)).Inc()

	switch req.Command {
	case wire.CmdRegister:
		return s.handleRegister(req, sourceIP, now)
	case wire.CmdUpdate:
		return s.handleUpdate(req, sourceIP, now)
	case wire.CmdUnregister:
		return s.handleUnregister(req)
	case wire.CmdHeartbeat:
		return s.handleHeartbeat(req, sourceIP, now)
	default:
		s.metrics.UnknownCommand.Inc()
		s.logger.Levelf(log.Warning, "unknown command %q from %s", req.Command, req.PeerID)
		return wire.Response{
			Status:    wire.StatusError,
			ErrorCode: wire.ErrCodeUnknownCommand,
			Message:   "command not recognized",
		}
	}
}

func (s *Server) handleRegister(req wire.Request, sourceIP string, now time.Time) wire.Response {
	if req.Port == 0 {
		s.logger.Levelf(log.Warning, "REGISTER from %s missing tcp port", req.PeerID)
		return wire.Response{Status: wire.StatusSuccess, Peers: s.table.Snapshot(req.PeerID)}
	}
	addr := joinHostPort(sourceIP, req.Port)
	s.table.Register(req.PeerID, addr, now)
	s.logger.Levelf(log.Info, "peer registered: %s at %s (%d peers)", req.PeerID, addr, s.table.Len())
	return wire.Response{Status: wire.StatusSuccess, Peers: s.table.Snapshot(req.PeerID)}
}

func (s *Server) handleUpdate(req wire.Request, sourceIP string, now time.Time) wire.Response {
	var addr string
	if req.Port != 0 {
		addr = joinHostPort(sourceIP, req.Port)
	}
	s.table.Update(req.PeerID, addr, filesFromWire(req.Files), now)
	s.logger.Levelf(log.Debug, "peer updated: %s with %d files", req.PeerID, len(req.Files))
	return wire.Response{Status: wire.StatusSuccess, Peers: s.table.Snapshot(req.PeerID)}
}

func (s *Server) handleUnregister(req wire.Request) wire.Response {
	s.table.Unregister(req.PeerID)
	s.logger.Levelf(log.Info, "peer unregistered: %s (%d peers)", req.PeerID, s.table.Len())
	return wire.Response{Status: wire.StatusSuccess, Message: "ACK"}
}

func (s *Server) handleHeartbeat(req wire.Request, sourceIP string, now time.Time) wire.Response {
	var addr string
	if req.Port != 0 {
		addr = joinHostPort(sourceIP, req.Port)
	}
	knownBefore := s.table.Heartbeat(req.PeerID, addr, now)
	if !knownBefore {
		if addr == "" {
			s.logger.Levelf(log.Warning, "heartbeat from unknown peer %s without port, ignoring", req.PeerID)
		} else {
			s.logger.Levelf(log.Info, "heartbeat from unknown peer %s, registering", req.PeerID)
		}
	} else {
		s.logger.Levelf(log.Debug, "heartbeat from %s", req.PeerID)
	}
	return wire.Response{Status: wire.StatusSuccess, Message: "ACK"}
}
