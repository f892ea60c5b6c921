// Package wire implements the two wire protocols the fabric speaks: the
// tracker's UDP/JSON directory protocol and the peer's length-prefixed TCP
// protocol. Both sides of each protocol import this package so the codec
// can't drift between client and server.
package wire

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// Command is a tracker directory-protocol command.
type Command string

const (
	CmdRegister   Command = "REGISTER"
	CmdUpdate     Command = "UPDATE"
	CmdUnregister Command = "UNREGISTER"
	CmdHeartbeat  Command = "HEARTBEAT"
)

// Tracker error codes (spec §4.1).
const (
	ErrCodeProcessing     = "PROCESSING_ERROR"
	ErrCodeUnknownCommand = "UNKNOWN_COMMAND"
)

// Request is the envelope for every datagram a peer sends the tracker. Only
// the fields relevant to Command are populated; the rest are left zero and
// omitted from the wire form.
type Request struct {
	Command   Command          `json:"command"`
	PeerID    string           `json:"peer_id"`
	Port      int              `json:"port,omitempty"`
	Timestamp float64          `json:"timestamp,omitempty"`
	Files     map[string][]int `json:"files,omitempty"`
}

// PeerInfo is how the tracker (and, shadowed, a peer's KnownPeers table)
// describes one swarm member.
type PeerInfo struct {
	Addr     string           `json:"addr"`
	LastSeen float64          `json:"last_seen"`
	Files    map[string][]int `json:"files"`
}

// Response is the envelope for every tracker reply.
type Response struct {
	Status    string              `json:"status"`
	Peers     map[string]PeerInfo `json:"peers,omitempty"`
	Message   string              `json:"message,omitempty"`
	ErrorCode string              `json:"error_code,omitempty"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// compressedPrefix marks a zlib-compressed datagram body. 11 bytes, ASCII.
const compressedPrefix = "COMPRESSED:"

// CompressionThreshold duplicated here (rather than importing config) to
// keep wire self-contained; config.CompressionThreshold must stay equal.
const CompressionThreshold = 1024

// EncodeUDP marshals v to JSON and, if the encoding exceeds threshold bytes,
// zlib-compresses it and prepends the COMPRESSED: prefix. threshold <= 0
// uses CompressionThreshold.
func EncodeUDP(v interface{}, threshold int) ([]byte, error) {
	if threshold <= 0 {
		threshold = CompressionThreshold
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshal udp payload")
	}
	if len(data) <= threshold {
		return data, nil
	}
	var buf bytes.Buffer
	buf.WriteString(compressedPrefix)
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, errors.Wrap(err, "compress udp payload")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "flush compressed udp payload")
	}
	return buf.Bytes(), nil
}

// DecodeUDP reverses EncodeUDP, tolerating both compressed and plain input
// regardless of whether the sender needed to compress.
func DecodeUDP(data []byte, v interface{}) error {
	if bytes.HasPrefix(data, []byte(compressedPrefix)) {
		zr, err := zlib.NewReader(bytes.NewReader(data[len(compressedPrefix):]))
		if err != nil {
			return errors.Wrap(err, "open compressed udp payload")
		}
		defer zr.Close()
		plain, err := io.ReadAll(zr)
		if err != nil {
			return errors.Wrap(err, "decompress udp payload")
		}
		data = plain
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(err, "decode udp payload")
	}
	return nil
}
