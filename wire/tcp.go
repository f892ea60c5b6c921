package wire

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// PeerCommand is a peer-to-peer TCP wire command.
type PeerCommand string

const (
	CmdGetChunk PeerCommand = "GET_CHUNK"
	CmdFileInfo PeerCommand = "FILE_INFO"
)

// Peer wire error codes (spec §4.3).
const (
	ErrCodeChunkNotFound = "CHUNK_NOT_FOUND"
	ErrCodeFileNotFound  = "FILE_NOT_FOUND"
)

// FileMetadata is the wire form of content.FileMetadata. Field names are
// camelCase per spec §6, preserved for wire compatibility even though the
// rest of this module's JSON uses snake_case.
type FileMetadata struct {
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	FileHash    string `json:"fileHash"`
	TotalChunks int    `json:"totalChunks"`
	CreatedAt   int64  `json:"createdAt"`
}

// Header is the JSON object that precedes every TCP message, request or
// response. Only the fields relevant to Command/Status are populated.
type Header struct {
	Command    PeerCommand   `json:"command,omitempty"`
	FileName   string        `json:"file_name,omitempty"`
	ChunkIndex int           `json:"chunk_index,omitempty"`
	Status     string        `json:"status,omitempty"`
	ChunkSize  int           `json:"chunk_size,omitempty"`
	Metadata   *FileMetadata `json:"metadata,omitempty"`
	ErrorCode  string        `json:"error_code,omitempty"`
	Message    string        `json:"message,omitempty"`
}

// maxHeaderSize guards against a malicious or corrupt length prefix causing
// an unbounded allocation.
const maxHeaderSize = 1 << 20

// WriteMessage writes a length-prefixed header followed by an optional
// body. The caller is responsible for setting h.ChunkSize to len(body) when
// a body is present, per the framing contract in spec §4.3.
func WriteMessage(w io.Writer, h Header, body []byte) error {
	encoded, err := json.Marshal(h)
	if err != nil {
		return errors.Wrap(err, "marshal tcp header")
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(encoded)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errors.Wrap(err, "write tcp header length")
	}
	if _, err := w.Write(encoded); err != nil {
		return errors.Wrap(err, "write tcp header")
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return errors.Wrap(err, "write tcp body")
		}
	}
	return nil
}

// ReadHeader reads the length-prefixed header. It does not read any body;
// callers that expect a body (Status == success and ChunkSize > 0) must
// follow up with ReadBody.
func ReadHeader(r io.Reader) (Header, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Header{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxHeaderSize {
		return Header{}, errors.Errorf("tcp header too large: %d bytes", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, errors.Wrap(err, "read tcp header")
	}
	var h Header
	if err := json.Unmarshal(buf, &h); err != nil {
		return Header{}, errors.Wrap(err, "decode tcp header")
	}
	return h, nil
}

// ReadBody reads exactly n bytes, the body length advertised by a header's
// ChunkSize field.
func ReadBody(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(err, "read tcp body")
	}
	return buf, nil
}
