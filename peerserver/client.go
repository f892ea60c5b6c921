package peerserver

import (
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/dannyzb/p2pfabric/config"
	"github.com/dannyzb/p2pfabric/wire"
)

// FetchChunk dials addr and requests one chunk, bounded by
// config.ChunkFetchTimeout.
func FetchChunk(addr, fileName string, index int) ([]byte, error) {
	conn, err := net.DialTimeout("tcp", addr, config.ChunkFetchTimeout)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(config.ChunkFetchTimeout))

	if err := wire.WriteMessage(conn, wire.Header{
		Command:    wire.CmdGetChunk,
		FileName:   fileName,
		ChunkIndex: index,
	}, nil); err != nil {
		return nil, errors.Wrap(err, "send get_chunk request")
	}

	h, err := wire.ReadHeader(conn)
	if err != nil {
		return nil, errors.Wrap(err, "read get_chunk response header")
	}
	if h.Status != wire.StatusSuccess {
		return nil, errors.Errorf("peer %s refused chunk %d of %q: %s", addr, index, fileName, h.ErrorCode)
	}
	body, err := wire.ReadBody(conn, h.ChunkSize)
	if err != nil {
		return nil, errors.Wrap(err, "read get_chunk body")
	}
	return body, nil
}

// FetchFileInfo dials addr and requests a file's metadata, bounded by
// config.FileInfoTimeout.
func FetchFileInfo(addr, fileName string) (wire.FileMetadata, error) {
	conn, err := net.DialTimeout("tcp", addr, config.FileInfoTimeout)
	if err != nil {
		return wire.FileMetadata{}, errors.Wrapf(err, "dial %s", addr)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(config.FileInfoTimeout))

	if err := wire.WriteMessage(conn, wire.Header{
		Command:  wire.CmdFileInfo,
		FileName: fileName,
	}, nil); err != nil {
		return wire.FileMetadata{}, errors.Wrap(err, "send file_info request")
	}

	h, err := wire.ReadHeader(conn)
	if err != nil {
		return wire.FileMetadata{}, errors.Wrap(err, "read file_info response header")
	}
	if h.Status != wire.StatusSuccess || h.Metadata == nil {
		return wire.FileMetadata{}, errors.Errorf("peer %s has no info for %q: %s", addr, fileName, h.ErrorCode)
	}
	return *h.Metadata, nil
}
