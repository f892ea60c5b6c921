package wire

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeUDPRoundTripSmall(t *testing.T) {
	req := Request{Command: CmdHeartbeat, PeerID: "peer-a"}
	data, err := EncodeUDP(req, CompressionThreshold)
	require.NoError(t, err)
	require.False(t, bytes.HasPrefix(data, []byte(compressedPrefix)), "small payload should not be compressed")

	var got Request
	require.NoError(t, DecodeUDP(data, &got))
	require.Equal(t, req, got)
}

func TestEncodeUDPRoundTripLarge(t *testing.T) {
	files := make(map[string][]int)
	for i := 0; i < 200; i++ {
		files[strings.Repeat("f", 20)+string(rune('a'+i%26))] = []int{i, i + 1, i + 2}
	}
	req := Request{Command: CmdUpdate, PeerID: "peer-b", Files: files}
	data, err := EncodeUDP(req, CompressionThreshold)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte(compressedPrefix)), "large payload should be compressed")

	var got Request
	require.NoError(t, DecodeUDP(data, &got))
	require.Equal(t, len(req.Files), len(got.Files))
}

func TestDecodeUDPTreatsCompressionAsOptionalOnInput(t *testing.T) {
	// The tracker must accept a plain, uncompressed datagram; the payload is
	// built with EncodeUDPForTest, which never compresses whatever the size.
	req := Request{Command: CmdRegister, PeerID: "peer-c", Port: 5555}
	plain, err := EncodeUDPForTest(req)
	require.NoError(t, err)

	var got Request
	require.NoError(t, DecodeUDP(plain, &got))
	require.Equal(t, req, got)
}

// EncodeUDPForTest always produces an uncompressed encoding, regardless of
// size, to exercise the tolerant decode path.
func EncodeUDPForTest(v interface{}) ([]byte, error) {
	return EncodeUDP(v, 1<<30)
}

func TestTCPMessageRoundTripWithBody(t *testing.T) {
	var buf bytes.Buffer
	body := []byte("some chunk bytes")
	h := Header{Status: StatusSuccess, ChunkSize: len(body)}
	require.NoError(t, WriteMessage(&buf, h, body))

	gotHeader, err := ReadHeader(&buf)
	require.NoError(t, err)
	require.Equal(t, h, gotHeader)

	gotBody, err := ReadBody(&buf, gotHeader.ChunkSize)
	require.NoError(t, err)
	require.Equal(t, body, gotBody)
}

func TestTCPMessageRoundTripNoBody(t *testing.T) {
	var buf bytes.Buffer
	h := Header{Command: CmdFileInfo, FileName: "x.bin"}
	require.NoError(t, WriteMessage(&buf, h, nil))

	gotHeader, err := ReadHeader(&buf)
	require.NoError(t, err)
	require.Equal(t, h, gotHeader)
	require.Equal(t, 0, buf.Len())
}
