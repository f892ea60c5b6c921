package peerserver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/anacrolix/log"
	"github.com/stretchr/testify/require"

	"github.com/dannyzb/p2pfabric/content"
)

func newTestStore(t *testing.T) *content.Store {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	s, err := content.NewStore("tester", log.Default.WithNames("peerserver-test"))
	require.NoError(t, err)
	return s
}

func startTestServer(t *testing.T, store *content.Store) *Server {
	t.Helper()
	s, err := NewServer("127.0.0.1:0", store, log.Default.WithNames("peerserver-test"))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Serve(ctx)
	t.Cleanup(func() {
		cancel()
		s.Close()
	})
	return s
}

func TestFetchChunkReturnsStoredData(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SaveChunk("a.bin", 0, []byte("hello world")))
	s := startTestServer(t, store)

	data, err := FetchChunk(s.Addr().String(), "a.bin", 0)
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), data)
}

func TestFetchChunkNotFound(t *testing.T) {
	store := newTestStore(t)
	s := startTestServer(t, store)

	_, err := FetchChunk(s.Addr().String(), "missing.bin", 0)
	require.Error(t, err)
}

func TestFetchFileInfo(t *testing.T) {
	store := newTestStore(t)
	original := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, os.WriteFile(original, []byte("some file contents"), 0o644))
	require.NoError(t, store.ProcessNewFile(original))
	s := startTestServer(t, store)

	meta, err := FetchFileInfo(s.Addr().String(), "doc.txt")
	require.NoError(t, err)
	require.Equal(t, int64(len("some file contents")), meta.FileSize)
	require.Equal(t, 1, meta.TotalChunks)
}

func TestFetchFileInfoUnknownFile(t *testing.T) {
	store := newTestStore(t)
	s := startTestServer(t, store)

	_, err := FetchFileInfo(s.Addr().String(), "nope.bin")
	require.Error(t, err)
}
