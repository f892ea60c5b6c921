package swarm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/anacrolix/log"
	"github.com/stretchr/testify/require"

	"github.com/dannyzb/p2pfabric/content"
	"github.com/dannyzb/p2pfabric/directory"
	"github.com/dannyzb/p2pfabric/peerserver"
	"github.com/dannyzb/p2pfabric/wire"
)

func newTestStore(t *testing.T, peerName string) *content.Store {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	s, err := content.NewStore(peerName, log.Default.WithNames("swarm-test"))
	require.NoError(t, err)
	return s
}

func TestDownloaderFetchesFromSeederAndReconstructs(t *testing.T) {
	seederStore := newTestStore(t, "seeder")
	payload := filepath.Join(t.TempDir(), "book.txt")
	data := make([]byte, 2*1024*1024+500)
	for i := range data {
		data[i] = byte(i % 200)
	}
	require.NoError(t, os.WriteFile(payload, data, 0o644))
	require.NoError(t, seederStore.ProcessNewFile(payload))

	seederServer, err := peerserver.NewServer("127.0.0.1:0", seederStore, log.Default.WithNames("seeder"))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go seederServer.Serve(ctx)
	t.Cleanup(func() {
		cancel()
		seederServer.Close()
	})

	meta, ok := seederStore.GetFileMetadata("book.txt")
	require.True(t, ok)

	leecherStore := newTestStore(t, "leecher")
	peers := directory.NewKnownPeers()
	files := map[string][]int{}
	for i := 0; i < meta.TotalChunks; i++ {
		files["book.txt"] = append(files["book.txt"], i)
	}
	peers.Replace(map[string]wire.PeerInfo{
		"seeder": {Addr: seederServer.Addr().String(), Files: files},
	})

	downloader := NewDownloader(leecherStore, peers, log.Default.WithNames("leecher"))
	require.NoError(t, downloader.StartDownload(context.Background(), "book.txt"))

	rebuilt, err := os.ReadFile(filepath.Join(leecherStore.Root(), "book.txt"))
	require.NoError(t, err)
	require.Equal(t, data, rebuilt)
}

func TestDownloaderFailsWithoutMetadataSource(t *testing.T) {
	leecherStore := newTestStore(t, "leecher")
	peers := directory.NewKnownPeers()
	downloader := NewDownloader(leecherStore, peers, log.Default.WithNames("leecher"))

	err := downloader.StartDownload(context.Background(), "nowhere.bin")
	require.Error(t, err)
}
