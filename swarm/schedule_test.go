package swarm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dannyzb/p2pfabric/directory"
	"github.com/dannyzb/p2pfabric/wire"
)

func TestRarestFirstOrderPrefersFewerHolders(t *testing.T) {
	peers := directory.NewKnownPeers()
	peers.Replace(map[string]wire.PeerInfo{
		"alice": {Addr: "10.0.0.1:7000", Files: map[string][]int{"f.bin": {0, 1, 2}}},
		"bob":   {Addr: "10.0.0.2:7000", Files: map[string][]int{"f.bin": {0}}},
	})

	order := rarestFirstOrder(peers, "f.bin", []int{0, 1, 2})
	require.Len(t, order, 3)
	require.Equal(t, 1, order[0].index, "chunk 1 has only one holder (alice) and must be scheduled first")
}

func TestRarestFirstOrderDropsChunksWithNoHolder(t *testing.T) {
	peers := directory.NewKnownPeers()
	peers.Replace(map[string]wire.PeerInfo{
		"alice": {Addr: "10.0.0.1:7000", Files: map[string][]int{"f.bin": {0}}},
	})

	order := rarestFirstOrder(peers, "f.bin", []int{0, 5})
	require.Len(t, order, 1)
	require.Equal(t, 0, order[0].index)
}

func TestRarestFirstOrderTiesBreakByIndex(t *testing.T) {
	peers := directory.NewKnownPeers()
	peers.Replace(map[string]wire.PeerInfo{
		"alice": {Addr: "10.0.0.1:7000", Files: map[string][]int{"f.bin": {0, 1}}},
	})

	order := rarestFirstOrder(peers, "f.bin", []int{1, 0})
	require.Equal(t, []int{0, 1}, []int{order[0].index, order[1].index})
}
