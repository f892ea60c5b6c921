package directory

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dannyzb/p2pfabric/wire"
)

// TestReplaceDropsIdsAbsentFromReply exercises spec §4.4's peer-table merge
// rule: any id not present in the latest reply is removed, not merged
// forward from the previous view.
func TestReplaceDropsIdsAbsentFromReply(t *testing.T) {
	peers := NewKnownPeers()
	peers.Replace(map[string]wire.PeerInfo{
		"alice": {Addr: "10.0.0.1:7000", LastSeen: 1, Files: map[string][]int{"f.bin": {0}}},
		"bob":   {Addr: "10.0.0.2:7000", LastSeen: 1, Files: map[string][]int{"f.bin": {1}}},
	})
	peers.Replace(map[string]wire.PeerInfo{
		"alice": {Addr: "10.0.0.1:7000", LastSeen: 2, Files: map[string][]int{"f.bin": {0, 1}}},
	})

	got := peers.Snapshot()
	want := map[string]wire.PeerInfo{
		"alice": {Addr: "10.0.0.1:7000", LastSeen: 2, Files: map[string][]int{"f.bin": {0, 1}}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("snapshot after replace mismatch (-want +got):\n%s", diff)
	}
}

// TestOrderedReturnsEveryIDOnce backs the swarm downloader's
// metadata-discovery shortlist: KnownPeers.Ordered must list every peer
// installed by Replace exactly once.
func TestOrderedReturnsEveryIDOnce(t *testing.T) {
	peers := NewKnownPeers()
	peers.Replace(map[string]wire.PeerInfo{
		"c": {Addr: "10.0.0.3:1"},
		"a": {Addr: "10.0.0.1:1"},
		"b": {Addr: "10.0.0.2:1"},
	})

	// orderedmap preserves insertion order of Set calls, which for a map
	// literal is nondeterministic at the Go level; Ordered only promises
	// "the order Replace iterated its input", so assert against that by
	// checking the ids returned are exactly the input set, once each.
	ids := peers.Ordered()
	if len(ids) != 3 {
		t.Fatalf("want 3 ids, got %d: %v", len(ids), ids)
	}
	seen := map[string]bool{}
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("id %q returned twice in %v", id, ids)
		}
		seen[id] = true
	}
	for _, id := range []string{"a", "b", "c"} {
		if !seen[id] {
			t.Fatalf("missing id %q in %v", id, ids)
		}
	}
}

func TestPeersWithChunkToleratesSetAndListShapedInput(t *testing.T) {
	peers := NewKnownPeers()
	peers.Replace(map[string]wire.PeerInfo{
		"alice": {Addr: "10.0.0.1:1", Files: map[string][]int{"f.bin": {2, 0, 1}}},
		"bob":   {Addr: "10.0.0.2:1", Files: map[string][]int{"f.bin": {2}}},
	})

	holders := peers.PeersWithChunk("f.bin", 2)
	if len(holders) != 2 {
		t.Fatalf("want 2 holders of chunk 2, got %d: %v", len(holders), holders)
	}
}
