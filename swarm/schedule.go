package swarm

import (
	"sort"

	"github.com/anacrolix/multiless"

	"github.com/dannyzb/p2pfabric/directory"
)

// candidate is one chunk still needed, annotated with how many known peers
// currently advertise it.
type candidate struct {
	index    int
	rarity   int
	bestAddr string
}

func (l candidate) cmp(r candidate) int {
	return multiless.New().Int(l.rarity, r.rarity).Int(l.index, r.index).OrderingInt()
}

// rarestFirstOrder recomputes, from the current KnownPeers view, the order
// in which needed should be fetched: rarest chunk first, ties broken by
// ascending index (spec §4.2). Chunks no peer currently advertises are
// dropped from the result and stay needed for a later round.
func rarestFirstOrder(peers *directory.KnownPeers, file string, needed []int) []candidate {
	out := make([]candidate, 0, len(needed))
	for _, idx := range needed {
		holders := peers.PeersWithChunk(file, idx)
		if len(holders) == 0 {
			continue
		}
		info, _ := peers.Get(holders[0])
		out = append(out, candidate{index: idx, rarity: len(holders), bestAddr: info.Addr})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].cmp(out[j]) < 0
	})
	return out
}

// addrsForChunk returns the TCP addresses of every known peer currently
// advertising file's chunk index, in KnownPeers order, for fetch retries
// that want to try a different peer each attempt.
func addrsForChunk(peers *directory.KnownPeers, file string, index int) []string {
	holders := peers.PeersWithChunk(file, index)
	addrs := make([]string, 0, len(holders))
	for _, id := range holders {
		if info, ok := peers.Get(id); ok {
			addrs = append(addrs, info.Addr)
		}
	}
	return addrs
}
