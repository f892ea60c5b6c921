package directory

import (
	"github.com/elliotchance/orderedmap"

	anasync "github.com/anacrolix/sync"

	"github.com/dannyzb/p2pfabric/wire"
)

// KnownPeers is a peer's local view of the swarm, refreshed wholesale on
// every tracker reply that carries a peer list (a REGISTER/UPDATE reply
// replaces the view of the swarm rather than merging into it
// field-by-field; entries absent from the latest reply are dropped).
// HEARTBEAT replies carry no peer list and leave the view unchanged.
type KnownPeers struct {
	mu    anasync.RWMutex
	table *orderedmap.OrderedMap
}

// NewKnownPeers returns an empty table.
func NewKnownPeers() *KnownPeers {
	return &KnownPeers{table: orderedmap.NewOrderedMap()}
}

// Replace discards the previous view and installs peers as the new one.
// Entries are inserted in the iteration order of the peers map, which Go
// does not define.
func (k *KnownPeers) Replace(peers map[string]wire.PeerInfo) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.table = orderedmap.NewOrderedMap()
	for id, info := range peers {
		k.table.Set(id, info)
	}
}

// Snapshot returns a copy of the current view as a map (unordered).
func (k *KnownPeers) Snapshot() map[string]wire.PeerInfo {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make(map[string]wire.PeerInfo, k.table.Len())
	for el := k.table.Front(); el != nil; el = el.Next() {
		out[el.Key.(string)] = el.Value.(wire.PeerInfo)
	}
	return out
}

// Ordered returns peer ids in the order the last Replace inserted them,
// which the swarm downloader uses to pick its metadata-discovery shortlist.
// That order is not the tracker's reply order and is not stable across
// replies.
func (k *KnownPeers) Ordered() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	ids := make([]string, 0, k.table.Len())
	for el := k.table.Front(); el != nil; el = el.Next() {
		ids = append(ids, el.Key.(string))
	}
	return ids
}

// Get returns one peer's info.
func (k *KnownPeers) Get(id string) (wire.PeerInfo, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	v, ok := k.table.Get(id)
	if !ok {
		return wire.PeerInfo{}, false
	}
	return v.(wire.PeerInfo), true
}

// Len reports how many peers are currently known.
func (k *KnownPeers) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.table.Len()
}

// PeersWithChunk returns ids of peers whose Files entry for file contains
// index, in the same order as Ordered (used by the rarest-first scheduler).
func (k *KnownPeers) PeersWithChunk(file string, index int) []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	var out []string
	for el := k.table.Front(); el != nil; el = el.Next() {
		info := el.Value.(wire.PeerInfo)
		for _, idx := range info.Files[file] {
			if idx == index {
				out = append(out, el.Key.(string))
				break
			}
		}
	}
	return out
}
