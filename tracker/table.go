package tracker

import (
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/elliotchance/orderedmap"
	anasync "github.com/anacrolix/sync"

	"github.com/dannyzb/p2pfabric/wire"
)

// PeerRecord is the tracker's authoritative view of one swarm member (spec
// §3). files maps a file name to the chunk indices that peer has most
// recently advertised.
type PeerRecord struct {
	Addr     string
	LastSeen time.Time
	Files    map[string]*roaring.Bitmap
}

// Table is the tracker's peer directory: one ordered map guarded by one
// mutex. Ordered iteration keeps peer-list replies and reaper sweeps
// deterministic, which makes the whole thing much easier to write tests
// against.
type Table struct {
	mu      anasync.RWMutex
	records *orderedmap.OrderedMap
}

// NewTable returns an empty peer table.
func NewTable() *Table {
	return &Table{records: orderedmap.NewOrderedMap()}
}

func (t *Table) get(id string) (*PeerRecord, bool) {
	v, ok := t.records.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*PeerRecord), true
}

// Register inserts or replaces the record for id, per REGISTER semantics:
// files is reset to empty and last_seen is bumped to now.
func (t *Table) Register(id, addr string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records.Set(id, &PeerRecord{
		Addr:     addr,
		LastSeen: now,
		Files:    map[string]*roaring.Bitmap{},
	})
}

// Update applies UPDATE semantics: if id is known, its files and last_seen
// are overwritten in place (addr is left untouched — it only changes on
// REGISTER). If id is unknown and addr is non-empty (the peer supplied its
// TCP port), a new record is inserted with addr, files and last_seen as
// given.
func (t *Table) Update(id, addr string, files map[string]*roaring.Bitmap, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.get(id); ok {
		rec.Files = files
		rec.LastSeen = now
		return
	}
	if addr == "" {
		return
	}
	t.records.Set(id, &PeerRecord{Addr: addr, LastSeen: now, Files: files})
}

// Heartbeat bumps last_seen for a known peer. If id is unknown and addr is
// non-empty, it registers the peer (as if this were its first REGISTER).
// It reports whether the id was already known before this call.
func (t *Table) Heartbeat(id, addr string, now time.Time) (knownBefore bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.get(id); ok {
		rec.LastSeen = now
		return true
	}
	if addr != "" {
		t.records.Set(id, &PeerRecord{Addr: addr, LastSeen: now, Files: map[string]*roaring.Bitmap{}})
	}
	return false
}

// Unregister removes id's record, if present.
func (t *Table) Unregister(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records.Delete(id)
}

// Len returns the number of live records.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.records.Len()
}

// Snapshot serializes the table to the wire form, excluding requester.
// Iteration order follows insertion order.
func (t *Table) Snapshot(requester string) map[string]wire.PeerInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]wire.PeerInfo, t.records.Len())
	for el := t.records.Front(); el != nil; el = el.Next() {
		id := el.Key.(string)
		if id == requester {
			continue
		}
		rec := el.Value.(*PeerRecord)
		out[id] = peerInfoFromRecord(rec)
	}
	return out
}

func peerInfoFromRecord(rec *PeerRecord) wire.PeerInfo {
	files := make(map[string][]int, len(rec.Files))
	for name, bm := range rec.Files {
		idx := make([]int, 0, bm.GetCardinality())
		it := bm.Iterator()
		for it.HasNext() {
			idx = append(idx, int(it.Next()))
		}
		files[name] = idx
	}
	return wire.PeerInfo{
		Addr:     rec.Addr,
		LastSeen: float64(rec.LastSeen.Unix()),
		Files:    files,
	}
}

// ReapStale evicts every record whose last_seen is older than timeout
// relative to now, returning the evicted ids in eviction order.
func (t *Table) ReapStale(now time.Time, timeout time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var stale []string
	for el := t.records.Front(); el != nil; el = el.Next() {
		rec := el.Value.(*PeerRecord)
		if now.Sub(rec.LastSeen) > timeout {
			stale = append(stale, el.Key.(string))
		}
	}
	for _, id := range stale {
		t.records.Delete(id)
	}
	return stale
}

// bitmapFromIndices converts the wire representation of a chunk set
// (a JSON list) into a roaring bitmap. The list may be unsorted or contain
// duplicates; both collapse into the same set.
func bitmapFromIndices(idx []int) *roaring.Bitmap {
	bm := roaring.New()
	for _, i := range idx {
		bm.Add(uint32(i))
	}
	return bm
}

// filesFromWire converts an UPDATE request's file map into bitmaps.
func filesFromWire(in map[string][]int) map[string]*roaring.Bitmap {
	out := make(map[string]*roaring.Bitmap, len(in))
	for name, idx := range in {
		out[name] = bitmapFromIndices(idx)
	}
	return out
}
