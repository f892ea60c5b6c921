package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegisterThenSnapshotExcludesRequester(t *testing.T) {
	table := NewTable()
	now := time.Now()
	table.Register("a", "10.0.0.1:4000", now)
	table.Register("b", "10.0.0.2:4000", now)

	snap := table.Snapshot("a")
	require.Len(t, snap, 1)
	_, hasA := snap["a"]
	require.False(t, hasA, "peer-list reply must never contain the requester's own id")
	_, hasB := snap["b"]
	require.True(t, hasB)
}

func TestUpdateOnUnknownPeerWithPortRegisters(t *testing.T) {
	table := NewTable()
	now := time.Now()
	table.Update("c", "10.0.0.3:5000", filesFromWire(map[string][]int{"x.bin": {0, 1}}), now)

	snap := table.Snapshot("")
	require.Contains(t, snap, "c")
	require.Equal(t, []int{0, 1}, snap["c"].Files["x.bin"])
}

func TestUpdateOnUnknownPeerWithoutPortIsDropped(t *testing.T) {
	table := NewTable()
	table.Update("d", "", filesFromWire(map[string][]int{"x.bin": {0}}), time.Now())
	require.Equal(t, 0, table.Len())
}

func TestHeartbeatOnUnknownPeerWithPortRegisters(t *testing.T) {
	table := NewTable()
	knownBefore := table.Heartbeat("e", "10.0.0.4:6000", time.Now())
	require.False(t, knownBefore)
	require.Equal(t, 1, table.Len())
}

func TestReapStaleEvictsOnlyExpiredRecords(t *testing.T) {
	table := NewTable()
	base := time.Now()
	table.Register("fresh", "10.0.0.1:1", base)
	table.Register("stale", "10.0.0.2:1", base.Add(-200*time.Second))

	evicted := table.ReapStale(base, 120*time.Second)
	require.Equal(t, []string{"stale"}, evicted)
	require.Equal(t, 1, table.Len())
}

func TestRegisterReplacesExistingRecord(t *testing.T) {
	table := NewTable()
	now := time.Now()
	table.Update("a", "10.0.0.1:1", filesFromWire(map[string][]int{"x.bin": {0, 1, 2}}), now)
	table.Register("a", "10.0.0.1:2", now.Add(time.Second))

	snap := table.Snapshot("")
	require.Empty(t, snap["a"].Files)
	require.Equal(t, "10.0.0.1:2", snap["a"].Addr)
}

func TestReplayingRegisterIsIdempotentApartFromLastSeen(t *testing.T) {
	table := NewTable()
	t1 := time.Now()
	table.Register("a", "10.0.0.1:1", t1)
	first := table.Snapshot("")["a"]

	t2 := t1.Add(time.Minute)
	table.Register("a", "10.0.0.1:1", t2)
	second := table.Snapshot("")["a"]

	require.Equal(t, first.Addr, second.Addr)
	require.Equal(t, first.Files, second.Files)
	require.NotEqual(t, first.LastSeen, second.LastSeen)
}
