package directory

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
)

// Count is an atomic int64 counter that marshals as a bare JSON number and
// prints as a decimal string, adapted from the teacher's torrent.Count for this package's
// network-attempt bookkeeping (spec §7).
type Count struct {
	n int64
}

var _ fmt.Stringer = (*Count)(nil)

func (c *Count) Add(n int64) {
	atomic.AddInt64(&c.n, n)
}

func (c *Count) Int64() int64 {
	return atomic.LoadInt64(&c.n)
}

func (c *Count) String() string {
	return strconv.FormatInt(c.Int64(), 10)
}

func (c *Count) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.n)
}

// Metrics tracks directory-protocol traffic for one Client, mirroring the
// original's NetworkMetrics (spec §7).
type Metrics struct {
	MessagesSent     Count
	MessagesReceived Count
	FailedAttempts   Count
	Registrations    Count
	Heartbeats       Count
	Updates          Count
}
