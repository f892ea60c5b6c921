package tracker

import (
	"github.com/davecgh/go-spew/spew"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/anacrolix/log"
)

// Metrics are the tracker-side counters that give spec §7's "the caller
// records a metric" language a concrete home. They're independent of any
// particular registry so tests can construct their own.
type Metrics struct {
	RequestsTotal  *prometheus.CounterVec
	DecodeErrors   prometheus.Counter
	UnknownCommand prometheus.Counter
	Evictions      prometheus.Counter
}

// NewMetrics registers the tracker's counters against reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated from the global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_requests_total",
			Help: "Directory protocol requests handled, by command.",
		}, []string{"command"}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_decode_errors_total",
			Help: "Datagrams that failed JSON decoding.",
		}),
		UnknownCommand: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_unknown_command_total",
			Help: "Requests with an unrecognized command.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_peer_evictions_total",
			Help: "Peer records evicted by the reaper for exceeding PEER_TIMEOUT.",
		}),
	}
	reg.MustRegister(m.RequestsTotal, m.DecodeErrors, m.UnknownCommand, m.Evictions)
	return m
}

// dumpTable writes a spew dump of the table's records to logger at Debug
// level. Useful when a reaper pass or a merge looks wrong under test; never
// called on a hot path.
func dumpTable(logger log.Logger, t *Table) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snapshot := make(map[string]*PeerRecord, t.records.Len())
	for el := t.records.Front(); el != nil; el = el.Next() {
		snapshot[el.Key.(string)] = el.Value.(*PeerRecord)
	}
	logger.Levelf(log.Debug, "peer table:\n%s", spew.Sdump(snapshot))
}
