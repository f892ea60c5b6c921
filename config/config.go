// Package config holds the tunables shared by the tracker and peer cores.
package config

import "time"

// Defaults match the reference implementation's constants (spec §6).
const (
	// ChunkSize is the partition granularity in bytes. The final chunk of a
	// file is shorter.
	ChunkSize = 1 << 20 // 1 MiB

	// TrackerPort is the tracker's fixed UDP listen port.
	TrackerPort = 6881

	// MaxDatagramSize is the largest UDP payload the tracker and peers will
	// send or receive.
	MaxDatagramSize = 65535

	// PeerTimeout is how long a tracker record may go without a last_seen
	// update before the reaper evicts it.
	PeerTimeout = 120 * time.Second

	// CleanupInterval is the tracker reaper's sweep period.
	CleanupInterval = 30 * time.Second

	// UpdateInterval is how often a peer sends UPDATE to the tracker.
	UpdateInterval = 30 * time.Second

	// HeartbeatInterval is how often a peer sends HEARTBEAT to the tracker.
	HeartbeatInterval = 15 * time.Second

	// ResponseTimeout bounds how long a peer waits for a tracker UDP reply.
	ResponseTimeout = 5 * time.Second

	// MaxRetryAttempts bounds both UDP request retries and per-chunk fetch
	// attempts.
	MaxRetryAttempts = 3

	// MaxConcurrentDownloads is the process-wide cap on simultaneous
	// per-file download tasks.
	MaxConcurrentDownloads = 3

	// ChunkDownloaderThreads is the per-file cap on concurrent chunk
	// fetches.
	ChunkDownloaderThreads = 5

	// CompressionThreshold is the UDP payload size, in bytes, above which a
	// sender may zlib-compress the datagram.
	CompressionThreshold = 1024

	// TrackerHandlerPoolSize is the tracker's fixed UDP worker pool size.
	TrackerHandlerPoolSize = 10

	// WireServerPoolSize bounds concurrent inbound TCP peer connections.
	WireServerPoolSize = 20

	// TrackerStaleConnectionWindow is how recently the tracker must have
	// replied for isConnectedToTracker to report true.
	TrackerStaleConnectionWindow = 90 * time.Second

	// ChunkFetchRetryWait is how long a chunk fetch attempt waits before
	// retrying when no peer currently advertises the chunk.
	ChunkFetchRetryWait = 5 * time.Second

	// ChunkFetchTimeout bounds a single GET_CHUNK round trip.
	ChunkFetchTimeout = 15 * time.Second

	// FileInfoTimeout bounds a single FILE_INFO round trip.
	FileInfoTimeout = 10 * time.Second

	// WireServerIdleTimeout bounds how long the peer wire server keeps an
	// accepted connection open waiting for a request.
	WireServerIdleTimeout = 30 * time.Second

	// WatcherDebounce is how long the folder watcher waits after a create
	// event before ingesting the file, to let slow writers finish.
	WatcherDebounce = 2 * time.Second

	// ShutdownJoinTimeout bounds how long shutdown waits for periodic
	// tasks to exit.
	ShutdownJoinTimeout = 3 * time.Second
)
