// Package swarm implements the download side of the fabric: metadata
// discovery, rarest-first chunk scheduling, and the bounded worker pools
// that fetch chunks from other peers over the wire protocol.
package swarm

import (
	"context"
	"sync"
	"time"

	"github.com/bradfitz/iter"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/anacrolix/log"

	"github.com/dannyzb/p2pfabric/config"
	"github.com/dannyzb/p2pfabric/content"
	"github.com/dannyzb/p2pfabric/directory"
	"github.com/dannyzb/p2pfabric/peerserver"
	"github.com/dannyzb/p2pfabric/wire"
)

// Downloader drives file downloads for one peer process. It bounds how
// many files are downloaded at once (config.MaxConcurrentDownloads,
// process-wide) and how many chunks of one file are fetched at once
// (config.ChunkDownloaderThreads, per file).
type Downloader struct {
	store  *content.Store
	peers  *directory.KnownPeers
	logger log.Logger

	tasks *semaphore.Weighted

	mu      sync.Mutex
	active  map[string]*Progress
}

// Progress reports a download's live state, read by the CLI's `downloads`
// command.
type Progress struct {
	FileName     string
	TotalChunks  int
	ChunksHave   int
	Done         bool
	Err          error
}

// NewDownloader builds a Downloader backed by store for persistence and
// peers for swarm membership.
func NewDownloader(store *content.Store, peers *directory.KnownPeers, logger log.Logger) *Downloader {
	return &Downloader{
		store:  store,
		peers:  peers,
		logger: logger,
		tasks:  semaphore.NewWeighted(config.MaxConcurrentDownloads),
		active: map[string]*Progress{},
	}
}

// Active returns a snapshot of in-flight download progress.
func (d *Downloader) Active() []Progress {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Progress, 0, len(d.active))
	for _, p := range d.active {
		out = append(out, *p)
	}
	return out
}

// StartDownload blocks until file is fully downloaded, reconstructed, and
// verified, or a non-retryable error occurs. It acquires the global
// download-task slot for its duration.
func (d *Downloader) StartDownload(ctx context.Context, file string) error {
	if err := d.tasks.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.tasks.Release(1)

	progress := &Progress{FileName: file}
	d.mu.Lock()
	d.active[file] = progress
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.active, file)
		d.mu.Unlock()
	}()

	meta, ok := d.store.GetFileMetadata(file)
	if !ok {
		found := discoverMetadata(d.peers, file, d.logger)
		if !found.Ok {
			err := errors.Errorf("no peer has metadata for %q", file)
			progress.Err = err
			return err
		}
		meta = contentMetaFromWire(found.Value)
		if err := d.store.SaveDiscoveredMetadata(meta); err != nil {
			progress.Err = err
			return err
		}
	}
	progress.TotalChunks = meta.TotalChunks

	if d.store.HasCompleteFile(file) {
		progress.ChunksHave = meta.TotalChunks
		progress.Done = true
		return d.store.Reconstruct(file)
	}

	for attempt := 0; attempt < config.MaxRetryAttempts; attempt++ {
		need := d.store.NeededChunks(file, meta.TotalChunks)
		if need.IsEmpty() {
			break
		}
		indices := make([]int, 0, need.GetCardinality())
		it := need.Iterator()
		for it.HasNext() {
			indices = append(indices, int(it.Next()))
		}

		if err := d.fetchRound(ctx, file, indices, progress); err != nil {
			if ctx.Err() != nil {
				progress.Err = err
				return err
			}
			d.logger.Levelf(log.Warning, "download round for %q failed: %v, retrying", file, err)
		}
	}

	if !d.store.HasCompleteFile(file) {
		err := errors.Errorf("download of %q incomplete after %d rounds", file, config.MaxRetryAttempts)
		progress.Err = err
		return err
	}

	progress.ChunksHave = meta.TotalChunks
	if err := d.store.Reconstruct(file); err != nil {
		progress.Err = err
		return err
	}
	progress.Done = true
	return nil
}

// fetchRound schedules one rarest-first pass over needed, fetching as many
// chunks as currently have a known holder. Chunks with no holder are left
// needed for the caller's next round; when no needed chunk has a holder at
// all, fetchRound waits ChunkFetchRetryWait and returns an error.
func (d *Downloader) fetchRound(ctx context.Context, file string, needed []int, progress *Progress) error {
	ordered := rarestFirstOrder(d.peers, file, needed)
	if len(ordered) == 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(config.ChunkFetchRetryWait):
		}
		return errors.Errorf("no peer currently advertises any needed chunk of %q", file)
	}

	sem := semaphore.NewWeighted(config.ChunkDownloaderThreads)
	var wg sync.WaitGroup
	errs := make(chan error, len(ordered))

	for _, c := range ordered {
		c := c
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			if err := d.fetchChunk(ctx, file, c.index); err != nil {
				errs <- err
				return
			}
			d.mu.Lock()
			progress.ChunksHave++
			d.mu.Unlock()
		}()
	}
	wg.Wait()
	close(errs)

	var firstErr error
	for err := range errs {
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// fetchChunk makes up to config.MaxRetryAttempts passes; each pass tries
// every peer currently advertising index in KnownPeers order, and the chunk
// is saved on the first success.
func (d *Downloader) fetchChunk(ctx context.Context, file string, index int) error {
	var lastErr error
	for range iter.N(config.MaxRetryAttempts) {
		addrs := addrsForChunk(d.peers, file, index)
		if len(addrs) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(config.ChunkFetchRetryWait):
			}
			lastErr = errors.Errorf("no peer advertises chunk %d of %q", index, file)
			continue
		}
		for _, addr := range addrs {
			data, err := peerserver.FetchChunk(addr, file, index)
			if err != nil {
				lastErr = err
				d.logger.Levelf(log.Debug, "fetch chunk %d of %q from %s failed: %v", index, file, addr, err)
				continue
			}
			return d.store.SaveChunk(file, index, data)
		}
	}
	return errors.Wrapf(lastErr, "chunk %d of %q unreachable", index, file)
}

func contentMetaFromWire(w wire.FileMetadata) content.FileMetadata {
	return content.FileMetadata{
		FileName:    w.FileName,
		FileSize:    w.FileSize,
		FileHash:    w.FileHash,
		TotalChunks: w.TotalChunks,
		CreatedAt:   w.CreatedAt,
	}
}
