// Package content implements the chunked content engine: deterministic
// partitioning of files into fixed-size chunks, content hashing, persistent
// chunk/metadata storage, and reconstruction with integrity verification
// (spec §4.2).
package content

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring"
	anasync "github.com/anacrolix/sync"
	"github.com/bradfitz/iter"
	"github.com/pkg/errors"

	"github.com/anacrolix/log"

	"github.com/dannyzb/p2pfabric/config"
)

// excludedSuffixes are never ingested as content, even if present in the
// shared folder (spec §4.2).
var excludedSuffixes = []string{".meta", ".chunk", ".part", ".tmp"}

// Store owns the on-disk layout and the in-memory {metadata,
// availableChunks} maps under one mutex (spec §3's ownership rule). All
// disk I/O happens outside the lock.
type Store struct {
	peerName     string
	root         string
	chunksDir    string
	metadataDir  string
	logger       log.Logger

	mu        anasync.Mutex
	metadata  map[string]FileMetadata
	available map[string]*roaring.Bitmap

	onUpdate func() // notifies the directory client that inventory changed
}

// NewStore creates (if needed) the on-disk layout under
// <home>/Downloads/P2P/<peerName> and loads any existing metadata/chunks
// into memory.
func NewStore(peerName string, logger log.Logger) (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.Wrap(err, "resolve home directory")
	}
	root := filepath.Join(home, "Downloads", "P2P", peerName)
	s := &Store{
		peerName:    peerName,
		root:        root,
		chunksDir:   filepath.Join(root, "chunks"),
		metadataDir: filepath.Join(root, "metadata"),
		logger:      logger,
		metadata:    map[string]FileMetadata{},
		available:   map[string]*roaring.Bitmap{},
	}
	for _, dir := range []string{s.root, s.chunksDir, s.metadataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create %s", dir)
		}
	}
	if err := s.loadLocalState(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetOnUpdate registers the callback invoked after ProcessNewFile
// successfully ingests a file, so the directory client can push an
// out-of-cycle UPDATE.
func (s *Store) SetOnUpdate(fn func()) { s.onUpdate = fn }

// Root is the peer's shared-folder path; the CLI and the folder watcher
// both need it.
func (s *Store) Root() string { return s.root }

// SafeName keeps alphanumerics and ". _ -", strips everything else, and
// trims trailing whitespace (spec §3).
func SafeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '.' || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	return strings.TrimRight(b.String(), " \t\r\n")
}

func (s *Store) chunkPath(file string, index int) string {
	return filepath.Join(s.chunksDir, SafeName(file)+"."+strconv.Itoa(index)+".chunk")
}

func (s *Store) metaPath(file string) string {
	return filepath.Join(s.metadataDir, SafeName(file)+".meta")
}

func hasExcludedSuffix(name string) bool {
	for _, suf := range excludedSuffixes {
		if strings.HasSuffix(name, suf) {
			return true
		}
	}
	return false
}

func (s *Store) loadLocalState() error {
	entries, err := os.ReadDir(s.metadataDir)
	if err != nil {
		return errors.Wrap(err, "list metadata directory")
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".meta") {
			continue
		}
		meta, err := readMetadataFile(filepath.Join(s.metadataDir, e.Name()))
		if err != nil {
			s.logger.Levelf(log.Error, "load metadata %s: %v", e.Name(), err)
			continue
		}
		s.mu.Lock()
		s.metadata[meta.FileName] = meta
		s.mu.Unlock()
		if err := s.scanChunksFor(meta.FileName); err != nil {
			s.logger.Levelf(log.Error, "scan chunks for %s: %v", meta.FileName, err)
		}
	}
	return s.ScanSharedFolder()
}

func (s *Store) scanChunksFor(file string) error {
	entries, err := os.ReadDir(s.chunksDir)
	if err != nil {
		return errors.Wrap(err, "list chunks directory")
	}
	prefix := SafeName(file) + "."
	bm := roaring.New()
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".chunk") {
			continue
		}
		mid := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".chunk")
		idx, err := strconv.Atoi(mid)
		if err != nil {
			continue
		}
		bm.Add(uint32(idx))
	}
	s.mu.Lock()
	s.available[file] = bm
	s.mu.Unlock()
	return nil
}

// ScanSharedFolder ingests every eligible file sitting directly in the
// shared folder that isn't already known. It's run at startup and may be
// re-run by CLI glue; the folder watcher handles ongoing changes.
func (s *Store) ScanSharedFolder() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return errors.Wrap(err, "list shared folder")
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") || hasExcludedSuffix(name) {
			continue
		}
		s.mu.Lock()
		_, known := s.metadata[name]
		s.mu.Unlock()
		if known {
			continue
		}
		if err := s.ProcessNewFile(filepath.Join(s.root, name)); err != nil {
			s.logger.Levelf(log.Error, "process %s: %v", name, err)
		}
	}
	return nil
}

// ProcessNewFile partitions path into config.ChunkSize chunks, hashes it,
// persists chunks and metadata, and notifies onUpdate. Empty files are
// ignored with a warning (spec §4.2).
func (s *Store) ProcessNewFile(path string) error {
	name := filepath.Base(path)
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrapf(err, "stat %s", name)
	}
	if info.Size() == 0 {
		s.logger.Levelf(log.Warning, "ignoring empty file: %s", name)
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", name)
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return errors.Wrapf(err, "hash %s", name)
	}
	fileHash := hex.EncodeToString(hash.Sum(nil))

	size := info.Size()
	totalChunks := int((size + config.ChunkSize - 1) / config.ChunkSize)
	meta := FileMetadata{
		FileName:    name,
		FileSize:    size,
		FileHash:    fileHash,
		TotalChunks: totalChunks,
		CreatedAt:   time.Now().UnixMilli(),
	}

	s.mu.Lock()
	s.metadata[name] = meta
	s.available[name] = roaring.New()
	s.mu.Unlock()

	if err := writeMetadataFile(s.metaPath(name), meta); err != nil {
		return errors.Wrapf(err, "save metadata for %s", name)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return errors.Wrapf(err, "rewind %s", name)
	}
	buf := make([]byte, config.ChunkSize)
	for i := range iter.N(totalChunks) {
		n, err := io.ReadFull(f, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return errors.Wrapf(err, "read chunk %d of %s", i, name)
		}
		if err := s.SaveChunk(name, i, buf[:n]); err != nil {
			return errors.Wrapf(err, "save chunk %d of %s", i, name)
		}
	}

	s.logger.Levelf(log.Info, "processed %q into %d chunks", name, totalChunks)
	if s.onUpdate != nil {
		s.onUpdate()
	}
	return nil
}

// SaveChunk writes a chunk file and records the index. Idempotent:
// overwriting an existing chunk is permitted.
func (s *Store) SaveChunk(file string, index int, data []byte) error {
	if err := os.WriteFile(s.chunkPath(file, index), data, 0o644); err != nil {
		return errors.Wrapf(err, "write chunk %d of %s", index, file)
	}
	s.mu.Lock()
	if s.available[file] == nil {
		s.available[file] = roaring.New()
	}
	s.available[file].Add(uint32(index))
	s.mu.Unlock()
	return nil
}

// LoadChunk returns a chunk's bytes, or ok=false if it isn't on disk.
func (s *Store) LoadChunk(file string, index int) (data []byte, ok bool, err error) {
	data, err = os.ReadFile(s.chunkPath(file, index))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "read chunk %d of %s", index, file)
	}
	return data, true, nil
}

// HasCompleteFile reports whether every chunk of file is present on disk.
func (s *Store) HasCompleteFile(file string) bool {
	meta, ok := s.GetFileMetadata(file)
	if !ok {
		return false
	}
	s.mu.Lock()
	bm := s.available[file]
	s.mu.Unlock()
	if bm == nil {
		return false
	}
	return int(bm.GetCardinality()) == meta.TotalChunks
}

// Reconstruct concatenates file's chunks in order, verifies the result
// against the stored hash, and atomically publishes it (spec §4.2).
func (s *Store) Reconstruct(file string) error {
	if !s.HasCompleteFile(file) {
		return errors.Errorf("cannot reconstruct incomplete file %q", file)
	}
	meta, _ := s.GetFileMetadata(file)
	outPath := filepath.Join(s.root, file)

	if info, err := os.Stat(outPath); err == nil && info.Size() == meta.FileSize {
		s.logger.Levelf(log.Info, "%q already complete, skipping reconstruction", file)
		return nil
	}

	partPath := outPath + ".part"
	if err := s.writePart(file, meta, partPath); err != nil {
		os.Remove(partPath)
		return err
	}

	hash, err := hashFile(partPath)
	if err != nil {
		os.Remove(partPath)
		return errors.Wrapf(err, "hash reconstructed %s", file)
	}
	if hash != meta.FileHash {
		os.Remove(partPath)
		return errors.Errorf("hash mismatch reconstructing %q: corrupted", file)
	}
	if err := os.Rename(partPath, outPath); err != nil {
		return errors.Wrapf(err, "publish reconstructed %s", file)
	}
	s.logger.Levelf(log.Info, "reconstructed and verified %q", file)
	return nil
}

func (s *Store) writePart(file string, meta FileMetadata, partPath string) error {
	out, err := os.Create(partPath)
	if err != nil {
		return errors.Wrap(err, "create .part file")
	}
	defer out.Close()
	for i := range iter.N(meta.TotalChunks) {
		data, ok, err := s.LoadChunk(file, i)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Errorf("chunk %d of %q missing during reconstruction", i, file)
		}
		if _, err := out.Write(data); err != nil {
			return errors.Wrapf(err, "write chunk %d to .part", i)
		}
	}
	return nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// GetFileMetadata returns a copy of file's metadata, if known.
func (s *Store) GetFileMetadata(file string) (FileMetadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.metadata[file]
	return m, ok
}

// SaveDiscoveredMetadata persists metadata learned from a remote peer (the
// swarm downloader's metadata-discovery step), before any chunk work
// starts (spec §5 ordering guarantee).
func (s *Store) SaveDiscoveredMetadata(w FileMetadata) error {
	s.mu.Lock()
	s.metadata[w.FileName] = w
	if s.available[w.FileName] == nil {
		s.available[w.FileName] = roaring.New()
	}
	s.mu.Unlock()
	return writeMetadataFile(s.metaPath(w.FileName), w)
}

// GetAvailableFiles returns a defensive copy of file -> chunk-index bitmap.
func (s *Store) GetAvailableFiles() map[string]*roaring.Bitmap {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*roaring.Bitmap, len(s.available))
	for name, bm := range s.available {
		out[name] = bm.Clone()
	}
	return out
}

// NeededChunks returns {0,...,totalChunks-1} minus the chunks already on
// disk for file.
func (s *Store) NeededChunks(file string, totalChunks int) *roaring.Bitmap {
	full := roaring.New()
	full.AddRange(0, uint64(totalChunks))
	s.mu.Lock()
	have := s.available[file]
	s.mu.Unlock()
	if have == nil {
		return full
	}
	return roaring.AndNot(full, have)
}

// TotalChunksCount sums the number of chunks held across all known files.
func (s *Store) TotalChunksCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, bm := range s.available {
		n += int(bm.GetCardinality())
	}
	return n
}

// TotalStorageUsed sums the on-disk size of every persisted chunk file.
func (s *Store) TotalStorageUsed() (int64, error) {
	entries, err := os.ReadDir(s.chunksDir)
	if err != nil {
		return 0, errors.Wrap(err, "list chunks directory")
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

// ForTracker serializes available chunks as fileName -> sorted chunk
// indices, the shape the directory client sends in UPDATE.
func (s *Store) ForTracker() map[string][]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]int, len(s.available))
	for name, bm := range s.available {
		idx := make([]int, 0, bm.GetCardinality())
		it := bm.Iterator()
		for it.HasNext() {
			idx = append(idx, int(it.Next()))
		}
		out[name] = idx
	}
	return out
}
