package content

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// FileMetadata is the peer-side descriptor for one known file (spec §3).
type FileMetadata struct {
	FileName    string
	FileSize    int64
	FileHash    string
	TotalChunks int
	CreatedAt   int64 // milliseconds since epoch
}

// The metadata sidecar is a flat key/value text file (spec §3), not a
// general-purpose config format, so it's read and written directly with
// bufio rather than pulling in an INI library for a one-off layout no
// other component shares.

func writeMetadataFile(path string, m FileMetadata) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create metadata file")
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	fields := [][2]string{
		{"filename", m.FileName},
		{"filesize", strconv.FormatInt(m.FileSize, 10)},
		{"filehash", m.FileHash},
		{"totalchunks", strconv.Itoa(m.TotalChunks)},
		{"createdat", strconv.FormatInt(m.CreatedAt, 10)},
	}
	for _, kv := range fields {
		if _, err := w.WriteString(kv[0] + " = " + kv[1] + "\n"); err != nil {
			return errors.Wrap(err, "write metadata field")
		}
	}
	return w.Flush()
}

func readMetadataFile(path string) (FileMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileMetadata{}, errors.Wrap(err, "open metadata file")
	}
	defer f.Close()

	fields := map[string]string{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "[") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if err := sc.Err(); err != nil {
		return FileMetadata{}, errors.Wrap(err, "scan metadata file")
	}

	size, err := strconv.ParseInt(fields["filesize"], 10, 64)
	if err != nil {
		return FileMetadata{}, errors.Wrap(err, "parse filesize")
	}
	total, err := strconv.Atoi(fields["totalchunks"])
	if err != nil {
		return FileMetadata{}, errors.Wrap(err, "parse totalchunks")
	}
	created, _ := strconv.ParseInt(fields["createdat"], 10, 64)

	return FileMetadata{
		FileName:    fields["filename"],
		FileSize:    size,
		FileHash:    fields["filehash"],
		TotalChunks: total,
		CreatedAt:   created,
	}, nil
}
