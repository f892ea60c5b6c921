package swarm

import (
	"github.com/anacrolix/generics"
	"github.com/anacrolix/log"

	"github.com/dannyzb/p2pfabric/directory"
	"github.com/dannyzb/p2pfabric/peerserver"
	"github.com/dannyzb/p2pfabric/wire"
)

// maxMetadataCandidates bounds how many peers are asked for FILE_INFO
// before giving up (spec §4.2: metadata discovery tries up to 3 peers).
const maxMetadataCandidates = 3

// discoverMetadata asks candidate peers (in KnownPeers order) for file's
// metadata, stopping at the first success.
func discoverMetadata(peers *directory.KnownPeers, file string, logger log.Logger) generics.Option[wire.FileMetadata] {
	var tried int
	for _, id := range peers.Ordered() {
		if tried >= maxMetadataCandidates {
			break
		}
		info, ok := peers.Get(id)
		if !ok {
			continue
		}
		if _, hasFile := info.Files[file]; !hasFile {
			continue
		}
		tried++
		meta, err := peerserver.FetchFileInfo(info.Addr, file)
		if err != nil {
			logger.Levelf(log.Debug, "file_info %q from %s failed: %v", file, id, err)
			continue
		}
		return generics.Some(meta)
	}
	return generics.None[wire.FileMetadata]()
}
