package discovery

import (
	"fmt"
	"os"

	"github.com/knitli/codeweaver/internal/chunk"
)

// Hash computes and fills in record.ContentHash by reading the file from
// disk, performed lazily and only when the indexer actually needs it
// (spec §4.3: "compute content hash lazily on demand").
func Hash(record *FileRecord) error {
	content, err := os.ReadFile(record.AbsPath)
	if err != nil {
		return fmt.Errorf("discovery: hash %s: %w", record.Path, err)
	}
	record.ContentHash = chunk.ContentHash(content)
	return nil
}
