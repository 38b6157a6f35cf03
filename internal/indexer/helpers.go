package indexer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/knitli/codeweaver/internal/discovery"
)

// statFileRecord builds a fresh FileRecord for relPath within repo by
// re-statting it on disk, the single-file equivalent of one step of
// Walker.Walk, used by incremental updates that only touch one path.
func statFileRecord(repo discovery.RepositoryDescriptor, relPath string) (*discovery.FileRecord, error) {
	absPath := filepath.Join(repo.AbsPath, relPath)
	fi, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("indexer: stat %s: %w", relPath, err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("indexer: %s is a directory", relPath)
	}

	language := discovery.DetectLanguage(relPath)
	return &discovery.FileRecord{
		Path:        relPath,
		AbsPath:     absPath,
		Language:    language,
		ContentType: discovery.DetectContentType(language),
		Size:        fi.Size(),
		ModTime:     fi.ModTime(),
	}, nil
}

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
