package discovery

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// gitignoreCacheSize bounds the per-directory matcher cache so a
// long-lived watch process doesn't grow it unbounded.
const gitignoreCacheSize = 1000

// defaultExcludeDirs are vendor/build directories skipped regardless of
// .gitignore (spec §4.3's "built-in set of vendor/build directories").
var defaultExcludeDirs = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/.aws/**",
	"**/.gcp/**",
	"**/.azure/**",
	"**/.ssh/**",
}

var defaultExcludeFiles = []string{
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
}

// sensitiveFilePatterns are never indexed, gitignore or not.
var sensitiveFilePatterns = []string{
	".env", ".env.*",
	"*.pem", "*.key", "*.p12", "*.pfx",
	"*credentials*", "*secrets*", "*password*",
	".netrc", ".npmrc", ".pypirc",
	"id_rsa", "id_dsa", "id_ecdsa", "id_ed25519",
}

// Walker discovers indexable files beneath a RepositoryDescriptor.
type Walker struct {
	ignoreCache *lru.Cache[string, *Matcher]
	cacheMu     sync.RWMutex
}

// NewWalker creates a Walker.
func NewWalker() (*Walker, error) {
	cache, err := lru.New[string, *Matcher](gitignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("discovery: create gitignore cache: %w", err)
	}
	return &Walker{ignoreCache: cache}, nil
}

// Walk streams FileRecords for repo, closing the returned channel when
// the walk completes or ctx is cancelled.
func (w *Walker) Walk(ctx context.Context, repo RepositoryDescriptor, opts Options) (<-chan Result, error) {
	info, err := os.Stat(repo.AbsPath)
	if err != nil {
		return nil, fmt.Errorf("discovery: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("discovery: root is not a directory: %s", repo.AbsPath)
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	out := make(chan Result, 64)
	go func() {
		defer close(out)
		w.walk(ctx, repo.AbsPath, opts, maxSize, out)
	}()
	return out, nil
}

func (w *Walker) walk(ctx context.Context, absRoot string, opts Options, maxSize int64, out chan<- Result) {
	err := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return nil
		}

		relPath, relErr := filepath.Rel(absRoot, path)
		if relErr != nil || relPath == "." {
			return nil
		}

		if d.IsDir() {
			if w.shouldExcludeDir(relPath, opts) {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			if !opts.FollowSymlinks {
				return nil
			}
			target, resolveErr := filepath.EvalSymlinks(path)
			if resolveErr != nil {
				return nil
			}
			rel, err := filepath.Rel(absRoot, target)
			if err != nil || strings.HasPrefix(rel, "..") {
				// Escapes the root: never followed (spec §4.3).
				return nil
			}
		}

		if w.shouldExcludeFile(relPath, absRoot, opts) {
			return nil
		}

		fi, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		if fi.Size() > maxSize {
			return nil
		}
		if isBinary(path) {
			return nil
		}

		language := DetectLanguage(relPath)
		record := &FileRecord{
			Path:        relPath,
			AbsPath:     path,
			Language:    language,
			ContentType: DetectContentType(language),
			Size:        fi.Size(),
			ModTime:     fi.ModTime(),
			IsGenerated: isGeneratedFile(path),
		}

		select {
		case out <- Result{File: record}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	if err != nil && err != context.Canceled {
		select {
		case out <- Result{Err: err}:
		case <-ctx.Done():
		}
	}
}

func (w *Walker) shouldExcludeDir(relPath string, opts Options) bool {
	for _, pattern := range defaultExcludeDirs {
		if matchDirPattern(relPath, pattern) {
			return true
		}
	}
	for _, pattern := range opts.ExcludePatterns {
		if matchDirPattern(relPath, pattern) {
			return true
		}
	}
	return false
}

func (w *Walker) shouldExcludeFile(relPath, absRoot string, opts Options) bool {
	base := filepath.Base(relPath)
	for _, pattern := range sensitiveFilePatterns {
		if matchFilePattern(base, relPath, pattern) {
			return true
		}
	}
	for _, pattern := range defaultExcludeFiles {
		if matchFilePattern(base, relPath, pattern) {
			return true
		}
	}
	for _, pattern := range opts.ExcludePatterns {
		if matchFilePattern(base, relPath, pattern) {
			return true
		}
	}
	if opts.RespectIgnoreFiles && w.isIgnored(relPath, absRoot) {
		return true
	}
	return false
}

// isIgnored checks relPath against every .gitignore found from the root
// down to the file's containing directory.
func (w *Walker) isIgnored(relPath, absRoot string) bool {
	if m := w.matcherFor(absRoot, ""); m != nil && m.Match(relPath, false) {
		return true
	}

	dir := filepath.Dir(relPath)
	if dir == "." {
		return false
	}
	parts := strings.Split(dir, string(filepath.Separator))
	currentDir := absRoot
	currentBase := ""
	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}
		currentDir = filepath.Join(currentDir, part)
		if currentBase == "" {
			currentBase = part
		} else {
			currentBase = filepath.Join(currentBase, part)
		}
		if m := w.matcherFor(currentDir, currentBase); m != nil && m.Match(relPath, false) {
			return true
		}
	}
	return false
}

func (w *Walker) matcherFor(dir, base string) *Matcher {
	w.cacheMu.RLock()
	m, ok := w.ignoreCache.Get(dir)
	w.cacheMu.RUnlock()
	if ok {
		return m
	}

	gitignorePath := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(gitignorePath); os.IsNotExist(err) {
		return nil
	}
	m = New()
	if err := m.AddFromFile(gitignorePath, base); err != nil {
		return nil
	}
	w.cacheMu.Lock()
	w.ignoreCache.Add(dir, m)
	w.cacheMu.Unlock()
	return m
}

// InvalidateIgnoreCache drops all cached matchers, used when a
// .gitignore file changes under watch mode.
func (w *Walker) InvalidateIgnoreCache() {
	w.cacheMu.Lock()
	defer w.cacheMu.Unlock()
	w.ignoreCache.Purge()
}

func isBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil {
		return false
	}
	return bytes.Contains(buf[:n], []byte{0})
}

var generatedMarkers = []string{
	"// Code generated",
	"// DO NOT EDIT",
	"/* DO NOT EDIT",
	"# Generated by",
	"<!-- AUTO-GENERATED -->",
	"// Generated by",
	"/* Generated by",
}

func isGeneratedFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 1024)
	n, err := f.Read(buf)
	if err != nil {
		return false
	}
	content := string(buf[:n])
	for _, marker := range generatedMarkers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}
