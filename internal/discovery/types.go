// Package discovery walks an indexed repository root, honoring ignore
// rules, and emits a lazy, restartable sequence of FileRecords (spec §4.3).
// It also exposes an optional watch mode that turns filesystem change
// notifications into debounced ChangeEvents.
package discovery

import "time"

// ContentType classifies a file's content for downstream chunking policy.
type ContentType string

const (
	ContentTypeCode     ContentType = "code"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
	ContentTypeConfig   ContentType = "config"
)

// RepositoryDescriptor identifies an indexed root (spec §3).
type RepositoryDescriptor struct {
	AbsPath        string
	ProjectName    string
	CollectionName string
}

// FileRecord is one discovered file (spec §3). ContentHash is computed
// lazily: discovery leaves it empty until the caller asks for it via
// Hash, since hashing every candidate up front defeats the point of a
// lazy walk on large repositories.
type FileRecord struct {
	Path        string // repo-relative
	AbsPath     string
	Language    string
	ContentType ContentType
	Size        int64
	ModTime     time.Time
	ContentHash string
	IsGenerated bool
}

// Result is streamed from Walk. Exactly one of File or Err is set.
type Result struct {
	File *FileRecord
	Err  error
}

// Options configures a Walk.
type Options struct {
	// ExcludePatterns are additional gitignore-syntax patterns beyond the
	// built-in vendor/build set and any project .gitignore files.
	ExcludePatterns []string

	// RespectIgnoreFiles enables parsing of project-local .gitignore files.
	RespectIgnoreFiles bool

	// MaxFileSize caps candidate file size in bytes (0 = DefaultMaxFileSize).
	MaxFileSize int64

	// Workers bounds directory-walk concurrency (0 = runtime.NumCPU()).
	Workers int

	// FollowSymlinks allows following symlinks that resolve inside the
	// root. Symlinks that escape the root are never followed (spec §4.3).
	FollowSymlinks bool
}

// DefaultMaxFileSize is the default candidate size cap (10MB), matching
// the corpus's RAG-sizing rationale: larger files rarely chunk well.
const DefaultMaxFileSize = 10 * 1024 * 1024

// ChangeKind is the kind of filesystem change a watch observed.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
	ChangeMoved    ChangeKind = "moved"
)

// ChangeEvent is a single coalesced filesystem change (spec §4.3).
type ChangeEvent struct {
	Path      string
	OldPath   string // set only for ChangeMoved
	Kind      ChangeKind
	Timestamp time.Time
}

// WatchOptions configures debounced watch mode.
type WatchOptions struct {
	// DebounceWindow coalesces bursts of events per path within this
	// window into a single emitted event.
	DebounceWindow time.Duration

	// EventBufferSize sizes the emitted-event channel.
	EventBufferSize int

	// IgnorePatterns are additional gitignore-syntax patterns to suppress
	// from the watch stream, beyond the walk's own exclusions.
	IgnorePatterns []string
}

// DefaultWatchOptions returns sane defaults for WatchOptions.
func DefaultWatchOptions() WatchOptions {
	return WatchOptions{
		DebounceWindow:  200 * time.Millisecond,
		EventBufferSize: 1000,
	}
}

func (o WatchOptions) withDefaults() WatchOptions {
	d := DefaultWatchOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = d.DebounceWindow
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = d.EventBufferSize
	}
	return o
}
