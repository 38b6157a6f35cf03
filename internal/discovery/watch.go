package discovery

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher turns raw filesystem notifications into a debounced stream of
// ChangeEvents (spec §4.3), coalescing bursts of events per path within
// WatchOptions.DebounceWindow.
//
// Grounded on the teacher's internal/watcher.Debouncer coalescing rules
// (CREATE+MODIFY=CREATE, CREATE+DELETE=nothing, MODIFY+DELETE=DELETE,
// DELETE+CREATE=MODIFY), adapted to emit one ChangeEvent per path instead
// of a teacher-style FileEvent batch, and wired directly onto fsnotify
// rather than a generic Operation enum.
type Watcher struct {
	fsw    *fsnotify.Watcher
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingChange
	timer   *time.Timer
	window  time.Duration

	// gitignoreContent remembers the last-seen content of every .gitignore
	// the watch has observed, so an edit can be diffed against what came
	// before it instead of re-scanned as an ordinary file change.
	gitignoreContent map[string]string

	out    chan ChangeEvent
	closed chan struct{}
}

type pendingChange struct {
	firstOp ChangeKind
	event   ChangeEvent
}

// NewWatcher creates a Watcher rooted at root. Directories matched by the
// built-in exclusions (defaultExcludeDirs) or opts.IgnorePatterns are not
// watched; .gitignore rules and file-level exclusions are not applied to
// the events it emits. logger may be nil.
func NewWatcher(root string, opts WatchOptions, logger *slog.Logger) (*Watcher, error) {
	opts = opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:              fsw,
		logger:           logger,
		pending:          make(map[string]*pendingChange),
		window:           opts.DebounceWindow,
		gitignoreContent: make(map[string]string),
		out:              make(chan ChangeEvent, opts.EventBufferSize),
		closed:           make(chan struct{}),
	}

	if err := w.addTree(root, opts); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(root string, opts WatchOptions) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if rel == "." {
			return w.fsw.Add(path)
		}
		for _, pattern := range defaultExcludeDirs {
			if matchDirPattern(rel, pattern) {
				return filepath.SkipDir
			}
		}
		for _, pattern := range opts.IgnorePatterns {
			if matchDirPattern(rel, pattern) {
				return filepath.SkipDir
			}
		}
		return w.fsw.Add(path)
	})
}

// Events returns the debounced ChangeEvent stream. The channel closes
// once Run returns.
func (w *Watcher) Events() <-chan ChangeEvent {
	return w.out
}

// Run drives the event loop until ctx is cancelled or Close is called.
// Each raw fsnotify event and each debounce flush is a suspension point
// (spec §4.3/§5), so cancellation is observed promptly.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.out)
	defer w.stopTimerLocked()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.closed:
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleRaw(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

// Close stops the underlying fsnotify watcher and the run loop.
func (w *Watcher) Close() error {
	select {
	case <-w.closed:
	default:
		close(w.closed)
	}
	return w.fsw.Close()
}

func (w *Watcher) handleRaw(ev fsnotify.Event) {
	if filepath.Base(ev.Name) == ".gitignore" && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) != 0 {
		w.reconcileGitignore(ev.Name)
		return
	}

	kind, ok := classify(ev.Op)
	if !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	path := ev.Name
	next := ChangeEvent{Path: path, Kind: kind, Timestamp: time.Now()}

	existing, present := w.pending[path]
	if !present {
		w.pending[path] = &pendingChange{firstOp: kind, event: next}
	} else if merged, keep := coalesce(existing.firstOp, next); keep {
		w.pending[path] = &pendingChange{firstOp: merged.Kind, event: merged}
	} else {
		delete(w.pending, path)
	}

	w.scheduleFlushLocked()
}

// reconcileGitignore handles an edit to a .gitignore file itself. Rather
// than surfacing the edit as an ordinary change event, it diffs the old
// and new pattern sets (DiffPatterns) and walks the .gitignore's directory
// once, queuing a synthetic delete for every file that newly falls under
// an added pattern and a synthetic create for every file that was only
// ignored by a now-removed pattern. This keeps a long-running watch's
// index in sync with ignore-rule edits instead of requiring a full re-walk.
func (w *Watcher) reconcileGitignore(path string) {
	var newContent string
	if b, err := os.ReadFile(path); err == nil {
		newContent = string(b)
	}

	w.mu.Lock()
	oldContent := w.gitignoreContent[path]
	w.gitignoreContent[path] = newContent
	w.mu.Unlock()

	added, removed := DiffPatterns(oldContent, newContent)
	if len(added) == 0 && len(removed) == 0 {
		return
	}
	newPatterns := ParsePatterns(newContent)

	dir := filepath.Dir(path)
	now := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || p == path {
			return nil
		}
		rel, relErr := filepath.Rel(dir, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		switch {
		case MatchesAnyPattern(rel, added):
			w.pending[p] = &pendingChange{firstOp: ChangeDeleted, event: ChangeEvent{Path: p, Kind: ChangeDeleted, Timestamp: now}}
		case MatchesAnyPattern(rel, removed) && !MatchesAnyPattern(rel, newPatterns):
			w.pending[p] = &pendingChange{firstOp: ChangeCreated, event: ChangeEvent{Path: p, Kind: ChangeCreated, Timestamp: now}}
		}
		return nil
	})

	w.scheduleFlushLocked()
}

func (w *Watcher) scheduleFlushLocked() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.window, w.flush)
}

func (w *Watcher) stopTimerLocked() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *Watcher) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]*pendingChange)
	w.mu.Unlock()

	for _, pc := range pending {
		select {
		case w.out <- pc.event:
		default:
			w.logger.Warn("watch event buffer full, dropping event",
				slog.String("path", pc.event.Path))
		}
	}
}

// coalesce merges a new change into an existing pending one for the same
// path, per the teacher's Debouncer rules. keep is false when the two
// events cancel out (a created-then-deleted file never really existed).
func coalesce(first ChangeKind, next ChangeEvent) (ChangeEvent, bool) {
	switch first {
	case ChangeCreated:
		switch next.Kind {
		case ChangeModified:
			next.Kind = ChangeCreated
			return next, true
		case ChangeDeleted:
			return ChangeEvent{}, false
		default:
			return next, true
		}
	case ChangeDeleted:
		if next.Kind == ChangeCreated {
			next.Kind = ChangeModified
			return next, true
		}
		return next, true
	default:
		return next, true
	}
}

func classify(op fsnotify.Op) (ChangeKind, bool) {
	switch {
	case op&fsnotify.Create != 0:
		return ChangeCreated, true
	case op&fsnotify.Write != 0:
		return ChangeModified, true
	case op&fsnotify.Remove != 0:
		return ChangeDeleted, true
	case op&fsnotify.Rename != 0:
		return ChangeMoved, true
	default:
		return "", false
	}
}
