package conflict

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fixwright/fixwright/internal/event"
	"github.com/fixwright/fixwright/internal/logging"
)

// FileConflict is a file written by more than one running job.
type FileConflict struct {
	RelativePath string
	JobIDs       []string
	LastModified time.Time
}

// Watcher observes file writes across per-job workspaces and reports
// files touched by more than one job. Unlike Detector it sees actual
// edits, not textual hints, so it catches overlap the pre-flight check
// missed.
type Watcher struct {
	watcher *fsnotify.Watcher
	bus     *event.Bus
	logger  *logging.Logger

	mu         sync.RWMutex
	workspaces map[string]string // job ID -> workspace root
	// relative path -> job ID -> last write time
	writes    map[string]map[string]time.Time
	conflicts []FileConflict

	ignoreDirs []string
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewWatcher creates a stopped watcher. bus may be nil.
func NewWatcher(bus *event.Bus, logger *logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create filesystem watcher: %w", err)
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Watcher{
		watcher:    fsw,
		bus:        bus,
		logger:     logger,
		workspaces: make(map[string]string),
		writes:     make(map[string]map[string]time.Time),
		ignoreDirs: []string{".git", "node_modules", ".fixwright", ".DS_Store"},
		stopCh:     make(chan struct{}),
	}, nil
}

// AddWorkspace starts watching a job's workspace tree.
func (w *Watcher) AddWorkspace(jobID, root string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.workspaces[jobID] = root
	if err := w.watcher.Add(root); err != nil {
		return fmt.Errorf("watch workspace %s: %w", root, err)
	}
	return w.watchSubdirs(root)
}

// watchSubdirs registers every non-ignored directory under root.
// fsnotify watches are per-directory, not recursive.
func (w *Watcher) watchSubdirs(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		base := filepath.Base(path)
		for _, ignore := range w.ignoreDirs {
			if base == ignore {
				// SkipDir from a file would skip the rest of the
				// containing directory, not just this entry.
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		if info.IsDir() {
			_ = w.watcher.Add(path)
		}
		return nil
	})
}

// RemoveWorkspace stops watching a job's workspace and drops its writes.
func (w *Watcher) RemoveWorkspace(jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	root, ok := w.workspaces[jobID]
	if !ok {
		return
	}
	_ = w.watcher.Remove(root)
	delete(w.workspaces, jobID)

	for relPath, jobs := range w.writes {
		delete(jobs, jobID)
		if len(jobs) == 0 {
			delete(w.writes, relPath)
		}
	}
	w.recalculate()
}

// Start launches the event loop.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop shuts down the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
	})
}

func (w *Watcher) loop() {
	// Editors and tools burst several events per save; debounce before
	// recalculating.
	debounce := time.NewTimer(0)
	<-debounce.C

	pending := make(map[string]fsnotify.Event)

	for {
		select {
		case <-w.stopCh:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pending[ev.Name] = ev
			debounce.Reset(50 * time.Millisecond)

		case <-debounce.C:
			for _, ev := range pending {
				w.handleWrite(ev.Name)
			}
			pending = make(map[string]fsnotify.Event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("workspace watcher error", "error", err.Error())
		}
	}
}

func (w *Watcher) handleWrite(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, ignore := range w.ignoreDirs {
		sep := string(filepath.Separator)
		if strings.Contains(path, sep+ignore+sep) ||
			strings.HasSuffix(path, sep+ignore) ||
			filepath.Base(path) == ignore {
			return
		}
	}

	jobID, relPath := "", ""
	for id, root := range w.workspaces {
		if strings.HasPrefix(path, root) {
			jobID = id
			relPath, _ = filepath.Rel(root, path)
			break
		}
	}
	if jobID == "" {
		return
	}

	if w.writes[relPath] == nil {
		w.writes[relPath] = make(map[string]time.Time)
	}
	w.writes[relPath][jobID] = time.Now()
	w.recalculate()
}

// recalculate rebuilds the conflict list and notifies. Callers hold w.mu.
func (w *Watcher) recalculate() {
	conflicts := make([]FileConflict, 0)
	for relPath, jobs := range w.writes {
		if len(jobs) < 2 {
			continue
		}
		var ids []string
		var last time.Time
		for id, at := range jobs {
			ids = append(ids, id)
			if at.After(last) {
				last = at
			}
		}
		sort.Strings(ids)
		conflicts = append(conflicts, FileConflict{
			RelativePath: relPath,
			JobIDs:       ids,
			LastModified: last,
		})
	}

	fresh := len(conflicts) > len(w.conflicts)
	w.conflicts = conflicts

	if fresh && w.bus != nil {
		for _, c := range conflicts {
			w.bus.Publish(event.NewConflictDetectedEvent(c.JobIDs, []string{c.RelativePath}))
		}
	}
}

// Conflicts returns a copy of the current conflict list.
func (w *Watcher) Conflicts() []FileConflict {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]FileConflict, len(w.conflicts))
	copy(out, w.conflicts)
	return out
}

// WrittenBy returns the relative paths a job has written so far.
func (w *Watcher) WrittenBy(jobID string) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var files []string
	for relPath, jobs := range w.writes {
		if _, ok := jobs[jobID]; ok {
			files = append(files, relPath)
		}
	}
	sort.Strings(files)
	return files
}

// Expire drops writes older than maxAge so long-running jobs do not
// conflict forever with jobs that finished hours ago.
func (w *Watcher) Expire(maxAge time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for relPath, jobs := range w.writes {
		for id, at := range jobs {
			if at.Before(cutoff) {
				delete(jobs, id)
			}
		}
		if len(jobs) == 0 {
			delete(w.writes, relPath)
		}
	}
	w.recalculate()
}
