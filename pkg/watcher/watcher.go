package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ritzau/pugmark/pkg/logging"
)

// ChangeType represents the type of file change detected
type ChangeType int

const (
	ChangeTypeParcels ChangeType = iota
	ChangeTypeNodes
)

func (t ChangeType) String() string {
	switch t {
	case ChangeTypeParcels:
		return "parcels"
	case ChangeTypeNodes:
		return "nodes"
	}
	return fmt.Sprintf("ChangeType(%d)", int(t))
}

// ChangeEvent represents a batch of file system changes
type ChangeEvent struct {
	Type      ChangeType
	Paths     []string
	Timestamp time.Time
}

// batchDelay groups the burst of events a single save produces
const batchDelay = 100 * time.Millisecond

// FileWatcher watches the parcel and node files for changes. It watches the
// containing directories so files replaced by rename are still seen.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	files   map[string]ChangeType // absolute path -> type
	events  chan ChangeEvent
	once    sync.Once
}

// NewFileWatcher creates a watcher for the given files. Empty paths are
// ignored.
func NewFileWatcher(parcelsPath, nodesPath string) (*FileWatcher, error) {
	files := make(map[string]ChangeType)
	for path, typ := range map[string]ChangeType{parcelsPath: ChangeTypeParcels, nodesPath: ChangeTypeNodes} {
		if path == "" {
			continue
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
		}
		files[abs] = typ
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher: watcher,
		files:   files,
		events:  make(chan ChangeEvent, 100),
	}, nil
}

// Start adds the watched directories and processes events until ctx is done
func (fw *FileWatcher) Start(ctx context.Context) error {
	dirs := make(map[string]bool)
	for path := range fw.files {
		dirs[filepath.Dir(path)] = true
	}
	for dir := range dirs {
		if err := fw.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	logging.Info("started watching files", "files", len(fw.files), "directories", len(dirs))

	go fw.processEvents(ctx)
	return nil
}

// processEvents filters file system events to the watched files and batches
// them by type
func (fw *FileWatcher) processEvents(ctx context.Context) {
	defer fw.Stop()
	defer close(fw.events)

	pending := make(map[ChangeType][]string)

	flushTimer := time.NewTimer(batchDelay)
	flushTimer.Stop()

	flush := func() {
		for _, typ := range []ChangeType{ChangeTypeParcels, ChangeTypeNodes} {
			if paths := pending[typ]; len(paths) > 0 {
				select {
				case fw.events <- ChangeEvent{Type: typ, Paths: paths, Timestamp: time.Now()}:
				case <-ctx.Done():
					return
				}
			}
		}
		pending = make(map[ChangeType][]string)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			abs, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			typ, watched := fw.files[abs]
			if !watched {
				continue
			}

			logging.Trace("file changed", "path", abs, "op", event.Op.String())
			pending[typ] = appendUnique(pending[typ], abs)
			flushTimer.Reset(batchDelay)

		case <-flushTimer.C:
			flush()

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("watcher error", "error", err)
		}
	}
}

// Events returns the channel of change events. It is closed when the
// watcher stops.
func (fw *FileWatcher) Events() <-chan ChangeEvent {
	return fw.events
}

// Stop releases the underlying watcher
func (fw *FileWatcher) Stop() error {
	var err error
	fw.once.Do(func() {
		err = fw.watcher.Close()
	})
	return err
}

func appendUnique(paths []string, path string) []string {
	for _, p := range paths {
		if p == path {
			return paths
		}
	}
	return append(paths, path)
}
