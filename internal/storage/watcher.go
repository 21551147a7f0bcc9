package storage

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/opencode-ai/sharesync/internal/event"
	"github.com/opencode-ai/sharesync/internal/logging"
)

// Watcher observes the storage tree for writes made by other processes
// and republishes them as storage.write events. The watch daemon runs
// one of these so sessions written by a separate CLI process still sync
// to the share server; the daemon itself does not write session keys,
// so every observed write is foreign.
type Watcher struct {
	storage *Storage
	bus     *event.Bus
	watcher *fsnotify.Watcher

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	mu      sync.Mutex
}

// NewWatcher creates a watcher over the whole storage tree.
func NewWatcher(storage *Storage, bus *event.Bus) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		storage: storage,
		bus:     bus,
		watcher: fsw,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	// fsnotify does not recurse; register the root and every existing
	// subdirectory. New subdirectories are registered as they appear.
	if err := w.addTree(storage.BasePath()); err != nil {
		fsw.Close()
		return nil, err
	}

	logging.Debug().Str("dir", storage.BasePath()).Msg("storage watcher initialized")
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

// Start begins watching. Stop tears the watcher down.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error().Err(err).Msg("storage watcher error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}

	if info.IsDir() {
		// Watch the new directory and emit anything already inside it,
		// which happens when a whole tree is moved into place.
		if err := w.addTree(ev.Name); err != nil {
			logging.Warn().Err(err).Str("dir", ev.Name).Msg("failed to watch new directory")
			return
		}
		w.emitExisting(ev.Name)
		return
	}

	w.emitFile(ev.Name)
}

func (w *Watcher) emitExisting(dir string) {
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		w.emitFile(path)
		return nil
	})
}

// emitFile publishes a storage.write for one on-disk value. Temp files,
// lock files, and the migration counter never carry the .json suffix,
// so they fall out here.
func (w *Watcher) emitFile(path string) {
	if !strings.HasSuffix(path, ".json") {
		return
	}

	key, err := w.storage.fileToKey(path)
	if err != nil {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	event.StorageWrite.Publish(w.bus, event.StorageWriteProperties{
		Key:     key,
		Content: data,
	})
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	select {
	case <-w.stopCh:
		// Already stopped
	default:
		close(w.stopCh)
	}

	if started {
		<-w.doneCh
	}

	return w.watcher.Close()
}
