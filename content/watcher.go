package content

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/anacrolix/log"

	"github.com/dannyzb/p2pfabric/config"
)

// Watcher debounces fsnotify events on the shared folder and feeds newly
// created or fully-written files into a Store (spec §4.2's "watch the
// shared folder for new files" requirement).
type Watcher struct {
	store   *Store
	logger  log.Logger
	fsw     *fsnotify.Watcher
	pending map[string]*time.Timer
}

// NewWatcher starts watching store's root directory. Call Close to stop.
func NewWatcher(store *Store, logger log.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fsnotify watcher")
	}
	if err := fsw.Add(store.Root()); err != nil {
		fsw.Close()
		return nil, errors.Wrapf(err, "watch %s", store.Root())
	}
	w := &Watcher{
		store:   store,
		logger:  logger,
		fsw:     fsw,
		pending: map[string]*time.Timer{},
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Levelf(log.Error, "watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") || hasExcludedSuffix(name) {
		return
	}
	if t, ok := w.pending[ev.Name]; ok {
		t.Stop()
	}
	w.pending[ev.Name] = time.AfterFunc(config.WatcherDebounce, func() {
		if _, known := w.store.GetFileMetadata(name); known {
			return
		}
		if err := w.store.ProcessNewFile(ev.Name); err != nil {
			w.logger.Levelf(log.Error, "process watched file %s: %v", name, err)
		}
	})
}

// Close stops watching and releases the fsnotify handle.
func (w *Watcher) Close() error {
	for _, t := range w.pending {
		t.Stop()
	}
	return w.fsw.Close()
}
