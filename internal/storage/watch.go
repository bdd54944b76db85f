package storage

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const watchDebounce = 100 * time.Millisecond

// watcher turns writes to the database files (main file, journal, WAL) by
// any process into broker notifications, so a second session on the same
// database sees changes without polling.
type watcher struct {
	fs       *fsnotify.Watcher
	base     string
	onChange func()
	log      *log.Entry
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

func newWatcher(dbPath string, onChange func(), logger *log.Entry) (*watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(dbPath)
	if err := fs.Add(dir); err != nil {
		fs.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w := &watcher{
		fs:       fs,
		base:     filepath.Base(dbPath),
		onChange: onChange,
		log:      logger,
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

func (w *watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	return strings.HasPrefix(filepath.Base(ev.Name), w.base)
}

func (w *watcher) run() {
	defer w.wg.Done()
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			fire = timer.C
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("database watcher error")
		case <-fire:
			fire = nil
			w.onChange()
		}
	}
}

func (w *watcher) stop() {
	w.once.Do(func() {
		close(w.done)
		w.fs.Close()
		w.wg.Wait()
	})
}
