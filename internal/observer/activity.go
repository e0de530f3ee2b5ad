package observer

import (
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Activity records which paths under a worktree change while an agent runs
type Activity struct {
	root    string
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	touched map[string]struct{}
	errs    int

	done chan struct{}
	once sync.Once
}

// WatchActivity starts watching root and every directory below it except
// .git
func WatchActivity(root string) (*Activity, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	a := &Activity{
		root:    root,
		watcher: watcher,
		touched: make(map[string]struct{}),
		done:    make(chan struct{}),
	}
	if err := a.addTree(root, false); err != nil {
		watcher.Close()
		return nil, err
	}

	go a.loop()
	return a, nil
}

func (a *Activity) loop() {
	defer close(a.done)
	for {
		select {
		case event, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			a.handleEvent(event)
		case _, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			a.mu.Lock()
			a.errs++
			a.mu.Unlock()
		}
	}
}

func (a *Activity) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	if ignored(a.root, event.Name) {
		return
	}
	a.record(event.Name)

	// New directories need their own watch; files created before the
	// watch was added are picked up by the walk
	if event.Has(fsnotify.Create) {
		a.addTree(event.Name, true)
	}
}

// addTree watches dir and its subdirectories. With record set, files found
// on the way are counted as touched.
func (a *Activity) addTree(dir string, record bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && !record {
				return err
			}
			return nil
		}
		if ignored(a.root, path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if err := a.watcher.Add(path); err != nil && path == dir && !record {
				return err
			}
			return nil
		}
		if record {
			a.record(path)
		}
		return nil
	})
}

func (a *Activity) record(path string) {
	rel, err := filepath.Rel(a.root, path)
	if err != nil || rel == "." {
		return
	}
	a.mu.Lock()
	a.touched[filepath.ToSlash(rel)] = struct{}{}
	a.mu.Unlock()
}

// Touched returns the paths seen so far, relative to the root and sorted
func (a *Activity) Touched() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	paths := make([]string, 0, len(a.touched))
	for p := range a.touched {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Errors returns how many watcher errors (e.g. queue overflows) occurred
func (a *Activity) Errors() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.errs
}

// settleDelay lets events the kernel already queued reach the loop before
// the watcher is closed
const settleDelay = 50 * time.Millisecond

// Stop ends the watch and returns the touched paths. Safe to call twice.
func (a *Activity) Stop() []string {
	a.once.Do(func() {
		time.Sleep(settleDelay)
		a.watcher.Close()
		<-a.done
	})
	return a.Touched()
}

func ignored(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return true
	}
	rel = filepath.ToSlash(rel)
	return rel == ".git" || len(rel) > 5 && rel[:5] == ".git/"
}
