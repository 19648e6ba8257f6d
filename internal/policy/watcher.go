package policy

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrWatcherFailed indicates the filesystem watcher could not initialize.
var ErrWatcherFailed = errors.New("failed to initialize policy watcher")

// debounceWindow absorbs editor write bursts (truncate + write, atomic
// rename) into one reload.
const debounceWindow = 250 * time.Millisecond

// Watcher hot-reloads a policy file. Successful reloads are delivered on
// Reloads(); parse or validation failures on Errors(), keeping the previous
// policy active. Swapping the active policy between runs is the caller's job:
// a reload never interrupts an in-flight pipeline run.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	reloads chan *Policy
	errs    chan error
	stop    chan struct{}
}

// NewWatcher creates a watcher for the given policy path. The file must load
// cleanly once before watching starts.
func NewWatcher(path string) (*Watcher, error) {
	if _, err := Load(path); err != nil {
		return nil, fmt.Errorf("initial policy load: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	return &Watcher{
		path:    path,
		watcher: fw,
		reloads: make(chan *Policy, 1),
		errs:    make(chan error, 4),
		stop:    make(chan struct{}),
	}, nil
}

// Start begins watching. Events are processed on a background goroutine until
// Stop is called or the context is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	// Watch the directory rather than the file: atomic-rename saves replace
	// the inode and a file watch would go stale.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching policy directory: %w", err)
	}

	go w.processEvents(ctx)
	return nil
}

// Stop stops the watcher and releases its resources.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}
}

// Reloads returns the channel delivering successfully reloaded policies.
func (w *Watcher) Reloads() <-chan *Policy {
	return w.reloads
}

// Errors returns the channel delivering reload failures.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

func (w *Watcher) processEvents(ctx context.Context) {
	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(debounceWindow)
				debounceC = debounce.C
			} else {
				debounce.Reset(debounceWindow)
			}

		case <-debounceC:
			debounce = nil
			debounceC = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.sendErr(fmt.Errorf("policy watcher: %w", err))
		}
	}
}

func (w *Watcher) reload() {
	p, err := Load(w.path)
	if err != nil {
		w.sendErr(err)
		return
	}

	// Only the latest policy matters; drop the stale one if the consumer
	// has not caught up.
	select {
	case w.reloads <- p:
	default:
		select {
		case <-w.reloads:
		default:
		}
		select {
		case w.reloads <- p:
		default:
		}
	}
}

func (w *Watcher) sendErr(err error) {
	select {
	case w.errs <- err:
	default:
	}
}
