package profile

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"sigs.k8s.io/yaml"

	"github.com/bayleafwalker/bindery-runtime/internal/capability"
)

// FileStore reads the profile from a YAML (or JSON) document of attribute
// names to booleans:
//
//	sells_products: true
//	sells_products_for_onsite_consumption: true
type FileStore struct {
	path string
	log  logr.Logger
	subs subscribers

	mu    sync.RWMutex
	attrs capability.Attributes
}

func NewFileStore(path string, log logr.Logger) *FileStore {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &FileStore{path: path, log: log.WithName("profile")}
}

// BusinessAttributes reads the file on first use and returns the last
// successfully parsed profile afterwards.
func (f *FileStore) BusinessAttributes(context.Context) (capability.Attributes, error) {
	f.mu.RLock()
	attrs := f.attrs
	f.mu.RUnlock()
	if attrs != nil {
		return maps.Clone(attrs), nil
	}
	if _, err := f.reload(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return maps.Clone(f.attrs), nil
}

func (f *FileStore) Subscribe(fn func(capability.Attributes)) func() {
	return f.subs.add(fn)
}

// reload parses the file and reports whether the profile changed.
func (f *FileStore) reload() (bool, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return false, fmt.Errorf("read profile %s: %w", f.path, err)
	}
	attrs := capability.Attributes{}
	if err := yaml.Unmarshal(raw, &attrs); err != nil {
		return false, fmt.Errorf("parse profile %s: %w", f.path, err)
	}

	f.mu.Lock()
	changed := !reflect.DeepEqual(f.attrs, attrs)
	f.attrs = attrs
	f.mu.Unlock()
	return changed, nil
}

// Watch reloads the file whenever it changes and notifies subscribers of
// every change in content, until ctx is done. The parent directory is watched
// so that editors replacing the file atomically are noticed.
func (f *FileStore) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("watch %s: %w", f.path, err)
	}
	f.refresh()

	target := filepath.Clean(f.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			f.refresh()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			f.log.Error(err, "profile watcher error")
		}
	}
}

func (f *FileStore) refresh() {
	changed, err := f.reload()
	if err != nil {
		f.log.Error(err, "profile reload failed")
		return
	}
	if !changed {
		return
	}
	f.log.Info("business profile changed", "path", f.path)
	f.mu.RLock()
	attrs := maps.Clone(f.attrs)
	f.mu.RUnlock()
	f.subs.notify(attrs)
}
