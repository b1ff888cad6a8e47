// Package metadata holds the externally declared workflow definitions
// that supply coverage totals. Definitions are loaded from YAML files in
// a directory and hot-reloaded when the files change.
package metadata

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/qontinui/treeline/internal/domain"
)

// Registry maps workflow ids to their declared definitions.
type Registry struct {
	mu        sync.RWMutex
	workflows map[string]*domain.WorkflowDefinition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{workflows: make(map[string]*domain.WorkflowDefinition)}
}

// Register inserts or replaces a workflow definition.
func (r *Registry) Register(def *domain.WorkflowDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows[def.WorkflowID] = def
}

// GetWorkflow returns the definition for a workflow id.
func (r *Registry) GetWorkflow(workflowID string) (*domain.WorkflowDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.workflows[workflowID]
	return def, ok
}

// List returns all registered workflow ids.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.workflows))
	for id := range r.workflows {
		ids = append(ids, id)
	}
	return ids
}

// LoadDir loads every .yaml/.yml file in dir as a workflow definition.
// A missing directory is not an error: definitions can also arrive via
// the registration API.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read definitions dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := r.loadFile(path); err != nil {
			log.Printf("skipping workflow definition %s: %v", path, err)
		}
	}
	return nil
}

func (r *Registry) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var def domain.WorkflowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return fmt.Errorf("invalid yaml: %w", err)
	}
	if def.WorkflowID == "" {
		return fmt.Errorf("workflow_id is required")
	}
	r.Register(&def)
	log.Printf("loaded workflow definition %s (%d states, %d transitions)",
		def.WorkflowID, len(def.States), len(def.Transitions))
	return nil
}

// Watcher reloads definitions when files in the watched directory change.
type Watcher struct {
	registry *Registry
	watchDir string
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewWatcher creates a definition file watcher over dir.
func NewWatcher(registry *Registry, dir string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		registry: registry,
		watchDir: dir,
		watcher:  fsWatcher,
		debounce: 100 * time.Millisecond,
		pending:  make(map[string]*time.Timer),
	}, nil
}

// Start loads existing definitions and begins watching for changes.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.registry.LoadDir(w.watchDir); err != nil {
		return err
	}
	if err := w.watcher.Add(w.watchDir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", w.watchDir, err)
	}
	go w.run(ctx)
	return nil
}

// Stop closes the watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isYAML(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.scheduleReload(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("definition watcher error: %v", err)
		}
	}
}

// scheduleReload debounces bursts of write events for the same file.
func (w *Watcher) scheduleReload(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		if err := w.registry.loadFile(path); err != nil {
			log.Printf("failed to reload workflow definition %s: %v", path, err)
		}
	})
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
