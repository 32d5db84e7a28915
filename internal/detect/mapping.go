package detect

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Mapping translates detection-model labels into inventory product
// names. The mapping is loaded from a YAML file of the form:
//
//	labels:
//	  Arla-Standard-Milk: Milk
//	  Oatly-Oat-Milk: Oat Milk
type Mapping struct {
	path   string
	logger *slog.Logger

	mu     sync.RWMutex
	labels map[string]string
}

// LoadMapping reads the label mapping from path.
func LoadMapping(path string, logger *slog.Logger) (*Mapping, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mapping{path: path, logger: logger}
	if err := m.reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// NewStaticMapping builds a mapping from an in-memory table, used by
// tests and embedded setups.
func NewStaticMapping(labels map[string]string) *Mapping {
	copied := make(map[string]string, len(labels))
	for k, v := range labels {
		copied[k] = v
	}
	return &Mapping{labels: copied, logger: slog.Default()}
}

func (m *Mapping) reload() error {
	k := koanf.New(".")
	if err := k.Load(file.Provider(m.path), yaml.Parser()); err != nil {
		return fmt.Errorf("load label mapping from %s: %w", m.path, err)
	}

	labels := map[string]string{}
	for key, value := range k.StringMap("labels") {
		labels[key] = value
	}
	if len(labels) == 0 {
		return fmt.Errorf("label mapping %s defines no labels", m.path)
	}

	m.mu.Lock()
	m.labels = labels
	m.mu.Unlock()

	m.logger.Info("label mapping loaded",
		slog.String("path", m.path),
		slog.Int("labels", len(labels)),
	)
	return nil
}

// Product returns the product name for a detection label.
func (m *Mapping) Product(label string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	product, ok := m.labels[label]
	return product, ok
}

// Watch watches the mapping file and reloads it on change. It returns
// once the watcher is installed; reloads happen in the background until
// ctx is cancelled.
func (m *Mapping) Watch(ctx context.Context) error {
	if m.path == "" {
		return fmt.Errorf("cannot watch a static mapping")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(m.path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", m.path, err)
	}

	m.logger.Info("watching label mapping for changes", slog.String("path", m.path))

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := m.reload(); err != nil {
					// Keep serving the previous mapping on a bad reload.
					m.logger.Error("label mapping reload failed",
						slog.String("error", err.Error()))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.Error("label mapping watch error", slog.String("error", err.Error()))
			}
		}
	}()

	return nil
}

// Len returns the number of known labels.
func (m *Mapping) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.labels)
}
