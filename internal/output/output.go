// Package output persists finished benchmarks in one or more formats.
package output

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wgong/flowx/internal/logger"
	"github.com/wgong/flowx/internal/task"
)

// Collector saves a benchmark in the requested formats and returns the
// location written for each format that succeeded
type Collector interface {
	Save(ctx context.Context, b *task.Benchmark, dir string, formats []string) (map[string]string, error)
}

// Handler writes a benchmark in a single format
type Handler interface {
	Save(ctx context.Context, b *task.Benchmark, dir string) (string, error)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, b *task.Benchmark, dir string) (string, error)

// Save calls f(ctx, b, dir)
func (f HandlerFunc) Save(ctx context.Context, b *task.Benchmark, dir string) (string, error) {
	return f(ctx, b, dir)
}

// Manager dispatches to registered format handlers
type Manager struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	log      *logger.Logger
}

// NewManager creates a manager with no handlers
func NewManager(log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		handlers: make(map[string]Handler),
		log:      log.WithComponent("output"),
	}
}

// Register adds a handler for a format name
func (m *Manager) Register(format string, h Handler) error {
	if h == nil {
		return fmt.Errorf("handler for '%s' is nil", format)
	}
	format = strings.ToLower(strings.TrimSpace(format))

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.handlers[format]; exists {
		return fmt.Errorf("output format '%s' already registered", format)
	}
	m.handlers[format] = h
	return nil
}

// Formats returns the registered format names in sorted order
func (m *Manager) Formats() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	formats := make([]string, 0, len(m.handlers))
	for f := range m.handlers {
		formats = append(formats, f)
	}
	sort.Strings(formats)
	return formats
}

// Save runs every requested format concurrently. Unknown formats and
// failing handlers are logged and left out of the returned map.
func (m *Manager) Save(ctx context.Context, b *task.Benchmark, dir string, formats []string) (map[string]string, error) {
	if b == nil {
		return nil, fmt.Errorf("nil benchmark")
	}

	var (
		mu        sync.Mutex
		locations = make(map[string]string, len(formats))
		g, gctx   = errgroup.WithContext(ctx)
	)

	for _, format := range formats {
		format = strings.ToLower(strings.TrimSpace(format))

		m.mu.RLock()
		h, ok := m.handlers[format]
		m.mu.RUnlock()

		if !ok {
			m.log.Warn("Unknown output format", logger.Fields{"format": format})
			continue
		}

		g.Go(func() error {
			loc, err := h.Save(gctx, b, dir)
			if err != nil {
				m.log.Error("Failed to save output", logger.Fields{
					"format":       format,
					"benchmark_id": b.ID,
					"error":        err,
				})
				return nil
			}

			mu.Lock()
			locations[format] = loc
			mu.Unlock()
			return nil
		})
	}

	// Handlers never fail the group
	_ = g.Wait()

	m.log.Debug("Saved outputs", logger.Fields{"benchmark_id": b.ID, "formats": len(locations)})
	return locations, nil
}
