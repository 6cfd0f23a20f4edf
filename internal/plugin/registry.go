// Package plugin holds the registry of pluggable capabilities: file parsers,
// AI providers and notification channels.
package plugin

import (
	"errors"
	"fmt"
	"sync"
)

// Kind groups plugins that share a capability interface.
type Kind string

const (
	KindParser       Kind = "parser"
	KindAI           Kind = "ai"
	KindNotification Kind = "notification"
)

var (
	ErrUnknownKind   = errors.New("unknown plugin kind")
	ErrWrongType     = errors.New("plugin does not implement kind interface")
	ErrEmptyName     = errors.New("plugin name is empty")
	ErrNotRegistered = errors.New("plugin not registered")
)

// Plugin is the minimal contract every registered capability satisfies.
type Plugin interface {
	Name() string
}

// Source registers a static set of plugins. Sources are run by Discover.
type Source func(r *Registry) error

// Registry maps (kind, name) to a plugin, preserving registration order per kind.
type Registry struct {
	mu      sync.RWMutex
	plugins map[Kind][]Plugin
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[Kind][]Plugin)}
}

// Register adds p under kind. A plugin with the same name replaces the
// previous one in place.
func (r *Registry) Register(kind Kind, p Plugin) error {
	if p == nil || p.Name() == "" {
		return ErrEmptyName
	}
	if err := checkKind(kind, p); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.plugins[kind]
	for i, existing := range list {
		if existing.Name() == p.Name() {
			list[i] = p
			return nil
		}
	}
	r.plugins[kind] = append(list, p)
	return nil
}

// Get returns the plugin registered under (kind, name).
func (r *Registry) Get(kind Kind, name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.plugins[kind] {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// All returns the plugins of kind in registration order.
func (r *Registry) All(kind Kind) []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Plugin, len(r.plugins[kind]))
	copy(out, r.plugins[kind])
	return out
}

// Discover runs every source. Running the same sources twice leaves the
// registry unchanged because registration replaces by name.
func (r *Registry) Discover(sources ...Source) error {
	for _, src := range sources {
		if src == nil {
			continue
		}
		if err := src(r); err != nil {
			return fmt.Errorf("plugin discovery: %w", err)
		}
	}
	return nil
}

// Parsers returns the registered file parsers in detection order.
func (r *Registry) Parsers() []FileParser {
	all := r.All(KindParser)
	out := make([]FileParser, 0, len(all))
	for _, p := range all {
		out = append(out, p.(FileParser))
	}
	return out
}

// Parser returns a parser by name.
func (r *Registry) Parser(name string) (FileParser, error) {
	p, ok := r.Get(KindParser, name)
	if !ok {
		return nil, fmt.Errorf("parser %q: %w", name, ErrNotRegistered)
	}
	return p.(FileParser), nil
}

// AIProvider returns an AI provider by name.
func (r *Registry) AIProvider(name string) (AIProvider, error) {
	p, ok := r.Get(KindAI, name)
	if !ok {
		return nil, fmt.Errorf("ai provider %q: %w", name, ErrNotRegistered)
	}
	return p.(AIProvider), nil
}

// Notifiers returns every registered notification channel.
func (r *Registry) Notifiers() []Notifier {
	all := r.All(KindNotification)
	out := make([]Notifier, 0, len(all))
	for _, p := range all {
		out = append(out, p.(Notifier))
	}
	return out
}

func checkKind(kind Kind, p Plugin) error {
	var ok bool
	switch kind {
	case KindParser:
		_, ok = p.(FileParser)
	case KindAI:
		_, ok = p.(AIProvider)
	case KindNotification:
		_, ok = p.(Notifier)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if !ok {
		return fmt.Errorf("%w: %s as %s", ErrWrongType, p.Name(), kind)
	}
	return nil
}
