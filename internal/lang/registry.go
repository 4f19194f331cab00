package lang

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// DuplicateLanguageError is returned when a language name is registered twice.
type DuplicateLanguageError struct {
	Name string
}

func (e *DuplicateLanguageError) Error() string {
	return fmt.Sprintf("lang: language %q already registered", e.Name)
}

// UnknownLanguageError is returned when resolving an unregistered name.
type UnknownLanguageError struct {
	Name string
}

func (e *UnknownLanguageError) Error() string {
	return fmt.Sprintf("lang: unknown language %q", e.Name)
}

// Registry maps language names to descriptors. Registration happens once at
// startup before any query is served; lookups are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	langs map[string]*Descriptor
	exts  map[string]string // ".py" -> "Python"
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		langs: make(map[string]*Descriptor),
		exts:  make(map[string]string),
	}
}

// Register adds d. It fails with *DuplicateLanguageError if the name is taken.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil || d.Name == "" {
		return fmt.Errorf("lang: descriptor must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.langs[d.Name]; ok {
		return &DuplicateLanguageError{Name: d.Name}
	}
	r.langs[d.Name] = d
	r.order = append(r.order, d.Name)
	for _, ext := range d.Extensions {
		r.exts[strings.ToLower(ext)] = d.Name
	}
	return nil
}

// Resolve returns the descriptor registered under name.
func (r *Registry) Resolve(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.langs[name]
	if !ok {
		return nil, &UnknownLanguageError{Name: name}
	}
	return d, nil
}

// ForFile returns the descriptor registered for the file's extension.
func (r *Registry) ForFile(path string) (*Descriptor, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.exts[ext]
	if !ok {
		return nil, false
	}
	return r.langs[name], true
}

// Names returns registered language names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
