// Package namemap holds the case-insensitive name-indexed maps that every
// entity collection caches, and the lazily loaded cache around them.
package namemap

import (
	"sort"
	"strings"
)

// Key normalizes an entity name. It is the only place names are folded.
func Key(name string) string {
	return strings.ToLower(name)
}

// Map is a name-indexed map whose keys are normalized with Key.
// The zero value is an empty, usable map.
type Map[V any] struct {
	items map[string]V
}

// New returns an empty map sized for n entries.
func New[V any](n int) Map[V] {
	return Map[V]{items: make(map[string]V, n)}
}

// Set stores v under name. Later writes for the same folded name win.
func (m *Map[V]) Set(name string, v V) {
	if m.items == nil {
		m.items = make(map[string]V)
	}
	m.items[Key(name)] = v
}

// Get returns the value stored for name.
func (m Map[V]) Get(name string) (V, bool) {
	v, ok := m.items[Key(name)]
	return v, ok
}

// Has reports whether name is present.
func (m Map[V]) Has(name string) bool {
	_, ok := m.items[Key(name)]
	return ok
}

// Len returns the number of entries.
func (m Map[V]) Len() int {
	return len(m.items)
}

// Names returns the folded names in sorted order.
func (m Map[V]) Names() []string {
	names := make([]string, 0, len(m.items))
	for k := range m.items {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// All returns a copy of the entries.
func (m Map[V]) All() map[string]V {
	out := make(map[string]V, len(m.items))
	for k, v := range m.items {
		out[k] = v
	}
	return out
}

// Find returns the first entry, in name order, whose value satisfies match.
func (m Map[V]) Find(match func(V) bool) (string, V, bool) {
	for _, name := range m.Names() {
		if v := m.items[name]; match(v) {
			return name, v, true
		}
	}
	var zero V
	return "", zero, false
}
