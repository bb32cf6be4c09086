// Package exporter exposes the entity inventory of a Commcell as Prometheus
// metrics. Each collection the SDK caches (roles, storage pools, VM policies
// and so on) is a Source; the collector counts them on scrape.
package exporter

import (
	"context"
)

// Source counts the entities of one collection.
//
// Implementations must be safe for concurrent use; the collector counts every
// source in its own goroutine.
type Source interface {
	// Name is the collection label value, e.g. "roles".
	Name() string

	// Count returns the number of entities currently on the Commcell.
	Count(ctx context.Context) (int, error)
}

type funcSource struct {
	name  string
	count func(ctx context.Context) (int, error)
}

func (s funcSource) Name() string                           { return s.name }
func (s funcSource) Count(ctx context.Context) (int, error) { return s.count(ctx) }

// NewSource builds a Source from a counting function.
func NewSource(name string, count func(ctx context.Context) (int, error)) Source {
	return funcSource{name: name, count: count}
}

// FromCollection counts a name-indexed SDK collection. refresh, when not
// nil, is called first so every count reflects the server and not the
// collection's cache.
//
// Example:
//
//	roles := security.NewRoles(cc)
//	src := FromCollection("roles", roles.Refresh, roles.All)
func FromCollection[V any](name string, refresh func(context.Context) error, all func(context.Context) (map[string]V, error)) Source {
	return NewSource(name, func(ctx context.Context) (int, error) {
		if refresh != nil {
			if err := refresh(ctx); err != nil {
				return 0, err
			}
		}
		m, err := all(ctx)
		if err != nil {
			return 0, err
		}
		return len(m), nil
	})
}
