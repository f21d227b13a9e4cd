// Package registry keeps the named resources a session has registered.
package registry

import (
	"errors"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/nextlevelbuilder/linescout/internal/source"
)

// ErrNotFound is returned when a name is not registered.
var ErrNotFound = errors.New("resource not found")

// Entry is a registered name with its locator.
type Entry struct {
	Name    string
	Locator source.Locator
}

// Registry maps user-chosen names to locators, preserving insertion order.
// It is owned by a single session and is not safe for concurrent writers.
type Registry struct {
	links *orderedmap.OrderedMap[string, source.Locator]
}

func New() *Registry {
	return &Registry{links: orderedmap.New[string, source.Locator]()}
}

// Register stores loc under name. An existing entry is overwritten in place
// and keeps its original position.
func (r *Registry) Register(name string, loc source.Locator) {
	r.links.Set(name, loc)
}

// Unregister removes name.
func (r *Registry) Unregister(name string) error {
	if _, ok := r.links.Delete(name); !ok {
		return ErrNotFound
	}
	return nil
}

// Get returns the locator registered under name.
func (r *Registry) Get(name string) (source.Locator, error) {
	loc, ok := r.links.Get(name)
	if !ok {
		return source.Locator{}, ErrNotFound
	}
	return loc, nil
}

// List returns registered names in insertion order.
func (r *Registry) List() []string {
	names := make([]string, 0, r.links.Len())
	for pair := r.links.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Entries returns a snapshot of all entries in insertion order.
func (r *Registry) Entries() []Entry {
	entries := make([]Entry, 0, r.links.Len())
	for pair := r.links.Oldest(); pair != nil; pair = pair.Next() {
		entries = append(entries, Entry{Name: pair.Key, Locator: pair.Value})
	}
	return entries
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	return r.links.Len()
}
