package tilematrix

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrDuplicateSet = errors.New("duplicate tile matrix set registration")

// Registry maps set identifiers to sets. Every read and write takes the same
// mutex; entries are never replaced once registered.
type Registry struct {
	mu   sync.Mutex
	sets map[string]*TileMatrixSet
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sets: make(map[string]*TileMatrixSet)}
}

// NewDefaultRegistry returns a registry holding the well-known global sets.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, set := range WellKnownSets() {
		r.sets[set.identifier] = set
	}
	return r
}

// Register adds set. A nil set or one without identifier is ignored.
func (r *Registry) Register(set *TileMatrixSet) error {
	if set == nil || set.identifier == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sets[set.identifier]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSet, set.identifier)
	}
	r.sets[set.identifier] = set
	return nil
}

// RegisterAll adds every set or none of them. Identifiers are checked against
// the registry and against each other before anything is inserted.
func (r *Registry) RegisterAll(sets []*TileMatrixSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch := make(map[string]struct{}, len(sets))
	for _, set := range sets {
		if set == nil || set.identifier == "" {
			continue
		}
		if _, exists := r.sets[set.identifier]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateSet, set.identifier)
		}
		if _, dup := batch[set.identifier]; dup {
			return fmt.Errorf("%w: %s appears twice in batch", ErrDuplicateSet, set.identifier)
		}
		batch[set.identifier] = struct{}{}
	}

	for _, set := range sets {
		if set == nil || set.identifier == "" {
			continue
		}
		r.sets[set.identifier] = set
	}
	return nil
}

// Get returns the set registered under id.
func (r *Registry) Get(id string) (*TileMatrixSet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sets[id]
	return set, ok
}

// IDs returns all registered identifiers in lexical order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sets))
	for id := range r.sets {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// Sets returns all registered sets ordered by identifier.
func (r *Registry) Sets() []*TileMatrixSet {
	r.mu.Lock()
	sets := make([]*TileMatrixSet, 0, len(r.sets))
	for _, set := range r.sets {
		sets = append(sets, set)
	}
	r.mu.Unlock()

	sort.Slice(sets, func(i, j int) bool {
		return sets[i].identifier < sets[j].identifier
	})
	return sets
}
