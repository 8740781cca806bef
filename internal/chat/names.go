package chat

import (
	"context"
	"sync"
)

// UnknownAuthorName is displayed when an author id cannot be resolved.
const UnknownAuthorName = "Unknown user"

// BatchNameLookup resolves author ids to display names in one call.
type BatchNameLookup func(ctx context.Context, ids []string) (map[string]string, error)

// NameResolver memoizes display-name lookups over a batched collaborator,
// so each author id is fetched at most once per session.
type NameResolver struct {
	mu     sync.Mutex
	lookup BatchNameLookup
	names  map[string]string
}

// NewNameResolver builds a resolver over the given batch lookup.
func NewNameResolver(lookup BatchNameLookup) *NameResolver {
	return &NameResolver{
		lookup: lookup,
		names:  make(map[string]string),
	}
}

// Prime seeds a known name without a lookup (e.g. the local user).
func (r *NameResolver) Prime(id, name string) {
	if id == "" || name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[id] = name
}

// Cached returns the memoized name for id, if any.
func (r *NameResolver) Cached(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.names[id]
	return name, ok
}

// Resolve returns display names for all ids, fetching uncached ones in a
// single batch. Ids the collaborator does not know degrade to
// UnknownAuthorName rather than an error.
func (r *NameResolver) Resolve(ctx context.Context, ids []string) (map[string]string, error) {
	result := make(map[string]string, len(ids))

	r.mu.Lock()
	var missing []string
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if name, ok := r.names[id]; ok {
			result[id] = name
		} else {
			missing = append(missing, id)
		}
	}
	r.mu.Unlock()

	if len(missing) == 0 {
		return result, nil
	}

	fetched, err := r.lookup(ctx, missing)
	if err != nil {
		return result, err
	}

	r.mu.Lock()
	for _, id := range missing {
		name, ok := fetched[id]
		if !ok || name == "" {
			name = UnknownAuthorName
		}
		r.names[id] = name
		result[id] = name
	}
	r.mu.Unlock()

	return result, nil
}

// ResolveOne resolves a single author id.
func (r *NameResolver) ResolveOne(ctx context.Context, id string) (string, error) {
	names, err := r.Resolve(ctx, []string{id})
	if err != nil {
		return "", err
	}
	if name, ok := names[id]; ok {
		return name, nil
	}
	return UnknownAuthorName, nil
}
