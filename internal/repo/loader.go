package repo

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/openjustice/pipeconf/internal/store"
)

// Loader loads repositories from a store.Source and caches validated
// repositories per ref. Refs are immutable once resolved (a tag's content
// does not change), so cached entries stay valid until the next Refresh.
type Loader struct {
	source store.Source
	config Config
	layout Layout
	cache  *lru.Cache[string, *Repository]
}

func NewLoader(source store.Source, config Config, layout Layout, cacheSize int) (*Loader, error) {
	cache, err := lru.New[string, *Repository](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create repository cache: %v", err)
	}
	return &Loader{
		source: source,
		config: config,
		layout: layout,
		cache:  cache,
	}, nil
}

// Repository returns the validated repository at the given ref,
// loading it on first access. ref "" denotes the source's default ref.
func (l *Loader) Repository(ref string) (*Repository, error) {
	if r, ok := l.cache.Get(ref); ok {
		return r, nil
	}
	st, err := l.source.Store(ref)
	if err != nil {
		return nil, fmt.Errorf("cannot open store at ref %q: %w", ref, err)
	}
	r, err := Load(st, l.config, l.layout)
	if err != nil {
		return nil, err
	}
	l.cache.Add(ref, r)
	return r, nil
}

// Refresh updates the underlying source and drops all cached repositories.
// Branch refs may point to new commits afterwards.
func (l *Loader) Refresh() error {
	l.cache.Purge()
	return l.source.Refresh()
}
