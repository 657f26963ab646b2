package mapview

import (
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/biq-mapview/internal/core/observability"
	"github.com/mohammed-shakir/biq-mapview/internal/logger"
)

var ErrNotFound = errors.New("mapview: view not found")

// Registry holds mounted views. When full, the least recently used view is
// closed to make room.
type Registry struct {
	deps  Deps
	opts  Options
	views *lru.Cache[string, *View]
	newID func() string
}

func NewRegistry(size int, deps Deps, opts Options) (*Registry, error) {
	if size <= 0 {
		size = 1024
	}
	r := &Registry{deps: deps, opts: opts, newID: logger.NewID}
	c, err := lru.NewWithEvict(size, func(_ string, v *View) {
		v.Close()
		observability.AddActiveViews(-1)
	})
	if err != nil {
		return nil, fmt.Errorf("view registry: %w", err)
	}
	r.views = c
	return r, nil
}

// Mount creates and starts a view for userID.
func (r *Registry) Mount(userID string) (*View, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	v := New(r.newID(), userID, r.deps, r.opts)
	v.Start()
	r.views.Add(v.ID(), v)
	observability.AddActiveViews(1)
	return v, nil
}

func (r *Registry) Get(id string) (*View, error) {
	v, ok := r.views.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

// Unmount closes and forgets a view.
func (r *Registry) Unmount(id string) error {
	if !r.views.Remove(id) {
		return ErrNotFound
	}
	return nil
}

func (r *Registry) Len() int { return r.views.Len() }

// Close unmounts every view.
func (r *Registry) Close() {
	r.views.Purge()
}
