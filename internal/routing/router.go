// Package routing maps client-facing model names onto upstream paths.
package routing

import (
	"fmt"
	"sort"
	"time"

	"github.com/teleprompt2api/api-proxy/internal/config"
	"github.com/teleprompt2api/api-proxy/internal/models"
)

// Router resolves logical model names. It is immutable after construction.
type Router struct {
	routes       map[string]string
	names        []string
	defaultModel string
	ownedBy      string
}

// New builds a router from the models section of the config.
func New(cfg config.ModelsConfig) (*Router, error) {
	if len(cfg.Routes) == 0 {
		return nil, fmt.Errorf("no model routes configured")
	}

	routes := make(map[string]string, len(cfg.Routes))
	names := make([]string, 0, len(cfg.Routes))
	for name, path := range cfg.Routes {
		if path == "" {
			return nil, fmt.Errorf("model %q has an empty path", name)
		}
		routes[name] = path
		names = append(names, name)
	}
	sort.Strings(names)

	if _, ok := routes[cfg.Default]; !ok {
		return nil, fmt.Errorf("default model %q has no route", cfg.Default)
	}

	return &Router{
		routes:       routes,
		names:        names,
		defaultModel: cfg.Default,
		ownedBy:      cfg.OwnedBy,
	}, nil
}

// Resolve returns the upstream path for name, falling back to the default model.
func (r *Router) Resolve(name string) string {
	if path, ok := r.routes[name]; ok {
		return path
	}
	return r.routes[r.defaultModel]
}

// Canonical returns name when it is known and the default model otherwise.
func (r *Router) Canonical(name string) string {
	if _, ok := r.routes[name]; ok {
		return name
	}
	return r.defaultModel
}

// Name is the model name echoed back to the client.
func (r *Router) Name(requested string) string {
	if requested == "" {
		return r.defaultModel
	}
	return requested
}

// Default returns the default model name.
func (r *Router) Default() string {
	return r.defaultModel
}

// Names returns the known model names in sorted order.
func (r *Router) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Models lists every known model stamped with now.
func (r *Router) Models(now time.Time) []models.ModelObject {
	created := now.Unix()
	list := make([]models.ModelObject, 0, len(r.names))
	for _, name := range r.names {
		list = append(list, models.ModelObject{
			ID:      name,
			Object:  "model",
			Created: created,
			OwnedBy: r.ownedBy,
		})
	}
	return list
}
