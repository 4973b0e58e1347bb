package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/dronetm/upload-dispatcher/pkg/models"
)

// Router picks an Uploader by destination URL scheme
type Router struct {
	routes map[string]Uploader
}

// NewRouter creates a router with no routes
func NewRouter() *Router {
	return &Router{routes: make(map[string]Uploader)}
}

// Handle registers u for the given schemes
func (r *Router) Handle(u Uploader, schemes ...string) *Router {
	for _, s := range schemes {
		r.routes[strings.ToLower(s)] = u
	}
	return r
}

// Supports reports whether destination has a registered scheme
func (r *Router) Supports(destination string) bool {
	_, err := r.route(destination)
	return err == nil
}

// Put forwards the attempt to the uploader registered for the destination scheme
func (r *Router) Put(ctx context.Context, destination string, payload models.Payload) (*models.Response, error) {
	u, err := r.route(destination)
	if err != nil {
		return nil, err
	}
	return u.Put(ctx, destination, payload)
}

func (r *Router) route(destination string) (Uploader, error) {
	parsed, err := url.Parse(destination)
	if err != nil {
		return nil, fmt.Errorf("invalid destination %q: %w", destination, err)
	}
	u, ok := r.routes[strings.ToLower(parsed.Scheme)]
	if !ok {
		return nil, fmt.Errorf("unsupported destination scheme %q", parsed.Scheme)
	}
	return u, nil
}

// Host returns the host part of a destination, used to key breakers and metrics
func Host(destination string) string {
	parsed, err := url.Parse(destination)
	if err != nil || parsed.Host == "" {
		return "unknown"
	}
	return parsed.Host
}
