// Package options loads choice lists for select controls. A Provider
// fetches lists from the server; a Cache keeps them for a short time per
// cache scope and coalesces overlapping requests for the same key.
package options

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/matthewbaird/pgform/internal/schema"
)

// ErrNotFound is returned by providers that have no list for a URL.
var ErrNotFound = errors.New("options: not found")

// Provider fetches an option list.
type Provider interface {
	Fetch(ctx context.Context, url string, params map[string]string) ([]schema.Option, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, url string, params map[string]string) ([]schema.Option, error)

func (f ProviderFunc) Fetch(ctx context.Context, url string, params map[string]string) ([]schema.Option, error) {
	return f(ctx, url, params)
}

// Loader is what controls use to obtain option lists.
type Loader interface {
	Load(ctx context.Context, req Request) ([]schema.Option, error)
}

// Request describes one option list of one field.
type Request struct {
	// Node is the node type the list belongs to.
	Node string
	// URL is the provider URL of the list.
	URL string
	// Level is the cache level: the list is shared by every dialog below
	// the same ancestor at that level. An empty level scopes the list to
	// every ancestor in Info.
	Level  string
	Info   *schema.NodeInfo
	Params map[string]string
}

// CacheKey identifies the list: node#url followed by the ids of the
// ancestors up to the cache level, or of all ancestors when no level is
// set, and the sorted parameters.
func (r Request) CacheKey() string {
	var b strings.Builder
	b.WriteString(r.Node)
	b.WriteByte('#')
	b.WriteString(r.URL)
	for _, id := range r.Info.ScopeIDs(r.Level) {
		b.WriteByte('/')
		b.WriteString(id)
	}
	if len(r.Params) > 0 {
		keys := make([]string, 0, len(r.Params))
		for k := range r.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			if i == 0 {
				b.WriteByte('?')
			} else {
				b.WriteByte('&')
			}
			b.WriteString(k + "=" + r.Params[k])
		}
	}
	return b.String()
}

// ScopeParams returns the ancestor ids as provider parameters.
func (r Request) ScopeParams() map[string]string {
	out := make(map[string]string, len(r.Params)+4)
	for _, id := range r.Info.ScopeIDs(r.Level) {
		level, value, _ := strings.Cut(id, "/")
		out[level] = value
	}
	for k, v := range r.Params {
		out[k] = v
	}
	return out
}

// Static serves fixed lists by URL.
type Static map[string][]schema.Option

// Fetch implements Provider.
func (s Static) Fetch(_ context.Context, url string, _ map[string]string) ([]schema.Option, error) {
	opts, ok := s[url]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	return Clone(opts), nil
}

// Clone copies an option list.
func Clone(opts []schema.Option) []schema.Option {
	if opts == nil {
		return nil
	}
	out := make([]schema.Option, len(opts))
	copy(out, opts)
	return out
}
