package notebook

import (
	"errors"
	"strings"
)

var ErrNoRenderer = errors.New("no renderer for mime type")

// RendererResolver picks the output renderer for a mime type.
type RendererResolver interface {
	PreferredRenderer(mimeType string) (string, error)
}

// RendererResolverFunc adapts a function to RendererResolver.
type RendererResolverFunc func(mimeType string) (string, error)

func (f RendererResolverFunc) PreferredRenderer(mimeType string) (string, error) {
	return f(mimeType)
}

// StaticRendererResolver resolves from a fixed mime map with a fallback.
type StaticRendererResolver struct {
	Default string
	ByMime  map[string]string
}

var _ RendererResolver = StaticRendererResolver{}

func (r StaticRendererResolver) PreferredRenderer(mimeType string) (string, error) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if id, ok := r.ByMime[mimeType]; ok && id != "" {
		return id, nil
	}
	if r.Default != "" {
		return r.Default, nil
	}
	return "", ErrNoRenderer
}
