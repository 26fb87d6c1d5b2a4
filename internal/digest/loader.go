package digest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnknownModule is returned when a compute module does not name a
// registered engine
var ErrUnknownModule = errors.New("unknown compute module")

// Loader resolves compute module paths to engines from the registry.
type Loader struct{}

// ModuleName reduces a compute module path to its engine name, so
// "/static/wasm/sha256.wasm", "sha256.wasm" and "SHA256" all name sha256.
func ModuleName(path string) string {
	name := filepath.Base(strings.TrimSpace(path))
	if ext := filepath.Ext(name); ext != "" && ext != name {
		if _, ok := registry[strings.ToLower(name)]; !ok {
			name = strings.TrimSuffix(name, ext)
		}
	}
	return strings.ToLower(name)
}

// Load returns a new engine for the compute module at path.
func (Loader) Load(ctx context.Context, path string) (Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: empty module path", ErrUnknownModule)
	}
	e, ok := New(ModuleName(path))
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModule, path)
	}
	return e, nil
}
