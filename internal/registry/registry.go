// Package registry discovers endpoint manifests under a root directory and
// builds the routable table the dispatcher resolves against. Discovery runs
// once at startup, only reads the filesystem, and binds each manifest to a
// handler from an explicit code-level table; no code is loaded at runtime.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lanops/lanagent/internal/response"
)

// HandlerFunc is the unit of work an endpoint routes to. Handlers receive the
// validated payload and return a taxonomy response; a non-nil error is wrapped
// by the dispatcher as an internal error.
type HandlerFunc func(ctx context.Context, args map[string]any) (*response.Response, error)

// Kind distinguishes how an endpoint is packaged on disk.
type Kind string

const (
	// Simple endpoints are a single manifest file.
	Simple Kind = "simple"
	// Complex endpoints are a directory with an endpoint.json entry point;
	// files beside it are private implementation detail.
	Complex Kind = "complex"
)

const (
	manifestSuffix = ".endpoint.json"
	entryPointFile = "endpoint.json"
)

// Descriptor is one discovered, immutable endpoint registration.
type Descriptor struct {
	Name         string
	Kind         Kind
	RequiresAuth bool
	Description  string
	Params       []Param
	Handler      HandlerFunc
}

// Registry is the name→descriptor table. Read-only after Discover, so
// concurrent lookups need no synchronization.
type Registry struct {
	endpoints map[string]Descriptor
}

// excluded reports names skipped during the walk: the blueprint sample,
// hidden and underscore-prefixed entries, and disabled trees.
func excluded(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
		return true
	}
	return name == "disabled"
}

// Discover walks rootDir recursively and registers every qualifying manifest.
// A file <name>.endpoint.json yields a Simple descriptor named after the file;
// a directory containing endpoint.json yields a Complex descriptor named after
// the directory. Duplicate names or manifests referencing unknown handlers
// fail discovery: the table must be deterministic and total.
func Discover(rootDir string, table map[string]HandlerFunc) (*Registry, error) {
	reg := &Registry{endpoints: make(map[string]Descriptor)}
	if err := reg.walk(rootDir, table); err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *Registry) walk(dir string, table map[string]HandlerFunc) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read endpoint dir %s: %w", dir, err)
	}
	// ReadDir sorts by name, keeping discovery order deterministic.
	for _, e := range entries {
		name := e.Name()
		if excluded(name) {
			continue
		}
		full := filepath.Join(dir, name)

		if !e.IsDir() {
			if !strings.HasSuffix(name, manifestSuffix) || name == entryPointFile {
				continue
			}
			epName := strings.TrimSuffix(name, manifestSuffix)
			if err := r.register(epName, Simple, full, table); err != nil {
				return err
			}
			continue
		}

		entry := filepath.Join(full, entryPointFile)
		if _, statErr := os.Stat(entry); statErr == nil {
			if err := r.register(name, Complex, entry, table); err != nil {
				return err
			}
			// The entry point alone is routable; siblings are private.
			continue
		}
		if err := r.walk(full, table); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) register(name string, kind Kind, manifestPath string, table map[string]HandlerFunc) error {
	if _, exists := r.endpoints[name]; exists {
		return fmt.Errorf("endpoint name collision: %q registered twice", name)
	}
	m, err := loadManifest(manifestPath)
	if err != nil {
		return err
	}
	h, ok := table[m.Handler]
	if !ok {
		return fmt.Errorf("manifest %s: unknown handler %q", manifestPath, m.Handler)
	}
	r.endpoints[name] = Descriptor{
		Name:         name,
		Kind:         kind,
		RequiresAuth: m.RequiresAuth,
		Description:  m.Description,
		Params:       m.Args,
		Handler:      h,
	}
	return nil
}

// Resolve returns the descriptor for name. The second result is false when
// no endpoint with that name was discovered.
func (r *Registry) Resolve(name string) (Descriptor, bool) {
	d, ok := r.endpoints[name]
	return d, ok
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() int { return len(r.endpoints) }

// Names returns all registered endpoint names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.endpoints))
	for n := range r.endpoints {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// TreeEntry is the /api/tree view of one endpoint.
type TreeEntry struct {
	Name         string  `json:"name"`
	Kind         Kind    `json:"kind"`
	RequiresAuth bool    `json:"requires_auth"`
	Description  string  `json:"description,omitempty"`
	Args         []Param `json:"args,omitempty"`
}

// Tree enumerates every registered endpoint, sorted by name.
func (r *Registry) Tree() []TreeEntry {
	out := make([]TreeEntry, 0, len(r.endpoints))
	for _, name := range r.Names() {
		d := r.endpoints[name]
		out = append(out, TreeEntry{
			Name:         d.Name,
			Kind:         d.Kind,
			RequiresAuth: d.RequiresAuth,
			Description:  d.Description,
			Args:         d.Params,
		})
	}
	return out
}
