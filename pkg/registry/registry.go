package registry

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/aretw0/ratchet/pkg/domain"
)

// Registry is the fixed set of repositories participating in a release.
// It is immutable once built and safe for concurrent use.
type Registry struct {
	leaves   []domain.Repository
	umbrella domain.Repository
	byName   map[string]domain.Repository
}

// New validates descs and builds a registry. Leaves keep their declared
// order; exactly one umbrella is required.
func New(descs ...domain.Repository) (*Registry, error) {
	r := &Registry{byName: make(map[string]domain.Repository, len(descs))}
	var umbrellas int
	paths := make(map[string]string)

	for _, d := range descs {
		if d.Name == "" {
			return nil, fmt.Errorf("repository name cannot be empty")
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("repository %q declared twice", d.Name)
		}
		if !d.Role.Valid() {
			return nil, fmt.Errorf("repository %q: unknown role %q", d.Name, d.Role)
		}
		r.byName[d.Name] = d

		if d.IsUmbrella() {
			umbrellas++
			r.umbrella = d
			continue
		}
		if d.SubmodulePath == "" {
			return nil, fmt.Errorf("leaf %q has no submodule path in the umbrella", d.Name)
		}
		if other, taken := paths[d.SubmodulePath]; taken {
			return nil, fmt.Errorf("leaves %q and %q share submodule path %q", other, d.Name, d.SubmodulePath)
		}
		paths[d.SubmodulePath] = d.Name
		r.leaves = append(r.leaves, d)
	}

	if umbrellas != 1 {
		return nil, fmt.Errorf("expected exactly one umbrella repository, found %d", umbrellas)
	}
	if len(r.leaves) == 0 {
		return nil, fmt.Errorf("at least one leaf repository is required")
	}
	return r, nil
}

// All returns every repository, leaves first and the umbrella last. Tag
// sequencing and rollback scope depend on this order.
func (r *Registry) All() []domain.Repository {
	return append(slices.Clone(r.leaves), r.umbrella)
}

// Leaves returns the leaf repositories in declared order.
func (r *Registry) Leaves() []domain.Repository {
	return slices.Clone(r.leaves)
}

// Umbrella returns the umbrella repository.
func (r *Registry) Umbrella() domain.Repository {
	return r.umbrella
}

// Resolve looks a repository up by name.
func (r *Registry) Resolve(name string) (domain.Repository, error) {
	d, ok := r.byName[name]
	if !ok {
		return domain.Repository{}, &domain.NotFoundError{Name: name}
	}
	return d, nil
}

// Default returns the s3gw suite with clones laid out under baseDir.
func Default(baseDir string) *Registry {
	const org = "https://github.com/aquarist-labs/"
	umbrella := domain.Repository{
		Name:      "s3gw",
		RemoteURL: org + "s3gw.git",
		Role:      domain.RoleUmbrella,
		LocalPath: filepath.Join(baseDir, "s3gw"),
	}
	leaf := func(name, submodule string) domain.Repository {
		return domain.Repository{
			Name:          name,
			RemoteURL:     org + name + ".git",
			Role:          domain.RoleLeaf,
			LocalPath:     filepath.Join(baseDir, name),
			SubmodulePath: submodule,
		}
	}

	r, err := New(
		leaf("s3gw-ui", "ui"),
		leaf("s3gw-charts", "charts"),
		leaf("s3gw-ceph", "ceph"),
		umbrella,
	)
	if err != nil {
		panic(err)
	}
	return r
}
