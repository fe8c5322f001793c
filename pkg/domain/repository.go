package domain

import "fmt"

// Role distinguishes the umbrella repository from the leaves it references.
type Role string

const (
	RoleLeaf     Role = "leaf"
	RoleUmbrella Role = "umbrella"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleLeaf || r == RoleUmbrella
}

// Repository describes one repository participating in a release.
type Repository struct {
	Name      string `yaml:"name" json:"name"`
	RemoteURL string `yaml:"remote" json:"remote"`
	Role      Role   `yaml:"role" json:"role"`
	LocalPath string `yaml:"path" json:"path"`

	// SubmodulePath is where a leaf is checked out inside the umbrella tree.
	SubmodulePath string `yaml:"submodule,omitempty" json:"submodule,omitempty"`

	// DefaultBranch overrides detection of the integration branch.
	DefaultBranch string `yaml:"default_branch,omitempty" json:"default_branch,omitempty"`
}

func (r Repository) String() string {
	return fmt.Sprintf("%s (%s)", r.Name, r.Role)
}

// IsUmbrella reports whether r is the umbrella repository.
func (r Repository) IsUmbrella() bool {
	return r.Role == RoleUmbrella
}
