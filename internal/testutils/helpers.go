package testutils

import (
	"testing"

	"github.com/aretw0/ratchet/pkg/domain"
	"github.com/aretw0/ratchet/pkg/registry"
	"github.com/stretchr/testify/require"
)

// Umbrella is the name of the umbrella repository in SuiteRepos.
const Umbrella = "s3gw"

// SuiteRepos returns four leaves and one umbrella.
func SuiteRepos() []domain.Repository {
	leaf := func(name, sub string) domain.Repository {
		return domain.Repository{Name: name, Role: domain.RoleLeaf, SubmodulePath: sub, LocalPath: "/work/" + name}
	}
	return []domain.Repository{
		leaf("s3gw-ui", "ui"),
		leaf("s3gw-charts", "charts"),
		leaf("s3gw-ceph", "ceph"),
		leaf("s3gw-tests", "tests"),
		{Name: Umbrella, Role: domain.RoleUmbrella, LocalPath: "/work/" + Umbrella},
	}
}

// SetupSuite builds the registry for SuiteRepos and a seeded fake git.
// It fails the test immediately on error.
func SetupSuite(t *testing.T) (*registry.Registry, *FakeGit) {
	t.Helper()

	repos := SuiteRepos()
	reg, err := registry.New(repos...)
	require.NoError(t, err, "Failed to build registry")

	git := NewFakeGit()
	git.Seed(repos)
	return reg, git
}
