package domain_test

import (
	"errors"
	"testing"

	"github.com/aretw0/ratchet/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rc(n uint64) *uint64 { return &n }

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in   string
		want domain.Version
	}{
		{"0.99.0", domain.Version{Major: 0, Minor: 99, Patch: 0}},
		{"v0.99.0", domain.Version{Major: 0, Minor: 99, Patch: 0}},
		{"1.2.3-rc4", domain.Version{Major: 1, Minor: 2, Patch: 3, Candidate: rc(4)}},
		{"v10.20.30-rc12", domain.Version{Major: 10, Minor: 20, Patch: 30, Candidate: rc(12)}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := domain.ParseVersion(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestParseVersion_Rejects(t *testing.T) {
	inputs := []string{
		"",
		"1.2",
		"1.2.x",
		"a.b.c",
		"1.2.3 ",
		" 1.2.3",
		"1. 2.3",
		"1.2.3-beta1",
		"1.2.3-rc",
		"1.2.3-rc0",
		"1.2.3-rc1-extra",
		"vv1.2.3",
		"99999999999999999999.0.0",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, err := domain.ParseVersion(in)
			var perr *domain.ParseError
			require.Error(t, err)
			assert.True(t, errors.As(err, &perr), "expected ParseError, got %T", err)
		})
	}
}

func TestVersion_RoundTrip(t *testing.T) {
	versions := []domain.Version{
		{},
		{Major: 0, Minor: 99, Patch: 0},
		{Major: 1, Minor: 0, Patch: 7, Candidate: rc(1)},
		{Major: 18446744073709551615, Minor: 1, Patch: 2, Candidate: rc(18446744073709551615)},
	}
	for _, v := range versions {
		got, err := domain.ParseVersion(v.String())
		require.NoError(t, err)
		assert.True(t, v.Equal(got), "round trip of %s produced %s", v, got)

		got, err = domain.ParseTag(v.Tag())
		require.NoError(t, err)
		assert.True(t, v.Equal(got))
	}
}

func TestParseBaseVersion(t *testing.T) {
	v, err := domain.ParseBaseVersion("0.99")
	require.NoError(t, err)
	assert.Equal(t, "0.99", v.Base())
	assert.Equal(t, uint64(0), v.Patch)

	v, err = domain.ParseBaseVersion("v1.2.3-rc2")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3-rc2", v.String())

	_, err = domain.ParseBaseVersion("1")
	assert.Error(t, err)
}

func TestParseTag_RequiresPrefix(t *testing.T) {
	_, err := domain.ParseTag("1.2.3")
	assert.Error(t, err)
}

func TestCompare(t *testing.T) {
	ordered := []string{
		"0.9.9",
		"0.99.0-rc1",
		"0.99.0-rc2",
		"0.99.0-rc10",
		"0.99.0",
		"0.99.1-rc1",
		"0.99.1",
		"1.0.0-rc1",
		"1.0.0",
	}
	for i := range ordered {
		for j := range ordered {
			a := domain.MustParseVersion(ordered[i])
			b := domain.MustParseVersion(ordered[j])
			want := 0
			if i < j {
				want = -1
			} else if i > j {
				want = 1
			}
			assert.Equal(t, want, domain.Compare(a, b), "compare(%s, %s)", a, b)
		}
	}
}

func TestNextCandidate(t *testing.T) {
	assert.Equal(t, uint64(1), domain.NextCandidate(nil))
	assert.Equal(t, uint64(1), domain.NextCandidate([]uint64{}))
	assert.Equal(t, uint64(6), domain.NextCandidate([]uint64{1, 2, 5}))
	assert.Equal(t, uint64(6), domain.NextCandidate([]uint64{5, 1, 2}))
	assert.Equal(t, uint64(2), domain.NextCandidate([]uint64{1}))
}

func TestNames(t *testing.T) {
	n := domain.MustParseVersion("0.99.0-rc3").Names()
	assert.Equal(t, "release/0.99", n.BaseBranch)
	assert.Equal(t, "v0.99.0-rc3", n.CandidateTag)
	assert.Equal(t, "v0.99.0", n.FinalTag)

	final := domain.MustParseVersion("0.99.1").Names()
	assert.Equal(t, "release/0.99", final.BaseBranch)
	assert.Empty(t, final.CandidateTag)
	assert.Equal(t, "v0.99.1", final.FinalTag)
}

func TestCandidatesFor(t *testing.T) {
	release := domain.MustParseVersion("0.99.0")
	tags := []string{
		"v0.99.0-rc1",
		"v0.99.0-rc5",
		"v0.99.0-rc2",
		"v0.99.0-rc2",
		"v0.99.0",
		"v0.99.1-rc7",
		"v0.98.0-rc9",
		"0.99.0-rc8",
		"not-a-tag",
	}
	assert.Equal(t, []uint64{1, 2, 5}, domain.CandidatesFor(release, tags))
	assert.Empty(t, domain.CandidatesFor(release, nil))
}

func TestWithCandidate(t *testing.T) {
	v := domain.MustParseVersion("2.1.0-rc4").WithCandidate(5)
	assert.Equal(t, "2.1.0-rc5", v.String())
	assert.Equal(t, "2.1.0", v.Release().String())
	assert.True(t, v.SameRelease(domain.MustParseVersion("2.1.0")))
	assert.False(t, v.SameRelease(domain.MustParseVersion("2.1.1")))
	assert.True(t, v.SameBase(domain.MustParseVersion("2.1.1")))
}
