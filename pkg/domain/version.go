package domain

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// BranchPrefix is the namespace shared by every release branch.
const BranchPrefix = "release/"

var (
	versionPattern = regexp.MustCompile(`^v?(\d+)\.(\d+)\.(\d+)(?:-rc(\d+))?$`)
	basePattern    = regexp.MustCompile(`^v?(\d+)\.(\d+)(?:\.(\d+)(?:-rc(\d+))?)?$`)
)

// Version identifies a release or a release candidate.
// A nil Candidate denotes a final release.
type Version struct {
	Major     uint64  `json:"major"`
	Minor     uint64  `json:"minor"`
	Patch     uint64  `json:"patch"`
	Candidate *uint64 `json:"candidate,omitempty"`
}

// Names holds the git ref names derived from a Version.
type Names struct {
	BaseBranch   string
	CandidateTag string
	FinalTag     string
}

// ParseVersion parses "X.Y.Z" or "X.Y.Z-rcN", with an optional leading "v".
func ParseVersion(text string) (Version, error) {
	if strings.ContainsAny(text, " \t\r\n") {
		return Version{}, &ParseError{Input: text, Reason: "embedded whitespace"}
	}
	m := versionPattern.FindStringSubmatch(text)
	if m == nil {
		return Version{}, &ParseError{Input: text, Reason: "expected [v]MAJOR.MINOR.PATCH[-rcN]"}
	}
	return fromMatch(text, m)
}

// ParseBaseVersion is like ParseVersion but also accepts a bare "X.Y",
// which yields patch 0 and no candidate.
func ParseBaseVersion(text string) (Version, error) {
	if strings.ContainsAny(text, " \t\r\n") {
		return Version{}, &ParseError{Input: text, Reason: "embedded whitespace"}
	}
	m := basePattern.FindStringSubmatch(text)
	if m == nil {
		return Version{}, &ParseError{Input: text, Reason: "expected [v]MAJOR.MINOR[.PATCH[-rcN]]"}
	}
	if m[3] == "" {
		m[3] = "0"
	}
	return fromMatch(text, m)
}

// ParseTag parses a tag name of the form "vX.Y.Z" or "vX.Y.Z-rcN".
// The leading "v" is mandatory for tags.
func ParseTag(tag string) (Version, error) {
	if !strings.HasPrefix(tag, "v") {
		return Version{}, &ParseError{Input: tag, Reason: "tag must start with 'v'"}
	}
	return ParseVersion(tag)
}

func fromMatch(text string, m []string) (Version, error) {
	nums := make([]uint64, 0, 4)
	for _, part := range m[1:4] {
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return Version{}, &ParseError{Input: text, Reason: fmt.Sprintf("component %q out of range", part)}
		}
		nums = append(nums, n)
	}
	v := Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}
	if m[4] != "" {
		rc, err := strconv.ParseUint(m[4], 10, 64)
		if err != nil {
			return Version{}, &ParseError{Input: text, Reason: fmt.Sprintf("candidate %q out of range", m[4])}
		}
		if rc == 0 {
			return Version{}, &ParseError{Input: text, Reason: "candidate numbers start at 1"}
		}
		v.Candidate = &rc
	}
	return v, nil
}

// MustParseVersion is ParseVersion for literals known to be valid.
func MustParseVersion(text string) Version {
	v, err := ParseVersion(text)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the canonical form without the leading "v".
func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Candidate != nil {
		s += fmt.Sprintf("-rc%d", *v.Candidate)
	}
	return s
}

// Tag returns the tag name for this exact version.
func (v Version) Tag() string {
	return "v" + v.String()
}

// IsCandidate reports whether v carries an -rcN suffix.
func (v Version) IsCandidate() bool {
	return v.Candidate != nil
}

// Release returns v without its candidate suffix.
func (v Version) Release() Version {
	return Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch}
}

// WithCandidate returns the release version of v carrying candidate n.
func (v Version) WithCandidate(n uint64) Version {
	r := v.Release()
	r.Candidate = &n
	return r
}

// Base returns the "X.Y" pair naming the shared release branch.
func (v Version) Base() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// SameBase reports whether v and o share a release branch.
func (v Version) SameBase(o Version) bool {
	return v.Major == o.Major && v.Minor == o.Minor
}

// SameRelease reports whether v and o share major, minor and patch.
func (v Version) SameRelease(o Version) bool {
	return v.SameBase(o) && v.Patch == o.Patch
}

// Names derives branch and tag names. CandidateTag is empty when v is final.
func (v Version) Names() Names {
	n := Names{
		BaseBranch: BranchPrefix + v.Base(),
		FinalTag:   v.Release().Tag(),
	}
	if v.Candidate != nil {
		n.CandidateTag = v.Tag()
	}
	return n
}

// Equal reports whether both versions are identical.
func (v Version) Equal(o Version) bool {
	return Compare(v, o) == 0
}

// Less reports whether v orders before o.
func (v Version) Less(o Version) bool {
	return Compare(v, o) < 0
}

// Compare orders versions by (major, minor, patch); for equal triples any
// candidate sorts before the final release. It returns -1, 0 or +1.
func Compare(a, b Version) int {
	if c := cmp.Compare(a.Major, b.Major); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Minor, b.Minor); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Patch, b.Patch); c != 0 {
		return c
	}
	switch {
	case a.Candidate == nil && b.Candidate == nil:
		return 0
	case a.Candidate == nil:
		return 1
	case b.Candidate == nil:
		return -1
	}
	return cmp.Compare(*a.Candidate, *b.Candidate)
}

// NextCandidate returns max(existing)+1, or 1 when existing is empty.
// Gaps are tolerated; the count of existing candidates is irrelevant.
func NextCandidate(existing []uint64) uint64 {
	if len(existing) == 0 {
		return 1
	}
	return slices.Max(existing) + 1
}

// CandidatesFor extracts the candidate numbers of release among tag names.
// Tags that are not candidates of that exact (major, minor, patch) are ignored.
// The result is sorted ascending without duplicates.
func CandidatesFor(release Version, tags []string) []uint64 {
	var out []uint64
	for _, t := range tags {
		v, err := ParseTag(t)
		if err != nil || v.Candidate == nil || !v.SameRelease(release) {
			continue
		}
		out = append(out, *v.Candidate)
	}
	slices.Sort(out)
	return slices.Compact(out)
}
