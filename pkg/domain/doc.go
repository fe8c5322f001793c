/*
Package domain contains the core release model for ratchet.

It is kept pure and free of I/O: version parsing and ordering, derived branch
and tag names, repository descriptors, the persisted release state and the
error taxonomy shared by every other package.

# Key Entities

  - Version: a release or release candidate ("0.99.0", "0.99.0-rc2").
  - Repository: a participating repository, either a Leaf or the Umbrella.
  - ReleaseState: the persisted aggregate (phase, per-repository progress, actor).
  - Phase: uninitialized -> branch_cut -> candidate_in_progress -> finished.
*/
package domain
