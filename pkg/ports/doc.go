/*
Package ports defines the driven ports (interfaces) of the release engine.

These interfaces decouple the orchestration logic from git, the filesystem and
any other storage, so the engine can be exercised against in-memory fakes.

# Key Interfaces

  - StateStore: persists the ReleaseState (file, redis or memory backends).
  - Git: git plumbing against a single repository (fetch, ls-remote, tag, push).
  - Journal: append-only audit log of every mutation performed.
*/
package ports
