/*
Package ratchet drives the release lifecycle of a product made of several
git repositories: a set of leaf repositories and one umbrella repository that
pins each leaf as a git submodule.

A release moves through four phases. Start cuts the release branches and
publishes the first release candidate (rc1). Continue publishes the next
candidate from whatever the release branches currently point at. Finish
promotes the latest candidate of every repository to the final tag.

	uninitialized --start--> branch_cut --> candidate_in_progress --finish--> finished
	                                             ^            |
	                                             +--continue--+

# Concept

Every step touches all repositories. Leaf tags are created first, then the
umbrella is advanced to the tagged leaf commits and tagged itself. If any
repository fails, everything the step created is rolled back and the
workspace's release state is left as it was, so a step either happens
everywhere or nowhere.

The workspace keeps its view of the release in a state store, but the git
remotes are the source of truth. Before every step the state is reconciled
with the tags and branches that actually exist, so a release started in
another checkout can be continued here and candidate numbers never collide.

# Usage

	r, err := ratchet.New(".")
	if err != nil {
		log.Fatal(err)
	}
	defer r.Close()

	ctx := context.Background()
	out, err := r.Start(ctx, ratchet.StartRequest{
		Version: domain.MustParseVersion("0.99.0"),
		Notes:   "Highlights of this release.",
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(out.State.Phase)

# Configuration

New reads ratchet.yaml from the workspace. Without it, the default
repository set is used and state is kept under .ratchet/. The state can also
be kept in Redis, and every git mutation is recorded in a SQLite journal.
*/
package ratchet
