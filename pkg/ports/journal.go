package ports

import (
	"context"
	"time"
)

// Journal actions.
const (
	ActionBranchCreate     = "branch.create"
	ActionTagCreate        = "tag.create"
	ActionTagRollback      = "tag.rollback"
	ActionRollbackFailed   = "tag.rollback_failed"
	ActionUmbrellaCommit   = "umbrella.commit"
	ActionStateSave        = "state.save"
	ActionStateArchive     = "state.archive"
	ActionUmbrellaReverted = "umbrella.revert"
)

// JournalEntry is one audited mutation.
type JournalEntry struct {
	ID           int64     `json:"id"`
	InvocationID string    `json:"invocation_id"`
	Time         time.Time `json:"time"`
	Actor        string    `json:"actor"`
	Repo         string    `json:"repo"`
	Action       string    `json:"action"`
	Ref          string    `json:"ref"`
	Commit       string    `json:"commit,omitempty"`
	Detail       string    `json:"detail,omitempty"`
}

// Journal is an append-only audit log of the mutations performed by the tool.
type Journal interface {
	Record(ctx context.Context, entry JournalEntry) error
	// Entries returns the most recent entries, newest first. limit <= 0 means all.
	Entries(ctx context.Context, limit int) ([]JournalEntry, error)
}

// NopJournal discards every entry.
type NopJournal struct{}

func (NopJournal) Record(context.Context, JournalEntry) error { return nil }

func (NopJournal) Entries(context.Context, int) ([]JournalEntry, error) { return nil, nil }
