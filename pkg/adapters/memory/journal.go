package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/aretw0/ratchet/pkg/ports"
)

// Journal is an in-memory ports.Journal.
type Journal struct {
	mu      sync.Mutex
	entries []ports.JournalEntry
}

// NewJournal creates an empty journal.
func NewJournal() *Journal {
	return &Journal{}
}

func (j *Journal) Record(ctx context.Context, entry ports.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	entry.ID = int64(len(j.entries) + 1)
	j.entries = append(j.entries, entry)
	return nil
}

func (j *Journal) Entries(ctx context.Context, limit int) ([]ports.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := slices.Clone(j.entries)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Actions returns "action repo ref" for every entry, oldest first.
func (j *Journal) Actions() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.entries))
	for i, e := range j.entries {
		out[i] = e.Action + " " + e.Repo + " " + e.Ref
	}
	return out
}
