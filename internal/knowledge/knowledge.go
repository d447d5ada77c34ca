// Package knowledge reads question/answer entries from the
// authoritative PostgreSQL store. The package is read-only by design:
// entries are maintained by a separate editorial process, and this
// service only consumes them to build and serve the retrieval index.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrSourceUnavailable reports that the knowledge store could not be
// reached or queried. Callers map it to a degraded-but-alive state:
// the previously built index keeps serving.
var ErrSourceUnavailable = errors.New("knowledge source unavailable")

// Entry is one question/answer pair from the knowledge base.
type Entry struct {
	ID       int64  `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// EmbeddingText returns the text encoded for this entry. Question and
// answer are concatenated so that entries match on either phrasing of
// the question or wording from the answer itself.
func (e Entry) EmbeddingText() string {
	return e.Question + " " + e.Answer
}

// Source is the read surface the synchronizer and orchestrator need
// from the knowledge store.
type Source interface {
	// ListActive returns all active entries ordered by ascending id.
	// The ordering is part of the contract: index positions are
	// assigned in this order, and a rebuild from identical data must
	// produce an identical index.
	ListActive(ctx context.Context) ([]Entry, error)

	// MaxLastModified returns the newest last-modified timestamp over
	// active entries. ok is false when there are no active entries.
	MaxLastModified(ctx context.Context) (ts time.Time, ok bool, err error)

	// FetchByIDs returns the active entries for ids, preserving the
	// order of ids. Unknown or inactive ids are skipped, not errors.
	FetchByIDs(ctx context.Context, ids []int64) ([]Entry, error)

	// UptimeSeconds returns how long the backing store has been up.
	// A recent restart signals that data may have been reloaded.
	UptimeSeconds(ctx context.Context) (int64, error)
}

// Row scanning is shared by ListActive and FetchByIDs.
type rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

func scanEntries(r rows) ([]Entry, error) {
	defer r.Close()

	var entries []Entry
	for r.Next() {
		var e Entry
		if err := r.Scan(&e.ID, &e.Question, &e.Answer); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading entries: %v", ErrSourceUnavailable, err)
	}
	return entries, nil
}
