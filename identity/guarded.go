package identity

import (
	"context"
	"errors"
)

// attempt records the caller-supplied value behind a staged reservation, so
// a conflict on that reservation's id can be reported as a duplicate of the
// value the caller actually tried.
type attempt struct {
	kind  string
	value string
}

// guardedSaver wraps a session with the create/rename/delete protocol shared
// by the role and user stores: track which staged reservations correspond to
// which attempted values, commit, and on conflict classify by the
// conflicting document's id. Both stores embed it.
type guardedSaver struct {
	session  *Session
	attempts map[string]attempt // reservation key -> attempted value
}

func newGuardedSaver(client DynamoAPI) guardedSaver {
	return guardedSaver{
		session:  NewSession(client),
		attempts: make(map[string]attempt),
	}
}

// trackAttempt associates a staged reservation key with the value the caller
// attempted to claim.
func (g *guardedSaver) trackAttempt(key, kind, value string) {
	g.attempts[key] = attempt{kind: kind, value: value}
}

// commit saves all staged writes and translates conflicts. A conflict on a
// tracked reservation id means the value was already taken; anything else is
// a generic concurrency failure. Either way every pending write is evicted
// so a later save cannot flush half-built state.
func (g *guardedSaver) commit(ctx context.Context) error {
	err := g.session.SaveChanges(ctx)
	if err == nil {
		g.attempts = make(map[string]attempt)
		return nil
	}

	if errors.Is(err, ErrConcurrentModification) {
		g.session.Reset()
		var conflict *ConflictError
		var att attempt
		var taken bool
		if errors.As(err, &conflict) {
			att, taken = g.attempts[conflict.DocumentID]
		}
		g.attempts = make(map[string]attempt)
		if taken {
			return &DuplicateValueError{Kind: att.kind, Value: att.value}
		}
		return ErrConcurrentModification
	}

	// Unclassified store error (throttling, network, cancellation). Pending
	// writes stay staged; the caller may retry the save.
	return err
}

// commitOp commits the writes staged by one store operation. On any failure
// the operation's writes are evicted and their tracked attempts dropped, so
// state from the failed operation cannot ride along with a later save.
// Explicitly batched saves retain their pending writes for retry and go
// through commit directly.
func (g *guardedSaver) commitOp(ctx context.Context, docIDs ...string) error {
	err := g.commit(ctx)
	if err != nil {
		for _, id := range docIDs {
			g.session.Evict(id)
			delete(g.attempts, id)
		}
	}
	return err
}
