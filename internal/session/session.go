// Package session holds the per-user refinement context: the original
// query, the previous answer, and the deduplicated result set accumulated
// across refinement rounds. Sessions also carry the conversation gating
// state, replacing the process-wide flags a naive implementation would
// share across users. Stores evict idle sessions by TTL so a long-running
// deployment's memory stays bounded.
package session

import (
	"context"
	"errors"

	"github.com/remedylabs/remedy/internal/search"
)

// ErrStoreFailure wraps backend connectivity errors.
var ErrStoreFailure = errors.New("session store failure")

// State is the per-user conversation gating state. A user with no stored
// session is idle.
type State string

const (
	// StateAwaitingQuestion accepts the next text message as a query.
	StateAwaitingQuestion State = "awaiting_question"

	// StateAwaitingConfirmation blocks new messages until the user either
	// confirms completion or asks to refine.
	StateAwaitingConfirmation State = "awaiting_confirmation"
)

// Session is one user's accumulated context. OriginalQuery is set by the
// first answered query and never overwritten; Results and
// PreviousResponse are replaced on every answered round.
type Session struct {
	UserID           string          `json:"user_id"`
	State            State           `json:"state"`
	OriginalQuery    string          `json:"original_query"`
	PreviousResponse string          `json:"previous_response"`
	Results          []search.Result `json:"results"`
}

// Store persists sessions keyed by user id. Get returns (nil, nil) for a
// missing session; absence is not an error.
type Store interface {
	Get(ctx context.Context, userID string) (*Session, error)
	Put(ctx context.Context, sess *Session) error
	Delete(ctx context.Context, userID string) error
	Close() error
}
