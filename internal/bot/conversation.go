// Package bot implements the transport-agnostic conversation layer: it
// gates incoming messages through a per-user state machine, drives the
// fusion search and refinement merge, and hands ranked records to the
// answer composer. Front ends (a chat protocol, the CLI REPL) deliver
// (user, text) and (user, action) events and render the returned plain
// text; all markup escaping stays on their side.
package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/remedylabs/remedy/internal/compose"
	"github.com/remedylabs/remedy/internal/search"
	"github.com/remedylabs/remedy/internal/session"
)

// Action identifies a follow-up choice presented to the user.
type Action string

const (
	// ActionAsk arms the next text message as a new or refining question.
	ActionAsk Action = "ask"

	// ActionConfirm marks the answer as received and clears the session.
	ActionConfirm Action = "confirm"

	// ActionRefine re-opens the question without clearing the session, so
	// the next query merges with the accumulated results.
	ActionRefine Action = "refine"
)

// Reply is what the front end renders: plain text plus the follow-up
// actions to offer.
type Reply struct {
	Text    string
	Actions []Action
}

// User-facing copy. Front ends may localize but the defaults match the
// original assistant's flow.
const (
	greetingText      = "Hi! I'm the knowledge-base assistant. Use the ask action to ask a question."
	helpText          = "Ask a question and I will look for solved problems that match it."
	askPromptText     = "Please type your question."
	refinePromptText  = "Type your refining question."
	confirmedText     = "Thanks! Use the ask action whenever you have a new question."
	needAskText       = "To ask a question, use the ask action first."
	needConfirmText   = "Please confirm the previous answer before sending a new question."
	busyText          = "Still working on your previous message, one moment."
	noMatchText       = "Nothing matched your question. Try refining your query."
	noRefineMatchText = "Nothing new matched your refinement. Try rephrasing it."
	internalErrText   = "Something went wrong while handling your question. Please try again."
	workingText       = "Generating an answer..."
)

// Greeting returns the first-contact message.
func Greeting() string { return greetingText }

// Help returns the help text.
func Help() string { return helpText }

// Working returns the provisional acknowledgement text for front ends
// that support progress messages.
func Working() string { return workingText }

// Searcher is the retrieval dependency of the conversation layer.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]search.Result, error)
}

// Handler drives one conversation turn at a time per user. Session state
// is keyed by user id; a second message from the same user while a turn
// is in flight is rejected rather than raced.
type Handler struct {
	searcher Searcher
	composer compose.Composer
	sessions session.Store
	logger   *zap.Logger
	topK     int

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewHandler creates a conversation handler.
func NewHandler(searcher Searcher, composer compose.Composer, sessions session.Store, logger *zap.Logger, topK int) (*Handler, error) {
	if searcher == nil {
		return nil, fmt.Errorf("searcher cannot be nil")
	}
	if composer == nil {
		return nil, fmt.Errorf("composer cannot be nil")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if topK <= 0 {
		topK = search.DefaultTopK
	}
	return &Handler{
		searcher: searcher,
		composer: composer,
		sessions: sessions,
		logger:   logger,
		topK:     topK,
		inFlight: make(map[string]bool),
	}, nil
}

// Start handles first contact: any stale session is dropped and the user
// is offered the ask action.
func (h *Handler) Start(ctx context.Context, userID string) Reply {
	if err := h.sessions.Delete(ctx, userID); err != nil {
		h.logger.Warn("failed to clear session on start",
			zap.String("user_id", userID), zap.Error(err))
	}
	return Reply{Text: greetingText, Actions: []Action{ActionAsk}}
}

// HandleAction processes a button-style action event.
func (h *Handler) HandleAction(ctx context.Context, userID string, action Action) Reply {
	switch action {
	case ActionAsk:
		sess, err := h.sessions.Get(ctx, userID)
		if err != nil {
			return h.internalError(userID, "", err)
		}
		if sess == nil {
			sess = &session.Session{UserID: userID}
		}
		sess.State = session.StateAwaitingQuestion
		if err := h.sessions.Put(ctx, sess); err != nil {
			return h.internalError(userID, "", err)
		}
		return Reply{Text: askPromptText}

	case ActionConfirm:
		if err := h.sessions.Delete(ctx, userID); err != nil {
			return h.internalError(userID, "", err)
		}
		return Reply{Text: confirmedText, Actions: []Action{ActionAsk}}

	case ActionRefine:
		sess, err := h.sessions.Get(ctx, userID)
		if err != nil {
			return h.internalError(userID, "", err)
		}
		if sess == nil {
			return Reply{Text: needAskText, Actions: []Action{ActionAsk}}
		}
		sess.State = session.StateAwaitingQuestion
		if err := h.sessions.Put(ctx, sess); err != nil {
			return h.internalError(userID, "", err)
		}
		return Reply{Text: refinePromptText}

	default:
		return Reply{Text: needAskText, Actions: []Action{ActionAsk}}
	}
}

// HandleMessage processes a text message from the user, running either the
// first-query path or the refinement path depending on session state.
// Unexpected failures are logged with context and surfaced as a generic
// retry prompt; internal details never reach the user.
func (h *Handler) HandleMessage(ctx context.Context, userID, text string) Reply {
	if !h.acquire(userID) {
		return Reply{Text: busyText}
	}
	defer h.release(userID)

	sess, err := h.sessions.Get(ctx, userID)
	if err != nil {
		return h.internalError(userID, text, err)
	}

	if sess == nil {
		return Reply{Text: needAskText, Actions: []Action{ActionAsk}}
	}
	if sess.State == session.StateAwaitingConfirmation {
		return Reply{Text: needConfirmText, Actions: []Action{ActionConfirm, ActionRefine}}
	}

	h.logger.Info("handling question",
		zap.String("user_id", userID),
		zap.String("query", text),
		zap.Bool("refinement", sess.OriginalQuery != ""))

	results, err := h.searcher.Search(ctx, text, h.topK)
	if err != nil {
		return h.internalError(userID, text, err)
	}

	if sess.OriginalQuery == "" {
		return h.answerFirst(ctx, sess, text, results)
	}
	return h.answerRefinement(ctx, sess, text, results)
}

// answerFirst handles the first answered query of a session.
func (h *Handler) answerFirst(ctx context.Context, sess *session.Session, query string, results []search.Result) Reply {
	if len(results) == 0 {
		// Session stays as-is so the user can simply try again.
		return Reply{Text: noMatchText}
	}

	answer, err := h.composer.Compose(ctx, results, query)
	if err != nil {
		return h.internalError(sess.UserID, query, err)
	}

	sess.OriginalQuery = query
	sess.PreviousResponse = answer.Text
	sess.Results = results
	sess.State = session.StateAwaitingConfirmation
	if err := h.sessions.Put(ctx, sess); err != nil {
		return h.internalError(sess.UserID, query, err)
	}

	h.logger.Info("answer composed",
		zap.String("user_id", sess.UserID),
		zap.Int("records", len(results)),
		zap.Int("tokens", answer.TokenUsage))

	return Reply{Text: answer.Text, Actions: []Action{ActionConfirm, ActionRefine}}
}

// answerRefinement handles a refining query: fresh results are unioned
// with the session's accumulated set before composing. Zero new matches
// leaves the session untouched.
func (h *Handler) answerRefinement(ctx context.Context, sess *session.Session, query string, results []search.Result) Reply {
	if len(results) == 0 {
		return Reply{Text: noRefineMatchText}
	}

	merged := search.Merge(sess.Results, results)

	answer, err := h.composer.Compose(ctx, merged, query)
	if err != nil {
		return h.internalError(sess.UserID, query, err)
	}

	sess.PreviousResponse = answer.Text
	sess.Results = merged
	sess.State = session.StateAwaitingConfirmation
	if err := h.sessions.Put(ctx, sess); err != nil {
		return h.internalError(sess.UserID, query, err)
	}

	h.logger.Info("refined answer composed",
		zap.String("user_id", sess.UserID),
		zap.Int("new_records", len(results)),
		zap.Int("merged_records", len(merged)),
		zap.Int("tokens", answer.TokenUsage))

	return Reply{Text: answer.Text, Actions: []Action{ActionConfirm, ActionRefine}}
}

func (h *Handler) internalError(userID, query string, err error) Reply {
	h.logger.Error("conversation turn failed",
		zap.String("user_id", userID),
		zap.String("query", query),
		zap.Error(err))
	return Reply{Text: internalErrText}
}

func (h *Handler) acquire(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inFlight[userID] {
		return false
	}
	h.inFlight[userID] = true
	return true
}

func (h *Handler) release(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.inFlight, userID)
}

// SplitMessage splits text into chunks of at most limit bytes for chat
// transports with message-size caps, preferring newline boundaries. A cut
// without a newline backs up to a rune boundary so no chunk ends inside a
// multi-byte character.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	var parts []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				// Limit smaller than one rune; split mid-rune rather
				// than loop forever.
				cut = limit
			}
		}
		parts = append(parts, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	return append(parts, text)
}
