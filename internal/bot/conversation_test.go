package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/remedylabs/remedy/internal/compose"
	"github.com/remedylabs/remedy/internal/metadata"
	"github.com/remedylabs/remedy/internal/search"
	"github.com/remedylabs/remedy/internal/session"
)

// stubSearcher returns canned results, optionally blocking until released.
type stubSearcher struct {
	results []search.Result
	err     error
	block   chan struct{}

	mu      sync.Mutex
	queries []string
}

func (s *stubSearcher) Search(ctx context.Context, query string, topK int) ([]search.Result, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	if s.block != nil {
		<-s.block
	}
	return s.results, s.err
}

func resultFor(slot int64, title string, distance float64) search.Result {
	return search.Result{
		Slot:     slot,
		Distance: distance,
		Record: metadata.Record{
			Slot:     slot,
			Title:    title,
			Cause:    "cause " + title,
			Solution: "solution " + title,
		},
	}
}

func newTestHandler(t *testing.T, searcher Searcher, composer compose.Composer) (*Handler, *session.MemoryStore) {
	t.Helper()
	sessions := session.NewMemoryStore(time.Minute)
	t.Cleanup(func() { sessions.Close() })
	h, err := NewHandler(searcher, composer, sessions, nil, 5)
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}
	return h, sessions
}

func TestStartClearsStaleSession(t *testing.T) {
	ctx := context.Background()
	h, sessions := newTestHandler(t, &stubSearcher{}, compose.NewMockComposer("a"))

	sessions.Put(ctx, &session.Session{UserID: "u1", State: session.StateAwaitingConfirmation})

	reply := h.Start(ctx, "u1")
	if reply.Text != greetingText {
		t.Errorf("Start text = %q", reply.Text)
	}
	if sess, _ := sessions.Get(ctx, "u1"); sess != nil {
		t.Error("stale session survived Start")
	}
}

func TestMessageWithoutAskIsRejected(t *testing.T) {
	ctx := context.Background()
	searcher := &stubSearcher{results: []search.Result{resultFor(1, "Leak", 0.1)}}
	h, _ := newTestHandler(t, searcher, compose.NewMockComposer("a"))

	reply := h.HandleMessage(ctx, "u1", "pump leaks")
	if reply.Text != needAskText {
		t.Errorf("reply = %q, want the ask prompt", reply.Text)
	}
	if len(searcher.queries) != 0 {
		t.Error("search ran without an armed session")
	}
}

func TestAskThenQuestionProducesAnswer(t *testing.T) {
	ctx := context.Background()
	searcher := &stubSearcher{results: []search.Result{resultFor(1, "Leak", 0.1)}}
	composer := compose.NewMockComposer("Replace the gasket.")
	h, sessions := newTestHandler(t, searcher, composer)

	if reply := h.HandleAction(ctx, "u1", ActionAsk); reply.Text != askPromptText {
		t.Fatalf("ask reply = %q", reply.Text)
	}

	reply := h.HandleMessage(ctx, "u1", "pump leaks")
	if reply.Text != "Replace the gasket." {
		t.Errorf("answer = %q", reply.Text)
	}
	if len(reply.Actions) != 2 || reply.Actions[0] != ActionConfirm || reply.Actions[1] != ActionRefine {
		t.Errorf("actions = %v, want confirm and refine", reply.Actions)
	}

	sess, _ := sessions.Get(ctx, "u1")
	if sess == nil {
		t.Fatal("session missing after answer")
	}
	if sess.State != session.StateAwaitingConfirmation {
		t.Errorf("state = %q, want awaiting confirmation", sess.State)
	}
	if sess.OriginalQuery != "pump leaks" || sess.PreviousResponse != "Replace the gasket." {
		t.Errorf("session = %+v", sess)
	}
}

func TestMessageWhileAwaitingConfirmationIsGated(t *testing.T) {
	ctx := context.Background()
	searcher := &stubSearcher{results: []search.Result{resultFor(1, "Leak", 0.1)}}
	h, _ := newTestHandler(t, searcher, compose.NewMockComposer("a"))

	h.HandleAction(ctx, "u1", ActionAsk)
	h.HandleMessage(ctx, "u1", "pump leaks")

	searches := len(searcher.queries)
	reply := h.HandleMessage(ctx, "u1", "another question")
	if reply.Text != needConfirmText {
		t.Errorf("reply = %q, want confirmation prompt", reply.Text)
	}
	if len(searcher.queries) != searches {
		t.Error("search ran while awaiting confirmation")
	}
}

func TestConfirmEndsSession(t *testing.T) {
	ctx := context.Background()
	searcher := &stubSearcher{results: []search.Result{resultFor(1, "Leak", 0.1)}}
	h, sessions := newTestHandler(t, searcher, compose.NewMockComposer("a"))

	h.HandleAction(ctx, "u1", ActionAsk)
	h.HandleMessage(ctx, "u1", "pump leaks")

	reply := h.HandleAction(ctx, "u1", ActionConfirm)
	if reply.Text != confirmedText {
		t.Errorf("confirm reply = %q", reply.Text)
	}
	if sess, _ := sessions.Get(ctx, "u1"); sess != nil {
		t.Error("session survived confirmation")
	}
}

func TestRefinementMergesResults(t *testing.T) {
	ctx := context.Background()
	searcher := &stubSearcher{results: []search.Result{resultFor(1, "Leak", 0.4)}}
	composer := compose.NewMockComposer("first")
	h, sessions := newTestHandler(t, searcher, composer)

	h.HandleAction(ctx, "u1", ActionAsk)
	h.HandleMessage(ctx, "u1", "pump leaks")

	// Refine with one duplicate (closer) and one new record.
	searcher.results = []search.Result{
		resultFor(1, "Leak", 0.2),
		resultFor(2, "Jam", 0.3),
	}
	composer.Response = "second"

	if reply := h.HandleAction(ctx, "u1", ActionRefine); reply.Text != refinePromptText {
		t.Fatalf("refine reply = %q", reply.Text)
	}
	reply := h.HandleMessage(ctx, "u1", "leaks at the seal")
	if reply.Text != "second" {
		t.Errorf("refined answer = %q", reply.Text)
	}

	// The composer saw the merged set: both records, duplicate deduped to
	// its smaller distance.
	if len(composer.LastResults) != 2 {
		t.Fatalf("composer saw %d records, want 2", len(composer.LastResults))
	}
	if composer.LastResults[0].Record.Title != "Leak" || composer.LastResults[0].Distance != 0.2 {
		t.Errorf("first merged record = %+v", composer.LastResults[0])
	}

	sess, _ := sessions.Get(ctx, "u1")
	if sess == nil {
		t.Fatal("session missing after refinement")
	}
	if sess.OriginalQuery != "pump leaks" {
		t.Errorf("original query overwritten: %q", sess.OriginalQuery)
	}
	if len(sess.Results) != 2 || sess.PreviousResponse != "second" {
		t.Errorf("session = %+v", sess)
	}
}

func TestRefinementWithNoMatchesLeavesSessionUntouched(t *testing.T) {
	ctx := context.Background()
	searcher := &stubSearcher{results: []search.Result{resultFor(1, "Leak", 0.4)}}
	composer := compose.NewMockComposer("first")
	h, sessions := newTestHandler(t, searcher, composer)

	h.HandleAction(ctx, "u1", ActionAsk)
	h.HandleMessage(ctx, "u1", "pump leaks")

	searcher.results = nil
	h.HandleAction(ctx, "u1", ActionRefine)
	reply := h.HandleMessage(ctx, "u1", "something unrelated")
	if reply.Text != noRefineMatchText {
		t.Errorf("reply = %q, want the no-match refinement prompt", reply.Text)
	}

	sess, _ := sessions.Get(ctx, "u1")
	if sess == nil {
		t.Fatal("session missing")
	}
	if len(sess.Results) != 1 || sess.PreviousResponse != "first" {
		t.Errorf("zero-hit refinement modified the session: %+v", sess)
	}
}

func TestFirstQueryWithNoMatches(t *testing.T) {
	ctx := context.Background()
	h, sessions := newTestHandler(t, &stubSearcher{}, compose.NewMockComposer("a"))

	h.HandleAction(ctx, "u1", ActionAsk)
	reply := h.HandleMessage(ctx, "u1", "gibberish")
	if reply.Text != noMatchText {
		t.Errorf("reply = %q, want the no-match prompt", reply.Text)
	}

	// Still armed so the user can just try again.
	sess, _ := sessions.Get(ctx, "u1")
	if sess == nil || sess.State != session.StateAwaitingQuestion {
		t.Errorf("session = %+v, want awaiting question", sess)
	}
}

func TestSearchFailureReturnsGenericError(t *testing.T) {
	ctx := context.Background()
	searcher := &stubSearcher{err: errors.New("index offline")}
	h, _ := newTestHandler(t, searcher, compose.NewMockComposer("a"))

	h.HandleAction(ctx, "u1", ActionAsk)
	reply := h.HandleMessage(ctx, "u1", "pump leaks")
	if reply.Text != internalErrText {
		t.Errorf("reply = %q, want the generic error prompt", reply.Text)
	}
	if strings.Contains(reply.Text, "index offline") {
		t.Error("internal error detail leaked to the user")
	}
}

func TestComposerFailureReturnsGenericError(t *testing.T) {
	ctx := context.Background()
	searcher := &stubSearcher{results: []search.Result{resultFor(1, "Leak", 0.1)}}
	h, _ := newTestHandler(t, searcher, compose.NewMockComposerWithError(errors.New("llm down")))

	h.HandleAction(ctx, "u1", ActionAsk)
	reply := h.HandleMessage(ctx, "u1", "pump leaks")
	if reply.Text != internalErrText {
		t.Errorf("reply = %q, want the generic error prompt", reply.Text)
	}
}

func TestRefineWithoutSessionPromptsAsk(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHandler(t, &stubSearcher{}, compose.NewMockComposer("a"))

	reply := h.HandleAction(ctx, "u1", ActionRefine)
	if reply.Text != needAskText {
		t.Errorf("reply = %q, want the ask prompt", reply.Text)
	}
}

func TestConcurrentMessageFromSameUserIsRejected(t *testing.T) {
	ctx := context.Background()
	searcher := &stubSearcher{
		results: []search.Result{resultFor(1, "Leak", 0.1)},
		block:   make(chan struct{}),
	}
	h, _ := newTestHandler(t, searcher, compose.NewMockComposer("a"))

	h.HandleAction(ctx, "u1", ActionAsk)

	done := make(chan Reply, 1)
	go func() {
		done <- h.HandleMessage(ctx, "u1", "pump leaks")
	}()

	// Wait until the first turn is inside the searcher.
	deadline := time.After(time.Second)
	for {
		searcher.mu.Lock()
		n := len(searcher.queries)
		searcher.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first turn never reached the searcher")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if reply := h.HandleMessage(ctx, "u1", "again"); reply.Text != busyText {
		t.Errorf("concurrent reply = %q, want the busy prompt", reply.Text)
	}

	close(searcher.block)
	if reply := <-done; reply.Text == busyText {
		t.Error("first turn was rejected as busy")
	}
}

func TestUsersAreIsolated(t *testing.T) {
	ctx := context.Background()
	searcher := &stubSearcher{results: []search.Result{resultFor(1, "Leak", 0.1)}}
	h, _ := newTestHandler(t, searcher, compose.NewMockComposer("a"))

	h.HandleAction(ctx, "u1", ActionAsk)
	h.HandleMessage(ctx, "u1", "pump leaks")

	// u1 is awaiting confirmation; u2's flow is unaffected.
	reply := h.HandleMessage(ctx, "u2", "hello")
	if reply.Text != needAskText {
		t.Errorf("u2 reply = %q, want the ask prompt", reply.Text)
	}
	h.HandleAction(ctx, "u2", ActionAsk)
	if reply := h.HandleMessage(ctx, "u2", "feeder jam"); reply.Text == needConfirmText {
		t.Error("u2 was gated by u1's state")
	}
}

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{"short text untouched", "hello", 10, []string{"hello"}},
		{"split at newline", "aaa\nbbb", 5, []string{"aaa", "bbb"}},
		{"hard split without newline", "aaaaaa", 4, []string{"aaaa", "aa"}},
		{"zero limit untouched", "aaaaaa", 0, []string{"aaaaaa"}},
		{"multi-byte rune kept whole", "ααα", 5, []string{"αα", "α"}},
		{"cyrillic hard split", "привет", 7, []string{"при", "вет"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitMessage(tt.text, tt.limit)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d parts %q, want %d", len(got), got, len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("part %d = %q, want %q", i, got[i], tt.want[i])
				}
				if !utf8.ValidString(got[i]) {
					t.Errorf("part %d %q is not valid UTF-8", i, got[i])
				}
			}
		})
	}
}
