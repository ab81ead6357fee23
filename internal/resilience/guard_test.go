package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmforge/dmforge/internal/resilience"
	"github.com/dmforge/dmforge/pkg/provider/llm"
	"github.com/dmforge/dmforge/pkg/provider/llm/mock"
)

func TestGuardFailsOverToFallback(t *testing.T) {
	t.Parallel()

	primary := &mock.Provider{StreamErr: errors.New("primary down")}
	fallback := &mock.Provider{StreamChunks: []llm.Chunk{{Text: "hello"}}}

	g := resilience.NewGuard(primary, "primary", resilience.BreakerConfig{MaxFailures: 5, ResetTimeout: time.Hour})
	g.AddFallback("fallback", fallback)

	ch, err := g.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("StreamCompletion error: %v", err)
	}
	chunk := <-ch
	if chunk.Text != "hello" {
		t.Errorf("chunk = %+v, want fallback output", chunk)
	}
	if len(primary.StreamCalls) != 1 || len(fallback.StreamCalls) != 1 {
		t.Errorf("calls: primary %d fallback %d, want 1 each", len(primary.StreamCalls), len(fallback.StreamCalls))
	}
}

func TestGuardSkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	primary := &mock.Provider{StreamErr: errors.New("primary down")}
	fallback := &mock.Provider{StreamChunks: []llm.Chunk{{Text: "ok"}}}

	g := resilience.NewGuard(primary, "primary", resilience.BreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})
	g.AddFallback("fallback", fallback)

	for i := 0; i < 3; i++ {
		if _, err := g.StreamCompletion(context.Background(), llm.CompletionRequest{}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	// Two failures opened the primary's breaker; the third call must not
	// have touched it.
	if len(primary.StreamCalls) != 2 {
		t.Errorf("primary calls = %d, want 2 (breaker open after)", len(primary.StreamCalls))
	}
	if len(fallback.StreamCalls) != 3 {
		t.Errorf("fallback calls = %d, want 3", len(fallback.StreamCalls))
	}
}

func TestGuardAllBackendsFailed(t *testing.T) {
	t.Parallel()

	g := resilience.NewGuard(&mock.Provider{StreamErr: errors.New("down")}, "only", resilience.BreakerConfig{})
	if _, err := g.StreamCompletion(context.Background(), llm.CompletionRequest{}); !errors.Is(err, resilience.ErrAllBackendsFailed) {
		t.Fatalf("error = %v, want ErrAllBackendsFailed", err)
	}
}

func TestGuardComplete(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "done"}}
	g := resilience.NewGuard(p, "primary", resilience.BreakerConfig{})

	resp, err := g.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil || resp.Content != "done" {
		t.Fatalf("Complete = %+v, %v", resp, err)
	}
}
