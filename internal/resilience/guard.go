package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dmforge/dmforge/pkg/provider/llm"
)

// ErrAllBackendsFailed is returned when every registered backend failed or
// had an open breaker.
var ErrAllBackendsFailed = errors.New("resilience: all llm backends failed")

// backend pairs one provider with its dedicated breaker.
type backend struct {
	name    string
	p       llm.Provider
	breaker *Breaker
}

// Guard implements [llm.Provider] over an ordered list of backends, each
// behind its own circuit breaker. The primary is always tried first; open
// breakers are skipped. Only the initial connection of a stream is covered —
// once a chunk channel is handed out, mid-stream errors belong to the caller.
type Guard struct {
	mu       sync.RWMutex
	backends []backend
	cfg      BreakerConfig
}

var _ llm.Provider = (*Guard)(nil)

// NewGuard creates a guard with primary as the preferred backend.
func NewGuard(primary llm.Provider, name string, cfg BreakerConfig) *Guard {
	g := &Guard{cfg: cfg}
	g.add(name, primary)
	return g
}

// AddFallback registers another backend, tried after all earlier ones.
func (g *Guard) AddFallback(name string, p llm.Provider) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.add(name, p)
}

func (g *Guard) add(name string, p llm.Provider) {
	cfg := g.cfg
	cfg.Name = name
	g.backends = append(g.backends, backend{name: name, p: p, breaker: NewBreaker(cfg)})
}

// execute tries fn against each backend in order until one succeeds.
func execute[R any](g *Guard, fn func(llm.Provider) (R, error)) (R, error) {
	g.mu.RLock()
	backends := g.backends
	g.mu.RUnlock()

	var (
		zero    R
		lastErr error
	)
	for i := range backends {
		be := &backends[i]
		var out R
		err := be.breaker.Execute(func() error {
			var callErr error
			out, callErr = fn(be.p)
			return callErr
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("llm backend skipped, breaker open", "backend", be.name)
		} else {
			slog.Warn("llm backend failed, trying next", "backend", be.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrAllBackendsFailed, lastErr)
}

// StreamCompletion opens a stream on the first healthy backend.
func (g *Guard) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return execute(g, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// Complete runs a non-streaming completion on the first healthy backend.
func (g *Guard) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return execute(g, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens delegates to the first healthy backend.
func (g *Guard) CountTokens(messages []llm.Message) (int, error) {
	return execute(g, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}
