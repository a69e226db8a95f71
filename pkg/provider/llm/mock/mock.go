// Package mock provides a scripted llm.Provider for response engine tests.
//
// Each StreamCompletion call consumes the next entry of Scripts; once the
// scripts run out, Chunks is replayed. Setting Hold pauses every stream after
// its first chunk until Hold is closed or the request context ends, which lets
// tests cancel a response while it is still in flight.
//
//	p := &mock.Provider{Chunks: []llm.Chunk{{Text: "Hello!"}, {FinishReason: "stop"}}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/rtvoice/pkg/provider/llm"
	"github.com/MrWong99/rtvoice/pkg/types"
)

// Provider is a scripted implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Scripts holds one chunk sequence per StreamCompletion call, in order.
	Scripts [][]llm.Chunk

	// Chunks is replayed once Scripts is exhausted.
	Chunks []llm.Chunk

	// Hold, when non-nil, blocks each stream after its first chunk.
	Hold chan struct{}

	// StreamErr is returned by StreamCompletion instead of a channel.
	StreamErr error

	// Response and CompleteErr are returned by Complete.
	Response    *llm.CompletionResponse
	CompleteErr error

	// TokenCount is returned by CountTokens.
	TokenCount int

	// Caps is returned by Capabilities.
	Caps types.ModelCapabilities

	requests []llm.CompletionRequest
}

var _ llm.Provider = (*Provider)(nil)

// StreamCompletion records req and replays the next script.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	script := p.Chunks
	if len(p.Scripts) > 0 {
		script, p.Scripts = p.Scripts[0], p.Scripts[1:]
	}
	chunks := append([]llm.Chunk(nil), script...)
	hold := p.Hold
	p.mu.Unlock()

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		for i, c := range chunks {
			if i == 1 && hold != nil {
				select {
				case <-hold:
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete records req and returns Response, CompleteErr.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	return p.Response, p.CompleteErr
}

// CountTokens returns TokenCount, or a rough character estimate when unset.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.TokenCount > 0 {
		return p.TokenCount, nil
	}
	n := 0
	for _, m := range messages {
		n += (len(m.Content)+3)/4 + 3
	}
	return n, nil
}

// Capabilities returns Caps.
func (p *Provider) Capabilities() types.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Caps
}

// Requests returns a copy of every request received so far.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.CompletionRequest(nil), p.requests...)
}
