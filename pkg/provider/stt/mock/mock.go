// Package mock provides a scripted stt.Provider.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/rtvoice/pkg/provider/stt"
)

// Provider returns Result (or Err) for every Transcribe call and records the
// requests it saw. When Block is non-nil each call waits for it to close.
type Provider struct {
	mu sync.Mutex

	Result stt.Result
	Err    error
	Rate   int
	Block  chan struct{}

	requests []stt.Request
}

var _ stt.Provider = (*Provider)(nil)

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	res, err, block := p.Result, p.Err, p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return stt.Result{}, ctx.Err()
		}
	}
	if err != nil {
		return stt.Result{}, err
	}
	res.Duration = req.Duration()
	return res, nil
}

// SampleRate implements stt.Provider. Defaults to 16 kHz.
func (p *Provider) SampleRate() int {
	if p.Rate > 0 {
		return p.Rate
	}
	return 16000
}

// Requests returns a copy of the recorded requests.
func (p *Provider) Requests() []stt.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]stt.Request(nil), p.requests...)
}
