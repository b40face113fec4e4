package testutil

import (
	"context"
	"sync"

	"github.com/XavierBriggs/Iris/pkg/models"
	"github.com/rotisserie/eris"
)

// FakeProvider is an in-memory ScoreProvider keyed by league
type FakeProvider struct {
	mu        sync.Mutex
	responses map[string][]models.ScoreUpdate
	errs      map[string]error
	failures  map[string]int
	calls     map[string]int
	gate      chan struct{}
}

// NewFakeProvider creates an empty provider
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		responses: make(map[string][]models.ScoreUpdate),
		errs:      make(map[string]error),
		failures:  make(map[string]int),
		calls:     make(map[string]int),
	}
}

// SetEvents replaces the response for a league
func (p *FakeProvider) SetEvents(league string, updates ...models.ScoreUpdate) {
	p.mu.Lock()
	p.responses[league] = updates
	p.mu.Unlock()
}

// SetError makes every fetch for a league fail until cleared with nil
func (p *FakeProvider) SetError(league string, err error) {
	p.mu.Lock()
	if err == nil {
		delete(p.errs, league)
	} else {
		p.errs[league] = err
	}
	p.mu.Unlock()
}

// FailNext makes the next n fetches for a league fail
func (p *FakeProvider) FailNext(league string, n int) {
	p.mu.Lock()
	p.failures[league] = n
	p.mu.Unlock()
}

// Block holds every fetch until Release is called
func (p *FakeProvider) Block() {
	p.mu.Lock()
	p.gate = make(chan struct{})
	p.mu.Unlock()
}

// Release unblocks fetches held by Block
func (p *FakeProvider) Release() {
	p.mu.Lock()
	if p.gate != nil {
		close(p.gate)
		p.gate = nil
	}
	p.mu.Unlock()
}

// Calls returns the number of fetches issued for a league
func (p *FakeProvider) Calls(league string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[league]
}

// FetchEvents implements contracts.ScoreProvider
func (p *FakeProvider) FetchEvents(ctx context.Context, league string) ([]models.ScoreUpdate, error) {
	p.mu.Lock()
	p.calls[league]++
	gate := p.gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if n := p.failures[league]; n > 0 {
		p.failures[league] = n - 1
		return nil, eris.Errorf("upstream unavailable for %s", league)
	}
	if err := p.errs[league]; err != nil {
		return nil, err
	}

	out := make([]models.ScoreUpdate, len(p.responses[league]))
	copy(out, p.responses[league])
	return out, nil
}
