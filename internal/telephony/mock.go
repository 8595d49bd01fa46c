package telephony

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MockProvider fabricates vendor identifiers and never contacts a network.
// Selected per-request via `provider: "mock"` for local testing, or as the
// deployment default in non-production environments.
type MockProvider struct {
	mu       sync.Mutex
	Requests []InitiateRequest

	// FailWith, when set, is returned from Initiate instead of a result.
	FailWith error
}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) HealthCheck(ctx context.Context) error { return nil }

func (p *MockProvider) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailWith != nil {
		return InitiateResult{}, p.FailWith
	}
	p.Requests = append(p.Requests, req)
	return InitiateResult{
		CallControlID: "mock-" + uuid.NewString(),
		CallSessionID: uuid.NewString(),
		CallLegID:     uuid.NewString(),
	}, nil
}

// CallCount reports how many calls were placed; test helper.
func (p *MockProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}
