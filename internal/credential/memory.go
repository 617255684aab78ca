package credential

import (
	"context"
	"sync"
)

// Compile-time check that MemoryPool implements Pool.
var _ Pool = (*MemoryPool)(nil)

// maxConsecutiveFailures is the failure streak after which a token is
// skipped during rotation. Once every token crosses it, streaks reset so
// the pool keeps serving rather than going permanently dark.
const maxConsecutiveFailures = 3

type tokenState struct {
	token        string
	ageVerified  bool
	failures     int
	lastFailure  string
	successCount int
	usageCount   int
}

// MemoryPool is an in-memory implementation of Pool with round-robin
// rotation. It uses a mutex-guarded slice for thread-safe access.
// Suitable for single-process deployments; use RedisPool to share a pool
// across processes.
type MemoryPool struct {
	mu     sync.Mutex
	tokens []*tokenState
	next   int
}

// NewMemoryPool creates an in-memory pool over the given tokens.
// Duplicate and empty tokens are dropped.
func NewMemoryPool(tokens []string) *MemoryPool {
	p := &MemoryPool{}
	seen := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		p.tokens = append(p.tokens, &tokenState{token: t})
	}
	return p
}

// Acquire returns the next token in round-robin order, skipping tokens
// whose failure streak crossed the threshold. If every token is skipped,
// streaks are reset and rotation starts over.
func (p *MemoryPool) Acquire(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.tokens) == 0 {
		return "", ErrPoolEmpty
	}

	for range p.tokens {
		st := p.tokens[p.next%len(p.tokens)]
		p.next++
		if st.failures < maxConsecutiveFailures {
			return st.token, nil
		}
	}

	// Every token is failing; reset streaks and hand out the next one.
	for _, st := range p.tokens {
		st.failures = 0
	}
	st := p.tokens[p.next%len(p.tokens)]
	p.next++
	return st.token, nil
}

// AgeVerified reports whether the token has completed age verification.
func (p *MemoryPool) AgeVerified(_ context.Context, token string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.find(token)
	if st == nil {
		return false, ErrUnknownToken
	}
	return st.ageVerified, nil
}

// SetAgeVerified records the age-verification state of the token.
func (p *MemoryPool) SetAgeVerified(_ context.Context, token string, verified bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.find(token)
	if st == nil {
		return ErrUnknownToken
	}
	st.ageVerified = verified
	return nil
}

// MarkSuccess clears the token's failure streak and counts the success.
func (p *MemoryPool) MarkSuccess(_ context.Context, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.find(token)
	if st == nil {
		return ErrUnknownToken
	}
	st.failures = 0
	st.successCount++
	return nil
}

// MarkFailed increments the token's failure streak and records the reason.
func (p *MemoryPool) MarkFailed(_ context.Context, token string, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.find(token)
	if st == nil {
		return ErrUnknownToken
	}
	st.failures++
	st.lastFailure = reason
	return nil
}

// RecordUsage increments the token's usage count.
func (p *MemoryPool) RecordUsage(_ context.Context, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.find(token)
	if st == nil {
		return ErrUnknownToken
	}
	st.usageCount++
	return nil
}

// find returns the state for token, or nil. Caller must hold p.mu.
func (p *MemoryPool) find(token string) *tokenState {
	for _, st := range p.tokens {
		if st.token == token {
			return st
		}
	}
	return nil
}
