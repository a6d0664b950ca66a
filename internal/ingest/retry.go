package ingest

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

const maxRetryBackoff = 5 * time.Second

type retryPolicy struct {
	base time.Duration
	mu   sync.Mutex
	rnd  *rand.Rand
}

func newRetryPolicy(base time.Duration) *retryPolicy {
	return &retryPolicy{base: base, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))} //nolint:gosec
}

// delay is base * 2^(attempt-1), capped, plus up to base/2 of jitter.
func (p *retryPolicy) delay(attempt int) time.Duration {
	if attempt <= 0 || p.base <= 0 {
		return 0
	}
	d := time.Duration(math.Pow(2, float64(attempt-1)) * float64(p.base))
	if d > maxRetryBackoff {
		d = maxRetryBackoff
	}
	return d + p.jitter(p.base/2)
}

func (p *retryPolicy) jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Duration(p.rnd.Int63n(int64(max) + 1))
}

func (p *retryPolicy) wait(ctx context.Context, attempt int) error {
	d := p.delay(attempt)
	if d == 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
