package engine

import (
	"context"
	"math"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Pacer spaces out requests per endpoint so the service stays under each
// provider's published request budget. Endpoints without a configured limit
// are not paced.
type Pacer struct {
	// Limits holds requests per minute keyed by endpoint name.
	Limits map[string]int
	Margin float64

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Wait blocks until a request to endpoint is allowed or ctx is done.
func (p *Pacer) Wait(ctx context.Context, endpoint string) error {
	limiter := p.limiter(endpoint)
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

// ApplyOverrides merges per-endpoint request overrides (per minute).
func (p *Pacer) ApplyOverrides(overrides map[string]int) {
	if p == nil || len(overrides) == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Limits == nil {
		p.Limits = make(map[string]int, len(overrides))
	}
	for endpoint, value := range overrides {
		endpoint = normalizeEndpoint(endpoint)
		if endpoint == "" || value <= 0 {
			continue
		}
		p.Limits[endpoint] = value
		delete(p.limiters, endpoint)
	}
}

// ApplySafetyMargin adjusts the effective request limits by a ratio (0-1].
func (p *Pacer) ApplySafetyMargin(margin float64) {
	if p == nil {
		return
	}
	if margin <= 0 || margin > 1 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.Margin = margin
	p.limiters = nil
}

func (p *Pacer) limiter(endpoint string) *rate.Limiter {
	if p == nil {
		return nil
	}
	endpoint = normalizeEndpoint(endpoint)

	p.mu.Lock()
	defer p.mu.Unlock()

	if limiter, ok := p.limiters[endpoint]; ok {
		return limiter
	}

	perMinute, ok := p.Limits[endpoint]
	if !ok || perMinute <= 0 {
		return nil
	}
	perMinute = p.applyMargin(perMinute)

	burst := int(math.Ceil(float64(perMinute) / 60))
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(float64(perMinute)/60), burst)
	if p.limiters == nil {
		p.limiters = make(map[string]*rate.Limiter)
	}
	p.limiters[endpoint] = limiter
	return limiter
}

func (p *Pacer) applyMargin(perMinute int) int {
	if p.Margin <= 0 || p.Margin > 1 {
		return perMinute
	}
	adjusted := int(math.Floor(float64(perMinute) * p.Margin))
	if adjusted < 1 {
		adjusted = 1
	}
	return adjusted
}

func normalizeEndpoint(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
