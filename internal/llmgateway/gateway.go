// Package llmgateway implements the LLM Gateway: a rate-limited,
// fallback-capable call(prompt, options) -> {text, usage} boundary in front
// of pluggable LLM providers, with an opt-in strict-JSON response contract.
package llmgateway

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/AntoineDubuc/theodore/internal/model"
	"github.com/AntoineDubuc/theodore/internal/resilience"
)

// CallOptions is the per-call options bag.
type CallOptions struct {
	MaxOutputTokens int64
	Temperature     *float64
	Timeout         time.Duration
	ExpectJSON      bool
}

// CallResult is what call() returns: the raw text, token usage, and — when
// ExpectJSON was requested and parsing succeeded — the decoded object.
type CallResult struct {
	Text     string
	Usage    model.TokenUsage
	Provider string
	JSON     map[string]any
}

// Provider is a single LLM backend pluggable into the Gateway.
type Provider interface {
	Name() string
	Call(ctx context.Context, systemPrompt, userPrompt string, opts CallOptions) (text string, usage model.TokenUsage, err error)
}

// Gateway is call()'s home: token-bucket rate limiting, a hard per-call
// deadline, per-provider circuit breaking, and an ordered primary/fallback
// provider chain. It does not retry on its own — that policy belongs to
// the caller.
type Gateway struct {
	primary        Provider
	fallback       Provider
	limiter        *rate.Limiter
	breakers       *resilience.ServiceBreakers
	defaultTimeout time.Duration
}

// NewGateway builds a Gateway. fallback may be nil to disable fallback.
// requestsPerMinute configures the token-bucket limiter; capacity equals
// requestsPerMinute (burst = steady-state rate).
func NewGateway(primary, fallback Provider, requestsPerMinute int, defaultTimeout time.Duration) *Gateway {
	if requestsPerMinute < 1 {
		requestsPerMinute = 1
	}
	limiter := rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), requestsPerMinute)
	return &Gateway{
		primary:        primary,
		fallback:       fallback,
		limiter:        limiter,
		breakers:       resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig()),
		defaultTimeout: defaultTimeout,
	}
}

// WithBreakerConfig overrides the per-provider circuit breaker tuning.
func (g *Gateway) WithBreakerConfig(cfg resilience.CircuitBreakerConfig) *Gateway {
	g.breakers = resilience.NewServiceBreakers(cfg)
	return g
}

// JSONParseError distinguishes a structured-output parse failure from a
// transport/timeout error.
type JSONParseError struct {
	Raw string
	Err error
}

func (e *JSONParseError) Error() string { return "llmgateway: parse json response: " + e.Err.Error() }
func (e *JSONParseError) Unwrap() error { return e.Err }

// providerReply carries one provider call's outputs through the breaker.
type providerReply struct {
	text  string
	usage model.TokenUsage
}

// Call implements call(prompt, options) -> {text, usage}. Safe to invoke
// concurrently; the limiter serializes token acquisition. Each provider
// sits behind its own circuit breaker; an open breaker routes straight to
// the fallback without burning the primary's recovery window.
func (g *Gateway) Call(ctx context.Context, systemPrompt, userPrompt string, opts CallOptions) (*CallResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = g.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := g.limiter.Wait(callCtx); err != nil {
		return nil, eris.Wrap(err, "llmgateway: rate limiter wait")
	}

	reply, err := g.callProvider(callCtx, g.primary, systemPrompt, userPrompt, opts)
	provName := g.primary.Name()

	if err != nil && g.fallback != nil && shouldFallback(err) {
		zap.L().Warn("llmgateway: primary provider failed, attempting fallback",
			zap.String("primary", g.primary.Name()),
			zap.String("fallback", g.fallback.Name()),
			zap.Error(err),
		)
		reply, err = g.callProvider(callCtx, g.fallback, systemPrompt, userPrompt, opts)
		provName = g.fallback.Name()
	}

	if err != nil {
		return nil, eris.Wrap(err, "llmgateway: call")
	}

	result := &CallResult{Text: reply.text, Usage: reply.usage, Provider: provName}

	if opts.ExpectJSON {
		parsed, parseErr := ParseJSON(reply.text)
		if parseErr != nil {
			return result, &JSONParseError{Raw: reply.text, Err: parseErr}
		}
		result.JSON = parsed
	}

	return result, nil
}

// callProvider routes one call through the provider's circuit breaker.
func (g *Gateway) callProvider(ctx context.Context, p Provider, systemPrompt, userPrompt string, opts CallOptions) (providerReply, error) {
	return resilience.ExecuteVal(ctx, g.breakers.Get(p.Name()), func(ctx context.Context) (providerReply, error) {
		text, usage, err := p.Call(ctx, systemPrompt, userPrompt, opts)
		return providerReply{text: text, usage: usage}, err
	})
}

// shouldFallback reports whether err (from the primary provider) warrants
// trying the fallback provider: a timeout, an open circuit, or a
// transport/quota-shaped transient error.
func shouldFallback(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return true
	}
	return resilience.IsTransient(err)
}
