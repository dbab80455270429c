// Package gateway wraps a provider client with retry, rate accounting and
// cost accounting. It is the single choke point through which every
// inference call in the pipeline passes.
package gateway

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/local/finextractor/internal/ai"
	"github.com/local/finextractor/internal/limiter"
	"github.com/local/finextractor/internal/metrics"
	"github.com/rs/zerolog/log"
)

// FailureKind classifies a failed call. FailRateLimited is the only kind the
// gateway retries on its own; everything else propagates immediately.
type FailureKind int

const (
	FailNone FailureKind = iota
	FailRateLimited
	FailEmptyResponse
	FailTimeout
	FailCostCeiling
	FailProvider
)

func (k FailureKind) String() string {
	switch k {
	case FailNone:
		return "none"
	case FailRateLimited:
		return "rate_limited"
	case FailEmptyResponse:
		return "empty_response"
	case FailTimeout:
		return "timeout"
	case FailCostCeiling:
		return "cost_ceiling"
	case FailProvider:
		return "provider_error"
	}
	return "unknown"
}

// Result is the explicit outcome of one gateway call. Callers branch on Kind
// instead of unwrapping exceptions.
type Result struct {
	Text      string
	TokensIn  int
	TokensOut int
	Kind      FailureKind
	Err       error
}

func (r Result) OK() bool { return r.Kind == FailNone }

// Options tunes the retry policy and cost estimation.
type Options struct {
	BaseDelay    time.Duration // default 1s
	MaxDelay     time.Duration // default 60s
	MaxRetries   int           // default 3
	CostPerImage float64       // estimated spend per page image per call
}

type Gateway struct {
	client ai.Client
	window *limiter.RateWindow
	ledger *limiter.CostLedger
	opts   Options

	sleep  func(time.Duration)
	jitter func() float64
}

// New builds a gateway over the given provider client. The window and ledger
// are owned by the caller and shared with the scheduler for the document.
func New(client ai.Client, window *limiter.RateWindow, ledger *limiter.CostLedger, opts Options) *Gateway {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 60 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.CostPerImage <= 0 {
		opts.CostPerImage = 0.01
	}
	return &Gateway{
		client: client,
		window: window,
		ledger: ledger,
		opts:   opts,
		sleep:  time.Sleep,
		jitter: rand.Float64,
	}
}

// Provider returns the underlying client name for logging.
func (g *Gateway) Provider() string { return g.client.Name() }

// Call issues one inference call. Rate-limit-class failures and empty
// responses are retried with exponential backoff; everything else returns
// immediately. Every attempt stamps the rate window; every success adds
// estimated cost to the ledger.
func (g *Gateway) Call(ctx context.Context, req ai.Request) Result {
	var last Result

	for attempt := 0; attempt <= g.opts.MaxRetries; attempt++ {
		if g.ledger.Exceeded() {
			return Result{Kind: FailCostCeiling, Err: errors.New("cost ceiling reached")}
		}
		if attempt > 0 {
			g.sleep(g.backoff(attempt - 1))
		}
		if err := g.window.Acquire(ctx); err != nil {
			return Result{Kind: FailTimeout, Err: err}
		}

		start := time.Now()
		resp, err := g.client.Do(ctx, req)
		dur := time.Since(start)

		switch {
		case err == nil && strings.TrimSpace(resp.Text) == "":
			// Empty payloads are retried under the same policy as rate limits.
			metrics.ObserveProvider(g.client.Name(), req.Model, "empty", dur)
			last = Result{Kind: FailEmptyResponse, Err: errors.New("empty response")}
			continue
		case err == nil:
			metrics.ObserveProvider(g.client.Name(), req.Model, "success", dur)
			cost := g.estimateCost(req)
			g.ledger.Add(cost)
			metrics.AddCost(cost)
			return Result{Text: resp.Text, TokensIn: resp.TokensIn, TokensOut: resp.TokensOut}
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			metrics.ObserveProvider(g.client.Name(), req.Model, "timeout", dur)
			return Result{Kind: FailTimeout, Err: err}
		case isRateLimitErr(err):
			metrics.ObserveProvider(g.client.Name(), req.Model, "rate_limited", dur)
			log.Warn().
				Str("job_id", req.JobID).
				Str("provider", g.client.Name()).
				Str("model", req.Model).
				Int("attempt", attempt+1).
				Msg("rate limited, backing off")
			last = Result{Kind: FailRateLimited, Err: err}
			continue
		default:
			metrics.ObserveProvider(g.client.Name(), req.Model, "error", dur)
			return Result{Kind: FailProvider, Err: err}
		}
	}

	log.Error().
		Str("job_id", req.JobID).
		Str("provider", g.client.Name()).
		Str("kind", last.Kind.String()).
		Err(last.Err).
		Msg("retries exhausted")
	return last
}

// backoff computes min(base * 2^attempt + jitter[0,1s), max).
func (g *Gateway) backoff(attempt int) time.Duration {
	d := g.opts.BaseDelay << uint(attempt)
	d += time.Duration(g.jitter() * float64(time.Second))
	if d > g.opts.MaxDelay {
		d = g.opts.MaxDelay
	}
	return d
}

func (g *Gateway) estimateCost(req ai.Request) float64 {
	n := len(req.Images)
	if n == 0 {
		n = 1
	}
	return g.opts.CostPerImage * float64(n)
}

// isRateLimitErr treats the provider sentinel plus "429"/"rate limit" text
// as rate-limit-class failures.
func isRateLimitErr(err error) bool {
	if ai.IsRateLimited(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit")
}
