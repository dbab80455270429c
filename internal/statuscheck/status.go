// Package statuscheck aggregates readiness checks for the health endpoint.
package statuscheck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Pinger models the minimal capability a dependency needs for a check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker aggregates health checks for the pipeline's external dependencies.
type Checker struct {
	redis        Pinger
	s3           Pinger
	httpClient   *http.Client
	openAIKey    string
	anthropicKey string
}

// Options configures the Checker. Nil dependencies report as unavailable.
type Options struct {
	Redis        Pinger
	S3           Pinger
	HTTPClient   *http.Client
	OpenAIKey    string
	AnthropicKey string
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Redis     Status `json:"redis"`
	S3        Status `json:"s3"`
	OpenAI    Status `json:"openai"`
	Anthropic Status `json:"anthropic"`
}

// OK reports whether every configured subsystem is healthy. S3 and the
// provider not selected at startup are allowed to be down.
func (s Summary) OK() bool {
	return s.Redis.OK && (s.OpenAI.OK || s.Anthropic.OK)
}

func New(opts Options) *Checker {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Checker{
		redis:        opts.Redis,
		s3:           opts.S3,
		httpClient:   client,
		openAIKey:    strings.TrimSpace(opts.OpenAIKey),
		anthropicKey: strings.TrimSpace(opts.AnthropicKey),
	}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		Redis:     c.checkPinger(ctx, c.redis, 2*time.Second),
		S3:        c.checkPinger(ctx, c.s3, 5*time.Second),
		OpenAI:    c.checkOpenAI(ctx),
		Anthropic: c.checkAnthropic(ctx),
	}
}

func (c *Checker) checkPinger(ctx context.Context, p Pinger, timeout time.Duration) Status {
	if p == nil {
		return Status{OK: false, Message: "not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkOpenAI(ctx context.Context) Status {
	if c.openAIKey == "" {
		return Status{OK: false, Message: "API key missing"}
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.openai.com/v1/models?limit=1", nil)
	req.Header.Set("Authorization", "Bearer "+c.openAIKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Status{OK: false, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	return Status{OK: true, Message: "Available"}
}

func (c *Checker) checkAnthropic(ctx context.Context) Status {
	if c.anthropicKey == "" {
		return Status{OK: false, Message: "API key missing"}
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.anthropic.com/v1/models", nil)
	req.Header.Set("x-api-key", c.anthropicKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Status{OK: false, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	return Status{OK: true, Message: "Available"}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
