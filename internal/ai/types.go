package ai

import (
	"context"
	"errors"
)

// ImageData is one page raster handed to a provider.
type ImageData struct {
	Base64 string
	MIME   string // image/jpeg
}

// Request represents one vision inference call covering one or more page images.
type Request struct {
	JobID       string
	PageIDs     []int // page indexes covered by this call, in order
	Images      []ImageData
	Instruction string // user instruction text
	System      string // system prompt
	Model       string
	MaxTokens   int
}

type Response struct {
	Text      string
	TokensIn  int
	TokensOut int
}

// Client interface for providers like OpenAI, Anthropic. The concrete client
// is selected once at construction from configuration, never by string
// comparison at call sites.
type Client interface {
	Name() string
	Do(ctx context.Context, req Request) (Response, error)
}

var ErrRateLimited = errors.New("rate_limited")

func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }
