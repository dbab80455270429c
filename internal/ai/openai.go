package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultOpenAIBaseURL = "https://api.openai.com"

type OpenAIClient struct {
	http    *http.Client
	apiKey  string
	baseURL string
}

// NewOpenAIClient builds a chat-completions client. An empty baseURL targets
// the public API; timeout bounds each request.
func NewOpenAIClient(apiKey, baseURL string, timeout time.Duration) *OpenAIClient {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIClient{
		http:    &http.Client{Timeout: timeout},
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (c *OpenAIClient) Name() string { return "openai" }

type openAIMessage struct {
	Role    string                   `json:"role"`
	Content []map[string]interface{} `json:"content"`
}

type openAIChatReq struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIChatResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *OpenAIClient) Do(ctx context.Context, req Request) (Response, error) {
	if c.apiKey == "" {
		return Response{}, errors.New("missing OPENAI_API_KEY")
	}

	var messages []openAIMessage
	if req.System != "" {
		messages = append(messages, openAIMessage{
			Role: "system",
			Content: []map[string]interface{}{
				{"type": "text", "text": req.System},
			},
		})
	}

	// User message: all page images first, then the instruction text.
	var userContent []map[string]interface{}
	for _, img := range req.Images {
		imageURL := fmt.Sprintf("data:%s;base64,%s", img.MIME, img.Base64)
		userContent = append(userContent, map[string]interface{}{
			"type":      "image_url",
			"image_url": map[string]string{"url": imageURL},
		})
	}
	userContent = append(userContent, map[string]interface{}{
		"type": "text",
		"text": req.Instruction,
	})
	messages = append(messages, openAIMessage{Role: "user", Content: userContent})

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	payload := openAIChatReq{
		Model:       req.Model,
		Messages:    messages,
		Temperature: 0,
		MaxTokens:   maxTokens,
	}

	body, _ := json.Marshal(payload)
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == 429 {
		return Response{}, ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if strings.Contains(strings.ToLower(string(b)), "rate limit") {
			return Response{}, ErrRateLimited
		}
		return Response{}, fmt.Errorf("openai status %d", resp.StatusCode)
	}

	var r openAIChatResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return Response{}, err
	}
	if len(r.Choices) == 0 {
		return Response{}, errors.New("no choices")
	}

	return Response{
		Text:      r.Choices[0].Message.Content,
		TokensIn:  r.Usage.PromptTokens,
		TokensOut: r.Usage.CompletionTokens,
	}, nil
}
