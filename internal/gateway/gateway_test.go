package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/local/finextractor/internal/ai"
	"github.com/local/finextractor/internal/limiter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClient returns canned responses/errors in sequence, repeating the
// last step once the script runs out. calls counts invocations.
type scriptedClient struct {
	calls int
	steps []func() (ai.Response, error)
}

func (c *scriptedClient) Name() string { return "scripted" }

func (c *scriptedClient) Do(_ context.Context, _ ai.Request) (ai.Response, error) {
	i := c.calls
	if i >= len(c.steps) {
		i = len(c.steps) - 1
	}
	c.calls++
	return c.steps[i]()
}

func newTestGateway(client ai.Client, ceiling float64) (*Gateway, *limiter.CostLedger) {
	ledger := limiter.NewCostLedger(ceiling)
	g := New(client, limiter.NewRateWindow(1000), ledger, Options{CostPerImage: 0.01})
	g.sleep = func(time.Duration) {}
	g.jitter = func() float64 { return 0 }
	return g, ledger
}

func oneImageReq() ai.Request {
	return ai.Request{JobID: "job", Images: []ai.ImageData{{Base64: "aGk=", MIME: "image/jpeg"}}, Model: "m"}
}

func TestCallSuccessAddsCost(t *testing.T) {
	client := &scriptedClient{steps: []func() (ai.Response, error){
		func() (ai.Response, error) { return ai.Response{Text: "{\"ok\": true}"}, nil },
	}}
	g, ledger := newTestGateway(client, 0)

	res := g.Call(context.Background(), oneImageReq())
	require.True(t, res.OK())
	assert.Equal(t, "{\"ok\": true}", res.Text)

	spent, calls := ledger.Snapshot()
	assert.InDelta(t, 0.01, spent, 1e-9)
	assert.Equal(t, 1, calls)
}

func TestCallRetriesRateLimitThenSucceeds(t *testing.T) {
	client := &scriptedClient{steps: []func() (ai.Response, error){
		func() (ai.Response, error) { return ai.Response{}, ai.ErrRateLimited },
		func() (ai.Response, error) { return ai.Response{}, fmt.Errorf("provider said rate limit exceeded") },
		func() (ai.Response, error) { return ai.Response{Text: "done"}, nil },
	}}
	g, _ := newTestGateway(client, 0)

	res := g.Call(context.Background(), oneImageReq())
	require.True(t, res.OK())
	assert.Equal(t, "done", res.Text)
	assert.Equal(t, 3, client.calls)
}

func TestCallDoesNotRetryProviderError(t *testing.T) {
	client := &scriptedClient{steps: []func() (ai.Response, error){
		func() (ai.Response, error) { return ai.Response{}, errors.New("invalid request") },
		func() (ai.Response, error) { return ai.Response{Text: "never reached"}, nil },
	}}
	g, _ := newTestGateway(client, 0)

	res := g.Call(context.Background(), oneImageReq())
	assert.Equal(t, FailProvider, res.Kind)
	assert.Equal(t, 1, client.calls)
}

func TestCallRetriesEmptyResponse(t *testing.T) {
	client := &scriptedClient{steps: []func() (ai.Response, error){
		func() (ai.Response, error) { return ai.Response{Text: "   \n"}, nil },
		func() (ai.Response, error) { return ai.Response{Text: "payload"}, nil },
	}}
	g, _ := newTestGateway(client, 0)

	res := g.Call(context.Background(), oneImageReq())
	require.True(t, res.OK())
	assert.Equal(t, "payload", res.Text)
}

func TestCallExhaustsRetries(t *testing.T) {
	client := &scriptedClient{steps: []func() (ai.Response, error){
		func() (ai.Response, error) { return ai.Response{}, ai.ErrRateLimited },
	}}
	g, _ := newTestGateway(client, 0)

	res := g.Call(context.Background(), oneImageReq())
	assert.Equal(t, FailRateLimited, res.Kind)
	assert.False(t, res.OK())
}

func TestCallRefusesPastCostCeiling(t *testing.T) {
	client := &scriptedClient{steps: []func() (ai.Response, error){
		func() (ai.Response, error) { return ai.Response{Text: "x"}, nil },
	}}
	g, ledger := newTestGateway(client, 0.05)
	ledger.Add(0.05)

	res := g.Call(context.Background(), oneImageReq())
	assert.Equal(t, FailCostCeiling, res.Kind)
	assert.Equal(t, 0, client.calls)
}

func TestBackoffCapped(t *testing.T) {
	g, _ := newTestGateway(&scriptedClient{steps: []func() (ai.Response, error){
		func() (ai.Response, error) { return ai.Response{Text: "x"}, nil },
	}}, 0)

	assert.Equal(t, time.Second, g.backoff(0))
	assert.Equal(t, 2*time.Second, g.backoff(1))
	assert.Equal(t, 60*time.Second, g.backoff(20))
}
