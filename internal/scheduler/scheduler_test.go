package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/local/finextractor/internal/ai"
	"github.com/local/finextractor/internal/doc"
	"github.com/local/finextractor/internal/gateway"
	"github.com/local/finextractor/internal/limiter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient answers each call from a queue, repeating the last response
// once the queue is drained.
type fakeClient struct {
	calls     int
	responses []fakeResponse
}

type fakeResponse struct {
	text string
	err  error
}

func (f *fakeClient) Name() string { return "fake" }

func (f *fakeClient) Do(_ context.Context, _ ai.Request) (ai.Response, error) {
	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	f.calls++
	r := f.responses[i]
	return ai.Response{Text: r.text}, r.err
}

func newTestScheduler(client ai.Client, ceiling float64) (*Scheduler, *limiter.CostLedger) {
	ledger := limiter.NewCostLedger(ceiling)
	gw := gateway.New(client, limiter.NewRateWindow(1000), ledger, gateway.Options{})
	return New(gw, ledger, Config{Model: "test-model"}), ledger
}

func typedPages(types ...doc.StatementType) []doc.Page {
	pages := make([]doc.Page, len(types))
	for i, st := range types {
		pages[i] = doc.Page{Index: i + 1, Type: st, ImageBase64: "aW1n", ImageMIME: "image/jpeg"}
	}
	return pages
}

func repeatType(st doc.StatementType, n int) []doc.StatementType {
	out := make([]doc.StatementType, n)
	for i := range out {
		out[i] = st
	}
	return out
}

// pageObject is a valid single-page extraction response.
func pageObject(page int) string {
	return fmt.Sprintf(`{"page": %d, "fields": [{"label": "Total Assets", "value": 100, "confidence": 90, "year": "2023"}]}`, page)
}

// batchArray is a valid batch extraction response covering the given pages.
func batchArray(pages ...int) string {
	s := "["
	for i, p := range pages {
		if i > 0 {
			s += ","
		}
		s += pageObject(p)
	}
	return s + "]"
}

func TestWorkersFor(t *testing.T) {
	assert.Equal(t, 6, workersFor(5))
	assert.Equal(t, 6, workersFor(20))
	assert.Equal(t, 8, workersFor(21))
	assert.Equal(t, 8, workersFor(40))
	assert.Equal(t, 10, workersFor(41))
}

func TestGroupBatchesByTypeAndProximity(t *testing.T) {
	pages := typedPages(
		doc.BalanceSheet, doc.IncomeStatement, doc.BalanceSheet, doc.BalanceSheet,
		doc.IncomeStatement, doc.BalanceSheet, doc.BalanceSheet, doc.BalanceSheet,
		doc.BalanceSheet, doc.IncomeStatement,
	)
	batches := groupBatches(pages, 5)
	require.Len(t, batches, 3)

	// 7 balance sheet pages split 5+2, then the 3 income pages.
	assert.Equal(t, doc.BalanceSheet, batches[0].statement)
	assert.Len(t, batches[0].pages, 5)
	assert.Equal(t, []int{1, 3, 4, 6, 7}, pageIndexes(batches[0].pages))
	assert.Equal(t, doc.BalanceSheet, batches[1].statement)
	assert.Equal(t, []int{8, 9}, pageIndexes(batches[1].pages))
	assert.Equal(t, doc.IncomeStatement, batches[2].statement)
	assert.Equal(t, []int{2, 5, 10}, pageIndexes(batches[2].pages))
}

func pageIndexes(pages []doc.Page) []int {
	out := make([]int, len(pages))
	for i, p := range pages {
		out[i] = p.Index
	}
	return out
}

func TestExtractSmallDocumentUsesPerPageCalls(t *testing.T) {
	client := &fakeClient{responses: []fakeResponse{{text: pageObject(0)}}}
	sched, _ := newTestScheduler(client, 0)

	pages := typedPages(repeatType(doc.BalanceSheet, 3)...)
	outcomes := sched.Extract(context.Background(), "job-1", pages)

	require.Len(t, outcomes, 3)
	assert.Equal(t, 3, client.calls)
	for i, o := range outcomes {
		assert.Equal(t, i+1, o.PageIndex, "outcomes must be in page order")
		assert.True(t, o.OK)
		require.Len(t, o.Entries, 1)
		assert.Equal(t, "Total Assets", o.Entries[0].Label)
	}
	tel := sched.Telemetry()
	assert.Equal(t, 3, tel.Calls)
	assert.Equal(t, 0, tel.Batches)
	assert.InDelta(t, 0.03, tel.Cost, 1e-9)
}

func TestExtractBatchedMode(t *testing.T) {
	client := &fakeClient{responses: []fakeResponse{
		{text: batchArray(1, 2, 3, 4, 5)},
		{text: batchArray(6, 7, 8, 9, 10)},
	}}
	sched, _ := newTestScheduler(client, 0)

	pages := typedPages(repeatType(doc.BalanceSheet, 10)...)
	outcomes := sched.Extract(context.Background(), "job-1", pages)

	require.Len(t, outcomes, 10)
	assert.Equal(t, 2, client.calls, "ten same-type pages should take two batch calls")
	for i, o := range outcomes {
		assert.Equal(t, i+1, o.PageIndex)
		assert.True(t, o.OK)
		assert.NotEmpty(t, o.BatchID)
	}
	tel := sched.Telemetry()
	assert.Equal(t, 2, tel.Batches)
}

func TestBatchFailureFallsBackSequentiallyForWholeDocument(t *testing.T) {
	client := &fakeClient{responses: []fakeResponse{
		{err: errors.New("model refused")},
		{text: pageObject(0)},
	}}
	sched, _ := newTestScheduler(client, 0)

	pages := typedPages(repeatType(doc.BalanceSheet, 12)...)
	outcomes := sched.Extract(context.Background(), "job-1", pages)

	require.Len(t, outcomes, 12)
	assert.Equal(t, 13, client.calls, "one failed batch call plus one sequential call per page")
	for i, o := range outcomes {
		assert.Equal(t, i+1, o.PageIndex)
		assert.True(t, o.OK)
		assert.Empty(t, o.BatchID, "fallback outcomes are per-page, not batch")
	}
}

func TestBatchParseFailureIsLocalToBatch(t *testing.T) {
	client := &fakeClient{responses: []fakeResponse{
		{text: "I could not find any financial data on these pages."},
		{text: batchArray(6, 7, 8, 9, 10)},
	}}
	sched, _ := newTestScheduler(client, 0)

	pages := typedPages(repeatType(doc.BalanceSheet, 10)...)
	outcomes := sched.Extract(context.Background(), "job-1", pages)

	require.Len(t, outcomes, 10)
	assert.Equal(t, 2, client.calls, "a parse failure must not trigger the sequential fallback")
	for _, o := range outcomes[:5] {
		assert.False(t, o.OK)
		assert.Equal(t, "parse_error", o.FailReason)
	}
	for _, o := range outcomes[5:] {
		assert.True(t, o.OK)
	}
}

func TestBatchMissingPageFailsAlone(t *testing.T) {
	client := &fakeClient{responses: []fakeResponse{
		{text: batchArray(1, 2, 4, 5)}, // page 3 absent
		{text: batchArray(6, 7, 8)},
	}}
	sched, _ := newTestScheduler(client, 0)

	pages := typedPages(repeatType(doc.BalanceSheet, 8)...)
	outcomes := sched.Extract(context.Background(), "job-1", pages)

	require.Len(t, outcomes, 8)
	assert.False(t, outcomes[2].OK)
	assert.Equal(t, "missing from batch response", outcomes[2].FailReason)
	for i, o := range outcomes {
		if i == 2 {
			continue
		}
		assert.True(t, o.OK, "page %d", o.PageIndex)
	}
}

func TestCostCeilingAbortsRemainingBatches(t *testing.T) {
	client := &fakeClient{responses: []fakeResponse{
		{text: batchArray(1, 2, 3, 4, 5)},
	}}
	// First batch costs 5 * 0.01 and crosses the ceiling; the second never runs.
	sched, ledger := newTestScheduler(client, 0.04)

	pages := typedPages(repeatType(doc.BalanceSheet, 10)...)
	outcomes := sched.Extract(context.Background(), "job-1", pages)

	require.Len(t, outcomes, 10)
	assert.Equal(t, 1, client.calls)
	assert.True(t, ledger.Exceeded())
	for _, o := range outcomes[:5] {
		assert.True(t, o.OK)
	}
	for _, o := range outcomes[5:] {
		assert.False(t, o.OK)
		assert.Equal(t, "cost ceiling reached", o.FailReason)
	}
}

func TestTelemetryCostIsDocumentWide(t *testing.T) {
	client := &fakeClient{responses: []fakeResponse{{text: pageObject(0)}}}
	sched, ledger := newTestScheduler(client, 0)

	// Spend accrued outside the scheduler (classification, year probes) shares
	// the ledger and shows up in Cost; Calls stays extraction-only.
	ledger.Add(0.5)
	sched.Extract(context.Background(), "job-1", typedPages(repeatType(doc.BalanceSheet, 2)...))

	tel := sched.Telemetry()
	assert.Equal(t, 2, tel.Calls)
	assert.InDelta(t, 0.52, tel.Cost, 1e-9)
}

func TestExtractEmptyInput(t *testing.T) {
	sched, _ := newTestScheduler(&fakeClient{responses: []fakeResponse{{text: "unused"}}}, 0)
	assert.Nil(t, sched.Extract(context.Background(), "job-1", nil))
}
