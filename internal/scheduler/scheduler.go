// Package scheduler dispatches accepted pages to the inference gateway and
// collects one extraction outcome per page. It owns the dispatch strategy:
// batched for larger documents, a bounded parallel pool otherwise, with a
// document-wide sequential fallback when batched dispatch breaks down.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/local/finextractor/internal/ai"
	"github.com/local/finextractor/internal/doc"
	"github.com/local/finextractor/internal/gateway"
	"github.com/local/finextractor/internal/limiter"
	"github.com/local/finextractor/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultBatchThreshold is the accepted-page count at which batched
	// dispatch takes over from per-page dispatch.
	DefaultBatchThreshold = 8
	// DefaultMaxBatchSize caps how many pages one batch call may carry.
	DefaultMaxBatchSize = 5
	// DefaultPageTimeout bounds one extraction call.
	DefaultPageTimeout = 90 * time.Second
)

type Config struct {
	Model          string
	BatchThreshold int
	MaxBatchSize   int
	PageTimeout    time.Duration
}

// Telemetry is the cumulative dispatch accounting for one document. Calls and
// Batches count extraction dispatches only; Cost reads the shared ledger and
// covers the document's whole spend, classification and year probes included.
type Telemetry struct {
	Calls   int
	Batches int
	Cost    float64
}

// Scheduler runs extraction for one document. The ledger is shared with the
// gateway; the scheduler reads it for early termination and telemetry.
type Scheduler struct {
	gw     *gateway.Gateway
	ledger *limiter.CostLedger
	cfg    Config

	mu    sync.Mutex
	calls int
	batch int
}

func New(gw *gateway.Gateway, ledger *limiter.CostLedger, cfg Config) *Scheduler {
	if cfg.BatchThreshold <= 0 {
		cfg.BatchThreshold = DefaultBatchThreshold
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = DefaultPageTimeout
	}
	return &Scheduler{gw: gw, ledger: ledger, cfg: cfg}
}

// Telemetry returns extraction call and batch counts plus the document-wide
// estimated spend so far.
func (s *Scheduler) Telemetry() Telemetry {
	s.mu.Lock()
	defer s.mu.Unlock()
	cost, _ := s.ledger.Snapshot()
	return Telemetry{Calls: s.calls, Batches: s.batch, Cost: cost}
}

func (s *Scheduler) countCall() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func (s *Scheduler) countBatch() {
	s.mu.Lock()
	s.batch++
	s.mu.Unlock()
	metrics.IncBatch()
}

// workersFor scales the per-page pool down for small documents.
func workersFor(pages int) int {
	switch {
	case pages <= 20:
		return 6
	case pages <= 40:
		return 8
	default:
		return 10
	}
}

// Extract dispatches all accepted pages and returns one outcome per page,
// sorted by page index regardless of completion order.
func (s *Scheduler) Extract(ctx context.Context, jobID string, pages []doc.Page) []doc.Outcome {
	if len(pages) == 0 {
		return nil
	}

	var outcomes []doc.Outcome
	if len(pages) >= s.cfg.BatchThreshold {
		var err error
		outcomes, err = s.runBatched(ctx, jobID, pages)
		if err != nil {
			// Batched dispatch is all-or-nothing per document: any batch-level
			// call failure restarts the whole document sequentially.
			log.Warn().Err(err).Str("job_id", jobID).Int("pages", len(pages)).
				Msg("batched dispatch failed, reprocessing document sequentially")
			outcomes = s.runSequential(ctx, jobID, pages)
		}
	} else {
		outcomes = s.runParallel(ctx, jobID, pages)
	}

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].PageIndex < outcomes[j].PageIndex })
	for _, o := range outcomes {
		if o.OK {
			metrics.IncExtracted("success")
		} else {
			metrics.IncExtracted("failed")
		}
	}
	return outcomes
}

// runBatched groups pages by statement type and proximity, one call per
// batch. Crossing the cost ceiling aborts the remaining batches with failed
// outcomes (partial result). A failed batch call is returned as an error so
// the caller can fall back; a batch whose response cannot be parsed only
// fails its own pages.
func (s *Scheduler) runBatched(ctx context.Context, jobID string, pages []doc.Page) ([]doc.Outcome, error) {
	batches := groupBatches(pages, s.cfg.MaxBatchSize)
	outcomes := make([]doc.Outcome, 0, len(pages))

	for bi, b := range batches {
		if s.ledger.Exceeded() {
			log.Info().Str("job_id", jobID).Int("batches_left", len(batches)-bi).
				Msg("cost ceiling reached, aborting remaining batches")
			for _, rest := range batches[bi:] {
				outcomes = append(outcomes, failedOutcomes(rest.pages, rest.id, "cost ceiling reached")...)
			}
			return outcomes, nil
		}

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.PageTimeout)
		res := s.gw.Call(callCtx, s.batchRequest(jobID, b))
		cancel()
		s.countCall()
		s.countBatch()

		switch {
		case res.OK():
			outcomes = append(outcomes, parseBatchOutcomes(b, res.Text)...)
		case res.Kind == gateway.FailCostCeiling:
			outcomes = append(outcomes, failedOutcomes(b.pages, b.id, "cost ceiling reached")...)
		default:
			return nil, fmt.Errorf("batch %s (%s, %d pages): %s: %w",
				b.id, b.statement, len(b.pages), res.Kind, res.Err)
		}
	}
	return outcomes, nil
}

// runParallel dispatches each page on its own call through a bounded pool.
// A page that errors or times out fails alone.
func (s *Scheduler) runParallel(ctx context.Context, jobID string, pages []doc.Page) []doc.Outcome {
	outcomes := make([]doc.Outcome, len(pages))

	workers := workersFor(len(pages))
	if workers > len(pages) {
		workers = len(pages)
	}
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = s.extractOnePage(ctx, jobID, pages[i])
			}
		}()
	}
	for i := range pages {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return outcomes
}

// runSequential processes pages one at a time. Used as the batched-mode
// fallback, where the document has already burnt one failed call.
func (s *Scheduler) runSequential(ctx context.Context, jobID string, pages []doc.Page) []doc.Outcome {
	outcomes := make([]doc.Outcome, 0, len(pages))
	for _, p := range pages {
		outcomes = append(outcomes, s.extractOnePage(ctx, jobID, p))
	}
	return outcomes
}

func (s *Scheduler) extractOnePage(ctx context.Context, jobID string, p doc.Page) doc.Outcome {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.PageTimeout)
	defer cancel()

	res := s.gw.Call(callCtx, s.pageRequest(jobID, p))
	s.countCall()
	if !res.OK() {
		log.Warn().Str("job_id", jobID).Int("page", p.Index).
			Str("kind", res.Kind.String()).Err(res.Err).Msg("page extraction failed")
		return doc.Outcome{PageIndex: p.Index, FailReason: res.Kind.String()}
	}

	var parsed extractJSON
	if err := ai.DecodeObject(res.Text, &parsed); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Int("page", p.Index).Msg("unparsable extraction response")
		return doc.Outcome{PageIndex: p.Index, Raw: res.Text, FailReason: "parse_error"}
	}
	return doc.Outcome{PageIndex: p.Index, OK: true, Raw: res.Text, Entries: parsed.entries()}
}
