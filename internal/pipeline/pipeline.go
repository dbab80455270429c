// Package pipeline runs a document end to end: intake validation,
// rasterization, classification, extraction scheduling, year detection and
// consolidation, then result persistence. Resource failures are fatal for the
// document; everything narrower degrades to partial results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/finextractor/internal/ai"
	"github.com/local/finextractor/internal/classifier"
	"github.com/local/finextractor/internal/config"
	"github.com/local/finextractor/internal/consolidate"
	"github.com/local/finextractor/internal/doc"
	"github.com/local/finextractor/internal/filetype"
	"github.com/local/finextractor/internal/gateway"
	"github.com/local/finextractor/internal/limiter"
	"github.com/local/finextractor/internal/metrics"
	"github.com/local/finextractor/internal/queue"
	"github.com/local/finextractor/internal/raster"
	"github.com/local/finextractor/internal/scheduler"
	"github.com/local/finextractor/internal/storage"
	"github.com/local/finextractor/internal/store"
	"github.com/local/finextractor/internal/template"
)

// ErrCancelled marks a job stopped by an operator cancellation.
var ErrCancelled = errors.New("job cancelled")

// ErrNoFinancialPages marks a document where classification accepted nothing.
var ErrNoFinancialPages = errors.New("no financial pages detected")

// ErrUnsupportedFile marks an intake file that is not a readable PDF.
var ErrUnsupportedFile = errors.New("unsupported document")

// Canceller is the cancellation flag the pipeline polls between stages.
type Canceller interface {
	IsCancelled(ctx context.Context, jobID string) (bool, error)
}

// Pipeline processes documents. One instance serves many jobs; the rate
// window and cost ledger are created per document.
type Pipeline struct {
	cfg    config.Config
	client ai.Client
	rast   *raster.Rasterizer
	status *store.RedisStatus
	result storage.Store
	fetch  storage.SourceFetcher
	cancel Canceller
}

// DocumentResult is the terminal artifact for one document.
type DocumentResult struct {
	JobID         string
	Mapping       *consolidate.Mapping
	Outcomes      []doc.Outcome
	Telemetry     scheduler.Telemetry
	PageCount     int
	AcceptedPages int
}

func New(cfg config.Config, client ai.Client, status *store.RedisStatus, result storage.Store, fetch storage.SourceFetcher, cancel Canceller) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		client: client,
		rast: raster.New(raster.Config{
			DPI:     cfg.Raster.DPI,
			Quality: cfg.Raster.Quality,
			Timeout: cfg.Raster.Timeout,
		}),
		status: status,
		result: result,
		fetch:  fetch,
		cancel: cancel,
	}
}

// ProcessDocument runs the whole pipeline for one queued job. The returned
// error is fatal for the document (resource errors, cancellation); partial
// extraction failures are absorbed into the result.
func (p *Pipeline) ProcessDocument(ctx context.Context, job queue.DocumentJob) (*DocumentResult, error) {
	start := time.Now()
	jobID := job.JobID
	log.Info().Str("job_id", jobID).Str("file", job.FilePath).Int("attempt", job.Attempts+1).
		Msg("processing document")

	filePath, cleanup, err := p.resolveSource(ctx, job)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if err := filetype.CheckPDF(filePath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFile, err)
	}
	total, err := raster.PageCount(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFile, err)
	}

	p.setStatus(ctx, jobID, store.StateRasterizing, 10, fmt.Sprintf("rasterizing %d pages", total))
	pages, err := p.rast.Render(ctx, filePath)
	if err != nil {
		return nil, err
	}
	if err := p.checkCancelled(ctx, jobID); err != nil {
		return nil, err
	}

	// Shared ledger across classification and extraction; separate rate
	// windows because the two call classes have different limits.
	ledger := limiter.NewCostLedger(p.cfg.Extract.CostCeiling)
	classifyGW := p.newGateway(limiter.NewRateWindow(p.cfg.Classify.RateRPM), ledger)
	extractGW := p.newGateway(limiter.NewRateWindow(p.cfg.Extract.RateRPM), ledger)

	p.setStatus(ctx, jobID, store.StateClassifying, 30, "scoring pages")
	cls := classifier.New(classifyGW, classifier.Config{
		Mode:    classifier.Mode(p.cfg.Classify.Mode),
		Model:   p.cfg.Providers.ClassifyModel,
		Workers: p.cfg.Classify.Workers,
	})
	accepted := cls.ClassifyPages(ctx, jobID, pages)
	if len(accepted) == 0 {
		return nil, ErrNoFinancialPages
	}
	if err := p.checkCancelled(ctx, jobID); err != nil {
		return nil, err
	}

	p.setStatus(ctx, jobID, store.StateExtracting, 50, fmt.Sprintf("extracting %d pages", len(accepted)))
	sched := scheduler.New(extractGW, ledger, scheduler.Config{
		Model:          p.cfg.Providers.ExtractModel,
		BatchThreshold: p.cfg.Extract.BatchThreshold,
		MaxBatchSize:   p.cfg.Extract.MaxBatchSize,
		PageTimeout:    p.cfg.Extract.PageTimeout,
	})
	outcomes := sched.Extract(ctx, jobID, accepted)
	if err := p.checkCancelled(ctx, jobID); err != nil {
		return nil, err
	}

	p.setStatus(ctx, jobID, store.StateMerging, 85, "consolidating results")
	cons := consolidate.New(extractGW, template.NewMatcher(p.cfg.Extract.MatchThreshold), p.cfg.Providers.ExtractModel)
	years := cons.DetectYears(ctx, jobID, accepted)
	mapping := cons.Consolidate(jobID, years, outcomes)

	res := &DocumentResult{
		JobID:         jobID,
		Mapping:       mapping,
		Outcomes:      outcomes,
		Telemetry:     sched.Telemetry(),
		PageCount:     total,
		AcceptedPages: len(accepted),
	}
	if err := p.saveResult(ctx, res); err != nil {
		return nil, err
	}

	metrics.IncDocument("success")
	log.Info().Str("job_id", jobID).
		Int("pages", total).Int("accepted", len(accepted)).
		Int("calls", res.Telemetry.Calls).Float64("cost", res.Telemetry.Cost).
		Dur("elapsed", time.Since(start)).
		Msg("document processed")
	return res, nil
}

// resolveSource makes the job's document available on local disk. An s3://
// reference is downloaded to a temp file the returned cleanup removes; a
// local path passes through untouched. A download failure is transient and
// left retryable.
func (p *Pipeline) resolveSource(ctx context.Context, job queue.DocumentJob) (string, func(), error) {
	if !storage.IsS3URL(job.FilePath) {
		return job.FilePath, func() {}, nil
	}
	if p.fetch == nil {
		return "", nil, fmt.Errorf("%w: s3 source requires S3 storage enabled", ErrUnsupportedFile)
	}
	local, err := p.fetch.FetchSource(ctx, job.FilePath, os.TempDir())
	if err != nil {
		return "", nil, fmt.Errorf("source download failed: %w", err)
	}
	return local, func() { _ = os.Remove(local) }, nil
}

func (p *Pipeline) newGateway(window *limiter.RateWindow, ledger *limiter.CostLedger) *gateway.Gateway {
	return gateway.New(p.client, window, ledger, gateway.Options{
		BaseDelay:    p.cfg.Extract.RetryBaseDelay,
		MaxDelay:     p.cfg.Extract.RetryMaxDelay,
		MaxRetries:   p.cfg.Extract.MaxRetries,
		CostPerImage: p.cfg.Extract.CostPerImage,
	})
}

func (p *Pipeline) saveResult(ctx context.Context, res *DocumentResult) error {
	jsonBytes, err := EncodeJSON(res)
	if err != nil {
		return fmt.Errorf("encode result json: %w", err)
	}
	if err := p.result.Save(ctx, res.JobID, "result.json", "application/json", jsonBytes); err != nil {
		return err
	}
	csvBytes, err := EncodeCSV(res)
	if err != nil {
		return fmt.Errorf("encode result csv: %w", err)
	}
	return p.result.Save(ctx, res.JobID, "result.csv", "text/csv", csvBytes)
}

func (p *Pipeline) checkCancelled(ctx context.Context, jobID string) error {
	if p.cancel == nil {
		return nil
	}
	cancelled, err := p.cancel.IsCancelled(ctx, jobID)
	if err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("cancellation check failed")
		return nil
	}
	if cancelled {
		return ErrCancelled
	}
	return nil
}

func (p *Pipeline) setStatus(ctx context.Context, jobID, state string, progress int, msg string) {
	if p.status == nil {
		return
	}
	if err := p.status.Set(ctx, jobID, store.Status{Status: state, Progress: progress, Message: msg}); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("status update failed")
	}
}
