package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/finextractor/internal/metrics"
	"github.com/local/finextractor/internal/queue"
	"github.com/local/finextractor/internal/raster"
	"github.com/local/finextractor/internal/store"
)

const (
	dequeueBlock     = 5 * time.Second
	maxJobAttempts   = 3
	retryRequeueWait = 30 * time.Second
)

// Worker consumes document jobs from the queue and feeds them through the
// pipeline. Fatal errors either re-enqueue the job with a delay or push it to
// the dead letter stream once attempts run out.
type Worker struct {
	queue    *queue.RedisQueue
	status   *store.RedisStatus
	pipeline *Pipeline
	consumer string
}

func NewWorker(q *queue.RedisQueue, status *store.RedisStatus, p *Pipeline, consumer string) *Worker {
	if consumer == "" {
		consumer = "worker-1"
	}
	return &Worker{queue: q, status: status, pipeline: p, consumer: consumer}
}

// Run blocks consuming jobs until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	log.Info().Str("consumer", w.consumer).Msg("document worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("consumer", w.consumer).Msg("document worker stopping")
			return
		default:
		}

		msgID, job, err := w.queue.DequeueDocument(ctx, w.consumer, dequeueBlock)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("dequeue failed")
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			if msgID != "" {
				// Undecodable message, nothing to retry.
				_ = w.queue.Ack(ctx, msgID)
			}
			continue
		}
		w.reportDepths(ctx)
		w.handle(ctx, msgID, *job)
	}
}

func (w *Worker) handle(ctx context.Context, msgID string, job queue.DocumentJob) {
	defer func() {
		if err := w.queue.Ack(ctx, msgID); err != nil {
			log.Warn().Err(err).Str("job_id", job.JobID).Msg("ack failed")
		}
	}()

	if cancelled, _ := w.queue.IsCancelled(ctx, job.JobID); cancelled {
		w.finish(ctx, job.JobID, store.StateCancelled, "cancelled before processing")
		_ = w.queue.ClearCancel(ctx, job.JobID)
		return
	}

	res, err := w.pipeline.ProcessDocument(ctx, job)
	switch {
	case err == nil:
		w.finishWithMeta(ctx, job.JobID, store.StateCompleted, "done", map[string]interface{}{
			"pages":          res.PageCount,
			"accepted_pages": res.AcceptedPages,
			"fields":         len(res.Mapping.Fields),
			"estimated_cost": res.Telemetry.Cost,
		})
		_ = w.queue.ClearCancel(ctx, job.JobID)

	case errors.Is(err, ErrCancelled):
		w.finish(ctx, job.JobID, store.StateCancelled, "cancelled")
		_ = w.queue.ClearCancel(ctx, job.JobID)

	case isPermanent(err) || job.Attempts+1 >= maxJobAttempts:
		log.Error().Err(err).Str("job_id", job.JobID).Int("attempts", job.Attempts+1).
			Msg("document failed terminally")
		metrics.IncDocument("failed")
		w.finish(ctx, job.JobID, store.StateFailed, err.Error())
		if dlqErr := w.queue.AddDLQ(ctx, job, err.Error()); dlqErr != nil {
			log.Error().Err(dlqErr).Str("job_id", job.JobID).Msg("dlq push failed")
		}

	default:
		// Transient resource failure: try the whole document again later.
		job.Attempts++
		log.Warn().Err(err).Str("job_id", job.JobID).Int("attempt", job.Attempts).
			Msg("document failed, scheduling retry")
		w.finish(ctx, job.JobID, store.StateQueued, "retry scheduled: "+err.Error())
		if qErr := w.queue.EnqueueDelayed(ctx, job, time.Now().Add(retryRequeueWait)); qErr != nil {
			log.Error().Err(qErr).Str("job_id", job.JobID).Msg("delayed re-enqueue failed")
			w.finish(ctx, job.JobID, store.StateFailed, err.Error())
		}
	}
}

// isPermanent classifies fatal errors no retry can fix: wrong file type,
// unreadable or empty documents, nothing classified as financial. A render
// timeout stays retryable, it can be host load.
func isPermanent(err error) bool {
	return errors.Is(err, ErrNoFinancialPages) ||
		errors.Is(err, ErrUnsupportedFile) ||
		errors.Is(err, raster.ErrNoPages)
}

func (w *Worker) finish(ctx context.Context, jobID, state, msg string) {
	w.finishWithMeta(ctx, jobID, state, msg, nil)
}

func (w *Worker) finishWithMeta(ctx context.Context, jobID, state, msg string, meta map[string]interface{}) {
	now := time.Now()
	progress := 100
	if state == store.StateQueued {
		progress = 0
	}
	st := store.Status{Status: state, Progress: progress, Message: msg, Metadata: meta}
	if state != store.StateQueued {
		st.End = &now
	}
	if err := w.status.Set(ctx, jobID, st); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("final status update failed")
	}
}

func (w *Worker) reportDepths(ctx context.Context) {
	stream, delayed, dlq, err := w.queue.Depths(ctx)
	if err != nil {
		return
	}
	metrics.SetQueueDepth("stream", stream)
	metrics.SetQueueDepth("delayed", delayed)
	metrics.SetQueueDepth("dlq", dlq)
}
