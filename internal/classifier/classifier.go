// Package classifier scores every rasterized page against the four financial
// statement categories and decides which pages continue into extraction.
// Two alternative strategies implement the same contract: AI scoring through
// the inference gateway, and an offline heuristic over raster-extracted text.
package classifier

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/local/finextractor/internal/ai"
	"github.com/local/finextractor/internal/doc"
	"github.com/local/finextractor/internal/gateway"
	"github.com/local/finextractor/internal/metrics"
	"github.com/rs/zerolog/log"
)

// AcceptScore is the minimum best-category score for a page to be accepted
// as financial under the AI path.
const AcceptScore = 70.0

// scoreBatchSize is how many pages one AI scoring call may cover.
const scoreBatchSize = 5

// Mode selects the scoring strategy.
type Mode string

const (
	ModeAI        Mode = "ai"
	ModeHeuristic Mode = "heuristic"
)

type Config struct {
	Mode    Mode
	Model   string
	Workers int // per-page fallback pool size
}

type Classifier struct {
	gw  *gateway.Gateway
	cfg Config
}

func New(gw *gateway.Gateway, cfg Config) *Classifier {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeAI
	}
	return &Classifier{gw: gw, cfg: cfg}
}

// ClassifyPages annotates pages with category scores and returns only the
// accepted ones, in original page order. Page-level failures are logged and
// the page excluded; classification never aborts the document.
func (c *Classifier) ClassifyPages(ctx context.Context, jobID string, pages []doc.Page) []doc.Page {
	if c.cfg.Mode == ModeHeuristic {
		return c.classifyHeuristic(jobID, pages)
	}
	return c.classifyAI(ctx, jobID, pages)
}

func (c *Classifier) classifyAI(ctx context.Context, jobID string, pages []doc.Page) []doc.Page {
	scored := make([]doc.Page, 0, len(pages))
	for start := 0; start < len(pages); start += scoreBatchSize {
		end := start + scoreBatchSize
		if end > len(pages) {
			end = len(pages)
		}
		chunk := pages[start:end]

		if len(chunk) == 1 {
			p := chunk[0]
			p.Scores = c.scoreOnePage(ctx, jobID, p)
			scored = append(scored, p)
			continue
		}

		batchScores, err := c.scoreBatch(ctx, jobID, chunk)
		if err != nil {
			log.Warn().Err(err).Str("job_id", jobID).
				Int("from", chunk[0].Index).Int("to", chunk[len(chunk)-1].Index).
				Msg("batch scoring failed, falling back to per-page calls")
			batchScores = c.scorePagesParallel(ctx, jobID, chunk)
		}
		for i, p := range chunk {
			p.Scores = batchScores[i]
			scored = append(scored, p)
		}
	}
	return acceptPages(jobID, scored)
}

// acceptPages applies the threshold and arg-max rule to scored pages.
func acceptPages(jobID string, pages []doc.Page) []doc.Page {
	var accepted []doc.Page
	for _, p := range pages {
		st, best := BestCategory(p.Scores)
		if best < AcceptScore {
			metrics.IncClassified("rejected")
			log.Debug().Str("job_id", jobID).Int("page", p.Index).Float64("best", best).Msg("page rejected")
			continue
		}
		p.Type = st
		p.Confidence = best
		metrics.IncClassified(st.String())
		log.Info().Str("job_id", jobID).Int("page", p.Index).
			Str("statement", st.String()).Float64("score", best).Msg("page accepted")
		accepted = append(accepted, p)
	}
	sort.Slice(accepted, func(i, j int) bool { return accepted[i].Index < accepted[j].Index })
	return accepted
}

// BestCategory returns the arg-max category and its score. Ties break by
// fixed priority: balance sheet > income statement > cash flow > equity.
func BestCategory(scores map[doc.StatementType]float64) (doc.StatementType, float64) {
	best := doc.StatementUnknown
	bestScore := -1.0
	for _, st := range doc.AllStatements {
		s := scores[st]
		if s > bestScore || (s == bestScore && st.Priority() < best.Priority()) {
			best = st
			bestScore = s
		}
	}
	return best, bestScore
}

type scoreJSON struct {
	Page            int     `json:"page"`
	BalanceSheet    float64 `json:"balance_sheet"`
	IncomeStatement float64 `json:"income_statement"`
	CashFlow        float64 `json:"cash_flow"`
	EquityStatement float64 `json:"equity_statement"`
}

func (s scoreJSON) toMap() map[doc.StatementType]float64 {
	return map[doc.StatementType]float64{
		doc.BalanceSheet:    clampScore(s.BalanceSheet),
		doc.IncomeStatement: clampScore(s.IncomeStatement),
		doc.CashFlow:        clampScore(s.CashFlow),
		doc.EquityStatement: clampScore(s.EquityStatement),
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func zeroScores() map[doc.StatementType]float64 {
	return map[doc.StatementType]float64{
		doc.BalanceSheet:    0,
		doc.IncomeStatement: 0,
		doc.CashFlow:        0,
		doc.EquityStatement: 0,
	}
}

// scoreBatch issues one scoring call covering the whole chunk. The response
// must be a JSON array with one entry per page, in chunk order.
func (c *Classifier) scoreBatch(ctx context.Context, jobID string, chunk []doc.Page) ([]map[doc.StatementType]float64, error) {
	req := scoringRequest(jobID, c.cfg.Model, chunk)
	res := c.gw.Call(ctx, req)
	if !res.OK() {
		return nil, fmt.Errorf("scoring call failed (%s): %w", res.Kind, res.Err)
	}

	var parsed []scoreJSON
	if err := ai.DecodeArray(res.Text, &parsed); err != nil {
		return nil, fmt.Errorf("scoring response: %w", err)
	}
	if len(parsed) != len(chunk) {
		return nil, fmt.Errorf("scoring response covered %d pages, want %d", len(parsed), len(chunk))
	}

	scores := make([]map[doc.StatementType]float64, len(chunk))
	for i, s := range parsed {
		scores[i] = s.toMap()
	}
	return scores, nil
}

// scorePagesParallel scores each page of the chunk with its own call. A page
// whose call fails or does not parse gets all-zero scores (rejected later).
func (c *Classifier) scorePagesParallel(ctx context.Context, jobID string, chunk []doc.Page) []map[doc.StatementType]float64 {
	scores := make([]map[doc.StatementType]float64, len(chunk))

	workers := c.cfg.Workers
	if workers > len(chunk) {
		workers = len(chunk)
	}
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				scores[i] = c.scoreOnePage(ctx, jobID, chunk[i])
			}
		}()
	}
	for i := range chunk {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return scores
}

func (c *Classifier) scoreOnePage(ctx context.Context, jobID string, p doc.Page) map[doc.StatementType]float64 {
	req := scoringRequest(jobID, c.cfg.Model, []doc.Page{p})
	res := c.gw.Call(ctx, req)
	if !res.OK() {
		log.Warn().Str("job_id", jobID).Int("page", p.Index).
			Str("kind", res.Kind.String()).Err(res.Err).Msg("page scoring failed")
		return zeroScores()
	}
	var parsed scoreJSON
	if err := ai.DecodeObject(res.Text, &parsed); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Int("page", p.Index).Msg("unparsable page scores")
		return zeroScores()
	}
	return parsed.toMap()
}

func scoringRequest(jobID, model string, pages []doc.Page) ai.Request {
	imgs := make([]ai.ImageData, 0, len(pages))
	ids := make([]int, 0, len(pages))
	for _, p := range pages {
		imgs = append(imgs, ai.ImageData{Base64: p.ImageBase64, MIME: p.ImageMIME})
		ids = append(ids, p.Index)
	}

	var b strings.Builder
	if len(pages) == 1 {
		b.WriteString("Score how likely this scanned page is each of the four financial statement types. ")
		b.WriteString("Return one JSON object: ")
		b.WriteString(`{"page": <page>, "balance_sheet": 0-100, "income_statement": 0-100, "cash_flow": 0-100, "equity_statement": 0-100}`)
	} else {
		fmt.Fprintf(&b, "You are given %d scanned pages in order. For each page, score how likely it is each of the four financial statement types. ", len(pages))
		b.WriteString("Return a JSON array with exactly one object per page, in the same order: ")
		b.WriteString(`[{"page": <page>, "balance_sheet": 0-100, "income_statement": 0-100, "cash_flow": 0-100, "equity_statement": 0-100}, ...]`)
	}
	b.WriteString("\nPages: ")
	for i, id := range ids {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d", id)
	}

	return ai.Request{
		JobID:       jobID,
		PageIDs:     ids,
		Images:      imgs,
		Instruction: b.String(),
		System:      "You classify scanned financial statement pages. Respond with JSON only.",
		Model:       model,
		MaxTokens:   1024,
	}
}
