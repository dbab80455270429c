package scheduler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/local/finextractor/internal/ai"
	"github.com/local/finextractor/internal/doc"
	"github.com/local/finextractor/internal/template"
)

// batch is a group of same-statement-type pages submitted in one call.
// It lives only for the duration of that call.
type batch struct {
	id        string
	statement doc.StatementType
	pages     []doc.Page
}

// groupBatches splits pages into batches by statement type, then by
// proximity: pages of one type are taken in index order and chunked, so
// neighbouring pages land in the same call.
func groupBatches(pages []doc.Page, maxSize int) []batch {
	byType := make(map[doc.StatementType][]doc.Page)
	for _, p := range pages {
		byType[p.Type] = append(byType[p.Type], p)
	}

	var batches []batch
	for _, st := range doc.AllStatements {
		group := byType[st]
		sort.Slice(group, func(i, j int) bool { return group[i].Index < group[j].Index })
		for start := 0; start < len(group); start += maxSize {
			end := start + maxSize
			if end > len(group) {
				end = len(group)
			}
			batches = append(batches, batch{
				id:        uuid.NewString(),
				statement: st,
				pages:     group[start:end],
			})
		}
	}
	return batches
}

func failedOutcomes(pages []doc.Page, batchID, reason string) []doc.Outcome {
	out := make([]doc.Outcome, 0, len(pages))
	for _, p := range pages {
		out = append(out, doc.Outcome{PageIndex: p.Index, BatchID: batchID, FailReason: reason})
	}
	return out
}

// extractJSON is the wire shape of one page's extraction result.
type extractJSON struct {
	Page   int         `json:"page"`
	Fields []fieldJSON `json:"fields"`
}

type fieldJSON struct {
	Label      string  `json:"label"`
	Value      float64 `json:"value"`
	Confidence float64 `json:"confidence"`
	Year       string  `json:"year"`
}

func (e extractJSON) entries() []doc.Entry {
	entries := make([]doc.Entry, 0, len(e.Fields))
	for _, f := range e.Fields {
		if strings.TrimSpace(f.Label) == "" {
			continue
		}
		entries = append(entries, doc.Entry{
			Label:      f.Label,
			Value:      f.Value,
			Confidence: f.Confidence,
			Year:       f.Year,
		})
	}
	return entries
}

// parseBatchOutcomes expands one batch response into per-page outcomes. The
// response must be a JSON array with a "page" key per element; pages the
// response does not cover fail individually.
func parseBatchOutcomes(b batch, text string) []doc.Outcome {
	var parsed []extractJSON
	if err := ai.DecodeArray(text, &parsed); err != nil {
		return failedOutcomes(b.pages, b.id, "parse_error")
	}

	byPage := make(map[int]extractJSON, len(parsed))
	for _, e := range parsed {
		byPage[e.Page] = e
	}

	outcomes := make([]doc.Outcome, 0, len(b.pages))
	for _, p := range b.pages {
		e, ok := byPage[p.Index]
		if !ok {
			outcomes = append(outcomes, doc.Outcome{
				PageIndex: p.Index, BatchID: b.id, FailReason: "missing from batch response",
			})
			continue
		}
		outcomes = append(outcomes, doc.Outcome{
			PageIndex: p.Index, BatchID: b.id, OK: true, Raw: text, Entries: e.entries(),
		})
	}
	return outcomes
}

// extractionInstruction enumerates the canonical vocabulary for the
// statement type so the service labels fields in our terms where it can.
func extractionInstruction(st doc.StatementType, pageIDs []int) string {
	var b strings.Builder
	if len(pageIDs) == 1 {
		fmt.Fprintf(&b, "Extract every financial line item from this scanned %s page. ", statementName(st))
		b.WriteString("Return one JSON object: ")
		fmt.Fprintf(&b, `{"page": %d, "fields": [{"label": "<line item>", "value": <number>, "confidence": 0-100, "year": "<YYYY or empty>"}]}`, pageIDs[0])
	} else {
		fmt.Fprintf(&b, "You are given %d scanned %s pages. Extract every financial line item from each page. ", len(pageIDs), statementName(st))
		b.WriteString("Return a JSON array with one object per page: ")
		b.WriteString(`[{"page": <page>, "fields": [{"label": "<line item>", "value": <number>, "confidence": 0-100, "year": "<YYYY or empty>"}]}, ...]`)
		b.WriteString("\nPages in order: ")
		for i, id := range pageIDs {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%d", id)
		}
	}
	b.WriteString("\nPrefer these canonical labels where they apply: ")
	b.WriteString(strings.Join(template.Vocabulary(st), "; "))
	b.WriteString("\nReport values as plain numbers without currency signs or thousands separators. Use negative numbers for amounts in parentheses.")
	return b.String()
}

func statementName(st doc.StatementType) string {
	switch st {
	case doc.BalanceSheet:
		return "balance sheet"
	case doc.IncomeStatement:
		return "income statement"
	case doc.CashFlow:
		return "cash flow statement"
	case doc.EquityStatement:
		return "equity statement"
	}
	return "financial statement"
}

const extractionSystem = "You extract financial statement line items from scanned pages. Respond with JSON only."

func (s *Scheduler) batchRequest(jobID string, b batch) ai.Request {
	imgs := make([]ai.ImageData, 0, len(b.pages))
	ids := make([]int, 0, len(b.pages))
	for _, p := range b.pages {
		imgs = append(imgs, ai.ImageData{Base64: p.ImageBase64, MIME: p.ImageMIME})
		ids = append(ids, p.Index)
	}
	return ai.Request{
		JobID:       jobID,
		PageIDs:     ids,
		Images:      imgs,
		Instruction: extractionInstruction(b.statement, ids),
		System:      extractionSystem,
		Model:       s.cfg.Model,
		MaxTokens:   4096,
	}
}

func (s *Scheduler) pageRequest(jobID string, p doc.Page) ai.Request {
	return ai.Request{
		JobID:       jobID,
		PageIDs:     []int{p.Index},
		Images:      []ai.ImageData{{Base64: p.ImageBase64, MIME: p.ImageMIME}},
		Instruction: extractionInstruction(p.Type, []int{p.Index}),
		System:      extractionSystem,
		Model:       s.cfg.Model,
		MaxTokens:   4096,
	}
}
