package consolidate

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/local/finextractor/internal/ai"
	"github.com/local/finextractor/internal/doc"
	"github.com/rs/zerolog/log"
)

// yearProbePages is how many leading accepted pages the detection pass reads.
const yearProbePages = 3

var (
	yearPattern  = regexp.MustCompile(`^(19|20)\d{2}$`)
	yearAnywhere = regexp.MustCompile(`(19|20)\d{2}`)
)

type yearsJSON struct {
	Years []string `json:"years"`
}

// DetectYears queries the first accepted pages for the calendar years
// printed on them and unions the answers. The result, most recent first and
// truncated to the slot count, is the authoritative year ordering for the
// document. A page whose probe fails contributes nothing; detection never
// aborts the document.
func (c *Consolidator) DetectYears(ctx context.Context, jobID string, pages []doc.Page) []string {
	n := len(pages)
	if n > yearProbePages {
		n = yearProbePages
	}

	seen := make(map[string]bool)
	for _, p := range pages[:n] {
		res := c.gw.Call(ctx, c.yearRequest(jobID, p))
		if !res.OK() {
			log.Warn().Str("job_id", jobID).Int("page", p.Index).
				Str("kind", res.Kind.String()).Err(res.Err).Msg("year probe failed")
			continue
		}
		var parsed yearsJSON
		if err := ai.DecodeObject(res.Text, &parsed); err != nil {
			log.Warn().Err(err).Str("job_id", jobID).Int("page", p.Index).Msg("unparsable year probe response")
			continue
		}
		for _, y := range parsed.Years {
			if norm, ok := normalizeYear(y); ok {
				seen[norm] = true
			}
		}
	}

	years := make([]string, 0, len(seen))
	for y := range seen {
		years = append(years, y)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(years)))
	if len(years) > MaxYearSlots {
		years = years[:MaxYearSlots]
	}
	log.Info().Str("job_id", jobID).Strs("years", years).Int("pages_probed", n).Msg("year detection complete")
	return years
}

func (c *Consolidator) yearRequest(jobID string, p doc.Page) ai.Request {
	return ai.Request{
		JobID:   jobID,
		PageIDs: []int{p.Index},
		Images:  []ai.ImageData{{Base64: p.ImageBase64, MIME: p.ImageMIME}},
		Instruction: `List every calendar year visible on this scanned financial statement page (column headers, period labels, dates). ` +
			`Return one JSON object: {"years": ["YYYY", ...]}. Return an empty list if no years are visible.`,
		System:    "You read scanned financial statement pages. Respond with JSON only.",
		Model:     c.model,
		MaxTokens: 256,
	}
}

// normalizeYear accepts plain four-digit years, trimming whitespace and
// reducing period labels like "FY2023" or "2023A" to the year itself.
func normalizeYear(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if yearPattern.MatchString(s) {
		return s, true
	}
	if m := yearAnywhere.FindString(s); m != "" {
		return m, true
	}
	return "", false
}
