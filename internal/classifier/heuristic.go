package classifier

import (
	"regexp"
	"strings"

	"github.com/local/finextractor/internal/doc"
	"github.com/local/finextractor/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Heuristic path: weighted regex matches over raster-extracted page text plus
// a number-density score. Cheap disambiguation when no inference budget is
// available; same contract as the AI path, different acceptance scale.

// HeuristicAccept is the minimum combined score for a page to be retained.
const HeuristicAccept = 3.0

const (
	weightTitle   = 5.0
	weightLine    = 2.0
	weightContext = 1.0
)

var titlePatterns = map[doc.StatementType][]*regexp.Regexp{
	doc.BalanceSheet: {
		regexp.MustCompile(`(?i)balance\s+sheet`),
		regexp.MustCompile(`(?i)statement\s+of\s+financial\s+position`),
	},
	doc.IncomeStatement: {
		regexp.MustCompile(`(?i)income\s+statement`),
		regexp.MustCompile(`(?i)statement\s+of\s+operations`),
		regexp.MustCompile(`(?i)profit\s+(and|&)\s+loss`),
		regexp.MustCompile(`(?i)statement\s+of\s+(comprehensive\s+)?income`),
	},
	doc.CashFlow: {
		regexp.MustCompile(`(?i)statement\s+of\s+cash\s+flows?`),
		regexp.MustCompile(`(?i)cash\s+flow\s+statement`),
	},
	doc.EquityStatement: {
		regexp.MustCompile(`(?i)statement\s+of\s+(changes\s+in\s+)?(stockholders'?|shareholders'?)\s+equity`),
		regexp.MustCompile(`(?i)statement\s+of\s+changes\s+in\s+equity`),
	},
}

var lineItemPatterns = map[doc.StatementType][]*regexp.Regexp{
	doc.BalanceSheet: {
		regexp.MustCompile(`(?i)total\s+assets`),
		regexp.MustCompile(`(?i)total\s+liabilities`),
		regexp.MustCompile(`(?i)current\s+assets`),
		regexp.MustCompile(`(?i)accounts\s+(receivable|payable)`),
		regexp.MustCompile(`(?i)retained\s+earnings`),
	},
	doc.IncomeStatement: {
		regexp.MustCompile(`(?i)(net\s+)?revenue|net\s+sales|turnover`),
		regexp.MustCompile(`(?i)cost\s+of\s+(goods\s+sold|sales|revenue)`),
		regexp.MustCompile(`(?i)gross\s+profit`),
		regexp.MustCompile(`(?i)operating\s+(income|expenses)`),
		regexp.MustCompile(`(?i)net\s+(income|profit|earnings|loss)`),
	},
	doc.CashFlow: {
		regexp.MustCompile(`(?i)operating\s+activities`),
		regexp.MustCompile(`(?i)investing\s+activities`),
		regexp.MustCompile(`(?i)financing\s+activities`),
		regexp.MustCompile(`(?i)depreciation\s+and\s+amorti[sz]ation`),
	},
	doc.EquityStatement: {
		regexp.MustCompile(`(?i)common\s+stock|share\s+capital`),
		regexp.MustCompile(`(?i)dividends\s+(paid|declared)`),
		regexp.MustCompile(`(?i)treasury\s+(stock|shares)`),
		regexp.MustCompile(`(?i)additional\s+paid.in\s+capital|share\s+premium`),
	},
}

var contextPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)for\s+the\s+year\s+ended`),
	regexp.MustCompile(`(?i)fiscal\s+year`),
	regexp.MustCompile(`(?i)consolidated`),
	regexp.MustCompile(`(?i)\(in\s+(thousands|millions)`),
	regexp.MustCompile(`(?i)audited|unaudited`),
	regexp.MustCompile(`(?i)notes\s+to\s+the\s+financial\s+statements`),
}

// financialNumber matches tokens that look like statement amounts:
// optional currency sign, digit groups with thousands separators, optional
// decimals, optionally parenthesized for negatives.
var financialNumber = regexp.MustCompile(`^\(?-?[$€£]?\d{1,3}(,\d{3})*(\.\d+)?\)?$|^\(?-?[$€£]?\d+(\.\d+)?\)?$`)

// HeuristicScores holds the weighted per-category scores and the shared
// number-density component for one page.
type HeuristicScores struct {
	ByType  map[doc.StatementType]float64
	Density float64
}

// Combined returns the best category and its combined score
// (category score + density), ties by fixed priority.
func (h HeuristicScores) Combined() (doc.StatementType, float64) {
	st, best := BestCategory(h.ByType)
	return st, best + h.Density
}

// ScoreText computes the heuristic scores for one page's text.
func ScoreText(text string) HeuristicScores {
	scores := HeuristicScores{ByType: zeroScores(), Density: densityScore(text)}
	for st, res := range titlePatterns {
		for _, re := range res {
			if re.MatchString(text) {
				scores.ByType[st] += weightTitle
			}
		}
	}
	for st, res := range lineItemPatterns {
		for _, re := range res {
			if re.MatchString(text) {
				scores.ByType[st] += weightLine
			}
		}
	}
	ctxScore := 0.0
	for _, re := range contextPatterns {
		if re.MatchString(text) {
			ctxScore += weightContext
		}
	}
	for st := range scores.ByType {
		if scores.ByType[st] > 0 {
			scores.ByType[st] += ctxScore
		}
	}
	return scores
}

// densityScore buckets the fraction of words that look like financial
// numbers into a score from -3.0 to +6.0.
func densityScore(text string) float64 {
	words := strings.Fields(text)
	if len(words) == 0 {
		return -3.0
	}
	numeric := 0
	for _, w := range words {
		if financialNumber.MatchString(strings.TrimRight(w, ".,;:")) {
			numeric++
		}
	}
	density := float64(numeric) / float64(len(words))
	switch {
	case density >= 0.30:
		return 6.0
	case density >= 0.20:
		return 4.0
	case density >= 0.10:
		return 2.0
	case density >= 0.05:
		return 1.0
	case density >= 0.02:
		return 0.0
	default:
		return -3.0
	}
}

// classifyHeuristic retains pages whose combined score reaches
// HeuristicAccept. Scores are stored raw on the page (heuristic scale, not
// 0-100) with Confidence equal to the combined score.
func (c *Classifier) classifyHeuristic(jobID string, pages []doc.Page) []doc.Page {
	var accepted []doc.Page
	for _, p := range pages {
		h := ScoreText(p.Text)
		st, combined := h.Combined()
		p.Scores = h.ByType
		if combined < HeuristicAccept {
			metrics.IncClassified("rejected")
			log.Debug().Str("job_id", jobID).Int("page", p.Index).
				Float64("combined", combined).Msg("page rejected by heuristic")
			continue
		}
		p.Type = st
		p.Confidence = combined
		metrics.IncClassified(st.String())
		log.Info().Str("job_id", jobID).Int("page", p.Index).
			Str("statement", st.String()).Float64("combined", combined).
			Float64("density", h.Density).Msg("page accepted by heuristic")
		accepted = append(accepted, p)
	}
	return accepted
}
