// Package consolidate merges per-page extraction outcomes into the terminal
// artifact of the pipeline: one canonical field-to-value mapping with up to
// four year slots per field. The merge is order-independent: feeding the same
// outcomes in any order produces the same mapping.
package consolidate

import (
	"sort"

	"github.com/local/finextractor/internal/doc"
	"github.com/local/finextractor/internal/gateway"
	"github.com/local/finextractor/internal/template"
	"github.com/rs/zerolog/log"
)

// MaxYearSlots caps how many distinct years one mapping tracks.
const MaxYearSlots = 4

// YearSlot holds one field's value for one of the document's years.
type YearSlot struct {
	Year       string
	Value      float64
	Confidence float64
	Source     string
	Filled     bool
}

// FieldValue is one canonical field in the final mapping. Value, Year and
// Confidence are convenience scalars derived from the most recent filled
// slot; Slots align with Mapping.Years.
type FieldValue struct {
	Name       string
	Value      float64
	Year       string
	Confidence float64
	Source     string
	Slots      [MaxYearSlots]YearSlot

	noYear YearSlot
}

// Mapping is the consolidated result for one document. Years holds the
// authoritative year labels, most recent first; Fields is keyed by canonical
// field name. A canonical field absent from Fields was not extracted.
type Mapping struct {
	Years  []string
	Fields map[string]*FieldValue
}

// Consolidator resolves extracted labels onto the canonical template and
// merges them year-slot-wise.
type Consolidator struct {
	gw      *gateway.Gateway
	matcher *template.Matcher
	model   string
}

func New(gw *gateway.Gateway, matcher *template.Matcher, model string) *Consolidator {
	if matcher == nil {
		matcher = template.NewMatcher(template.DefaultThreshold)
	}
	return &Consolidator{gw: gw, matcher: matcher, model: model}
}

// Consolidate builds the mapping from successful outcomes. Years is the
// authoritative ordering from DetectYears; when it is empty the years found
// on the outcomes themselves stand in.
func (c *Consolidator) Consolidate(jobID string, years []string, outcomes []doc.Outcome) *Mapping {
	if len(years) == 0 {
		years = YearsFromOutcomes(outcomes)
	}
	if len(years) > MaxYearSlots {
		years = years[:MaxYearSlots]
	}

	m := &Mapping{Years: years, Fields: make(map[string]*FieldValue)}
	matched, dropped := 0, 0
	for _, o := range outcomes {
		if !o.OK {
			continue
		}
		source := sourceOf(o)
		for _, e := range o.Entries {
			name, ok := c.matcher.Match(e.Label)
			if !ok {
				dropped++
				continue
			}
			matched++
			m.merge(name, e, source)
		}
	}
	m.finalize()

	log.Info().Str("job_id", jobID).
		Int("fields", len(m.Fields)).Int("entries_matched", matched).
		Int("entries_dropped", dropped).Strs("years", years).
		Msg("consolidation complete")
	return m
}

func sourceOf(o doc.Outcome) string {
	if o.BatchID != "" {
		return "batch:" + o.BatchID
	}
	return "page"
}

// merge places one entry into the field's slot set. A known year goes to its
// slot; an unknown or unlisted year competes for the field's no-year
// candidate. Within a slot the higher confidence wins, equal confidence
// resolves to the larger value, and confidence propagates as the maximum.
func (m *Mapping) merge(name string, e doc.Entry, source string) {
	f := m.Fields[name]
	if f == nil {
		f = &FieldValue{Name: name}
		m.Fields[name] = f
	}

	slot := indexOfYear(m.Years, e.Year)
	if slot >= 0 {
		mergeSlot(&f.Slots[slot], e, source)
		return
	}
	mergeSlot(&f.noYear, e, source)
}

func mergeSlot(s *YearSlot, e doc.Entry, source string) {
	if !s.Filled {
		s.Value = e.Value
		s.Year = e.Year
		s.Confidence = e.Confidence
		s.Source = source
		s.Filled = true
		return
	}
	if e.Confidence > s.Confidence || (e.Confidence == s.Confidence && e.Value > s.Value) {
		s.Value = e.Value
		s.Year = e.Year
		s.Source = source
	}
	if e.Confidence > s.Confidence {
		s.Confidence = e.Confidence
	}
}

// finalize derives each field's scalar value from the most recent filled
// slot, falling back to the no-year candidate for fields that never carried
// a year label.
func (m *Mapping) finalize() {
	for _, f := range m.Fields {
		set := false
		for i := range f.Slots {
			if f.Slots[i].Filled {
				f.Value = f.Slots[i].Value
				f.Year = f.Slots[i].Year
				f.Confidence = f.Slots[i].Confidence
				f.Source = f.Slots[i].Source
				set = true
				break
			}
		}
		if !set && f.noYear.Filled {
			f.Value = f.noYear.Value
			f.Year = f.noYear.Year
			f.Confidence = f.noYear.Confidence
			f.Source = f.noYear.Source
		}
	}
}

func indexOfYear(years []string, year string) int {
	if year == "" {
		return -1
	}
	for i, y := range years {
		if y == year {
			return i
		}
	}
	return -1
}

// YearsFromOutcomes unions the year labels carried on the entries
// themselves, sorted most recent first and truncated to the slot count.
// Fallback for documents where the dedicated detection pass found nothing.
func YearsFromOutcomes(outcomes []doc.Outcome) []string {
	seen := make(map[string]bool)
	for _, o := range outcomes {
		if !o.OK {
			continue
		}
		for _, e := range o.Entries {
			if y, ok := normalizeYear(e.Year); ok {
				seen[y] = true
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
	return years
}
