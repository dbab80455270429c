package pipeline

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/local/finextractor/internal/consolidate"
	"github.com/local/finextractor/internal/template"
)

// resultJSON is the wire shape of a consolidated result document.
type resultJSON struct {
	JobID  string            `json:"job_id"`
	Years  []string          `json:"years"`
	Fields []resultFieldJSON `json:"fields"`

	PageCount     int     `json:"page_count"`
	AcceptedPages int     `json:"accepted_pages"`
	Calls         int     `json:"inference_calls"`
	Batches       int     `json:"batches"`
	EstimatedCost float64 `json:"estimated_cost"`
}

type resultFieldJSON struct {
	Name       string     `json:"name"`
	Value      float64    `json:"value"`
	Year       string     `json:"year,omitempty"`
	Confidence float64    `json:"confidence"`
	YearValues []*float64 `json:"value_by_year"`
}

// EncodeJSON serializes the result with fields in template order. Canonical
// fields absent from the mapping are omitted, not zero-filled.
func EncodeJSON(res *DocumentResult) ([]byte, error) {
	out := resultJSON{
		JobID:         res.JobID,
		Years:         res.Mapping.Years,
		PageCount:     res.PageCount,
		AcceptedPages: res.AcceptedPages,
		Calls:         res.Telemetry.Calls,
		Batches:       res.Telemetry.Batches,
		EstimatedCost: res.Telemetry.Cost,
	}
	for _, tf := range template.Fields {
		f, ok := res.Mapping.Fields[tf.Name]
		if !ok {
			continue
		}
		rf := resultFieldJSON{
			Name:       f.Name,
			Value:      f.Value,
			Year:       f.Year,
			Confidence: f.Confidence,
			YearValues: make([]*float64, consolidate.MaxYearSlots),
		}
		for i := range f.Slots {
			if f.Slots[i].Filled {
				v := f.Slots[i].Value
				rf.YearValues[i] = &v
			}
		}
		out.Fields = append(out.Fields, rf)
	}
	return json.MarshalIndent(out, "", "  ")
}

// EncodeCSV writes one row per extracted field: name, current value, year,
// confidence, then the four year-slot columns headed by the detected years.
func EncodeCSV(res *DocumentResult) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"field", "value", "year", "confidence"}
	for i := 0; i < consolidate.MaxYearSlots; i++ {
		label := fmt.Sprintf("value_year_%d", i+1)
		if i < len(res.Mapping.Years) {
			label += " (" + res.Mapping.Years[i] + ")"
		}
		header = append(header, label)
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, tf := range template.Fields {
		f, ok := res.Mapping.Fields[tf.Name]
		if !ok {
			continue
		}
		row := []string{
			f.Name,
			formatNum(f.Value),
			f.Year,
			formatNum(f.Confidence),
		}
		for i := range f.Slots {
			if f.Slots[i].Filled {
				row = append(row, formatNum(f.Slots[i].Value))
			} else {
				row = append(row, "")
			}
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
