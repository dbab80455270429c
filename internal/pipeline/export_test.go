package pipeline

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/local/finextractor/internal/consolidate"
	"github.com/local/finextractor/internal/doc"
	"github.com/local/finextractor/internal/scheduler"
	"github.com/local/finextractor/internal/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *DocumentResult {
	cons := consolidate.New(nil, template.NewMatcher(0.6), "test-model")
	outcomes := []doc.Outcome{
		{PageIndex: 1, OK: true, Entries: []doc.Entry{
			{Label: "Revenue", Value: 1000, Confidence: 90, Year: "2022"},
			{Label: "Revenue", Value: 900, Confidence: 85, Year: "2021"},
			{Label: "Total Assets", Value: 5000, Confidence: 80, Year: "2022"},
		}},
	}
	mapping := cons.Consolidate("job-1", []string{"2022", "2021"}, outcomes)
	return &DocumentResult{
		JobID:         "job-1",
		Mapping:       mapping,
		Outcomes:      outcomes,
		Telemetry:     scheduler.Telemetry{Calls: 3, Batches: 1, Cost: 0.05},
		PageCount:     4,
		AcceptedPages: 2,
	}
}

func TestEncodeJSON(t *testing.T) {
	data, err := EncodeJSON(sampleResult())
	require.NoError(t, err)

	var decoded struct {
		JobID  string   `json:"job_id"`
		Years  []string `json:"years"`
		Fields []struct {
			Name       string     `json:"name"`
			Value      float64    `json:"value"`
			YearValues []*float64 `json:"value_by_year"`
		} `json:"fields"`
		Calls int `json:"inference_calls"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "job-1", decoded.JobID)
	assert.Equal(t, []string{"2022", "2021"}, decoded.Years)
	assert.Equal(t, 3, decoded.Calls)
	require.Len(t, decoded.Fields, 2)

	// Template order: Total Assets (balance sheet) before Revenue (income).
	assert.Equal(t, "Total Assets", decoded.Fields[0].Name)
	assert.Equal(t, "Revenue", decoded.Fields[1].Name)

	rev := decoded.Fields[1]
	assert.Equal(t, 1000.0, rev.Value)
	require.Len(t, rev.YearValues, consolidate.MaxYearSlots)
	require.NotNil(t, rev.YearValues[0])
	assert.Equal(t, 1000.0, *rev.YearValues[0])
	require.NotNil(t, rev.YearValues[1])
	assert.Equal(t, 900.0, *rev.YearValues[1])
	assert.Nil(t, rev.YearValues[2])
}

func TestEncodeCSV(t *testing.T) {
	data, err := EncodeCSV(sampleResult())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "value_year_1 (2022)")
	assert.Contains(t, lines[0], "value_year_2 (2021)")
	assert.True(t, strings.HasPrefix(lines[1], "Total Assets,5000,2022,80"))
	assert.True(t, strings.HasPrefix(lines[2], "Revenue,1000,2022,90"))
	assert.Contains(t, lines[2], ",1000,900,")
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, isPermanent(ErrNoFinancialPages))
	assert.True(t, isPermanent(ErrUnsupportedFile))
	assert.False(t, isPermanent(assert.AnError))
}
