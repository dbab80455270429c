package consolidate

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/local/finextractor/internal/ai"
	"github.com/local/finextractor/internal/doc"
	"github.com/local/finextractor/internal/gateway"
	"github.com/local/finextractor/internal/limiter"
	"github.com/local/finextractor/internal/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConsolidator() *Consolidator {
	return New(nil, template.NewMatcher(0.6), "test-model")
}

func okOutcome(page int, entries ...doc.Entry) doc.Outcome {
	return doc.Outcome{PageIndex: page, OK: true, Entries: entries}
}

func TestConsolidateTwoYearRevenue(t *testing.T) {
	c := newTestConsolidator()
	outcomes := []doc.Outcome{
		okOutcome(1, doc.Entry{Label: "Revenue", Value: 1000, Confidence: 90, Year: "2022"}),
		okOutcome(2, doc.Entry{Label: "Revenue", Value: 900, Confidence: 85, Year: "2021"}),
	}

	m := c.Consolidate("job-1", []string{"2022", "2021"}, outcomes)
	f := m.Fields["Revenue"]
	require.NotNil(t, f)
	assert.Equal(t, 1000.0, f.Slots[0].Value)
	assert.Equal(t, 900.0, f.Slots[1].Value)
	assert.False(t, f.Slots[2].Filled)

	// Scalar convenience fields follow the most recent year.
	assert.Equal(t, 1000.0, f.Value)
	assert.Equal(t, "2022", f.Year)
	assert.Equal(t, 90.0, f.Confidence)
}

func TestConsolidateSynonymResolution(t *testing.T) {
	c := newTestConsolidator()
	outcomes := []doc.Outcome{
		okOutcome(1, doc.Entry{Label: "Cash at bank", Value: 500, Confidence: 80, Year: "2023"}),
	}

	m := c.Consolidate("job-1", []string{"2023"}, outcomes)
	require.Contains(t, m.Fields, "Cash and Cash Equivalents")
	assert.Equal(t, 500.0, m.Fields["Cash and Cash Equivalents"].Value)
}

func TestConsolidateDropsUnmatchableLabels(t *testing.T) {
	c := newTestConsolidator()
	outcomes := []doc.Outcome{
		okOutcome(1, doc.Entry{Label: "zzqx wprt", Value: 1, Confidence: 99, Year: "2023"}),
	}
	m := c.Consolidate("job-1", []string{"2023"}, outcomes)
	assert.Empty(t, m.Fields)
}

func TestConsolidateHigherConfidenceWinsSameSlot(t *testing.T) {
	c := newTestConsolidator()
	outcomes := []doc.Outcome{
		okOutcome(1, doc.Entry{Label: "Total Assets", Value: 100, Confidence: 60, Year: "2023"}),
		okOutcome(2, doc.Entry{Label: "Total Assets", Value: 120, Confidence: 95, Year: "2023"}),
	}
	m := c.Consolidate("job-1", []string{"2023"}, outcomes)
	f := m.Fields["Total Assets"]
	require.NotNil(t, f)
	assert.Equal(t, 120.0, f.Slots[0].Value)
	assert.Equal(t, 95.0, f.Slots[0].Confidence)
}

func TestConsolidateUnknownYearKeptAsScalarFallback(t *testing.T) {
	c := newTestConsolidator()
	outcomes := []doc.Outcome{
		okOutcome(1, doc.Entry{Label: "Net Income", Value: 50, Confidence: 70}),
	}
	m := c.Consolidate("job-1", []string{"2023"}, outcomes)
	f := m.Fields["Net Income"]
	require.NotNil(t, f)
	assert.False(t, f.Slots[0].Filled)
	assert.Equal(t, 50.0, f.Value)
	assert.Equal(t, 70.0, f.Confidence)
}

func TestConsolidateOrderIndependent(t *testing.T) {
	c := newTestConsolidator()
	outcomes := []doc.Outcome{
		okOutcome(1,
			doc.Entry{Label: "Revenue", Value: 1000, Confidence: 90, Year: "2022"},
			doc.Entry{Label: "Total Assets", Value: 400, Confidence: 75, Year: "2022"},
		),
		okOutcome(2, doc.Entry{Label: "Revenue", Value: 900, Confidence: 85, Year: "2021"}),
		okOutcome(3, doc.Entry{Label: "Revenue", Value: 1000, Confidence: 92, Year: "2022"}),
		okOutcome(4, doc.Entry{Label: "Total Assets", Value: 410, Confidence: 75, Year: "2022"}),
	}
	years := []string{"2022", "2021"}

	want := c.Consolidate("job-1", years, outcomes)
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 10; trial++ {
		shuffled := make([]doc.Outcome, len(outcomes))
		copy(shuffled, outcomes)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		got := c.Consolidate("job-1", years, shuffled)
		require.Equal(t, len(want.Fields), len(got.Fields))
		for name, wf := range want.Fields {
			gf := got.Fields[name]
			require.NotNil(t, gf, "field %s missing", name)
			assert.Equal(t, wf.Slots, gf.Slots, "field %s slots differ", name)
			assert.Equal(t, wf.Value, gf.Value)
			assert.Equal(t, wf.Confidence, gf.Confidence)
		}
	}
}

func TestConsolidateEqualConfidenceLargerValueWins(t *testing.T) {
	c := newTestConsolidator()
	outcomes := []doc.Outcome{
		okOutcome(1, doc.Entry{Label: "Total Assets", Value: 410, Confidence: 75, Year: "2022"}),
		okOutcome(2, doc.Entry{Label: "Total Assets", Value: 400, Confidence: 75, Year: "2022"}),
	}
	m := c.Consolidate("job-1", []string{"2022"}, outcomes)
	assert.Equal(t, 410.0, m.Fields["Total Assets"].Slots[0].Value)
}

func TestConsolidateSkipsFailedOutcomes(t *testing.T) {
	c := newTestConsolidator()
	outcomes := []doc.Outcome{
		{PageIndex: 1, FailReason: "timeout", Entries: []doc.Entry{{Label: "Revenue", Value: 1, Confidence: 99, Year: "2023"}}},
	}
	m := c.Consolidate("job-1", []string{"2023"}, outcomes)
	assert.Empty(t, m.Fields)
}

func TestYearsFromOutcomes(t *testing.T) {
	outcomes := []doc.Outcome{
		okOutcome(1,
			doc.Entry{Label: "Revenue", Value: 1, Confidence: 1, Year: "2021"},
			doc.Entry{Label: "Revenue", Value: 1, Confidence: 1, Year: "2023"},
		),
		okOutcome(2, doc.Entry{Label: "Revenue", Value: 1, Confidence: 1, Year: "2022"}),
		okOutcome(3, doc.Entry{Label: "Revenue", Value: 1, Confidence: 1, Year: "n/a"}),
	}
	assert.Equal(t, []string{"2023", "2022", "2021"}, YearsFromOutcomes(outcomes))
}

func TestNormalizeYear(t *testing.T) {
	cases := map[string]struct {
		want string
		ok   bool
	}{
		"2023":    {"2023", true},
		" 2021 ":  {"2021", true},
		"FY2022":  {"2022", true},
		"2020A":   {"2020", true},
		"1999":    {"1999", true},
		"n/a":     {"", false},
		"":        {"", false},
		"Q3":      {"", false},
		"3023":    {"", false},
	}
	for in, c := range cases {
		got, ok := normalizeYear(in)
		assert.Equal(t, c.ok, ok, "input %q", in)
		assert.Equal(t, c.want, got, "input %q", in)
	}
}

// scriptedClient answers year probes per page index.
type scriptedClient struct {
	calls   int
	byOrder []string
}

func (s *scriptedClient) Name() string { return "fake" }

func (s *scriptedClient) Do(_ context.Context, _ ai.Request) (ai.Response, error) {
	i := s.calls
	if i >= len(s.byOrder) {
		i = len(s.byOrder) - 1
	}
	s.calls++
	return ai.Response{Text: s.byOrder[i]}, nil
}

func TestDetectYearsUnionsFirstThreePages(t *testing.T) {
	client := &scriptedClient{byOrder: []string{
		`{"years": ["2022", "2021"]}`,
		`{"years": []}`,
		`{"years": ["2021", "2020"]}`,
	}}
	gw := gateway.New(client, limiter.NewRateWindow(1000), limiter.NewCostLedger(0), gateway.Options{})
	c := New(gw, nil, "test-model")

	pages := make([]doc.Page, 5)
	for i := range pages {
		pages[i] = doc.Page{Index: i + 1, ImageBase64: "aW1n", ImageMIME: "image/jpeg"}
	}
	years := c.DetectYears(context.Background(), "job-1", pages)
	assert.Equal(t, []string{"2022", "2021", "2020"}, years)
	assert.Equal(t, 3, client.calls, "only the first three pages are probed")
}

func TestDetectYearsTruncatesToFourSlots(t *testing.T) {
	client := &scriptedClient{byOrder: []string{
		`{"years": ["2023", "2022", "2021", "2020", "2019", "2018"]}`,
	}}
	gw := gateway.New(client, limiter.NewRateWindow(1000), limiter.NewCostLedger(0), gateway.Options{})
	c := New(gw, nil, "test-model")

	years := c.DetectYears(context.Background(), "job-1", []doc.Page{{Index: 1}})
	assert.Equal(t, []string{"2023", "2022", "2021", "2020"}, years)
}

func TestDetectYearsProbeFailureContributesNothing(t *testing.T) {
	client := &scriptedClient{byOrder: []string{
		`no json here at all`,
		fmt.Sprintf(`{"years": ["%s"]}`, "2022"),
	}}
	gw := gateway.New(client, limiter.NewRateWindow(1000), limiter.NewCostLedger(0), gateway.Options{})
	c := New(gw, nil, "test-model")

	pages := []doc.Page{{Index: 1}, {Index: 2}}
	years := c.DetectYears(context.Background(), "job-1", pages)
	assert.Equal(t, []string{"2022"}, years)
}
