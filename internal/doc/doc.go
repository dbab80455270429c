// Package doc holds the domain types shared across the extraction pipeline:
// pages, statement types, extraction outcomes. Everything here is plain data
// owned by whoever produced it; the only shared mutable state in the system
// lives in the limiter package.
package doc

// StatementType identifies one of the four financial statement categories.
type StatementType int

const (
	StatementUnknown StatementType = iota
	BalanceSheet
	IncomeStatement
	CashFlow
	EquityStatement
)

// Priority returns the tie-break rank for classification; lower wins.
// Balance sheet beats income statement beats cash flow beats equity.
func (t StatementType) Priority() int {
	switch t {
	case BalanceSheet:
		return 0
	case IncomeStatement:
		return 1
	case CashFlow:
		return 2
	case EquityStatement:
		return 3
	}
	return 4
}

func (t StatementType) String() string {
	switch t {
	case BalanceSheet:
		return "balance_sheet"
	case IncomeStatement:
		return "income_statement"
	case CashFlow:
		return "cash_flow"
	case EquityStatement:
		return "equity_statement"
	}
	return "unknown"
}

// ParseStatementType maps a wire label back to its StatementType.
func ParseStatementType(s string) StatementType {
	switch s {
	case "balance_sheet":
		return BalanceSheet
	case "income_statement":
		return IncomeStatement
	case "cash_flow":
		return CashFlow
	case "equity_statement":
		return EquityStatement
	}
	return StatementUnknown
}

// AllStatements lists the categories in fixed priority order.
var AllStatements = []StatementType{BalanceSheet, IncomeStatement, CashFlow, EquityStatement}

// Page is one rasterized PDF page plus its classification metadata.
// Index is the 1-based page number, stable for the lifetime of the pipeline.
type Page struct {
	Index       int
	ImageBase64 string
	ImageMIME   string
	Text        string

	Scores     map[StatementType]float64
	Type       StatementType
	Confidence float64
}

// Entry is a single field extracted by the inference service from a page.
type Entry struct {
	Label      string
	Value      float64
	Confidence float64
	Year       string
}

// Outcome is the result of one extraction unit (page or expanded from a batch).
type Outcome struct {
	PageIndex  int
	BatchID    string
	OK         bool
	Raw        string
	Entries    []Entry
	FailReason string
}
