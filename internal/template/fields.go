// Package template defines the canonical output vocabulary: the financial
// line-item names every extracted label is resolved onto, plus the fuzzy
// matcher that does the resolving.
package template

import "github.com/local/finextractor/internal/doc"

// Field is one canonical template line item. Synonyms are alternative labels
// commonly produced by the inference service or printed on statements.
type Field struct {
	Name      string
	Statement doc.StatementType
	Synonyms  []string
}

// Fields is the canonical template, in template order. Order matters: matcher
// ties resolve to the first-encountered field.
var Fields = []Field{
	// Balance sheet
	{Name: "Cash and Cash Equivalents", Statement: doc.BalanceSheet, Synonyms: []string{"cash", "liquid assets", "cash at bank", "cash equivalents", "cash and equivalents"}},
	{Name: "Accounts Receivable", Statement: doc.BalanceSheet, Synonyms: []string{"receivables", "trade receivables", "trade debtors", "net receivables"}},
	{Name: "Inventory", Statement: doc.BalanceSheet, Synonyms: []string{"inventories", "stock", "stock on hand"}},
	{Name: "Total Current Assets", Statement: doc.BalanceSheet, Synonyms: []string{"current assets"}},
	{Name: "Property Plant and Equipment", Statement: doc.BalanceSheet, Synonyms: []string{"ppe", "fixed assets", "net property plant and equipment", "tangible assets"}},
	{Name: "Intangible Assets", Statement: doc.BalanceSheet, Synonyms: []string{"goodwill and intangibles", "intangibles"}},
	{Name: "Total Assets", Statement: doc.BalanceSheet, Synonyms: []string{"assets total", "sum of assets"}},
	{Name: "Accounts Payable", Statement: doc.BalanceSheet, Synonyms: []string{"payables", "trade payables", "trade creditors"}},
	{Name: "Short-Term Debt", Statement: doc.BalanceSheet, Synonyms: []string{"current portion of long-term debt", "short term borrowings", "current debt"}},
	{Name: "Total Current Liabilities", Statement: doc.BalanceSheet, Synonyms: []string{"current liabilities"}},
	{Name: "Long-Term Debt", Statement: doc.BalanceSheet, Synonyms: []string{"long term borrowings", "non-current debt", "long-term liabilities"}},
	{Name: "Total Liabilities", Statement: doc.BalanceSheet, Synonyms: []string{"liabilities total"}},
	{Name: "Retained Earnings", Statement: doc.BalanceSheet, Synonyms: []string{"accumulated deficit", "retained profits"}},
	{Name: "Total Shareholders Equity", Statement: doc.BalanceSheet, Synonyms: []string{"total equity", "shareholders equity", "stockholders equity", "net worth"}},

	// Income statement
	{Name: "Revenue", Statement: doc.IncomeStatement, Synonyms: []string{"sales", "net sales", "total revenue", "turnover", "net revenue"}},
	{Name: "Cost of Goods Sold", Statement: doc.IncomeStatement, Synonyms: []string{"cogs", "cost of sales", "cost of revenue"}},
	{Name: "Gross Profit", Statement: doc.IncomeStatement, Synonyms: []string{"gross margin", "gross income"}},
	{Name: "Operating Expenses", Statement: doc.IncomeStatement, Synonyms: []string{"opex", "total operating expenses", "selling general and administrative"}},
	{Name: "Operating Income", Statement: doc.IncomeStatement, Synonyms: []string{"operating profit", "income from operations", "ebit"}},
	{Name: "Interest Expense", Statement: doc.IncomeStatement, Synonyms: []string{"finance costs", "interest paid", "net interest expense"}},
	{Name: "Income Tax Expense", Statement: doc.IncomeStatement, Synonyms: []string{"provision for income taxes", "tax expense", "income taxes"}},
	{Name: "Net Income", Statement: doc.IncomeStatement, Synonyms: []string{"net profit", "net earnings", "profit for the year", "net loss"}},

	// Cash flow
	{Name: "Net Cash from Operating Activities", Statement: doc.CashFlow, Synonyms: []string{"operating cash flow", "cash from operations", "net cash provided by operating activities"}},
	{Name: "Net Cash from Investing Activities", Statement: doc.CashFlow, Synonyms: []string{"investing cash flow", "cash used in investing activities"}},
	{Name: "Net Cash from Financing Activities", Statement: doc.CashFlow, Synonyms: []string{"financing cash flow", "cash used in financing activities"}},
	{Name: "Capital Expenditures", Statement: doc.CashFlow, Synonyms: []string{"capex", "purchases of property and equipment", "additions to property plant and equipment"}},
	{Name: "Depreciation and Amortization", Statement: doc.CashFlow, Synonyms: []string{"depreciation", "amortization", "d&a"}},
	{Name: "Net Change in Cash", Statement: doc.CashFlow, Synonyms: []string{"net increase in cash", "net decrease in cash", "change in cash and cash equivalents"}},

	// Equity statement
	{Name: "Common Stock", Statement: doc.EquityStatement, Synonyms: []string{"share capital", "ordinary shares", "issued capital"}},
	{Name: "Additional Paid-In Capital", Statement: doc.EquityStatement, Synonyms: []string{"share premium", "paid in capital", "capital surplus"}},
	{Name: "Dividends Paid", Statement: doc.EquityStatement, Synonyms: []string{"dividends", "distributions to shareholders", "dividends declared"}},
	{Name: "Treasury Stock", Statement: doc.EquityStatement, Synonyms: []string{"treasury shares", "own shares held"}},
}

// Vocabulary returns the canonical field names for one statement type, in
// template order. Used to compose extraction instructions.
func Vocabulary(st doc.StatementType) []string {
	var names []string
	for _, f := range Fields {
		if f.Statement == st {
			names = append(names, f.Name)
		}
	}
	return names
}
