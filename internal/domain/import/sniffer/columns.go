package sniffer

import (
	"strings"
)

// Columns holds the suggested index of each column role, -1 when absent.
type Columns struct {
	Date        int
	Description int
	Merchant    int
	Amount      int
	Debit       int
	Credit      int
	Category    int
	Account     int
}

// DoubleEntry reports whether amounts are split into debit and credit columns.
func (c Columns) DoubleEntry() bool {
	return c.Amount < 0 && c.Debit >= 0 && c.Credit >= 0
}

type roleHint struct {
	slot  func(*Columns) *int
	exact []string
	parts []string // earlier parts take precedence
}

var roleHints = []roleHint{
	{func(c *Columns) *int { return &c.Date }, []string{"date", "data", "fecha"}, []string{"transaction date", "posted date", "posting date", "date"}},
	{func(c *Columns) *int { return &c.Description }, []string{"description", "memo", "details"}, []string{"descri", "memo"}},
	{func(c *Columns) *int { return &c.Merchant }, []string{"name", "payee", "merchant"}, []string{"merchant", "payee"}},
	{func(c *Columns) *int { return &c.Amount }, []string{"amount", "valor", "importe"}, []string{"amount"}},
	{func(c *Columns) *int { return &c.Debit }, nil, []string{"debit", "withdrawal"}},
	{func(c *Columns) *int { return &c.Credit }, nil, []string{"credit", "deposit"}},
	{func(c *Columns) *int { return &c.Category }, nil, []string{"categ"}},
	{func(c *Columns) *int { return &c.Account }, nil, []string{"account name", "account"}},
}

// SuggestColumns assigns each header at most one role. Exact names win over
// substring hints.
func SuggestColumns(headers []string) Columns {
	c := Columns{Date: -1, Description: -1, Merchant: -1, Amount: -1, Debit: -1, Credit: -1, Category: -1, Account: -1}

	lower := make([]string, len(headers))
	for i, h := range headers {
		lower[i] = strings.ToLower(strings.TrimSpace(h))
	}
	used := make([]bool, len(headers))

	assign := func(slot *int, match func(string) bool) {
		if *slot >= 0 {
			return
		}
		for i, h := range lower {
			if !used[i] && match(h) {
				*slot = i
				used[i] = true
				return
			}
		}
	}

	for _, hint := range roleHints {
		for _, name := range hint.exact {
			assign(hint.slot(&c), func(h string) bool { return h == name })
		}
	}
	for _, hint := range roleHints {
		for _, part := range hint.parts {
			assign(hint.slot(&c), func(h string) bool { return strings.Contains(h, part) })
		}
	}
	return c
}
