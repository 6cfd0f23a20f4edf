package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/FACorreiaa/familyfinance/internal/plugin"
	"github.com/FACorreiaa/familyfinance/pkg/money"
)

const RocketMoneyName = "rocket_money"

// rocketMoneyHeader lists the leading columns used for detection.
var rocketMoneyHeader = []string{
	"Date", "Original Date", "Account Type", "Account Name", "Account Number", "Institution Name",
}

var accountTypeMap = map[string]string{
	"Cash":        "checking",
	"Credit Card": "credit_card",
	"Savings":     "savings",
	"Brokerage":   "brokerage",
	"Retirement":  "retirement",
	"Loan":        "loan",
}

var transferCategories = map[string]bool{
	"Credit Card Payment": true,
	"Internal Transfers":  true,
	"Savings Transfer":    true,
}

// RocketMoneyRow is one line of the Rocket Money transaction export.
type RocketMoneyRow struct {
	Date            string `csv:"Date"`
	OriginalDate    string `csv:"Original Date"`
	AccountType     string `csv:"Account Type"`
	AccountName     string `csv:"Account Name"`
	AccountNumber   string `csv:"Account Number"`
	InstitutionName string `csv:"Institution Name"`
	Name            string `csv:"Name"`
	CustomName      string `csv:"Custom Name"`
	Amount          string `csv:"Amount"`
	Description     string `csv:"Description"`
	Category        string `csv:"Category"`
	Note            string `csv:"Note"`
	IgnoredFrom     string `csv:"Ignored From"`
	TaxDeductible   string `csv:"Tax Deductible"`
	TransactionTags string `csv:"Transaction Tags"`
}

// RocketMoneyParser handles the fixed-format Rocket Money CSV export.
type RocketMoneyParser struct{}

func NewRocketMoneyParser() *RocketMoneyParser {
	return &RocketMoneyParser{}
}

func (p *RocketMoneyParser) Name() string { return RocketMoneyName }

func (p *RocketMoneyParser) Detect(_ context.Context, content []byte, filename string) bool {
	if !strings.HasSuffix(strings.ToLower(filename), ".csv") {
		return false
	}
	line := FirstLine(stripUTF8BOM(content))
	if line == "" {
		return false
	}
	fields := strings.Split(line, ",")
	if len(fields) < len(rocketMoneyHeader) {
		return false
	}
	for i, want := range rocketMoneyHeader {
		if strings.TrimSpace(fields[i]) != want {
			return false
		}
	}
	return true
}

func (p *RocketMoneyParser) Parse(ctx context.Context, content []byte, _ string) ([]plugin.RawRow, error) {
	var rows []RocketMoneyRow
	if err := gocsv.UnmarshalCSV(newCSVReader(bytes.NewReader(Normalize(content)), ','), &rows); err != nil {
		return nil, fmt.Errorf("failed to parse rocket money CSV: %w", err)
	}

	out := make([]plugin.RawRow, 0, len(rows))
	for i := range rows {
		if i%500 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		raw, err := rows[i].toRaw(i + 2)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// toRaw maps one CSV row. line is the 1-based file line, used in errors.
// Unparseable amounts become 0; amounts too large for cents are an error.
func (r RocketMoneyRow) toRaw(line int) (plugin.RawRow, error) {
	cents, err := money.ToCents(r.Amount)
	if errors.Is(err, money.ErrAmountOutOfRange) {
		return plugin.RawRow{}, ParseError{Row: line, Column: "Amount", Message: err.Error(), RawData: r.Amount}
	}
	if err != nil {
		cents = 0
	}

	category := strings.TrimSpace(r.Category)
	accountType, ok := accountTypeMap[strings.TrimSpace(r.AccountType)]
	if !ok {
		accountType = "checking"
	}
	description := strings.TrimSpace(r.Description)

	return plugin.RawRow{
		Date:                strings.TrimSpace(r.Date),
		OriginalDate:        strings.TrimSpace(r.OriginalDate),
		AmountCents:         cents,
		Description:         description,
		OriginalDescription: description,
		MerchantName:        strings.TrimSpace(r.Name),
		CategoryName:        category,
		AccountName:         strings.TrimSpace(r.AccountName),
		InstitutionName:     strings.TrimSpace(r.InstitutionName),
		AccountType:         accountType,
		AccountNumberLast4:  strings.TrimSpace(r.AccountNumber),
		CustomName:          strings.TrimSpace(r.CustomName),
		Note:                strings.TrimSpace(r.Note),
		IsTransfer:          transferCategories[category],
		IsTaxDeductible:     isTruthy(r.TaxDeductible),
		Tags:                splitTags(r.TransactionTags),
	}, nil
}
