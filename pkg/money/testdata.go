package money

import (
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

// TestDataGenerator generates realistic export rows using gofakeit.
type TestDataGenerator struct {
	faker *gofakeit.Faker
}

// NewTestDataGenerator creates a generator with a random seed.
func NewTestDataGenerator() *TestDataGenerator {
	return &TestDataGenerator{faker: gofakeit.New(0)}
}

// NewTestDataGeneratorWithSeed creates a generator with a specific seed for reproducibility.
func NewTestDataGeneratorWithSeed(seed int64) *TestDataGenerator {
	return &TestDataGenerator{faker: gofakeit.New(seed)}
}

// TestTransaction is one generated export line.
type TestTransaction struct {
	Date            time.Time
	AccountType     string
	AccountName     string
	AccountNumber   string
	InstitutionName string
	Merchant        string
	Description     string
	Category        string
	Amount          *Money
	Tags            []string
}

var accounts = []struct {
	kind, name, number, institution string
}{
	{"Cash", "Chase Checking", "1234", "Chase"},
	{"Credit Card", "Citi Double Cash", "9876", "Citi"},
	{"Savings", "Ally Savings", "5555", "Ally"},
}

var merchants = []string{
	"Starbucks", "Amazon", "Whole Foods", "Shell", "Netflix",
	"Uber", "Target", "Costco", "Spotify", "Home Depot",
}

var expenseCategories = []string{
	"Dining & Drinks", "Shopping", "Groceries", "Auto & Transport",
	"Subscriptions", "Home & Garden", "",
}

// Transaction generates a single random row.
func (g *TestDataGenerator) Transaction(currency string) TestTransaction {
	acct := accounts[g.faker.IntRange(0, len(accounts)-1)]
	merchant := merchants[g.faker.IntRange(0, len(merchants)-1)]

	tx := TestTransaction{
		Date:            g.faker.DateRange(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)),
		AccountType:     acct.kind,
		AccountName:     acct.name,
		AccountNumber:   acct.number,
		InstitutionName: acct.institution,
		Merchant:        merchant,
		Description:     g.faker.Word() + " " + merchant,
		Category:        expenseCategories[g.faker.IntRange(0, len(expenseCategories)-1)],
		Amount:          New(int64(g.faker.IntRange(1, 50000)), currency),
	}
	if g.faker.Number(1, 10) == 1 {
		tx.Category = "Income"
		tx.Amount = New(-int64(g.faker.IntRange(100000, 1000000)), currency)
	}
	if g.faker.Bool() {
		tx.Tags = []string{g.faker.Word(), g.faker.Word()}
	}
	return tx
}

// Transactions generates count rows.
func (g *TestDataGenerator) Transactions(currency string, count int) []TestTransaction {
	txs := make([]TestTransaction, count)
	for i := range txs {
		txs[i] = g.Transaction(currency)
	}
	return txs
}
