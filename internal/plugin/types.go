package plugin

import "context"

// RawRow is the canonical parser output, one per transaction line.
// Optional string fields are empty when the source had no value.
type RawRow struct {
	Date                string // YYYY-MM-DD
	OriginalDate        string
	AmountCents         int64 // positive = expense, negative = income
	Description         string
	OriginalDescription string
	MerchantName        string
	CategoryName        string
	AccountName         string
	InstitutionName     string
	AccountType         string
	AccountNumberLast4  string
	CustomName          string
	Note                string
	IsTransfer          bool
	IsTaxDeductible     bool
	Tags                []string
}

// FileParser detects and parses one family of export files.
type FileParser interface {
	Plugin
	// Detect reports whether the parser can handle the file. It must not
	// mutate state and treats any internal failure as no match.
	Detect(ctx context.Context, content []byte, filename string) bool
	Parse(ctx context.Context, content []byte, filename string) ([]RawRow, error)
}

// Reloader is implemented by parsers backed by external configuration.
type Reloader interface {
	Reload(ctx context.Context) error
}

// BatchItem is one transaction sent to AIProvider.CategorizeBatch.
type BatchItem struct {
	Description  string
	MerchantName string
	AmountCents  int64
}

// BatchResult is the provider's answer for the item at the same position.
type BatchResult struct {
	Category           string
	Confidence         float64
	MerchantNormalized string
}

// ContextRecord is a transaction summary passed to Query and Summarize.
type ContextRecord struct {
	Date         string
	Description  string
	MerchantName string
	Category     string
	AmountCents  int64
}

// AIProvider answers categorization and text questions. Methods do not
// return errors: failures degrade to the documented fallback values.
type AIProvider interface {
	Plugin
	// Categorize returns a category name, or false when no answer is available.
	Categorize(ctx context.Context, description string) (string, bool)
	// CategorizeBatch returns exactly one result per item, Uncategorized with
	// zero confidence for items it could not answer.
	CategorizeBatch(ctx context.Context, items []BatchItem) []BatchResult
	Query(ctx context.Context, question string, records []ContextRecord) string
	// NormalizeMerchant returns the raw name when it cannot improve on it.
	NormalizeMerchant(ctx context.Context, raw string) string
	Summarize(ctx context.Context, records []ContextRecord) string
}

// Notifier delivers a short message through one channel.
type Notifier interface {
	Plugin
	Notify(ctx context.Context, subject, body string) error
}

const (
	UncategorizedName = "Uncategorized"
	QueryFallback     = "Sorry, I couldn't process your question right now."
	SummaryFallback   = "Unable to generate summary at this time."
	// MaxSummaryRecords caps the records handed to Summarize.
	MaxSummaryRecords = 200
)

// Categories is the closed vocabulary AI providers choose from.
var Categories = []string{
	"Dining & Drinks", "Software & Tech", "Shopping", "Entertainment & Rec.",
	"Auto & Transport", "Groceries", "Bills & Utilities", "Health & Wellness",
	"Home & Garden", "Income", "Travel & Vacation", "Medical", "Personal Care",
	"Education", "Pets", "Business", "Fees & Charges", "Legal",
	"Gifts & Donations", "Taxes", "Insurance", "Kids", "Cash & ATM",
	"Investments", "Savings Transfer", "Credit Card Payment",
	"Internal Transfers", "Subscriptions", UncategorizedName,
}

// UncategorizedResults returns n fallback results.
func UncategorizedResults(n int) []BatchResult {
	out := make([]BatchResult, n)
	for i := range out {
		out[i] = BatchResult{Category: UncategorizedName}
	}
	return out
}
