package categorization

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/FACorreiaa/familyfinance/internal/plugin"
	"github.com/FACorreiaa/familyfinance/pkg/money"
)

// KeywordProviderName is the registry name of the offline provider.
const KeywordProviderName = "keyword"

const (
	merchantConfidence = 0.9
	keywordConfidence  = 0.7
	fuzzyThreshold     = 80
	summaryCurrency    = money.USD
	queryHitLimit      = 5
)

// KeywordProvider is an AI provider that needs no network access. Known
// merchants are resolved by the sanitizer and fuzzy matcher, everything else
// by keyword.
type KeywordProvider struct {
	sanitizer *MerchantSanitizer
	fuzzy     *FuzzyMatcher
	keywords  *KeywordMatcher
	logger    *slog.Logger
}

// NewKeywordProvider creates the provider with the built-in tables.
func NewKeywordProvider(logger *slog.Logger) *KeywordProvider {
	sanitizer := NewMerchantSanitizer()
	return &KeywordProvider{
		sanitizer: sanitizer,
		fuzzy:     NewFuzzyMatcher(sanitizer.Names()),
		keywords:  NewKeywordMatcher(defaultKeywords()),
		logger:    logger,
	}
}

func (p *KeywordProvider) Name() string { return KeywordProviderName }

// Categorize returns the category of the known merchant or keyword found in
// description.
func (p *KeywordProvider) Categorize(_ context.Context, description string) (string, bool) {
	category, _ := p.classify(description)
	if category == "" {
		return "", false
	}
	return category, true
}

func (p *KeywordProvider) classify(text string) (string, float64) {
	if info := p.sanitizer.Sanitize(text); info.Category != "" {
		return info.Category, merchantConfidence
	}
	if m := p.keywords.Match(text); m != nil {
		return m.Category, keywordConfidence
	}
	return "", 0
}

// CategorizeBatch answers every item in order.
func (p *KeywordProvider) CategorizeBatch(ctx context.Context, items []plugin.BatchItem) []plugin.BatchResult {
	results := plugin.UncategorizedResults(len(items))
	for i, item := range items {
		text := item.Description
		if item.MerchantName != "" {
			text = item.MerchantName + " " + item.Description
		}
		if category, confidence := p.classify(text); category != "" {
			results[i].Category = category
			results[i].Confidence = confidence
		}
		if item.MerchantName != "" {
			results[i].MerchantNormalized = p.NormalizeMerchant(ctx, item.MerchantName)
		}
	}
	return results
}

// NormalizeMerchant maps raw to a canonical merchant name, falling back to
// the cleaned raw string.
func (p *KeywordProvider) NormalizeMerchant(_ context.Context, raw string) string {
	info := p.sanitizer.Sanitize(raw)
	if info.Category != "" {
		return info.NormalizedName
	}
	if m := p.fuzzy.Match(cleanMerchantName(raw), fuzzyThreshold); m != nil {
		return m.Name
	}
	if info.NormalizedName == "" {
		return raw
	}
	return info.NormalizedName
}

// Query searches the records for the question's terms and reports the
// matching transactions.
func (p *KeywordProvider) Query(_ context.Context, question string, records []plugin.ContextRecord) string {
	if len(records) == 0 {
		return "No transactions to search."
	}

	index, err := NewContextIndex(records)
	if err != nil {
		p.logger.Warn("keyword query failed", slog.Any("error", err))
		return plugin.QueryFallback
	}
	defer index.Close()

	hits, err := index.Search(question, len(records))
	if err != nil {
		p.logger.Warn("keyword query failed", slog.Any("error", err))
		return plugin.QueryFallback
	}
	if len(hits) == 0 {
		return "No matching transactions found."
	}

	cents := make([]int64, len(hits))
	for i, h := range hits {
		cents[i] = h.Record.AmountCents
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d matching transactions totaling %s.", len(hits), money.Format(money.Sum(summaryCurrency, cents...).Amount(), summaryCurrency))
	for i, h := range hits {
		if i == queryHitLimit {
			break
		}
		fmt.Fprintf(&b, "\n- %s %s %s (%s)", h.Record.Date, describe(h.Record), money.Format(h.Record.AmountCents, summaryCurrency), h.Record.Category)
	}
	return b.String()
}

// Summarize totals spending per category over at most MaxSummaryRecords
// records.
func (p *KeywordProvider) Summarize(_ context.Context, records []plugin.ContextRecord) string {
	if len(records) > plugin.MaxSummaryRecords {
		records = records[:plugin.MaxSummaryRecords]
	}
	if len(records) == 0 {
		return "No transactions to summarize."
	}

	var spent, earned int64
	byCategory := make(map[string]int64)
	for _, r := range records {
		if r.AmountCents < 0 {
			earned -= r.AmountCents
			continue
		}
		spent += r.AmountCents
		category := r.Category
		if category == "" {
			category = plugin.UncategorizedName
		}
		byCategory[category] += r.AmountCents
	}

	type total struct {
		name  string
		cents int64
	}
	totals := make([]total, 0, len(byCategory))
	for name, cents := range byCategory {
		totals = append(totals, total{name, cents})
	}
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].cents != totals[j].cents {
			return totals[i].cents > totals[j].cents
		}
		return totals[i].name < totals[j].name
	})

	var b strings.Builder
	fmt.Fprintf(&b, "%d transactions: %s spent, %s received.", len(records),
		money.Format(spent, summaryCurrency), money.Format(earned, summaryCurrency))
	if len(totals) > 0 {
		b.WriteString(" Top categories:")
		for i, t := range totals {
			if i == 3 {
				break
			}
			sep := ","
			if i == 0 {
				sep = ""
			}
			fmt.Fprintf(&b, "%s %s %s", sep, t.name, money.Format(t.cents, summaryCurrency))
		}
		b.WriteString(".")
	}
	return b.String()
}

func describe(r plugin.ContextRecord) string {
	if r.MerchantName != "" {
		return r.MerchantName
	}
	return r.Description
}
