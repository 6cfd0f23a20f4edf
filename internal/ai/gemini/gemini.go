// Package gemini is the Google Gemini AI provider. It categorizes
// transactions, answers questions, and generates parser schemas.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/FACorreiaa/familyfinance/internal/domain/schema"
	"github.com/FACorreiaa/familyfinance/internal/plugin"
	"github.com/FACorreiaa/familyfinance/pkg/money"
)

// Name is the registry name of the provider.
const Name = "gemini"

const defaultBatchConfidence = 0.5

var categoryList = strings.Join(plugin.Categories, ", ")

// contentGenerator is the part of the genai client the provider calls.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Config holds provider settings
type Config struct {
	APIKey string
	Model  string
	RPS    float64
	Burst  int
}

// Provider implements plugin.AIProvider and schema.Generator on Gemini.
type Provider struct {
	models  contentGenerator
	model   string
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a provider backed by the Gemini API
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return newProvider(client.Models, cfg, logger), nil
}

func newProvider(models contentGenerator, cfg Config, logger *slog.Logger) *Provider {
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Provider{
		models:  models,
		model:   cfg.Model,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

func (p *Provider) Name() string { return Name }

func (p *Provider) generate(ctx context.Context, prompt string, jsonOut bool) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", err
	}

	cfg := &genai.GenerateContentConfig{Temperature: genai.Ptr[float32](0.1)}
	if jsonOut {
		cfg.ResponseMIMEType = "application/json"
	}
	resp, err := p.models.GenerateContent(ctx, p.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("empty model response")
	}
	return text, nil
}

// Generate returns the raw model answer for prompt.
func (p *Provider) Generate(ctx context.Context, prompt string) (string, error) {
	return p.generate(ctx, prompt, true)
}

// Categorize asks for a single category name. Answers outside the
// vocabulary are returned as given.
func (p *Provider) Categorize(ctx context.Context, description string) (string, bool) {
	prompt := fmt.Sprintf("Categorize this transaction into exactly one of these categories: %s\n\n"+
		"Transaction: %s\n\nReply with ONLY the category name, nothing else.", categoryList, description)

	answer, err := p.generate(ctx, prompt, false)
	if err != nil {
		p.logger.Warn("gemini categorize failed", slog.Any("error", err))
		return "", false
	}
	if category, ok := canonical(answer); ok {
		return category, true
	}
	return answer, true
}

type batchAnswer struct {
	Index              int      `json:"index"`
	Category           string   `json:"category"`
	Confidence         *float64 `json:"confidence"`
	MerchantNormalized string   `json:"merchant_normalized"`
}

// CategorizeBatch sends all items in one request. Any failure yields
// Uncategorized for every item.
func (p *Provider) CategorizeBatch(ctx context.Context, items []plugin.BatchItem) []plugin.BatchResult {
	results := plugin.UncategorizedResults(len(items))
	if len(items) == 0 {
		return results
	}

	var lines strings.Builder
	for i, item := range items {
		fmt.Fprintf(&lines, "%d. description=%q merchant=%q amount_cents=%d\n", i, item.Description, item.MerchantName, item.AmountCents)
	}
	prompt := fmt.Sprintf("Categorize each transaction into exactly one of these categories: %s\n\n"+
		"Also normalize the merchant name to a clean, human-friendly name and provide a confidence score (0.0 to 1.0).\n\n"+
		"Transactions:\n%s\n"+
		`Reply with a JSON array where each element has keys: "index", "category", "confidence", "merchant_normalized".`+
		"\nOutput ONLY valid JSON, no other text.", categoryList, lines.String())

	raw, err := p.generate(ctx, prompt, true)
	if err != nil {
		p.logger.Warn("gemini batch categorize failed", slog.Int("items", len(items)), slog.Any("error", err))
		return results
	}

	var answers []batchAnswer
	if err := json.Unmarshal([]byte(schema.StripFences(raw)), &answers); err != nil {
		p.logger.Warn("gemini batch answer is not valid JSON", slog.Any("error", err))
		return results
	}

	for pos, a := range answers {
		i := a.Index
		if i < 0 || i >= len(items) {
			i = pos
		}
		if i >= len(items) {
			continue
		}
		category, ok := canonical(a.Category)
		if !ok {
			category = plugin.UncategorizedName
		}
		confidence := defaultBatchConfidence
		if a.Confidence != nil {
			confidence = *a.Confidence
		}
		results[i] = plugin.BatchResult{
			Category:           category,
			Confidence:         confidence,
			MerchantNormalized: strings.TrimSpace(a.MerchantNormalized),
		}
	}
	return results
}

// Query answers a question about the given records.
func (p *Provider) Query(ctx context.Context, question string, records []plugin.ContextRecord) string {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return plugin.QueryFallback
	}
	prompt := "You are a helpful personal finance assistant. Answer questions about the user's finances " +
		"based on the provided data. Be concise and specific. Amounts are in cents; answer in dollars.\n\n" +
		"Here is my financial data:\n" + string(data) + "\n\nQuestion: " + question

	answer, err := p.generate(ctx, prompt, false)
	if err != nil {
		p.logger.Warn("gemini query failed", slog.Any("error", err))
		return plugin.QueryFallback
	}
	return answer
}

// NormalizeMerchant cleans a raw merchant string, returning raw on failure.
func (p *Provider) NormalizeMerchant(ctx context.Context, raw string) string {
	prompt := "Normalize this merchant name to a clean, human-friendly name. Remove transaction codes, " +
		"location info, and extra numbers.\n\nRaw name: " + raw + "\n\nReply with ONLY the cleaned merchant name."

	answer, err := p.generate(ctx, prompt, false)
	if err != nil {
		p.logger.Warn("gemini normalize merchant failed", slog.Any("error", err))
		return raw
	}
	return answer
}

// Summarize describes spending over at most MaxSummaryRecords records.
func (p *Provider) Summarize(ctx context.Context, records []plugin.ContextRecord) string {
	if len(records) > plugin.MaxSummaryRecords {
		records = records[:plugin.MaxSummaryRecords]
	}

	var lines strings.Builder
	for _, r := range records {
		category := r.Category
		if category == "" {
			category = plugin.UncategorizedName
		}
		fmt.Fprintf(&lines, "- %s: %s (%s)\n", r.Description, money.Format(r.AmountCents, money.USD), category)
	}
	prompt := "Provide a concise spending summary for these transactions. Include total spending, " +
		"top categories, and any notable patterns.\n\nTransactions:\n" + lines.String()

	answer, err := p.generate(ctx, prompt, false)
	if err != nil {
		p.logger.Warn("gemini summarize failed", slog.Any("error", err))
		return plugin.SummaryFallback
	}
	return answer
}

// canonical maps name onto the category vocabulary, ignoring case.
func canonical(name string) (string, bool) {
	name = strings.TrimSpace(name)
	for _, c := range plugin.Categories {
		if strings.EqualFold(c, name) {
			return c, true
		}
	}
	return name, false
}
