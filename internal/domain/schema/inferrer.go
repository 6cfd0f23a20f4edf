package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/FACorreiaa/familyfinance/internal/domain/import/parser"
	"github.com/FACorreiaa/familyfinance/internal/domain/import/repository"
	"github.com/FACorreiaa/familyfinance/internal/domain/import/sniffer"
	"github.com/FACorreiaa/familyfinance/internal/metrics"
	"github.com/FACorreiaa/familyfinance/internal/plugin"
)

const (
	// SampleLines is how much of the file the model sees.
	SampleLines = 30
	namePrefix  = "ai-inferred-"
)

var ErrCannotInfer = errors.New("cannot infer a schema for this file")

// Generator turns a prompt into model text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

const inferencePrompt = `You are a financial data parser expert. Analyze the following file sample and return a JSON object that describes how to parse this file format.

Filename: %s

First lines of the file:
` + "```" + `
%s
` + "```" + `

Return a JSON object with exactly these keys:

1. "detection_rules": an object describing how to identify this file format. Include:
   - "file_extension": list of file extensions (e.g. [".csv"])
   - "header_contains": list of 2-4 distinctive column names from the header row that uniquely identify this format

2. "column_mapping": an object mapping target field names to source column names found in the file header. Target fields are: %s
   - Only include mappings where you can confidently identify the source column
   - "amount_cents" should map to the column containing monetary amounts (the value will be multiplied by 100 to convert to cents)

3. "transform_rules": an object with optional transformation rules:
   - "delimiter": the field separator (default ",")
   - "date_format": strftime format string for the date column (e.g. "%%m/%%d/%%Y")
   - "amount_multiplier": number to multiply raw amount by to get cents (typically 100)
   - "defaults": object of default values for fields not present in the file

Return ONLY the JSON object, no explanation or markdown fences.
`

// inferred is the JSON object the model returns.
type inferred struct {
	DetectionRules parser.DetectionRules `json:"detection_rules"`
	ColumnMapping  map[string]string     `json:"column_mapping"`
	TransformRules parser.TransformRules `json:"transform_rules"`
}

// Inferrer learns a schema for a file no parser recognizes, stores it and
// reloads the schema parser.
type Inferrer struct {
	generator Generator // nil: infer from the sniffed layout
	store     Store
	reloader  plugin.Reloader
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func NewInferrer(generator Generator, store Store, reloader plugin.Reloader, logger *slog.Logger) *Inferrer {
	return &Inferrer{generator: generator, store: store, reloader: reloader, logger: logger}
}

func (i *Inferrer) WithMetrics(m *metrics.Metrics) *Inferrer {
	i.metrics = m
	return i
}

// InferSchema stores a schema for filename and reloads the parser.
func (i *Inferrer) InferSchema(ctx context.Context, filename string, content []byte) error {
	_, err := i.Infer(ctx, filename, content)
	return err
}

// Infer returns the stored schema. A previous inference for the same file
// name is replaced.
func (i *Inferrer) Infer(ctx context.Context, filename string, content []byte) (ps *ParserSchema, err error) {
	ctx, span := i.metrics.StartSpan(ctx, "schema.infer", attribute.String("filename", filename))
	defer func() {
		metrics.EndSpan(span, err)
		i.metrics.SchemaInferred(err == nil)
	}()

	layout, sniffErr := sniffer.Sniff(content)

	var got inferred
	if i.generator != nil {
		got, err = i.generate(ctx, filename, content)
	} else {
		got, err = fromLayout(layout, sniffErr, filename)
	}
	if err != nil {
		return nil, err
	}

	if got.TransformRules.Delimiter == "" && layout != nil && layout.Delimiter != ',' {
		got.TransformRules.Delimiter = string(layout.Delimiter)
	}

	sample := map[string]any{"source_filename": filename}
	if layout != nil {
		sample["header_fingerprint"] = layout.Fingerprint
	}

	ps = &ParserSchema{
		Name:           Name(filename),
		Description:    "Auto-inferred schema for " + filename,
		FileType:       FileTypeOf(filename),
		DetectionRules: got.DetectionRules,
		ColumnMapping:  got.ColumnMapping,
		TransformRules: got.TransformRules,
		IsActive:       true,
		CreatedByAI:    true,
		SampleData:     sample,
	}
	if err := ps.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCannotInfer, err)
	}

	if err := i.save(ctx, ps); err != nil {
		return nil, err
	}
	i.logger.Info("parser schema inferred",
		slog.String("name", ps.Name),
		slog.String("filename", filename),
		slog.Int("mapped_fields", len(ps.ColumnMapping)))

	if i.reloader != nil {
		if err := i.reloader.Reload(ctx); err != nil {
			return ps, err
		}
	}
	return ps, nil
}

func (i *Inferrer) save(ctx context.Context, ps *ParserSchema) error {
	existing, err := i.store.GetByName(ctx, ps.Name)
	if err != nil {
		return err
	}
	if existing == nil {
		return i.store.Create(ctx, ps)
	}
	ps.ID = existing.ID
	ps.CreatedAt = existing.CreatedAt
	return i.store.Update(ctx, ps)
}

func (i *Inferrer) generate(ctx context.Context, filename string, content []byte) (inferred, error) {
	prompt := fmt.Sprintf(inferencePrompt, filename, Sample(content), strings.Join(TargetFields, ", "))
	text, err := i.generator.Generate(ctx, prompt)
	if err != nil {
		return inferred{}, fmt.Errorf("failed to generate schema: %w", err)
	}

	var got inferred
	if err := json.Unmarshal([]byte(StripFences(text)), &got); err != nil {
		return inferred{}, fmt.Errorf("%w: model returned invalid JSON: %v", ErrCannotInfer, err)
	}
	i.logger.Debug("model schema response", slog.String("filename", filename), slog.Int("mapped_fields", len(got.ColumnMapping)))
	return got, nil
}

// fromLayout maps recognizable header names without a model.
func fromLayout(layout *sniffer.Layout, sniffErr error, filename string) (inferred, error) {
	if sniffErr != nil {
		return inferred{}, fmt.Errorf("%w: %v", ErrCannotInfer, sniffErr)
	}

	if layout.HeaderRow > 0 {
		return inferred{}, fmt.Errorf("%w: header is not on the first line", ErrCannotInfer)
	}

	cols := sniffer.SuggestColumns(layout.Headers)
	if cols.Date < 0 || cols.Amount < 0 {
		return inferred{}, fmt.Errorf("%w: no date or single amount column", ErrCannotInfer)
	}
	dialect := sniffer.ProbeDialect(layout.Samples, cols.Amount, cols.Date)
	if dialect.DecimalComma {
		return inferred{}, fmt.Errorf("%w: decimal-comma amounts are not supported", ErrCannotInfer)
	}

	mapping := map[string]string{}
	roles := []struct {
		field string
		col   int
	}{
		{"date", cols.Date},
		{"amount_cents", cols.Amount},
		{"description", cols.Description},
		{"merchant_name", cols.Merchant},
		{"category_name", cols.Category},
		{"account_name", cols.Account},
	}
	var distinctive []string
	for _, r := range roles {
		if r.col < 0 {
			continue
		}
		mapping[r.field] = layout.Headers[r.col]
		if len(distinctive) < 4 {
			distinctive = append(distinctive, layout.Headers[r.col])
		}
	}
	if _, ok := mapping["description"]; !ok {
		if m, ok := mapping["merchant_name"]; ok {
			mapping["description"] = m
		}
	}

	rules := parser.DetectionRules{HeaderContains: distinctive}
	if ext := parser.Extension(filename); ext != "" {
		rules.FileExtension = parser.StringList{ext}
	}

	hundred := decimal.NewFromInt(100)
	return inferred{
		DetectionRules: rules,
		ColumnMapping:  mapping,
		TransformRules: parser.TransformRules{
			DateFormat:       dialect.DateFormat,
			AmountMultiplier: &hundred,
		},
	}, nil
}

// Sample returns the first SampleLines lines with invalid UTF-8 replaced.
func Sample(content []byte) string {
	text := strings.ToValidUTF8(string(content), "\uFFFD")
	lines := strings.Split(text, "\n")
	if len(lines) > SampleLines {
		lines = lines[:SampleLines]
	}
	return strings.Join(lines, "\n")
}

var (
	leadingFence  = regexp.MustCompile("^```(?:json)?\\s*")
	trailingFence = regexp.MustCompile("\\s*```$")
)

// StripFences removes a surrounding markdown code fence.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	text = leadingFence.ReplaceAllString(text, "")
	return trailingFence.ReplaceAllString(text, "")
}

// Name derives the stored schema name from the upload's file name.
func Name(filename string) string {
	base := filepath.Base(filename)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	name := strings.ToLower(strings.ReplaceAll(namePrefix+stem, " ", "-"))
	return repository.Truncate(name, MaxNameLen)
}
