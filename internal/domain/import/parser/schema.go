package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/familyfinance/internal/plugin"
	"github.com/FACorreiaa/familyfinance/pkg/money"
)

const SchemaBasedName = "schema_based"

// Schema is the parser's view of an active ParserSchema row.
type Schema struct {
	ID             string
	Name           string
	FileType       string
	DetectionRules DetectionRules
	ColumnMapping  map[string]string // target field -> source column
	TransformRules TransformRules
}

// SchemaSource loads the active schemas in a stable order.
type SchemaSource interface {
	ActiveSchemas(ctx context.Context) ([]Schema, error)
}

// SchemaParser parses any file described by a stored schema.
type SchemaParser struct {
	source SchemaSource
	logger *slog.Logger

	mu      sync.RWMutex
	schemas []Schema
	loaded  bool
}

func NewSchemaParser(source SchemaSource, logger *slog.Logger) *SchemaParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &SchemaParser{source: source, logger: logger}
}

func (p *SchemaParser) Name() string { return SchemaBasedName }

// Reload replaces the cached schemas with the current active set. A load
// failure leaves the parser with no schemas.
func (p *SchemaParser) Reload(ctx context.Context) error {
	schemas, err := p.source.ActiveSchemas(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded = true
	if err != nil {
		p.schemas = nil
		p.logger.Error("failed to load parser schemas", slog.Any("error", err))
		return fmt.Errorf("load parser schemas: %w", err)
	}
	p.schemas = schemas
	p.logger.Debug("loaded parser schemas", slog.Int("count", len(schemas)))
	return nil
}

// Invalidate drops the cache; the next Detect or Parse reloads.
func (p *SchemaParser) Invalidate() {
	p.mu.Lock()
	p.loaded = false
	p.mu.Unlock()
}

func (p *SchemaParser) ensureLoaded(ctx context.Context) []Schema {
	p.mu.RLock()
	if p.loaded {
		s := p.schemas
		p.mu.RUnlock()
		return s
	}
	p.mu.RUnlock()

	_ = p.Reload(ctx)

	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.schemas
}

func (p *SchemaParser) match(ctx context.Context, content []byte, filename string) (Schema, bool) {
	schemas := p.ensureLoaded(ctx)
	if len(schemas) == 0 {
		return Schema{}, false
	}
	line := headerLine(content, filename)
	for _, s := range schemas {
		if s.DetectionRules.MatchLine(line, filename) {
			return s, true
		}
	}
	return Schema{}, false
}

// headerLine is the first text line, or the first sheet row joined by commas
// for workbooks.
func headerLine(content []byte, filename string) string {
	if isWorkbook(filename) {
		return workbookHeaderLine(content)
	}
	return FirstLine(stripUTF8BOM(content))
}

func (p *SchemaParser) Detect(ctx context.Context, content []byte, filename string) bool {
	_, ok := p.match(ctx, content, filename)
	return ok
}

func (p *SchemaParser) Parse(ctx context.Context, content []byte, filename string) ([]plugin.RawRow, error) {
	schema, ok := p.match(ctx, content, filename)
	if !ok {
		return nil, ErrNoSchema
	}

	var (
		header  []string
		records [][]string
		err     error
	)
	if isWorkbook(filename) {
		header, records, err = readWorkbook(content)
	} else {
		header, records, err = readRecords(Normalize(content), schema.TransformRules.DelimiterRune())
	}
	if err != nil {
		return nil, err
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(h)] = i
	}

	out := make([]plugin.RawRow, 0, len(records))
	for i, rec := range records {
		row, err := schema.apply(rec, index)
		if err != nil {
			var pe ParseError
			if errors.As(err, &pe) {
				pe.Row = i + 2
				return nil, pe
			}
			return nil, err
		}
		out = append(out, row)
	}

	p.logger.Info("parsed rows using schema",
		slog.String("schema", schema.Name),
		slog.Int("rows", len(out)))
	return out, nil
}

// apply maps one record. Unparseable amounts become 0; amounts too large
// for cents are a ParseError without a row number.
func (s Schema) apply(rec []string, index map[string]int) (plugin.RawRow, error) {
	fields := make(map[string]string, len(s.ColumnMapping))
	for target, source := range s.ColumnMapping {
		value := ""
		if i, ok := index[strings.TrimSpace(source)]; ok && i < len(rec) {
			value = strings.TrimSpace(rec[i])
		}
		fields[target] = value
	}

	var cents int64
	if raw, ok := fields["amount_cents"]; ok {
		factor := decimal.NewFromInt(100)
		if s.TransformRules.AmountMultiplier != nil {
			factor = *s.TransformRules.AmountMultiplier
		}
		c, err := money.Scale(raw, factor)
		switch {
		case errors.Is(err, money.ErrAmountOutOfRange):
			return plugin.RawRow{}, ParseError{Column: s.ColumnMapping["amount_cents"], Message: err.Error(), RawData: raw}
		case err == nil:
			cents = c
		}
	}

	if date, ok := fields["date"]; ok && s.TransformRules.DateFormat != "" {
		fields["date"] = NormalizeDate(date, s.TransformRules.DateFormat)
	}

	for field, def := range s.TransformRules.Defaults {
		if field == "amount_cents" {
			if cents == 0 {
				if c, err := money.Scale(fmt.Sprint(def), decimal.NewFromInt(1)); err == nil {
					cents = c
				}
			}
			continue
		}
		if fields[field] == "" {
			fields[field] = fmt.Sprint(def)
		}
	}

	return plugin.RawRow{
		Date:                fields["date"],
		OriginalDate:        fields["original_date"],
		AmountCents:         cents,
		Description:         fields["description"],
		OriginalDescription: fields["original_description"],
		MerchantName:        fields["merchant_name"],
		CategoryName:        fields["category_name"],
		AccountName:         fields["account_name"],
		InstitutionName:     fields["institution_name"],
		AccountType:         fields["account_type"],
		AccountNumberLast4:  fields["account_number_last4"],
		CustomName:          fields["custom_name"],
		Note:                fields["note"],
		IsTransfer:          isTruthy(fields["is_transfer"]),
		IsTaxDeductible:     isTruthy(fields["is_tax_deductible"]),
		Tags:                splitTags(fields["tags"]),
	}, nil
}
