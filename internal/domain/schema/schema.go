// Package schema stores the user-defined and AI-inferred parser schemas that
// drive the schema-based parser, and learns new ones from unknown files.
package schema

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/familyfinance/internal/domain/import/parser"
)

var (
	ErrNotFound      = errors.New("parser schema not found")
	ErrNameTaken     = errors.New("parser schema name already exists")
	ErrInvalidSchema = errors.New("invalid parser schema")
)

// MaxNameLen bounds ParserSchema.Name.
const MaxNameLen = 255

// FileTypes are the accepted values of ParserSchema.FileType.
var FileTypes = []string{"csv", "tsv", "ofx", "qfx", "pdf", "xlsx"}

// TargetFields are the RawRow fields an inferred column mapping may use.
var TargetFields = []string{
	"date",
	"amount_cents",
	"description",
	"merchant_name",
	"category_name",
	"account_name",
	"institution_name",
	"account_type",
}

// ParserSchema is a stored description of one export file format.
type ParserSchema struct {
	ID             uuid.UUID             `json:"id" yaml:"-"`
	Name           string                `json:"name" yaml:"name"`
	Description    string                `json:"description,omitempty" yaml:"description,omitempty"`
	FileType       string                `json:"file_type" yaml:"file_type"`
	DetectionRules parser.DetectionRules `json:"detection_rules" yaml:"detection_rules"`
	ColumnMapping  map[string]string     `json:"column_mapping" yaml:"column_mapping"`
	TransformRules parser.TransformRules `json:"transform_rules" yaml:"transform_rules,omitempty"`
	IsActive       bool                  `json:"is_active" yaml:"-"`
	CreatedByAI    bool                  `json:"created_by_ai" yaml:"created_by_ai,omitempty"`
	SampleData     map[string]any        `json:"sample_data,omitempty" yaml:"sample_data,omitempty"`
	CreatedAt      time.Time             `json:"created_at" yaml:"-"`
	UpdatedAt      time.Time             `json:"updated_at" yaml:"-"`
}

// ToParser converts the row into the parser's view.
func (s ParserSchema) ToParser() parser.Schema {
	return parser.Schema{
		ID:             s.ID.String(),
		Name:           s.Name,
		FileType:       s.FileType,
		DetectionRules: s.DetectionRules,
		ColumnMapping:  s.ColumnMapping,
		TransformRules: s.TransformRules,
	}
}

// Validate checks the fields a stored schema must have and compiles its
// patterns.
func (s ParserSchema) Validate() error {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSchema)
	}
	if len([]rune(name)) > MaxNameLen {
		return fmt.Errorf("%w: name longer than %d characters", ErrInvalidSchema, MaxNameLen)
	}
	if !validFileType(s.FileType) {
		return fmt.Errorf("%w: unsupported file type %q", ErrInvalidSchema, s.FileType)
	}
	if len(s.ColumnMapping) == 0 {
		return fmt.Errorf("%w: column_mapping is empty", ErrInvalidSchema)
	}
	if p := s.DetectionRules.HeaderPattern; p != "" {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("%w: header_pattern: %v", ErrInvalidSchema, err)
		}
	}
	if p := s.DetectionRules.FilenamePattern; p != "" {
		if _, err := regexp.Compile("(?i)" + p); err != nil {
			return fmt.Errorf("%w: filename_pattern: %v", ErrInvalidSchema, err)
		}
	}
	return nil
}

func validFileType(ft string) bool {
	for _, t := range FileTypes {
		if t == ft {
			return true
		}
	}
	return false
}

// FileTypeOf maps a filename extension to a schema file type, defaulting to csv.
func FileTypeOf(filename string) string {
	ext := strings.TrimPrefix(parser.Extension(filename), ".")
	if validFileType(ext) {
		return ext
	}
	return "csv"
}
