package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// StringList decodes from either a single string or a list of strings.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*l = StringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected string or list of strings: %w", err)
	}
	*l = many
	return nil
}

func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*l = StringList{node.Value}
		return nil
	}
	var many []string
	if err := node.Decode(&many); err != nil {
		return err
	}
	*l = many
	return nil
}

// DetectionRules decide whether a schema applies to a file. Every rule
// present must hold; absent rules pass.
type DetectionRules struct {
	FileExtension   StringList `json:"file_extension,omitempty" yaml:"file_extension,omitempty"`
	HeaderContains  StringList `json:"header_contains,omitempty" yaml:"header_contains,omitempty"`
	HeaderPattern   string     `json:"header_pattern,omitempty" yaml:"header_pattern,omitempty"`
	FilenamePattern string     `json:"filename_pattern,omitempty" yaml:"filename_pattern,omitempty"`
}

// TransformRules adjust mapped values after column mapping.
type TransformRules struct {
	Delimiter        string           `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`
	DateFormat       string           `json:"date_format,omitempty" yaml:"date_format,omitempty"`
	AmountMultiplier *decimal.Decimal `json:"amount_multiplier,omitempty" yaml:"amount_multiplier,omitempty"`
	Defaults         map[string]any   `json:"defaults,omitempty" yaml:"defaults,omitempty"`
}

// DelimiterRune returns the configured delimiter, defaulting to a comma.
func (t TransformRules) DelimiterRune() rune {
	if t.Delimiter == "" {
		return ','
	}
	if t.Delimiter == `\t` {
		return '\t'
	}
	return []rune(t.Delimiter)[0]
}

var regexCache sync.Map

func compile(pattern string, foldCase bool) (*regexp.Regexp, error) {
	key := pattern
	if foldCase {
		key = "(?i)" + pattern
	}
	if re, ok := regexCache.Load(key); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(key)
	if err != nil {
		return nil, err
	}
	regexCache.Store(key, re)
	return re, nil
}

// Match evaluates the rules against a text file. An invalid pattern never matches.
func (r DetectionRules) Match(content []byte, filename string) bool {
	return r.MatchLine(FirstLine(content), filename)
}

// MatchLine evaluates the rules against an already extracted header line.
func (r DetectionRules) MatchLine(firstLine, filename string) bool {
	if len(r.FileExtension) > 0 {
		ext := Extension(filename)
		found := false
		for _, want := range r.FileExtension {
			if strings.EqualFold(strings.TrimSpace(want), ext) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for _, required := range r.HeaderContains {
		if !strings.Contains(firstLine, required) {
			return false
		}
	}

	if r.HeaderPattern != "" {
		re, err := compile(r.HeaderPattern, false)
		if err != nil || !re.MatchString(firstLine) {
			return false
		}
	}

	if r.FilenamePattern != "" {
		re, err := compile(r.FilenamePattern, true)
		if err != nil || !re.MatchString(filename) {
			return false
		}
	}

	return true
}
