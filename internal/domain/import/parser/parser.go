// Package parser holds the file parser plugins: the fixed-format Rocket Money
// CSV export and the schema-based parser driven by stored ParserSchema rows.
// Both use gocsv/encoding/csv for delimited text and excelize for workbooks.
package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/gocarina/gocsv"
)

var ErrNoSchema = errors.New("no parser schema matches file")

// ParseError represents a parsing error for a specific row
type ParseError struct {
	Row     int
	Column  string
	Message string
	RawData string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("row %d, column %s: %s", e.Row, e.Column, e.Message)
}

// Normalize strips a UTF-8 BOM and decodes invalid UTF-8 as Latin-1.
func Normalize(data []byte) []byte {
	data = stripUTF8BOM(data)
	if utf8.Valid(data) {
		return data
	}
	return decodeLatin1(data)
}

func stripUTF8BOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}

func decodeLatin1(data []byte) []byte {
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return []byte(string(runes))
}

// FirstLine returns the trimmed bytes before the first newline, or "" when
// they are not valid UTF-8.
func FirstLine(content []byte) string {
	line, _, _ := bytes.Cut(content, []byte("\n"))
	if !utf8.Valid(line) {
		return ""
	}
	return strings.TrimSpace(string(line))
}

// Extension returns "." plus the lowercased text after the last dot, or "".
func Extension(filename string) string {
	i := strings.LastIndex(filename, ".")
	if i < 0 {
		return ""
	}
	return "." + strings.ToLower(filename[i+1:])
}

// headerTrimReader wraps csv.Reader so gocsv matches headers with stray whitespace.
type headerTrimReader struct {
	r          *csv.Reader
	headerDone bool
}

func newCSVReader(in io.Reader, delimiter rune) *headerTrimReader {
	r := csv.NewReader(in)
	if delimiter != 0 {
		r.Comma = delimiter
	}
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	return &headerTrimReader{r: r}
}

func (h *headerTrimReader) Read() ([]string, error) {
	rec, err := h.r.Read()
	if err != nil {
		return nil, err
	}
	if !h.headerDone {
		h.headerDone = true
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
	}
	return rec, nil
}

func (h *headerTrimReader) ReadAll() ([][]string, error) {
	var out [][]string
	for {
		rec, err := h.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}

var _ gocsv.CSVReader = (*headerTrimReader)(nil)

// readRecords returns the header and data records of delimited text. Blank
// lines are skipped.
func readRecords(content []byte, delimiter rune) ([]string, [][]string, error) {
	all, err := newCSVReader(bytes.NewReader(content), delimiter).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(all) == 0 {
		return nil, nil, nil
	}
	rows := make([][]string, 0, len(all)-1)
	for _, rec := range all[1:] {
		if isBlank(rec) {
			continue
		}
		rows = append(rows, rec)
	}
	return all[0], rows, nil
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func isTruthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1":
		return true
	}
	return false
}

func splitTags(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
