// Package sniffer guesses the layout of delimited text exports: delimiter,
// header row, column roles and the regional number and date format.
package sniffer

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"unicode"
)

var (
	ErrEmptyFile = errors.New("file is empty")
	ErrNoHeader  = errors.New("could not find a header row")
)

const (
	maxHeaderSearch = 20
	sampleSize      = 5
)

// Header keywords seen in bank and budgeting-app exports.
var headerKeywords = []string{
	"date", "posted", "description", "memo", "payee", "merchant", "name", "amount",
	"debit", "credit", "withdrawal", "deposit", "balance", "category", "account",
	"fecha", "importe", "descripcion", "data", "valor",
}

var delimiters = []rune{',', ';', '\t', '|'}

// Layout is the sniffed structure of a delimited file.
type Layout struct {
	Delimiter   rune
	HeaderRow   int // lines before the header
	Headers     []string
	Fingerprint string // hash of the normalized header names
	Samples     [][]string
}

// Sniff finds the header row among the first lines of data and reads a few
// sample records after it.
func Sniff(data []byte) (*Layout, error) {
	data = bytes.TrimPrefix(data, []byte("\xEF\xBB\xBF"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyFile
	}

	lines := strings.Split(string(data), "\n")
	delim, row, err := findHeader(lines)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(strings.NewReader(strings.TrimSpace(lines[row])))
	r.Comma = delim
	r.LazyQuotes = true
	headers, err := r.Read()
	if err != nil {
		return nil, err
	}
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}

	return &Layout{
		Delimiter:   delim,
		HeaderRow:   row,
		Headers:     headers,
		Fingerprint: Fingerprint(headers),
		Samples:     samples(lines[row+1:], delim),
	}, nil
}

// findHeader prefers the widest line containing a header keyword and falls
// back to the widest line overall.
func findHeader(lines []string) (rune, int, error) {
	bestKw, bestKwCols, bestKwDelim := -1, 0, rune(0)
	bestAny, bestAnyCols, bestAnyDelim := -1, 0, rune(0)

	for i, line := range lines {
		if i >= maxHeaderSearch {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		delim, n := detectDelimiter(line)
		if n == 0 {
			continue
		}

		if hasKeyword(line) {
			if n > bestKwCols {
				bestKw, bestKwCols, bestKwDelim = i, n, delim
			}
		} else if n > bestAnyCols {
			bestAny, bestAnyCols, bestAnyDelim = i, n, delim
		}
	}

	switch {
	case bestKw >= 0 && bestKwCols >= 2:
		return bestKwDelim, bestKw, nil
	case bestAny >= 0 && bestAnyCols >= 2:
		return bestAnyDelim, bestAny, nil
	}
	return 0, 0, ErrNoHeader
}

func hasKeyword(line string) bool {
	lower := strings.ToLower(line)
	for _, kw := range headerKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// detectDelimiter returns the most frequent candidate delimiter and its count.
func detectDelimiter(line string) (rune, int) {
	best, count := rune(0), 0
	for _, d := range delimiters {
		if n := strings.Count(line, string(d)); n > count {
			best, count = d, n
		}
	}
	return best, count
}

func samples(lines []string, delim rune) [][]string {
	r := csv.NewReader(strings.NewReader(strings.Join(lines, "\n")))
	r.Comma = delim
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	var out [][]string
	for len(out) < sampleSize {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Fingerprint hashes the lowercased alphanumeric header names, so cosmetic
// changes to a header keep the same fingerprint.
func Fingerprint(headers []string) string {
	var parts []string
	for _, h := range headers {
		clean := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return unicode.ToLower(r)
			}
			return -1
		}, h)
		if clean != "" {
			parts = append(parts, clean)
		}
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
