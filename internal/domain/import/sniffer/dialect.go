package sniffer

import (
	"strconv"
	"strings"
)

// Dialect is the inferred regional format of amounts and dates.
type Dialect struct {
	DecimalComma bool // 1.234,56
	DayFirst     bool // 31/01/2025
	DateFormat   string
	Confidence   float64
}

// ProbeDialect inspects the sample rows' amount and date columns. Negative
// indexes are ignored.
func ProbeDialect(rows [][]string, amountCol, dateCol int) Dialect {
	var comma, dot int
	var dayFirst, monthFirst bool
	var firstDate string

	for _, row := range rows {
		if amountCol >= 0 && amountCol < len(row) {
			switch amountHint(row[amountCol]) {
			case 1:
				comma++
			case -1:
				dot++
			}
		}
		if dateCol >= 0 && dateCol < len(row) {
			v := strings.TrimSpace(row[dateCol])
			if v == "" {
				continue
			}
			if firstDate == "" {
				firstDate = v
			}
			if leads(v, 0) {
				dayFirst = true
			}
			if leads(v, 1) {
				monthFirst = true
			}
		}
	}

	d := Dialect{DecimalComma: comma > dot, Confidence: 0.5}
	if total := comma + dot; total > 0 {
		d.Confidence = float64(max(comma, dot)) / float64(total)
	}
	d.DayFirst = dayFirst || (!monthFirst && d.DecimalComma)
	d.DateFormat = DateFormatOf(firstDate, d.DayFirst)
	return d
}

// amountHint returns 1 for a decimal comma, -1 for a decimal point and 0
// when the value is ambiguous.
func amountHint(v string) int {
	v = strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == ',' || r == '.' {
			return r
		}
		return -1
	}, v)
	lastComma, lastDot := strings.LastIndex(v, ","), strings.LastIndex(v, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			return 1
		}
		return -1
	case lastComma >= 0 && len(v)-lastComma-1 <= 2:
		return 1
	case lastDot >= 0 && len(v)-lastDot-1 <= 2:
		return -1
	}
	return 0
}

func dateParts(v string) []string {
	return strings.FieldsFunc(v, func(r rune) bool { return r == '/' || r == '-' || r == '.' })
}

// leads reports whether date component i can only be a day.
func leads(v string, i int) bool {
	parts := dateParts(v)
	if len(parts) != 3 || len(parts[0]) == 4 {
		return false
	}
	n, err := strconv.Atoi(parts[i])
	return err == nil && n > 12 && n <= 31
}

// DateFormatOf builds a strftime format matching sample. It returns "" when
// the sample is not a numeric date.
func DateFormatOf(sample string, dayFirst bool) string {
	sample = strings.TrimSpace(sample)
	if sample == "" {
		return ""
	}
	sep := ""
	for _, s := range []string{"/", "-", "."} {
		if strings.Contains(sample, s) {
			sep = s
			break
		}
	}
	parts := dateParts(sample)
	if sep == "" || len(parts) != 3 {
		return ""
	}
	for _, p := range parts {
		if _, err := strconv.Atoi(p); err != nil {
			return ""
		}
	}

	if len(parts[0]) == 4 {
		return "%Y" + sep + "%m" + sep + "%d"
	}
	year := "%Y"
	if len(parts[2]) == 2 {
		year = "%y"
	}
	if dayFirst {
		return "%d" + sep + "%m" + sep + year
	}
	return "%m" + sep + "%d" + sep + year
}
