package parser

import (
	"strings"
	"time"
)

var strftimeDirectives = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'b': "Jan",
	'B': "January",
	'H': "15",
	'I': "03",
	'M': "04",
	'S': "05",
	'p': "PM",
	'a': "Mon",
	'A': "Monday",
	'%': "%",
}

// strftimeLayout converts a strftime format such as "%m/%d/%Y" into a Go
// layout. ok is false for directives without a Go equivalent.
func strftimeLayout(format string) (layout string, ok bool) {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(format) {
			return "", false
		}
		i++
		repl, found := strftimeDirectives[format[i]]
		if !found {
			return "", false
		}
		b.WriteString(repl)
	}
	return b.String(), true
}

// lenientLayout accepts single-digit month and day values the way strptime does.
func lenientLayout(layout string) string {
	layout = strings.Replace(layout, "01", "1", 1)
	return strings.Replace(layout, "02", "2", 1)
}

// NormalizeDate rewrites value from the strftime format to YYYY-MM-DD. The
// input is returned unchanged when it does not parse.
func NormalizeDate(value, format string) string {
	layout, ok := strftimeLayout(format)
	if !ok {
		return value
	}
	v := strings.TrimSpace(value)
	for _, l := range []string{layout, lenientLayout(layout)} {
		if t, err := time.Parse(l, v); err == nil {
			return t.Format(time.DateOnly)
		}
	}
	return value
}
