package categorization

import (
	"regexp"
	"strings"
	"unicode"
)

// MerchantInfo is the sanitized form of a raw merchant string.
type MerchantInfo struct {
	OriginalName   string
	NormalizedName string
	Category       string // empty when no known merchant matched
}

// MerchantPattern maps a raw merchant regexp to a display name and category.
type MerchantPattern struct {
	Pattern  *regexp.Regexp
	Name     string
	Category string
}

// MerchantSanitizer normalizes merchant names and detects categories for
// well known merchants.
type MerchantSanitizer struct {
	patterns []MerchantPattern
}

// NewMerchantSanitizer creates a sanitizer with the built-in patterns.
func NewMerchantSanitizer() *MerchantSanitizer {
	return &MerchantSanitizer{patterns: defaultMerchantPatterns()}
}

// Sanitize cleans rawMerchant and maps it to a known merchant when possible.
func (s *MerchantSanitizer) Sanitize(rawMerchant string) MerchantInfo {
	cleaned := cleanMerchantName(rawMerchant)
	result := MerchantInfo{OriginalName: rawMerchant, NormalizedName: cleaned}

	upper := strings.ToUpper(cleaned)
	for _, p := range s.patterns {
		if p.Pattern.MatchString(upper) {
			result.NormalizedName = p.Name
			result.Category = p.Category
			return result
		}
	}

	result.NormalizedName = titleCase(cleaned)
	return result
}

// AddPattern registers a custom merchant pattern ahead of the built-ins.
func (s *MerchantSanitizer) AddPattern(pattern, name, category string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.patterns = append([]MerchantPattern{{Pattern: re, Name: name, Category: category}}, s.patterns...)
	return nil
}

// Names returns the display names of every known merchant.
func (s *MerchantSanitizer) Names() []MerchantName {
	out := make([]MerchantName, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, MerchantName{Name: p.Name, Category: p.Category})
	}
	return out
}

var (
	merchantPrefixes = []string{
		"POS ", "PURCHASE ", "DEBIT CARD ", "DEBIT ", "CHECKCARD ", "CHECK CARD ",
		"RECURRING ", "ACH ", "PAYMENT ", "VISA ", "MASTERCARD ", "SQ *", "TST* ", "PAYPAL *",
	}
	refSuffix  = regexp.MustCompile(`\s*[#*]\s*\d+$|\s+\d{4,}$`)
	dateSuffix = regexp.MustCompile(`\s+\d{1,2}/\d{1,2}(/\d{2,4})?$`)
	spaces     = regexp.MustCompile(`\s+`)
)

// cleanMerchantName removes processor prefixes, trailing dates and
// reference numbers.
func cleanMerchantName(raw string) string {
	result := strings.TrimSpace(raw)

	upper := strings.ToUpper(result)
	for _, prefix := range merchantPrefixes {
		if strings.HasPrefix(upper, prefix) {
			result = strings.TrimSpace(result[len(prefix):])
			break
		}
	}

	result = dateSuffix.ReplaceAllString(result, "")
	result = refSuffix.ReplaceAllString(result, "")
	result = spaces.ReplaceAllString(result, " ")
	return strings.TrimSpace(result)
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, word := range words {
		r := []rune(strings.ToLower(word))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

func defaultMerchantPatterns() []MerchantPattern {
	p := func(expr, name, category string) MerchantPattern {
		return MerchantPattern{Pattern: regexp.MustCompile(`(?i)` + expr), Name: name, Category: category}
	}
	return []MerchantPattern{
		// Groceries
		p(`WHOLE\s*FOODS|WHOLEFDS`, "Whole Foods", "Groceries"),
		p(`TRADER\s*JOE`, "Trader Joe's", "Groceries"),
		p(`SAFEWAY`, "Safeway", "Groceries"),
		p(`KROGER`, "Kroger", "Groceries"),
		p(`\bALDI\b`, "Aldi", "Groceries"),
		p(`INSTACART`, "Instacart", "Groceries"),

		// Dining
		p(`STARBUCKS`, "Starbucks", "Dining & Drinks"),
		p(`MC\s*DONALD`, "McDonald's", "Dining & Drinks"),
		p(`CHIPOTLE`, "Chipotle", "Dining & Drinks"),
		p(`UBER\s*EATS`, "Uber Eats", "Dining & Drinks"),
		p(`DOORDASH|DD\s*\*DOORDASH`, "DoorDash", "Dining & Drinks"),
		p(`GRUBHUB`, "Grubhub", "Dining & Drinks"),

		// Transport (delivery patterns above win for UBER EATS)
		p(`\bUBER\b`, "Uber", "Auto & Transport"),
		p(`\bLYFT\b`, "Lyft", "Auto & Transport"),
		p(`SHELL\s*OIL|\bSHELL\b`, "Shell", "Auto & Transport"),
		p(`CHEVRON`, "Chevron", "Auto & Transport"),

		// Shopping
		p(`AMAZON|AMZN`, "Amazon", "Shopping"),
		p(`TARGET`, "Target", "Shopping"),
		p(`WAL-?MART`, "Walmart", "Shopping"),
		p(`COSTCO`, "Costco", "Shopping"),
		p(`BEST\s*BUY`, "Best Buy", "Shopping"),
		p(`\bIKEA\b`, "IKEA", "Home & Garden"),
		p(`HOME\s*DEPOT`, "The Home Depot", "Home & Garden"),

		// Subscriptions and software
		p(`NETFLIX`, "Netflix", "Subscriptions"),
		p(`SPOTIFY`, "Spotify", "Subscriptions"),
		p(`HULU`, "Hulu", "Subscriptions"),
		p(`DISNEY\s*(\+|PLUS)`, "Disney+", "Subscriptions"),
		p(`APPLE\.COM/BILL|APPLE\s*MUSIC`, "Apple", "Subscriptions"),
		p(`GITHUB`, "GitHub", "Software & Tech"),
		p(`OPENAI`, "OpenAI", "Software & Tech"),

		// Utilities
		p(`COMCAST|XFINITY`, "Xfinity", "Bills & Utilities"),
		p(`VERIZON`, "Verizon", "Bills & Utilities"),
		p(`T-?MOBILE`, "T-Mobile", "Bills & Utilities"),

		// Health
		p(`\bCVS\b`, "CVS", "Medical"),
		p(`WALGREENS`, "Walgreens", "Medical"),

		// Finance
		p(`VENMO`, "Venmo", "Internal Transfers"),
		p(`ZELLE`, "Zelle", "Internal Transfers"),
		p(`PAYPAL`, "PayPal", "Shopping"),
		p(`AIRBNB`, "Airbnb", "Travel & Vacation"),
	}
}
