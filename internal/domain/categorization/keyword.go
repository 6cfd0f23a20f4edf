package categorization

import (
	"strings"
	"sync"

	"github.com/cloudflare/ahocorasick"
)

// Keyword maps a description fragment to a category name.
type Keyword struct {
	Pattern  string
	Category string
	Priority int // higher wins when several keywords match
}

// KeywordMatch is the winning keyword for a description.
type KeywordMatch struct {
	Pattern  string
	Category string
	Priority int
}

// KeywordMatcher matches every keyword against a description in a single
// pass using the Aho-Corasick algorithm.
type KeywordMatcher struct {
	matcher  *ahocorasick.Matcher
	patterns []string
	metadata [][]KeywordMatch // several keywords may share a pattern
	mu       sync.RWMutex
}

// NewKeywordMatcher builds a matcher over keywords.
func NewKeywordMatcher(keywords []Keyword) *KeywordMatcher {
	m := &KeywordMatcher{}
	m.Build(keywords)
	return m
}

// Build replaces the keyword set. Patterns are matched case-insensitively.
func (m *KeywordMatcher) Build(keywords []Keyword) {
	m.mu.Lock()
	defer m.mu.Unlock()

	index := make(map[string]int, len(keywords))
	patterns := make([]string, 0, len(keywords))
	metadata := make([][]KeywordMatch, 0, len(keywords))

	for _, kw := range keywords {
		p := strings.ToUpper(strings.TrimSpace(kw.Pattern))
		if p == "" || kw.Category == "" {
			continue
		}
		match := KeywordMatch{Pattern: p, Category: kw.Category, Priority: kw.Priority}
		if idx, ok := index[p]; ok {
			metadata[idx] = append(metadata[idx], match)
			continue
		}
		index[p] = len(patterns)
		patterns = append(patterns, p)
		metadata = append(metadata, []KeywordMatch{match})
	}

	m.patterns = patterns
	m.metadata = metadata
	m.matcher = nil
	if len(patterns) > 0 {
		m.matcher = ahocorasick.NewStringMatcher(patterns)
	}
}

// Match returns the highest priority keyword found in description. Ties go
// to the longer pattern.
func (m *KeywordMatcher) Match(description string) *KeywordMatch {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.matcher == nil {
		return nil
	}

	var best *KeywordMatch
	for _, idx := range m.matcher.Match([]byte(strings.ToUpper(description))) {
		if idx < 0 || idx >= len(m.metadata) {
			continue
		}
		for i := range m.metadata[idx] {
			candidate := m.metadata[idx][i]
			if best == nil || candidate.Priority > best.Priority ||
				(candidate.Priority == best.Priority && len(candidate.Pattern) > len(best.Pattern)) {
				best = &candidate
			}
		}
	}
	return best
}

// PatternCount returns the number of distinct patterns.
func (m *KeywordMatcher) PatternCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.patterns)
}

// defaultKeywords covers the common US statement fragments for each
// category the providers may return.
func defaultKeywords() []Keyword {
	table := []struct {
		category string
		patterns []string
	}{
		{"Dining & Drinks", []string{"RESTAURANT", "CAFE", "COFFEE", "PIZZA", "BURGER", "TACO", "GRILL", "BAR ", "BREWING", "DOORDASH", "GRUBHUB", "CHIPOTLE", "SWEETGREEN", "DUNKIN"}},
		{"Software & Tech", []string{"GITHUB", "AWS", "DIGITALOCEAN", "GOOGLE CLOUD", "OPENAI", "ADOBE", "DROPBOX", "JETBRAINS", "ATLASSIAN"}},
		{"Shopping", []string{"AMAZON", "AMZN", "TARGET", "WALMART", "BEST BUY", "ETSY", "EBAY", "IKEA", "COSTCO WHSE"}},
		{"Entertainment & Rec.", []string{"CINEMA", "THEATER", "TICKETMASTER", "STEAM", "PLAYSTATION", "XBOX", "NINTENDO", "AMC "}},
		{"Auto & Transport", []string{"UBER", "LYFT", "SHELL", "CHEVRON", "EXXON", "PARKING", "TOLL", "METRO", "TRANSIT", "GAS STATION"}},
		{"Groceries", []string{"GROCERY", "SUPERMARKET", "WHOLE FOODS", "TRADER JOE", "SAFEWAY", "KROGER", "ALDI", "PUBLIX", "WEGMANS"}},
		{"Bills & Utilities", []string{"ELECTRIC", "UTILITY", "WATER BILL", "COMCAST", "XFINITY", "VERIZON", "AT&T", "T-MOBILE", "INTERNET"}},
		{"Health & Wellness", []string{"GYM", "FITNESS", "YOGA", "PELOTON", "EQUINOX"}},
		{"Home & Garden", []string{"HOME DEPOT", "LOWES", "GARDEN", "HARDWARE", "WAYFAIR"}},
		{"Income", []string{"PAYROLL", "DIRECT DEP", "SALARY", "INTEREST PAID", "DIVIDEND"}},
		{"Travel & Vacation", []string{"AIRLINE", "AIRBNB", "HOTEL", "MARRIOTT", "HILTON", "EXPEDIA", "DELTA AIR", "UNITED AIR", "SOUTHWEST"}},
		{"Medical", []string{"PHARMACY", "CVS", "WALGREENS", "DENTAL", "HOSPITAL", "CLINIC", "MEDICAL"}},
		{"Personal Care", []string{"SALON", "BARBER", "SPA ", "SEPHORA", "ULTA"}},
		{"Education", []string{"TUITION", "UNIVERSITY", "COURSERA", "UDEMY", "SCHOOL"}},
		{"Pets", []string{"PETCO", "PETSMART", "CHEWY", "VETERINARY"}},
		{"Fees & Charges", []string{"FEE", "OVERDRAFT", "LATE CHARGE", "FINANCE CHARGE"}},
		{"Legal", []string{"ATTORNEY", "LAW OFFICE", "NOTARY"}},
		{"Gifts & Donations", []string{"DONATION", "CHARITY", "GOFUNDME", "RED CROSS"}},
		{"Taxes", []string{"IRS TREAS", "TAX PAYMENT", "FRANCHISE TAX"}},
		{"Insurance", []string{"INSURANCE", "GEICO", "STATE FARM", "PROGRESSIVE", "ALLSTATE"}},
		{"Kids", []string{"DAYCARE", "TOYS", "BABYSITTER"}},
		{"Cash & ATM", []string{"ATM", "CASH WITHDRAWAL"}},
		{"Investments", []string{"VANGUARD", "FIDELITY", "SCHWAB", "ROBINHOOD", "COINBASE"}},
		{"Savings Transfer", []string{"TO SAVINGS", "SAVINGS TRANSFER"}},
		{"Credit Card Payment", []string{"CREDIT CARD PAYMENT", "AUTOPAY PAYMENT", "CARD PAYMENT"}},
		{"Internal Transfers", []string{"ONLINE TRANSFER", "INTERNAL TRANSFER", "ZELLE", "VENMO"}},
		{"Subscriptions", []string{"NETFLIX", "SPOTIFY", "HULU", "DISNEY PLUS", "YOUTUBE PREMIUM", "PATREON", "SUBSCRIPTION"}},
	}

	var keywords []Keyword
	for _, entry := range table {
		for _, p := range entry.patterns {
			keywords = append(keywords, Keyword{Pattern: p, Category: entry.category})
		}
	}
	// Payment phrases are more specific than the generic fee keyword.
	for i := range keywords {
		switch keywords[i].Category {
		case "Credit Card Payment", "Savings Transfer", "Income":
			keywords[i].Priority = 10
		}
	}
	return keywords
}
