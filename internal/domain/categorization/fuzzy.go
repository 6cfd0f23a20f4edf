package categorization

import (
	"sort"
	"strings"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// MerchantName is a canonical merchant the fuzzy matcher can resolve to.
type MerchantName struct {
	Name     string
	Category string
}

// FuzzyMatchResult represents a fuzzy match with its similarity score
type FuzzyMatchResult struct {
	Name     string
	Category string
	Score    int // 0-100, higher is closer
	Distance int // Levenshtein distance
}

// FuzzyMatcher catches merchant variations the regex sanitizer misses, like
// "STARBUKS 0421" or "WHOLEFOODS MKT", using Levenshtein distance.
type FuzzyMatcher struct {
	entries []fuzzyEntry
	mu      sync.RWMutex
}

type fuzzyEntry struct {
	normalized string
	name       string
	category   string
}

// NewFuzzyMatcher creates a matcher over the given merchants.
func NewFuzzyMatcher(merchants []MerchantName) *FuzzyMatcher {
	fm := &FuzzyMatcher{}
	fm.Build(merchants)
	return fm
}

// Build replaces the merchant set.
func (fm *FuzzyMatcher) Build(merchants []MerchantName) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	seen := make(map[string]bool, len(merchants))
	fm.entries = make([]fuzzyEntry, 0, len(merchants))
	for _, m := range merchants {
		normalized := strings.ToUpper(strings.TrimSpace(m.Name))
		if normalized == "" || seen[normalized] {
			continue
		}
		seen[normalized] = true
		fm.entries = append(fm.entries, fuzzyEntry{normalized: normalized, name: m.Name, category: m.Category})
	}
}

// Match returns the closest merchant scoring at least threshold, or nil.
func (fm *FuzzyMatcher) Match(raw string, threshold int) *FuzzyMatchResult {
	fm.mu.RLock()
	defer fm.mu.RUnlock()

	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if normalized == "" {
		return nil
	}

	var best *FuzzyMatchResult
	for _, e := range fm.entries {
		score := fuzzyScore(normalized, e.normalized)
		if score < threshold || (best != nil && score <= best.Score) {
			continue
		}
		best = &FuzzyMatchResult{
			Name:     e.name,
			Category: e.category,
			Score:    score,
			Distance: levenshteinDistance(normalized, e.normalized),
		}
	}
	return best
}

// RankMatches returns every merchant ranked by similarity to raw.
func (fm *FuzzyMatcher) RankMatches(raw string, limit int) []FuzzyMatchResult {
	fm.mu.RLock()
	defer fm.mu.RUnlock()

	normalized := strings.ToUpper(strings.TrimSpace(raw))
	results := make([]FuzzyMatchResult, 0, len(fm.entries))
	for _, e := range fm.entries {
		results = append(results, FuzzyMatchResult{
			Name:     e.name,
			Category: e.category,
			Score:    fuzzyScore(normalized, e.normalized),
			Distance: levenshteinDistance(normalized, e.normalized),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}
	return results
}

// GroupSimilar clusters raw merchant strings whose similarity reaches
// threshold. The first string of each group is its key.
func GroupSimilar(raws []string, threshold int) map[string][]string {
	groups := make(map[string][]string)
	assigned := make([]bool, len(raws))

	for i, raw := range raws {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		group := []string{raw}
		for j := i + 1; j < len(raws); j++ {
			if assigned[j] {
				continue
			}
			if fuzzyScore(strings.ToUpper(raw), strings.ToUpper(raws[j])) >= threshold {
				group = append(group, raws[j])
				assigned[j] = true
			}
		}
		groups[raw] = group
	}
	return groups
}

// fuzzyScore combines containment, Levenshtein distance and subsequence
// ranking into a 0-100 similarity.
func fuzzyScore(s1, s2 string) int {
	if s1 == s2 {
		return 100
	}
	if s1 == "" || s2 == "" {
		return 0
	}

	// Store numbers and suffixes usually extend the canonical name.
	if strings.Contains(s1, s2) {
		return 75 + (25 * len(s2) / len(s1))
	}
	if strings.Contains(s2, s1) {
		return 75 + (25 * len(s1) / len(s2))
	}

	maxLen := max(len(s1), len(s2))
	levenshteinScore := 100 * (maxLen - levenshteinDistance(s1, s2)) / maxLen

	subsequenceScore := 0
	if rank := fuzzy.RankMatch(s2, s1); rank >= 0 && rank < len(s1) {
		subsequenceScore = 60 - (rank * 40 / len(s1))
	}

	return max(levenshteinScore, subsequenceScore)
}

// levenshteinDistance calculates the edit distance between two strings
func levenshteinDistance(s1, s2 string) int {
	r1, r2 := []rune(s1), []rune(s2)
	if len(r1) == 0 {
		return len(r2)
	}
	if len(r2) == 0 {
		return len(r1)
	}

	prev := make([]int, len(r2)+1)
	curr := make([]int, len(r2)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(r1); i++ {
		curr[0] = i
		for j := 1; j <= len(r2); j++ {
			cost := 1
			if r1[i-1] == r2[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(r2)]
}
