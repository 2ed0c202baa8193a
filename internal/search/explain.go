package search

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/semidx/internal/memory"
)

// Explain produces a human-readable rationale for why a result matched a
// query: shared terms and notable metadata. Informational only; it plays no
// part in ranking.
func Explain(query string, result memory.SearchResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "score %.3f (rank %d)", result.Score, result.Rank)

	shared := sharedTerms(query, result.Record.Text)
	if len(shared) > 0 {
		fmt.Fprintf(&b, "; shared terms: %s", strings.Join(shared, ", "))
	}

	if fw := result.Record.Meta("framework"); fw != "" {
		fmt.Fprintf(&b, "; framework: %s", fw)
	}
	if tags := result.Record.Meta("tags"); tags != "" {
		fmt.Fprintf(&b, "; tags: %s", tags)
	}
	fmt.Fprintf(&b, "; type: %s", result.Record.Type)

	return b.String()
}

// sharedTerms returns the lowercase terms (len > 2) present in both texts,
// sorted for stable output.
func sharedTerms(a, b string) []string {
	inA := make(map[string]bool)
	for _, term := range strings.Fields(strings.ToLower(a)) {
		term = strings.Trim(term, ".,:;!?\"'()")
		if len(term) > 2 {
			inA[term] = true
		}
	}

	seen := make(map[string]bool)
	var shared []string
	for _, term := range strings.Fields(strings.ToLower(b)) {
		term = strings.Trim(term, ".,:;!?\"'()")
		if inA[term] && !seen[term] {
			shared = append(shared, term)
			seen[term] = true
		}
	}
	sort.Strings(shared)
	return shared
}
