// Package wikipedia fetches article text from the MediaWiki API.
package wikipedia

import "strings"

// ParseCorpus splits a comma-separated list of page titles. Titles are
// trimmed, empty entries are dropped, and repeated titles keep only their
// first occurrence.
func ParseCorpus(raw string) []string {
	parts := strings.Split(raw, ",")
	titles := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		titles = append(titles, p)
	}
	return titles
}

// CorpusKey is the canonical form of a title list, used to cache indexes
// built for the same corpus.
func CorpusKey(titles []string) string {
	return strings.Join(titles, ", ")
}
