package bootstrap

import (
	"strings"
	"unicode/utf8"

	"github.com/scribadev/scriba/pkg/dms"
	"github.com/scribadev/scriba/pkg/store"
)

const (
	// levenshteinMaxLen keeps edit distance off long names, where a
	// small distance no longer means a near-duplicate.
	levenshteinMaxLen = 20

	levenshteinThreshold = 0.7
)

// similarity scores two entity names on the duplicate scale: 1.0 for
// an exact match after normalization, 0.8 when one name contains the
// other, and the Levenshtein ratio for short names. ok is false below
// the merge threshold.
func similarity(a, b string) (float64, bool) {
	na := store.NormalizeName(a)
	nb := store.NormalizeName(b)
	if na == "" || nb == "" {
		return 0, false
	}
	if na == nb {
		return 1.0, true
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return 0.8, true
	}
	la := utf8.RuneCountInString(na)
	lb := utf8.RuneCountInString(nb)
	if la > levenshteinMaxLen || lb > levenshteinMaxLen {
		return 0, false
	}
	sim := 1 - float64(levenshtein(na, nb))/float64(max(la, lb))
	if sim < levenshteinThreshold {
		return 0, false
	}
	return sim, true
}

// levenshtein is the two-row edit distance over runes.
func levenshtein(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// mergePair is one duplicate candidate: source folds into target.
type mergePair struct {
	source     *dms.Entity
	target     *dms.Entity
	similarity float64
}

// mergeCandidates pairs entities whose names score as duplicates. The
// entity with more documents survives as the merge target; on a tie
// the earlier-listed one does. Each unordered pair is considered once.
func mergeCandidates(entities []*dms.Entity) []mergePair {
	var pairs []mergePair
	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			sim, ok := similarity(entities[i].Name, entities[j].Name)
			if !ok {
				continue
			}
			target, source := entities[i], entities[j]
			if source.DocumentCount > target.DocumentCount {
				target, source = source, target
			}
			pairs = append(pairs, mergePair{source: source, target: target, similarity: sim})
		}
	}
	return pairs
}
