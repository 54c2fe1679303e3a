package utils

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MinTitleSimilarity is the score a search result needs to be accepted
const MinTitleSimilarity = 0.8

var foldCaser = cases.Fold()

// NormalizeTitle folds a title for comparison and cache keys:
// accents stripped, case folded, punctuation dropped, whitespace collapsed.
func NormalizeTitle(title string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, title)
	if err != nil {
		stripped = title
	}
	folded := foldCaser.String(stripped)
	folded = strings.ReplaceAll(folded, "&", " and ")

	var b strings.Builder
	space := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space && b.Len() > 0 {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// TitleSimilarity scores two titles in [0, 1] by edit distance of their normalized forms
func TitleSimilarity(a, b string) float64 {
	na, nb := NormalizeTitle(a), NormalizeTitle(b)
	if na == nb {
		return 1
	}
	longest := len([]rune(na))
	if l := len([]rune(nb)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(na, nb)
	return 1 - float64(dist)/float64(longest)
}

// Candidate is a search result considered for a title lookup
type Candidate struct {
	Title string
	Year  int
	// Index points back into the caller's result slice
	Index int
}

// RankCandidates sorts search results by:
// 1. Year match (when a year is known)
// 2. Title similarity
// 3. Original order
func RankCandidates(title string, year int, candidates []Candidate) []Candidate {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)

	score := make(map[int]float64, len(sorted))
	for _, c := range sorted {
		score[c.Index] = TitleSimilarity(title, c.Title)
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		if year != 0 {
			mi, mj := sorted[i].Year == year, sorted[j].Year == year
			if mi != mj {
				return mi
			}
		}
		return score[sorted[i].Index] > score[sorted[j].Index]
	})
	return sorted
}

// BestCandidate returns the index of the best result, false when none is similar enough.
// A result whose year is off by more than one is never accepted.
func BestCandidate(title string, year int, candidates []Candidate) (int, bool) {
	for _, c := range RankCandidates(title, year, candidates) {
		if year != 0 && c.Year != 0 && abs(c.Year-year) > 1 {
			continue
		}
		if TitleSimilarity(title, c.Title) >= MinTitleSimilarity {
			return c.Index, true
		}
	}
	return 0, false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

var yearRegex = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)

// ExtractYear extracts a 4-digit year from a display title
// Returns 0 if no year is found
// Matches years like: (2009), 2009, [2009], etc.
func ExtractYear(title string) int {
	matches := yearRegex.FindStringSubmatch(title)
	if len(matches) > 1 {
		year, err := strconv.Atoi(matches[1])
		if err == nil {
			return year
		}
	}
	return 0
}
