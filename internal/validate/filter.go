package validate

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// Term is a disallowed word stem and its severity.
type Term struct {
	Stem     string
	Severity int
}

// DefaultTerms is the built-in keyword list. Stems match the start of a word.
var DefaultTerms = []Term{
	{"gore", 2},
	{"gory", 2},
	{"torture", 2},
	{"mutilat", 3},
	{"dismember", 3},
	{"decapitat", 3},
	{"disembowel", 3},
	{"rape", 3},
	{"suicide", 3},
	{"genocide", 3},
	{"slaughtered", 1},
	{"massacre", 1},
	{"corpse", 1},
	{"blood", 1},
}

// Filter is a keyword/severity heuristic. Content is rejected once the summed
// severity of distinct matched stems reaches Threshold.
type Filter struct {
	Terms     []Term
	Threshold int
}

// NewFilter returns a filter over DefaultTerms.
func NewFilter() *Filter {
	return &Filter{Terms: DefaultTerms, Threshold: 3}
}

// Check returns an error message for each field that crosses the threshold.
// fields maps a field path to its text.
func (f *Filter) Check(fields map[string]string) []string {
	if f == nil || f.Threshold <= 0 {
		return nil
	}
	paths := make([]string, 0, len(fields))
	for p := range fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var errs []string
	for _, p := range paths {
		hits, score := f.score(fields[p])
		if score >= f.Threshold {
			errs = append(errs, fmt.Sprintf("%s: disallowed content (%s)", p, strings.Join(hits, ", ")))
		}
	}
	return errs
}

func (f *Filter) score(text string) ([]string, int) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	var hits []string
	score := 0
	for _, t := range f.Terms {
		for _, w := range words {
			if strings.HasPrefix(w, t.Stem) {
				hits = append(hits, t.Stem)
				score += t.Severity
				break
			}
		}
	}
	return hits, score
}
