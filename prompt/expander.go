// Package prompt expands generation prompt templates.
//
// A template may contain choice groups written as {a|b|c}. Expand produces the
// Cartesian product of all groups, preserving literal text verbatim. The first
// group is the outermost loop of the enumeration, so it varies slowest.
package prompt

import "strings"

// Expand parses a template and returns every combination of its choice groups.
//
// Edge cases: a template with no choice group expands to itself alone; an
// empty alternative ({a|}) is a valid empty-string choice; unbalanced braces
// are treated as literal text and never fail. Expand is pure and
// deterministic.
func Expand(template string) []string {
	literals, groups := tokenize(template)
	if len(groups) == 0 {
		return []string{template}
	}

	var results []string
	var build func(idx int, current string)
	build = func(idx int, current string) {
		if idx == len(groups) {
			results = append(results, current+literals[idx])
			return
		}
		for _, option := range groups[idx] {
			build(idx+1, current+literals[idx]+option)
		}
	}
	build(0, "")
	return results
}

// Combinations returns the number of prompts Expand would produce without
// materializing them.
func Combinations(template string) int {
	_, groups := tokenize(template)
	n := 1
	for _, g := range groups {
		n *= len(g)
	}
	return n
}

// tokenize splits the template into n+1 literal segments interleaved with n
// choice groups. A group is the shortest {...} span containing no nested
// brace; anything else stays literal.
func tokenize(template string) (literals []string, groups [][]string) {
	var lit strings.Builder
	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			break
		}
		close := strings.IndexByte(rest[open:], '}')
		if close < 0 {
			break
		}
		inner := rest[open+1 : open+close]
		if inner == "" || strings.ContainsRune(inner, '{') {
			// Empty braces or a re-opened brace: the '{' is literal.
			lit.WriteString(rest[:open+1])
			rest = rest[open+1:]
			continue
		}
		lit.WriteString(rest[:open])
		literals = append(literals, lit.String())
		lit.Reset()
		groups = append(groups, strings.Split(inner, "|"))
		rest = rest[open+close+1:]
	}
	lit.WriteString(rest)
	literals = append(literals, lit.String())
	return literals, groups
}
