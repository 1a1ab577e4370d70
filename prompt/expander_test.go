package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestExpand_NoChoiceGroup(t *testing.T) {
	assert.Equal(t, []string{"hello world"}, Expand("hello world"))
	assert.Equal(t, []string{""}, Expand(""))
}

func TestExpand_SingleGroup(t *testing.T) {
	assert.Equal(t, []string{"a cat", "a dog"}, Expand("a {cat|dog}"))
}

func TestExpand_CardinalityAndOrder(t *testing.T) {
	got := Expand("a{1|2}b{x|y|z}c")
	// First group is the outermost loop: it varies slowest.
	want := []string{
		"a1bxc", "a1byc", "a1bzc",
		"a2bxc", "a2byc", "a2bzc",
	}
	assert.Equal(t, want, got)
	assert.Equal(t, 6, Combinations("a{1|2}b{x|y|z}c"))
}

func TestExpand_EmptyAlternative(t *testing.T) {
	assert.Equal(t, []string{"a photo", "a"}, Expand("a{ photo|}"))
}

func TestExpand_UnbalancedBracesTreatedLiterally(t *testing.T) {
	assert.Equal(t, []string{"a {cat"}, Expand("a {cat"))
	assert.Equal(t, []string{"a cat}"}, Expand("a cat}"))
	assert.Equal(t, []string{"{}"}, Expand("{}"))
}

func TestExpand_BraceReopenedInsideGroup(t *testing.T) {
	// The stray '{' stays literal; the innermost balanced group expands.
	assert.Equal(t, []string{"a{bc e", "a{bd e"}, Expand("a{b{c|d} e"))
}

func TestExpand_AdjacentGroups(t *testing.T) {
	got := Expand("{a|b}{1|2}")
	assert.Equal(t, []string{"a1", "a2", "b1", "b2"}, got)
}

func TestExpand_Idempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tmpl := rapid.String().Draw(t, "tmpl")
		first := Expand(tmpl)
		second := Expand(tmpl)
		assert.Equal(t, first, second)
	})
}

func TestExpand_CardinalityMatchesGroupProduct(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		alt := rapid.StringMatching(`[a-z]{0,4}`)
		nGroups := rapid.IntRange(0, 4).Draw(t, "groups")
		var b strings.Builder
		expect := 1
		for i := 0; i < nGroups; i++ {
			b.WriteString(alt.Draw(t, "lit"))
			n := rapid.IntRange(1, 4).Draw(t, "alts")
			opts := make([]string, n)
			for j := range opts {
				opts[j] = alt.Draw(t, "opt")
			}
			b.WriteString("{" + strings.Join(opts, "|") + "}")
			expect *= n
		}
		b.WriteString(alt.Draw(t, "tail"))
		got := Expand(b.String())
		assert.Len(t, got, expect)
	})
}
