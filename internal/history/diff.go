// Package history computes readable diffs between revision values so
// editors can see what changed between saves of a record field.
package history

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Op labels a diff segment.
type Op string

const (
	OpEqual  Op = "equal"
	OpInsert Op = "insert"
	OpDelete Op = "delete"
)

// Segment is one run of text sharing a single diff operation.
type Segment struct {
	Op   Op     `json:"op"`
	Text string `json:"text"`
}

// Diff compares two field values at word granularity. Adjacent
// whitespace travels with the preceding word so segments rejoin into
// the original strings. Identical inputs yield a single equal segment.
func Diff(before, after string) []Segment {
	if before == after {
		if before == "" {
			return []Segment{}
		}
		return []Segment{{Op: OpEqual, Text: before}}
	}

	dmp := diffmatchpatch.New()
	c1, c2, words := wordsToChars(before, after)
	diffs := dmp.DiffMain(c1, c2, false)

	segs := make([]Segment, 0, len(diffs))
	for _, d := range diffs {
		text := charsToWords(d.Text, words)
		if text == "" {
			continue
		}
		seg := Segment{Text: text}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			seg.Op = OpInsert
		case diffmatchpatch.DiffDelete:
			seg.Op = OpDelete
		default:
			seg.Op = OpEqual
		}
		// Merge adjacent runs sharing an op.
		if n := len(segs); n > 0 && segs[n-1].Op == seg.Op {
			segs[n-1].Text += seg.Text
			continue
		}
		segs = append(segs, seg)
	}
	return segs
}

// wordsToChars is the lines-to-chars encoding from diffmatchpatch
// applied to words, so DiffMain operates on whole words instead of
// individual runes. charsToWords reverses it, one word per rune.
func wordsToChars(text1, text2 string) (string, string, []string) {
	words := []string{""} // index 0 stays unused so runes map 1:1 to words
	index := map[string]int{}

	encode := func(text string) string {
		var sb strings.Builder
		for _, w := range splitWords(text) {
			i, ok := index[w]
			if !ok {
				words = append(words, w)
				i = len(words) - 1
				index[w] = i
			}
			sb.WriteRune(rune(i))
		}
		return sb.String()
	}
	return encode(text1), encode(text2), words
}

func charsToWords(encoded string, words []string) string {
	var sb strings.Builder
	for _, r := range encoded {
		if int(r) < len(words) {
			sb.WriteString(words[r])
		}
	}
	return sb.String()
}

// splitWords breaks text into tokens, each carrying its trailing
// whitespace, so concatenating tokens reproduces the input exactly.
func splitWords(text string) []string {
	var out []string
	start := 0
	inSpace := false
	for i, r := range text {
		isSpace := r == ' ' || r == '\t' || r == '\n' || r == '\r'
		if inSpace && !isSpace {
			out = append(out, text[start:i])
			start = i
		}
		inSpace = isSpace
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}
