// Package textutil holds text cleanup shared by the OCR pipeline and export.
package textutil

import (
	"strings"

	"golang.org/x/net/html"
)

// Clean normalizes OCR and legacy text: CRLF to LF, zero-width and soft
// hyphen removal, NBSP to space, trailing whitespace trimmed, runs of blank
// lines collapsed to at most two, and intra-line whitespace normalized while
// preserving leading indentation.
func Clean(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	text = strings.Map(func(r rune) rune {
		switch r {
		case '\u200B', '\u200C', '\u200D', '\uFEFF':
			return -1
		case '\u00A0':
			return ' '
		case '\u00AD':
			return -1
		default:
			return r
		}
	}, text)

	lines := strings.Split(text, "\n")
	var cleaned []string
	consecutiveEmpty := 0

	for _, line := range lines {
		line = strings.TrimRight(line, " \t")

		if strings.TrimSpace(line) == "" {
			consecutiveEmpty++
			if consecutiveEmpty <= 2 {
				cleaned = append(cleaned, "")
			}
			continue
		}

		consecutiveEmpty = 0

		leadingSpaces := len(line) - len(strings.TrimLeft(line, " \t"))
		content := strings.TrimSpace(line)

		words := strings.Fields(content)
		normalized := strings.Join(words, " ")

		if leadingSpaces > 0 {
			line = strings.Repeat(" ", leadingSpaces) + normalized
		} else {
			line = normalized
		}

		cleaned = append(cleaned, line)
	}

	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}

// Counts returns word and rune counts for text.
func Counts(text string) (wordCount int, charCount int) {
	charCount = len([]rune(text))
	inWord := false
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' || r == '\r' {
			if inWord {
				wordCount++
				inWord = false
			}
			continue
		}
		inWord = true
	}
	if inWord {
		wordCount++
	}
	return
}

// StripHTML drops markup from legacy summaries, keeping text content. Script
// and style bodies are discarded entirely.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<>") {
		return s
	}

	tok := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skipDepth := 0

	for {
		tt := tok.Next()
		switch tt {
		case html.ErrorToken:
			return Clean(b.String())
		case html.StartTagToken:
			name, _ := tok.TagName()
			switch string(name) {
			case "script", "style":
				skipDepth++
			case "br", "p", "div", "li":
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := tok.TagName()
			switch string(name) {
			case "script", "style":
				if skipDepth > 0 {
					skipDepth--
				}
			case "p", "div", "li":
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(tok.Text())
			}
		}
	}
}

// Truncate cuts text to at most max runes, appending an ellipsis when cut.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
