// Package pdfmeta introspects issue PDFs: page counts, text-layer scoring,
// and the page-range/crop arithmetic used when splitting an issue into
// article records.
package pdfmeta

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/pressfold/magarchive/internal/textutil"
)

// PageInfo describes one page of a split preview.
type PageInfo struct {
	PageNumber int    `json:"pageNumber"`
	Text       string `json:"text,omitempty"`
	WordCount  int    `json:"wordCount"`
	NeedsOCR   bool   `json:"needsOcr"`
}

// PageCount returns the number of pages in the PDF at path.
func PageCount(path string) (int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	n := r.NumPage()
	if n <= 0 {
		return 0, fmt.Errorf("pdf has no pages")
	}
	return n, nil
}

// Survey walks the requested 1-based pages and scores each one's text layer.
// Pages with fewer than minWords extracted words are flagged NeedsOCR.
func Survey(ctx context.Context, path string, pages []int, minWords int) ([]PageInfo, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	total := r.NumPage()
	if total <= 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}

	if len(pages) == 0 {
		pages = make([]int, total)
		for i := range pages {
			pages[i] = i + 1
		}
	}

	out := make([]PageInfo, 0, len(pages))
	for _, n := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if n < 1 || n > total {
			return nil, fmt.Errorf("page %d out of range (1..%d)", n, total)
		}

		info := PageInfo{PageNumber: n}

		p := r.Page(n)
		if !p.V.IsNull() {
			if text, err := p.GetPlainText(nil); err == nil {
				info.Text = textutil.Clean(text)
				info.WordCount, _ = textutil.Counts(info.Text)
			}
		}

		if info.WordCount < minWords {
			info.NeedsOCR = true
			info.Text = ""
		}

		out = append(out, info)
	}
	return out, nil
}

// CombinePages joins surveyed page texts with the given separator, skipping
// pages flagged for OCR.
func CombinePages(pages []PageInfo, separator string) string {
	if separator == "" {
		separator = "\n\n---\n\n"
	}
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		if p.NeedsOCR || strings.TrimSpace(p.Text) == "" {
			continue
		}
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, separator)
}
