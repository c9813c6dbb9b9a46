package pdfmeta

import "fmt"

// CropRect is a crop rectangle normalized to page fractions: X/Y is the
// top-left corner with the origin at the page's top-left, W/H the extent.
// All values live in [0,1].
type CropRect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Validate rejects rects outside the unit square or with non-positive area.
func (c CropRect) Validate() error {
	if c.X < 0 || c.Y < 0 || c.X > 1 || c.Y > 1 {
		return fmt.Errorf("crop origin (%.3f, %.3f) outside page", c.X, c.Y)
	}
	if c.W <= 0 || c.H <= 0 {
		return fmt.Errorf("crop dimensions (%.3f x %.3f) must be positive", c.W, c.H)
	}
	if c.X+c.W > 1 || c.Y+c.H > 1 {
		return fmt.Errorf("crop extends past page edge")
	}
	return nil
}

// Clamp snaps the rect into the unit square, preserving as much area as
// possible. Used for rects drawn slightly past the page edge.
func (c CropRect) Clamp() CropRect {
	if c.X < 0 {
		c.W += c.X
		c.X = 0
	}
	if c.Y < 0 {
		c.H += c.Y
		c.Y = 0
	}
	if c.X > 1 {
		c.X = 1
	}
	if c.Y > 1 {
		c.Y = 1
	}
	if c.X+c.W > 1 {
		c.W = 1 - c.X
	}
	if c.Y+c.H > 1 {
		c.H = 1 - c.Y
	}
	if c.W < 0 {
		c.W = 0
	}
	if c.H < 0 {
		c.H = 0
	}
	return c
}

// Intersects reports whether two rects share positive area.
func (c CropRect) Intersects(o CropRect) bool {
	return c.X < o.X+o.W && o.X < c.X+c.W && c.Y < o.Y+o.H && o.Y < c.Y+c.H
}

// PageRange is a 1-based inclusive span of issue pages.
type PageRange struct {
	Start int `json:"startPage"`
	End   int `json:"endPage"`
}

// Validate checks the range against the issue's page count.
func (r PageRange) Validate(pageCount int) error {
	if r.Start < 1 {
		return fmt.Errorf("start page %d must be >= 1", r.Start)
	}
	if r.End < r.Start {
		return fmt.Errorf("end page %d precedes start page %d", r.End, r.Start)
	}
	if pageCount > 0 && r.End > pageCount {
		return fmt.Errorf("end page %d exceeds issue page count %d", r.End, pageCount)
	}
	return nil
}

// Pages expands the range into an explicit page list.
func (r PageRange) Pages() []int {
	if r.End < r.Start {
		return nil
	}
	out := make([]int, 0, r.End-r.Start+1)
	for p := r.Start; p <= r.End; p++ {
		out = append(out, p)
	}
	return out
}

// Overlaps reports whether two ranges share a page.
func (r PageRange) Overlaps(o PageRange) bool {
	return r.Start <= o.End && o.Start <= r.End
}
