package pdfmeta

import (
	"math"
	"testing"
)

func TestCropRectValidate(t *testing.T) {
	ok := CropRect{X: 0.1, Y: 0.1, W: 0.5, H: 0.5}
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected valid rect, got %v", err)
	}

	bad := []CropRect{
		{X: -0.1, Y: 0, W: 0.5, H: 0.5},
		{X: 0, Y: 0, W: 0, H: 0.5},
		{X: 0.8, Y: 0, W: 0.5, H: 0.5},
		{X: 0, Y: 0.9, W: 0.1, H: 0.2},
	}
	for _, c := range bad {
		if err := c.Validate(); err == nil {
			t.Fatalf("expected rect %+v to be rejected", c)
		}
	}
}

func TestCropRectClamp(t *testing.T) {
	c := CropRect{X: -0.1, Y: 0.5, W: 0.5, H: 0.7}.Clamp()
	if err := c.Validate(); err != nil {
		t.Fatalf("clamped rect still invalid: %v (%+v)", err, c)
	}
	if c.X != 0 {
		t.Fatalf("expected X clamped to 0, got %f", c.X)
	}
	if math.Abs(c.W-0.4) > 1e-9 {
		t.Fatalf("expected W shrunk to 0.4, got %f", c.W)
	}
	if math.Abs(c.Y+c.H-1) > 1e-9 {
		t.Fatalf("expected bottom edge clamped to 1, got %f", c.Y+c.H)
	}
}

func TestCropRectIntersects(t *testing.T) {
	a := CropRect{X: 0, Y: 0, W: 0.5, H: 0.5}
	b := CropRect{X: 0.4, Y: 0.4, W: 0.5, H: 0.5}
	c := CropRect{X: 0.5, Y: 0.5, W: 0.4, H: 0.4}

	if !a.Intersects(b) {
		t.Fatalf("expected a and b to intersect")
	}
	// Shared edge only, zero area.
	if a.Intersects(c) {
		t.Fatalf("edge contact should not count as intersection")
	}
}

func TestPageRangeValidate(t *testing.T) {
	if err := (PageRange{Start: 3, End: 7}).Validate(10); err != nil {
		t.Fatalf("expected valid range, got %v", err)
	}
	cases := []PageRange{
		{Start: 0, End: 2},
		{Start: 5, End: 4},
		{Start: 1, End: 11},
	}
	for _, c := range cases {
		if err := c.Validate(10); err == nil {
			t.Fatalf("expected range %+v to be rejected", c)
		}
	}
}

func TestPageRangePages(t *testing.T) {
	got := PageRange{Start: 4, End: 6}.Pages()
	want := []int{4, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestPageRangeOverlaps(t *testing.T) {
	a := PageRange{Start: 1, End: 5}
	if !a.Overlaps(PageRange{Start: 5, End: 8}) {
		t.Fatalf("ranges sharing page 5 should overlap")
	}
	if a.Overlaps(PageRange{Start: 6, End: 8}) {
		t.Fatalf("disjoint ranges should not overlap")
	}
}
