// Package export renders a filtered record set as CSV or XLSX for
// download. Both writers stream to the caller and emit a header row
// even when the set is empty.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/pressfold/magarchive/internal/store"
	"github.com/pressfold/magarchive/internal/textutil"
)

// Format selects the output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a ?format= query value. Empty defaults to CSV.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "xlsx":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// ContentType returns the MIME type to serve for the format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Filename derives a download name from the export date.
func (f Format) Filename(now time.Time) string {
	return fmt.Sprintf("records-%s.%s", now.Format("2006-01-02"), string(f))
}

var header = []string{
	"Title", "Issue", "Publication", "Year", "Pages",
	"Authors", "Tags", "Summary", "OCR Status", "Needs Review", "Created",
}

// Write renders records in the given format.
func Write(w io.Writer, f Format, records []store.Record) error {
	if f == FormatXLSX {
		return writeXLSX(w, records)
	}
	return writeCSV(w, records)
}

func writeCSV(w io.Writer, records []store.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, "write csv header")
	}
	for i := range records {
		if err := cw.Write(row(&records[i])); err != nil {
			return errors.Wrap(err, "write csv row")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flush csv")
}

func writeXLSX(w io.Writer, records []store.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Records"
	f.SetSheetName("Sheet1", sheet)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return errors.Wrap(err, "header style")
	}

	for col, name := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, name); err != nil {
			return err
		}
	}
	endHeader, _ := excelize.CoordinatesToCellName(len(header), 1)
	if err := f.SetCellStyle(sheet, "A1", endHeader, headerStyle); err != nil {
		return errors.Wrap(err, "apply header style")
	}

	for i := range records {
		for col, v := range row(&records[i]) {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}

	// Wide columns for the free-text fields, modest for the rest.
	widths := map[string]float64{"A": 36, "B": 24, "C": 20, "F": 28, "G": 24, "H": 50}
	for col, width := range widths {
		if err := f.SetColWidth(sheet, col, col, width); err != nil {
			return errors.Wrap(err, "set column width")
		}
	}

	return errors.Wrap(f.Write(w), "write xlsx")
}

func row(r *store.Record) []string {
	names := func(n int, get func(int) string) string {
		parts := make([]string, 0, n)
		for i := 0; i < n; i++ {
			parts = append(parts, get(i))
		}
		return strings.Join(parts, "; ")
	}
	review := "no"
	if r.NeedsReview {
		review = "yes"
	}
	return []string{
		r.Title,
		r.IssueTitle,
		r.Publication,
		fmt.Sprintf("%d", r.Year),
		fmt.Sprintf("%d-%d", r.StartPage, r.EndPage),
		names(len(r.Authors), func(i int) string { return r.Authors[i].Name }),
		names(len(r.Tags), func(i int) string { return r.Tags[i].Name }),
		textutil.Truncate(textutil.StripHTML(r.Summary), 500),
		r.OCRStatus,
		review,
		r.CreatedAt.Format("2006-01-02"),
	}
}
