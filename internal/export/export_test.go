package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/pressfold/magarchive/internal/store"
)

func sampleRecords() []store.Record {
	return []store.Record{
		{
			Title:       "On Cool Jazz",
			IssueTitle:  "Winter 1958",
			Publication: "Metronome",
			Year:        1958,
			StartPage:   12,
			EndPage:     17,
			Summary:     "<p>A <b>survey</b> of the West Coast scene.</p>",
			OCRStatus:   store.OCRDone,
			NeedsReview: true,
			CreatedAt:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
			Tags:        []store.Tag{{Name: "jazz"}, {Name: "music"}},
			Authors:     []store.Author{{Name: "N. Hentoff"}},
		},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat("XLSX")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	_, err = ParseFormat("pdf")
	assert.Error(t, err)
}

func TestFilename(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "records-2026-08-28.csv", FormatCSV.Filename(now))
	assert.Equal(t, "records-2026-08-28.xlsx", FormatXLSX.Filename(now))
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, sampleRecords()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, header, rows[0])

	row := rows[1]
	assert.Equal(t, "On Cool Jazz", row[0])
	assert.Equal(t, "Winter 1958", row[1])
	assert.Equal(t, "1958", row[3])
	assert.Equal(t, "12-17", row[4])
	assert.Equal(t, "N. Hentoff", row[5])
	assert.Equal(t, "jazz; music", row[6])
	assert.Equal(t, "A survey of the West Coast scene.", row[7])
	assert.Equal(t, "yes", row[9])
}

func TestWriteCSVEmptySet(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, nil))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, header, rows[0])
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatXLSX, sampleRecords()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Records")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, header, rows[0])
	assert.Equal(t, "On Cool Jazz", rows[1][0])
	assert.Equal(t, "done", rows[1][8])
}

func TestWriteXLSXEmptySet(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatXLSX, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Records")
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
