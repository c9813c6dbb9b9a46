package store

import (
	"time"

	"github.com/pressfold/magarchive/internal/pdfmeta"
)

// OCR status lifecycle: pending -> running -> done | failed. A failed record
// may be re-queued, returning it to running.
const (
	OCRPending = "pending"
	OCRRunning = "running"
	OCRDone    = "done"
	OCRFailed  = "failed"
)

const (
	JobPending = "pending"
	JobRunning = "running"
	JobDone    = "done"
	JobFailed  = "failed"
	JobKindOCR = "ocr"
)

type Issue struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Publication string    `json:"publication"`
	IssueNumber string    `json:"issueNumber"`
	PublishedOn string    `json:"publishedOn"`
	Year        int       `json:"year"`
	PageCount   int       `json:"pageCount"`
	PDFKey      string    `json:"pdfKey"`
	PDFURL      string    `json:"pdfUrl"`
	PDFBytes    int64     `json:"pdfBytes"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	RecordCount int `json:"recordCount,omitempty"`
}

type Record struct {
	ID          string            `json:"id"`
	IssueID     string            `json:"issueId"`
	Title       string            `json:"title"`
	Summary     string            `json:"summary"`
	StartPage   int               `json:"startPage"`
	EndPage     int               `json:"endPage"`
	Crop        *pdfmeta.CropRect `json:"crop,omitempty"`
	OCRStatus   string            `json:"ocrStatus"`
	OCRText     string            `json:"ocrText,omitempty"`
	OCRTextKey  string            `json:"ocrTextKey,omitempty"`
	OCRError    string            `json:"ocrError,omitempty"`
	NeedsReview bool              `json:"needsReview"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`

	// Issue context, populated from the join.
	IssueTitle  string `json:"issueTitle"`
	Publication string `json:"publication"`
	Year        int    `json:"year"`

	Tags    []Tag    `json:"tags"`
	Authors []Author `json:"authors"`
}

type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	RecordCount int `json:"recordCount,omitempty"`
}

type Author struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	RecordCount int `json:"recordCount,omitempty"`
}

type Revision struct {
	ID       string    `json:"id"`
	RecordID string    `json:"recordId"`
	Field    string    `json:"field"`
	OldValue string    `json:"oldValue"`
	NewValue string    `json:"newValue"`
	EditedBy string    `json:"editedBy"`
	EditedAt time.Time `json:"editedAt"`
}

type Job struct {
	ID         string     `json:"id"`
	RecordID   string     `json:"recordId"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// RecordFilter narrows ListRecords and Export. Zero values mean "no
// constraint"; tag/author matching is any-of.
type RecordFilter struct {
	Query       string
	IssueID     string
	TagIDs      []string
	AuthorIDs   []string
	YearFrom    int
	YearTo      int
	OCRStatus   string
	NeedsReview *bool

	SortBy   string // title | publishedOn | year | createdAt | startPage
	SortDesc bool

	Limit  int
	Offset int
}

// RecordPatch carries partial updates; nil fields stay untouched. ClearCrop
// removes an existing crop rectangle. TagNames resolves names to tags,
// creating missing ones; it is ignored when TagIDs is also set.
type RecordPatch struct {
	Title       *string           `json:"title"`
	Summary     *string           `json:"summary"`
	StartPage   *int              `json:"startPage"`
	EndPage     *int              `json:"endPage"`
	Crop        *pdfmeta.CropRect `json:"crop"`
	ClearCrop   bool              `json:"clearCrop"`
	NeedsReview *bool             `json:"needsReview"`
	TagIDs      *[]string         `json:"tagIds"`
	TagNames    *[]string         `json:"tagNames"`
	AuthorIDs   *[]string         `json:"authorIds"`
}

// DashboardStats is the analytics payload.
type DashboardStats struct {
	Issues        int            `json:"issues"`
	Records       int            `json:"records"`
	Tags          int            `json:"tags"`
	Authors       int            `json:"authors"`
	ByOCRStatus   map[string]int `json:"byOcrStatus"`
	ByDecade      map[string]int `json:"byDecade"`
	TopTags       []Tag          `json:"topTags"`
	RecentChanges []Revision     `json:"recentChanges"`
}
