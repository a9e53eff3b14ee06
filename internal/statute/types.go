package statute

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Health is the derived usability of a credential.
type Health int

// Health values returned by a Prober.
const (
	Unhealthy Health = iota
	Healthy
)

func (h Health) String() string {
	if h == Healthy {
		return "healthy"
	}
	return "unhealthy"
}

// ProbeResult is the outcome of one health probe.
type ProbeResult struct {
	Health Health
	Reason string
}

// OK reports whether the probe classified the token as usable.
func (r ProbeResult) OK() bool {
	return r.Health == Healthy
}

// DocumentID is a statute identifier. The API and older index files emit it
// as either a JSON string or a number.
type DocumentID string

// UnmarshalJSON accepts both string and numeric ids.
func (id *DocumentID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode document id: %w", err)
		}
		*id = DocumentID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode document id: %w", err)
	}
	*id = DocumentID(n.String())
	return nil
}

// FetchTarget identifies one detail record to retrieve.
type FetchTarget struct {
	Category Category
	Year     int
	Month    int
	ID       DocumentID
	Title    string
}

// Window is one (category, year) unit of crawl work.
type Window struct {
	Category Category
	Year     int
}

func (w Window) String() string {
	if w.Category == nil {
		return strconv.Itoa(w.Year)
	}
	return fmt.Sprintf("%s/%d", w.Category.Slug(), w.Year)
}

// BatchOutcome counts the results of one pass over a window.
type BatchOutcome struct {
	Successes int
	Failures  int
}

// Attempts returns the number of targets tried.
func (o BatchOutcome) Attempts() int {
	return o.Successes + o.Failures
}

// FailureRatio returns failures/attempts, or 0 for an empty pass.
func (o BatchOutcome) FailureRatio() float64 {
	attempts := o.Attempts()
	if attempts == 0 {
		return 0
	}
	return float64(o.Failures) / float64(attempts)
}

// SearchRequest describes one page of the statute search API.
type SearchRequest struct {
	Category  Category
	BeginDate string
	EndDate   string
	PageIndex int
	PageSize  int
}

// SearchRow is one hit of a search page.
type SearchRow struct {
	ID    DocumentID `json:"statuteId"`
	Title string     `json:"title"`
}

// SearchResponse is the decoded search payload.
type SearchResponse struct {
	StatusCode int
	Code       int
	Message    string
	PageIndex  int
	Total      int
	Rows       []SearchRow
}

// Paragraph is one block of a statute body.
type Paragraph struct {
	GroupID int    `json:"groupId"`
	Content string `json:"content"`
}

// Document is a fetched detail record.
type Document struct {
	ID           DocumentID  `json:"statuteId"`
	Title        string      `json:"title"`
	PublishDate  string      `json:"publishDate"`
	ReferenceNo  string      `json:"referenceNo"`
	Organization string      `json:"organizationName"`
	Paragraphs   []Paragraph `json:"paragraphs"`
	Raw          []byte      `json:"-"`
	FetchedAt    time.Time   `json:"-"`
}
