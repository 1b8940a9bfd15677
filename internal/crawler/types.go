package crawler

import (
	"net/http"
	"net/url"
	"time"

	"github.com/JakeFAU/sheriff-roster-crawler/internal/booking"
)

// RequestKind distinguishes roster page requests from per-booking lookups.
type RequestKind string

// Request kinds.
const (
	KindQuery  RequestKind = "query"
	KindDetail RequestKind = "detail"
)

// FetchRequest captures everything needed to issue one HTTP call against a
// source.
type FetchRequest struct {
	Source string
	Kind   RequestKind
	Method string
	URL    string
	// Form is sent as an urlencoded body when Method is POST.
	Form    url.Values
	Headers http.Header
	// Cursor is the pagination state this query page was built from.
	Cursor Cursor
	// Identifier is set on detail requests.
	Identifier string
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	Request    FetchRequest
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Cursor is the pagination state of one source. Total is only meaningful once
// TotalKnown is set by the first page.
type Cursor struct {
	Offset     int
	PageSize   int
	Total      int
	TotalKnown bool
	Done       bool
}

// Next reports the cursor for the following page and whether pagination
// continues. A source continues exactly while offset+pageSize <= total.
func (c Cursor) Next() (Cursor, bool) {
	if !c.TotalKnown || c.Offset+c.PageSize > c.Total {
		c.Done = true
		return c, false
	}
	c.Offset += c.PageSize
	return c, true
}

// EmissionKind tags the variant carried by an Emission.
type EmissionKind int

// Emission kinds.
const (
	EmitQuery EmissionKind = iota + 1
	EmitDetail
	EmitRecord
)

func (k EmissionKind) String() string {
	switch k {
	case EmitQuery:
		return "query"
	case EmitDetail:
		return "detail"
	case EmitRecord:
		return "record"
	default:
		return "unknown"
	}
}

// Emission is produced by the controller while handling a response: a follow
// up query page, a detail fetch or a raw record ready for coercion.
type Emission struct {
	Kind    EmissionKind
	Request FetchRequest
	Record  booking.RawRecord
}

// Artifact describes an object a sink produced for a run.
type Artifact struct {
	Sink    string `json:"sink"`
	URI     string `json:"uri"`
	Digest  string `json:"digest,omitempty"`
	Records int    `json:"records"`
}
