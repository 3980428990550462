package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultCase    ResultType = "case"
	ResultQuote   ResultType = "quote"
	ResultHistory ResultType = "history"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	CaseID  string     `json:"caseId"`
	Status  string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterType   ResultType // empty = all types
	FilterCaseID string
	Limit        int
	Offset       int
	VerifiedOnly bool
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexCase(c CaseRecord) error
	IndexQuote(q QuoteRecord) error
	IndexHistory(h HistoryRecord) error
}

// CaseRecord is the data we index for a case.
type CaseRecord struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Summary         string `json:"summary"`
	SubjectFullName string `json:"subjectFullName"`
	Facility        string `json:"facility"`
	Agency          string `json:"agency"`
	City            string `json:"city"`
	State           string `json:"state"`
	Status          string `json:"status"`
}

// QuoteRecord is the data we index for an evidence quote.
type QuoteRecord struct {
	ID       string `json:"id"`
	Body     string `json:"body"`
	Category string `json:"category"`
	CaseID   string `json:"caseId"`
	Verified bool   `json:"verified"`
}

// HistoryRecord is the data we index for an audit entry.
type HistoryRecord struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	Note   string `json:"note"`
	CaseID string `json:"caseId"`
	Actor  string `json:"actor"`
}
