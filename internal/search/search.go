package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultAnnotation ResultType = "annotation"
	ResultComment    ResultType = "comment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	DocumentID string     `json:"documentId"`
	PageNumber int        `json:"pageNumber,omitempty"`
	Snippet    string     `json:"snippet"`
	Status     string     `json:"status,omitempty"`
	CreatedBy  string     `json:"createdBy,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text             string
	FilterType       ResultType // empty = all types
	FilterDocumentID string
	Limit            int
	Offset           int
}

// Response is the envelope returned to the caller.
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
	IndexAnnotation(a AnnotationRecord) error
	IndexComment(c CommentRecord) error
	DeleteAnnotation(id string) error
	DeleteComment(id string) error
}

// AnnotationRecord is the data we index for an annotation.
type AnnotationRecord struct {
	ID         string `json:"id"`
	DocumentID string `json:"documentId"`
	PageNumber int    `json:"pageNumber"`
	Type       string `json:"type"`
	Content    string `json:"content"`
	Status     string `json:"status"`
	CreatedBy  string `json:"createdBy"`
}

// CommentRecord is the data we index for a comment.
type CommentRecord struct {
	ID         string `json:"id"`
	DocumentID string `json:"documentId"`
	Content    string `json:"content"`
	Status     string `json:"status"`
	CreatedBy  string `json:"createdBy"`
}
