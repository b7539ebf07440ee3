package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/adfharrison1/go-pivot/pkg/aggregation"
	"github.com/adfharrison1/go-pivot/pkg/query"
)

// Query is a document predicate
type Query = query.Query

// SearchRequest asks the storage engine for one composite aggregation page
// over one or more collections. Size is the number of hits to return and is
// always 0 for transforms.
type SearchRequest struct {
	Collections         []string               `json:"collections"`
	Query               Query                  `json:"-"`
	Aggregation         *aggregation.Composite `json:"aggregation"`
	Size                int                    `json:"size"`
	AllowPartialResults bool                   `json:"allow_partial_results"`
}

// PartitionStats reports how many partitions answered a search
type PartitionStats struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// SearchResponse is the answer to a SearchRequest
type SearchResponse struct {
	Took         time.Duration                `json:"took"`
	TotalHits    int64                        `json:"total_hits"`
	Partitions   PartitionStats               `json:"partitions"`
	Aggregations map[string]*aggregation.Page `json:"aggregations"`
}

// Composite returns the named composite aggregation page
func (r *SearchResponse) Composite(name string) (*aggregation.Page, error) {
	if r == nil || r.Aggregations == nil {
		return nil, fmt.Errorf("search response carries no aggregations")
	}
	page, ok := r.Aggregations[name]
	if !ok || page == nil {
		return nil, fmt.Errorf("search response is missing aggregation [%s]", name)
	}
	return page, nil
}

// IndexRequest upserts Source under ID into Collection, running it through
// Pipeline first when one is named.
type IndexRequest struct {
	Collection string   `json:"collection"`
	ID         string   `json:"id"`
	Pipeline   string   `json:"pipeline,omitempty"`
	Source     Document `json:"source"`
}

// Bulk item results
const (
	ResultCreated = "created"
	ResultUpdated = "updated"
)

// BulkItem is the outcome of one IndexRequest
type BulkItem struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
}

// BulkResponse is the answer to a bulk write
type BulkResponse struct {
	Took   time.Duration `json:"took"`
	Errors bool          `json:"errors"`
	Items  []BulkItem    `json:"items"`
}

// FailureMessage summarises the failed items of a bulk response
func (b *BulkResponse) FailureMessage() string {
	var failures []string
	for _, item := range b.Items {
		if item.Error != "" {
			failures = append(failures, fmt.Sprintf("[%s/%s]: %s", item.Collection, item.ID, item.Error))
		}
	}
	if len(failures) == 0 {
		return ""
	}
	return fmt.Sprintf("%d bulk item(s) failed: %s", len(failures), strings.Join(failures, "; "))
}
