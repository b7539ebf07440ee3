package indexer

import (
	"fmt"
	"iter"
	"strings"

	"github.com/adfharrison1/go-pivot/pkg/aggregation"
	"github.com/adfharrison1/go-pivot/pkg/domain"
)

// translate turns the rows of a page into upserts of the destination
// collection. Fields starting with "_" are internal and never written.
func (ix *Indexer) translate(page *aggregation.Page) iter.Seq2[domain.IndexRequest, error] {
	return func(yield func(domain.IndexRequest, error) bool) {
		for row := range ix.deps.Pivot.ExtractResults(page, ix.fieldMappings, ix.stats) {
			id, ok := row[domain.IDField].(string)
			if !ok || id == "" {
				yield(domain.IndexRequest{}, &FatalError{
					Reason: fmt.Sprintf("transform [%s]: expected a document id but got [%v]", ix.config.ID, row[domain.IDField]),
				})
				return
			}

			source := make(domain.Document, len(row))
			for field, value := range row {
				if strings.HasPrefix(field, "_") {
					continue
				}
				source[field] = value
			}

			req := domain.IndexRequest{
				Collection: ix.config.Dest.Index,
				ID:         id,
				Pipeline:   ix.config.Dest.Pipeline,
				Source:     source,
			}
			if !yield(req, nil) {
				return
			}
		}
	}
}
