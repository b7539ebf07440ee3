package transform

// Progress tracks how many source documents a batch transform still has to
// process
type Progress struct {
	TotalDocs          int64 `json:"total_docs" msgpack:"total_docs"`
	DocumentsRemaining int64 `json:"docs_remaining" msgpack:"docs_remaining"`
}

// NewProgress starts tracking total documents
func NewProgress(total int64) *Progress {
	return &Progress{TotalDocs: total, DocumentsRemaining: total}
}

// DocsProcessed records that n more documents were processed
func (p *Progress) DocsProcessed(n int64) {
	p.DocumentsRemaining -= n
	if p.DocumentsRemaining < 0 {
		p.DocumentsRemaining = 0
	}
}

// PercentComplete is 100 when there is nothing to process
func (p *Progress) PercentComplete() float64 {
	if p == nil {
		return 0
	}
	if p.TotalDocs == 0 {
		return 100
	}
	return 100 * float64(p.TotalDocs-p.DocumentsRemaining) / float64(p.TotalDocs)
}
