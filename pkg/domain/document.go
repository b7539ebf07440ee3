package domain

import "github.com/adfharrison1/go-pivot/pkg/query"

// IDField is the reserved field holding a document's id
const IDField = "_id"

// Document represents a document in the database
type Document map[string]interface{}

// ID returns the document id, or "" when it has none
func (d Document) ID() string {
	v, ok := d[IDField]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return query.KeyString(v)
}

// Clone returns a shallow copy of the document
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Collection describes a collection of documents
type Collection struct {
	Name       string `json:"name"`
	Partitions int    `json:"partitions"`
	DocCount   int64  `json:"doc_count"`
	// SeqNos holds the last sequence number of each partition
	SeqNos []int64 `json:"seq_nos"`
}
