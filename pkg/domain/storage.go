package domain

import "context"

// StorageEngine defines the interface for storage operations
// This is the core business interface that implementations must conform to
type StorageEngine interface {
	Insert(collName string, doc Document) (Document, error)
	GetById(collName, docId string) (Document, error)
	DeleteById(collName, docId string) error
	FindAll(collName string, filter map[string]interface{}, options *PaginationOptions) (*PaginationResult, error)
	Bulk(ctx context.Context, requests []IndexRequest) (*BulkResponse, error)
	Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error)
	Count(ctx context.Context, collections []string, q Query) (int64, error)
	PartitionSeqNos(collections []string) (map[string][]int64, error)
	CreateCollection(collName string) error
	GetCollection(collName string) (*Collection, error)
	PutPipeline(id string, pipeline *Pipeline) error
	GetPipeline(id string) (*Pipeline, error)
	SaveToFile(filename string) error
	LoadFromFile(filename string) error
	GetMemoryStats() map[string]interface{}
	StartBackgroundWorkers()
	StopBackgroundWorkers()
}

// DatabaseEngine combines StorageEngine and IndexEngine interfaces
type DatabaseEngine interface {
	StorageEngine
	IndexEngine
}
