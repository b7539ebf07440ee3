package domain

// IndexEngine defines the interface for field index operations
type IndexEngine interface {
	CreateIndex(collectionName, fieldName string) error
	DropIndex(collectionName, fieldName string) error
	GetIndexes(collectionName string) ([]string, error)
}
