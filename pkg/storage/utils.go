package storage

import (
	"sort"

	"github.com/adfharrison1/go-pivot/pkg/domain"
	"github.com/adfharrison1/go-pivot/pkg/query"
)

// MatchesFilter checks if a document matches the given filter criteria
func MatchesFilter(doc domain.Document, filter map[string]interface{}) bool {
	for field, expectedValue := range filter {
		actualValue, exists := doc[field]
		if !exists {
			return false
		}
		if !query.ValuesMatch(actualValue, expectedValue) {
			return false
		}
	}
	return true
}

// IntersectStringSlices returns the sorted, de-duplicated intersection of
// multiple string slices. It is used to combine index lookups.
func IntersectStringSlices(slices ...[]string) []string {
	if len(slices) == 0 {
		return nil
	}

	countMap := make(map[string]int)
	for _, slice := range slices {
		seen := make(map[string]bool, len(slice))
		for _, id := range slice {
			if !seen[id] {
				seen[id] = true
				countMap[id]++
			}
		}
	}

	var result []string
	for id, count := range countMap {
		if count == len(slices) {
			result = append(result, id)
		}
	}
	sort.Strings(result)
	return result
}
