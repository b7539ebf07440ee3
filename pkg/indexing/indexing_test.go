package indexing

import (
	"sync"
	"testing"

	"github.com/adfharrison1/go-pivot/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateIndex(t *testing.T) {
	engine := NewIndexEngine()

	err := engine.CreateIndex("events", "host")
	assert.NoError(t, err)

	err = engine.CreateIndex("events", "code")
	assert.NoError(t, err)

	// Test creating duplicate index (should fail)
	err = engine.CreateIndex("events", "host")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	names, err := engine.GetIndexes("events")
	require.NoError(t, err)
	assert.Equal(t, []string{"code", "host"}, names)

	names, err = engine.GetIndexes("unknown")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestDropIndex(t *testing.T) {
	engine := NewIndexEngine()
	require.NoError(t, engine.CreateIndex("events", "host"))

	assert.NoError(t, engine.DropIndex("events", "host"))
	assert.ErrorIs(t, engine.DropIndex("events", "host"), domain.ErrIndexNotFound)
	assert.ErrorIs(t, engine.DropIndex("other", "host"), domain.ErrIndexNotFound)

	_, ok := engine.GetIndex("events", "host")
	assert.False(t, ok)
}

func TestIndexUpdates(t *testing.T) {
	engine := NewIndexEngine()
	docs := map[string]domain.Document{
		"1": {"host": "a", "code": 200},
		"2": {"host": "b", "code": 200.0},
		"3": {"host": "a"},
	}

	err := engine.BuildIndexForCollection("events", "code", func(fn func(string, domain.Document)) {
		for id, doc := range docs {
			fn(id, doc)
		}
	})
	require.NoError(t, err)

	index, ok := engine.GetIndex("events", "code")
	require.True(t, ok)
	assert.Equal(t, []string{"1", "2"}, index.Query(200))
	assert.Equal(t, 1, index.Cardinality())

	// update doc 2 to a new code
	engine.UpdateIndexForDocument("events", "2", docs["2"], domain.Document{"code": 500})
	assert.Equal(t, []string{"1"}, index.Query(200))
	assert.Equal(t, []string{"2"}, index.Query("500"))

	// delete doc 1
	engine.UpdateIndexForDocument("events", "1", docs["1"], nil)
	assert.Nil(t, index.Query(200))
	assert.Equal(t, 1, index.Cardinality())

	engine.DropCollection("events")
	_, ok = engine.GetIndex("events", "code")
	assert.False(t, ok)
}

func TestIndexConcurrentAdds(t *testing.T) {
	index := NewIndex("host")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				index.Add(string(rune('a'+i))+"-"+string(rune('0'+j%10)), domain.Document{"host": "web"})
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, index.Query("web"), 80)
}
