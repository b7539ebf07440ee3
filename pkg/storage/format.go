package storage

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/adfharrison1/go-pivot/pkg/domain"
)

const (
	// Magic bytes to identify our snapshot format
	MagicBytes = "GPIV"
	// Current version
	FormatVersion = 1
	// File extension for snapshots
	FileExtension = ".gpiv"
)

// FileHeader represents the header of a snapshot file
type FileHeader struct {
	Magic    [4]byte // "GPIV"
	Version  uint8   // Format version
	Flags    uint8   // Reserved for future use
	Reserved [2]byte // Reserved for future use
}

// WriteHeader writes the file header to the given writer
func WriteHeader(w io.Writer) error {
	header := FileHeader{
		Magic:   [4]byte{'G', 'P', 'I', 'V'},
		Version: FormatVersion,
	}
	return binary.Write(w, binary.LittleEndian, header)
}

// ReadHeader reads and validates the file header
func ReadHeader(r io.Reader) (*FileHeader, error) {
	var header FileHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	if string(header.Magic[:]) != MagicBytes {
		return nil, fmt.Errorf("invalid file format: expected %s, got %s", MagicBytes, string(header.Magic[:]))
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported file version: %d", header.Version)
	}

	return &header, nil
}

// CollectionData is the persisted form of one collection
type CollectionData struct {
	Partitions int                               `msgpack:"partitions"`
	SeqNos     []int64                           `msgpack:"seq_nos"`
	Documents  map[string]map[string]interface{} `msgpack:"documents"`
	Indexes    []string                          `msgpack:"indexes,omitempty"`
}

// StorageData represents the actual data structure we store
type StorageData struct {
	Collections map[string]*CollectionData  `msgpack:"collections"`
	Pipelines   map[string]*domain.Pipeline `msgpack:"pipelines,omitempty"`
	Metadata    map[string]interface{}      `msgpack:"metadata,omitempty"`
}

// NewStorageData creates a new empty storage data structure
func NewStorageData() *StorageData {
	return &StorageData{
		Collections: make(map[string]*CollectionData),
		Pipelines:   make(map[string]*domain.Pipeline),
		Metadata:    make(map[string]interface{}),
	}
}
