// Package state stores transform configs, task state and checkpoints as
// documents of an internal collection, so a restarted process resumes every
// transform where it stopped.
package state

import (
	"errors"
	"fmt"

	"github.com/adfharrison1/go-pivot/pkg/domain"
	"github.com/adfharrison1/go-pivot/pkg/transform"
	"github.com/vmihailenco/msgpack/v5"
)

// InternalCollection holds every stored document of this package
const InternalCollection = ".pivot-internal"

const (
	typeField      = "doc_type"
	transformField = "transform_id"
	payloadField   = "payload"

	typeConfig     = "config"
	typeState      = "state"
	typeCheckpoint = "checkpoint"
)

// ErrNotFound is returned when nothing is stored under a transform id
var ErrNotFound = errors.New("transform state not found")

// DocumentStore is the part of the storage engine the store needs
type DocumentStore interface {
	Insert(collName string, doc domain.Document) (domain.Document, error)
	GetById(collName, docId string) (domain.Document, error)
	DeleteById(collName, docId string) error
	FindAll(collName string, filter map[string]interface{}, options *domain.PaginationOptions) (*domain.PaginationResult, error)
}

// StoredState is the persisted task state of a transform
type StoredState struct {
	TransformID  string                 `msgpack:"transform_id"`
	TaskState    transform.TaskState    `msgpack:"task_state"`
	IndexerState transform.IndexerState `msgpack:"indexer_state"`
	Reason       string                 `msgpack:"reason,omitempty"`
	Position     map[string]interface{} `msgpack:"position,omitempty"`
	Checkpoint   int64                  `msgpack:"checkpoint"`
	Progress     *transform.Progress    `msgpack:"progress,omitempty"`
	Stats        transform.IndexerStats `msgpack:"stats"`
}

// Store reads and writes transform documents
type Store struct {
	docs DocumentStore
}

// NewStore creates a store on top of a document store
func NewStore(docs DocumentStore) *Store {
	return &Store{docs: docs}
}

func configID(id string) string { return "config-" + id }
func stateID(id string) string  { return "state-" + id }
func checkpointID(id string, n int64) string {
	return fmt.Sprintf("checkpoint-%s-%d", id, n)
}

func (s *Store) put(docID, docType, transformID string, v interface{}) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s of transform [%s]: %w", docType, transformID, err)
	}
	_, err = s.docs.Insert(InternalCollection, domain.Document{
		domain.IDField: docID,
		typeField:      docType,
		transformField: transformID,
		payloadField:   payload,
	})
	if err != nil {
		return fmt.Errorf("failed to store %s of transform [%s]: %w", docType, transformID, err)
	}
	return nil
}

func (s *Store) get(docID string, v interface{}) error {
	doc, err := s.docs.GetById(InternalCollection, docID)
	if err != nil {
		if errors.Is(err, domain.ErrDocumentNotFound) || errors.Is(err, domain.ErrCollectionNotFound) {
			return ErrNotFound
		}
		return err
	}
	return decode(doc, v)
}

func decode(doc domain.Document, v interface{}) error {
	var payload []byte
	switch p := doc[payloadField].(type) {
	case []byte:
		payload = p
	case string:
		payload = []byte(p)
	default:
		return fmt.Errorf("document %s has no payload", doc.ID())
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("failed to decode document %s: %w", doc.ID(), err)
	}
	return nil
}

// PutConfig stores a transform definition
func (s *Store) PutConfig(cfg *transform.Config) error {
	return s.put(configID(cfg.ID), typeConfig, cfg.ID, cfg)
}

// GetConfig loads a transform definition
func (s *Store) GetConfig(id string) (*transform.Config, error) {
	var cfg transform.Config
	if err := s.get(configID(id), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ListConfigs loads every stored transform definition, ordered by id
func (s *Store) ListConfigs() ([]*transform.Config, error) {
	var configs []*transform.Config
	err := s.each(map[string]interface{}{typeField: typeConfig}, func(doc domain.Document) error {
		var cfg transform.Config
		if err := decode(doc, &cfg); err != nil {
			return err
		}
		configs = append(configs, &cfg)
		return nil
	})
	return configs, err
}

// PutState stores the task state of a transform
func (s *Store) PutState(st *StoredState) error {
	return s.put(stateID(st.TransformID), typeState, st.TransformID, st)
}

// GetState loads the task state of a transform
func (s *Store) GetState(id string) (*StoredState, error) {
	var st StoredState
	if err := s.get(stateID(id), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// PutCheckpoint stores a checkpoint
func (s *Store) PutCheckpoint(cp *transform.Checkpoint) error {
	return s.put(checkpointID(cp.TransformID, cp.Checkpoint), typeCheckpoint, cp.TransformID, cp)
}

// GetCheckpoint loads checkpoint n of a transform. Checkpoint 0 is never
// stored and always returns the empty checkpoint.
func (s *Store) GetCheckpoint(id string, n int64) (*transform.Checkpoint, error) {
	if n == 0 {
		return transform.EmptyCheckpoint(id), nil
	}
	var cp transform.Checkpoint
	if err := s.get(checkpointID(id, n), &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// Delete removes everything stored for a transform
func (s *Store) Delete(id string) error {
	var ids []string
	err := s.each(map[string]interface{}{transformField: id}, func(doc domain.Document) error {
		ids = append(ids, doc.ID())
		return nil
	})
	if err != nil {
		return err
	}
	for _, docID := range ids {
		if err := s.docs.DeleteById(InternalCollection, docID); err != nil && !errors.Is(err, domain.ErrDocumentNotFound) {
			return fmt.Errorf("failed to delete %s: %w", docID, err)
		}
	}
	return nil
}

// each pages through the matching internal documents
func (s *Store) each(filter map[string]interface{}, fn func(domain.Document) error) error {
	opts := domain.DefaultPaginationOptions()
	opts.Limit = opts.MaxLimit
	for {
		result, err := s.docs.FindAll(InternalCollection, filter, opts)
		if err != nil {
			if errors.Is(err, domain.ErrCollectionNotFound) {
				return nil
			}
			return fmt.Errorf("failed to list transform documents: %w", err)
		}
		for _, doc := range result.Documents {
			if err := fn(doc); err != nil {
				return err
			}
		}
		if !result.HasNext {
			return nil
		}
		opts.After = result.NextCursor
	}
}
