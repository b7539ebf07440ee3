package domain

import (
	"fmt"
	"time"
)

// Processor types
const (
	ProcessorSet       = "set"
	ProcessorRemove    = "remove"
	ProcessorTimestamp = "timestamp"
	ProcessorRename    = "rename"
)

// Processor is one step of an ingest pipeline
type Processor struct {
	Type   string      `json:"type" msgpack:"type"`
	Field  string      `json:"field" msgpack:"field"`
	Value  interface{} `json:"value,omitempty" msgpack:"value,omitempty"`
	Target string      `json:"target_field,omitempty" msgpack:"target_field,omitempty"`
	// Override controls whether set replaces an existing value, defaults to true
	Override *bool `json:"override,omitempty" msgpack:"override,omitempty"`
}

// Pipeline transforms documents before they are written
type Pipeline struct {
	ID          string      `json:"id" msgpack:"id"`
	Description string      `json:"description,omitempty" msgpack:"description,omitempty"`
	Processors  []Processor `json:"processors" msgpack:"processors"`
}

// Validate checks the pipeline definition
func (p *Pipeline) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("pipeline id cannot be empty")
	}
	for i, proc := range p.Processors {
		if proc.Field == "" {
			return fmt.Errorf("processor %d [%s] requires a field", i, proc.Type)
		}
		switch proc.Type {
		case ProcessorSet:
			if proc.Value == nil {
				return fmt.Errorf("processor %d [set] requires a value", i)
			}
		case ProcessorRename:
			if proc.Target == "" {
				return fmt.Errorf("processor %d [rename] requires a target_field", i)
			}
		case ProcessorRemove, ProcessorTimestamp:
		default:
			return fmt.Errorf("processor %d has unknown type [%s]", i, proc.Type)
		}
	}
	return nil
}

// Apply runs every processor over doc in order, modifying it in place
func (p *Pipeline) Apply(doc Document, now time.Time) error {
	for _, proc := range p.Processors {
		switch proc.Type {
		case ProcessorSet:
			if _, exists := doc[proc.Field]; exists && proc.Override != nil && !*proc.Override {
				continue
			}
			doc[proc.Field] = proc.Value
		case ProcessorRemove:
			delete(doc, proc.Field)
		case ProcessorTimestamp:
			doc[proc.Field] = now.UTC().Format(time.RFC3339Nano)
		case ProcessorRename:
			v, ok := doc[proc.Field]
			if !ok {
				return fmt.Errorf("pipeline [%s]: field [%s] doesn't exist", p.ID, proc.Field)
			}
			delete(doc, proc.Field)
			doc[proc.Target] = v
		default:
			return fmt.Errorf("pipeline [%s]: unknown processor [%s]", p.ID, proc.Type)
		}
	}
	return nil
}
