package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/flowgraph-go/internal/domain/workflow"
	"github.com/flowgraph-go/internal/execution/ports"
	"github.com/flowgraph-go/pkg/metrics"
)

// MemoryStore keeps definitions in process. Definitions are stored as JSON so that callers never
// share a mutable Definition.
type MemoryStore struct {
	mu          sync.RWMutex
	definitions map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{definitions: make(map[string][]byte)}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*workflow.Definition, error) {
	s.mu.RLock()
	data, ok := s.definitions[id]
	s.mu.RUnlock()

	metrics.RecordDefinitionLookup("memory", ok)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrWorkflowNotFound, id)
	}
	return workflow.ParseDefinition(data)
}

func (s *MemoryStore) Put(ctx context.Context, id string, def *workflow.Definition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to encode workflow %s: %w", id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.definitions[id] = data
	return nil
}

// IDs returns the stored workflow ids in sorted order.
func (s *MemoryStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.definitions))
	for id := range s.definitions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
