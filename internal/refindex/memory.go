package refindex

import (
	"context"
	"slices"
	"sync"

	"github.com/sells-group/credcheck/internal/model"
)

// Memory is an in-process index. Contents are lost on Close.
type Memory struct {
	mu      sync.RWMutex
	dims    int
	order   []string
	records map[string]Record
}

// NewMemory returns an empty index. dims of 0 accepts any vector length.
func NewMemory(dims int) *Memory {
	return &Memory{dims: dims, records: make(map[string]Record)}
}

func (m *Memory) Query(_ context.Context, vector []float32, k int) ([]model.ReferenceMatch, error) {
	if err := checkQuery(vector, k, m.dims); err != nil {
		return nil, err
	}

	m.mu.RLock()
	all := make([]Record, 0, len(m.order))
	for _, id := range m.order {
		all = append(all, m.records[id])
	}
	m.mu.RUnlock()

	return topK(all, vector, k), nil
}

func (m *Memory) Upsert(_ context.Context, records []Record) (int64, error) {
	if err := checkRecords(records, m.dims); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if _, ok := m.records[r.ID]; !ok {
			m.order = append(m.order, r.ID)
		}
		r.Embedding = slices.Clone(r.Embedding)
		m.records[r.ID] = r
	}
	return int64(len(records)), nil
}

func (m *Memory) Count(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.records)), nil
}

func (m *Memory) Migrate(context.Context) error { return nil }

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order = nil
	m.records = make(map[string]Record)
	return nil
}
