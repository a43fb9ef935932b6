package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store. Documents go through a JSON round trip
// on the way in and out so callers see the same shapes the Postgres store
// returns. It can be told to fail, which is what the repository tests use to
// exercise retries and recovery.
type MemoryStore struct {
	mu          sync.Mutex
	data        map[string]map[string]Document
	putFailures int
	putErr      error
	queryErr    error
	getErr      error
	puts        int
	queries     int

	// OnQuery, when set, runs at the start of every Query outside the lock.
	OnQuery func()
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]Document)}
}

// FailPuts makes the next n Put calls fail with err.
func (m *MemoryStore) FailPuts(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putFailures = n
	m.putErr = err
}

// FailQueries makes every Query fail with err until called again with nil.
func (m *MemoryStore) FailQueries(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryErr = err
}

// FailGets makes every Get fail with err until called again with nil.
func (m *MemoryStore) FailGets(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErr = err
}

func (m *MemoryStore) PutCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

func (m *MemoryStore) QueryCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queries
}

func (m *MemoryStore) Count(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data[collection])
}

func (m *MemoryStore) Put(ctx context.Context, collection string, id string, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.puts++
	if m.putFailures > 0 {
		m.putFailures--
		return m.putErr
	}

	stored, err := roundTrip(doc)
	if err != nil {
		return err
	}
	if m.data[collection] == nil {
		m.data[collection] = make(map[string]Document)
	}
	m.data[collection][id] = stored
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, collection string, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	doc, ok := m.data[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return roundTrip(doc)
}

func (m *MemoryStore) Query(ctx context.Context, collection string, filters []Filter, orderBy *OrderBy) ([]Snapshot, error) {
	if m.OnQuery != nil {
		m.OnQuery()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries++
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	if err := checkQuery(filters, orderBy); err != nil {
		return nil, err
	}

	result := make([]Snapshot, 0)
	for id, doc := range m.data[collection] {
		if !matches(doc, filters) {
			continue
		}
		copied, err := roundTrip(doc)
		if err != nil {
			return nil, err
		}
		result = append(result, Snapshot{Id: id, Data: copied})
	}

	sort.Slice(result, func(i, j int) bool {
		if orderBy != nil {
			a, b := fieldText(result[i].Data, orderBy.Field), fieldText(result[j].Data, orderBy.Field)
			if a != b {
				if orderBy.Desc {
					return a > b
				}
				return a < b
			}
		}
		return result[i].Id < result[j].Id
	})
	return result, nil
}

func (m *MemoryStore) Delete(ctx context.Context, collection string, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[collection], id)
	return nil
}

func matches(doc Document, filters []Filter) bool {
	for _, f := range filters {
		if _, ok := doc[f.Field]; !ok {
			return false
		}
		if !compare(f.Op, fieldText(doc, f.Field), f.Value) {
			return false
		}
	}
	return true
}

func fieldText(doc Document, field string) string {
	v, ok := doc[field]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func roundTrip(doc Document) (Document, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("could not encode document: %w", err)
	}
	var out Document
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("could not decode document: %w", err)
	}
	return out, nil
}
