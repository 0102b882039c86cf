// internal/docstore/memory.go
package docstore

import (
	"context"
	"sync"
)

// MemoryStore keeps collections in process. Documents are stored encoded so
// callers never share maps with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]memoryEntry
}

type memoryEntry struct {
	id   string
	data []byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string][]memoryEntry)}
}

func (m *MemoryStore) EnsureCollection(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; !ok {
		m.collections[name] = nil
	}
	return nil
}

func (m *MemoryStore) InsertOne(ctx context.Context, collection string, doc Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := newID(doc)
	data, err := encode(withID(doc, id))
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[collection] = append(m.collections[collection], memoryEntry{id: id, data: data})
	return id, nil
}

func (m *MemoryStore) Find(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	result := []Document{}
	for _, entry := range m.collections[collection] {
		doc, err := decode(entry.data)
		if err != nil {
			return nil, err
		}
		if matches(doc, want) {
			result = append(result, doc)
		}
	}
	return result, nil
}

func (m *MemoryStore) FindOneAndReplace(ctx context.Context, collection string, filter Filter, doc Document) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	i, previous, err := m.firstMatchLocked(collection, want)
	if err != nil {
		return nil, err
	}
	entries := m.collections[collection]
	data, err := encode(withID(doc, entries[i].id))
	if err != nil {
		return nil, err
	}
	entries[i].data = data
	return previous, nil
}

func (m *MemoryStore) FindOneAndDelete(ctx context.Context, collection string, filter Filter) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	i, removed, err := m.firstMatchLocked(collection, want)
	if err != nil {
		return nil, err
	}
	entries := m.collections[collection]
	m.collections[collection] = append(entries[:i:i], entries[i+1:]...)
	return removed, nil
}

func (m *MemoryStore) DeleteMany(ctx context.Context, collection string, filter Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	want, err := normalizeFilter(filter)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.collections[collection]
	kept := make([]memoryEntry, 0, len(entries))
	var removed int64
	for _, entry := range entries {
		doc, err := decode(entry.data)
		if err != nil {
			return 0, err
		}
		if matches(doc, want) {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	if _, ok := m.collections[collection]; ok {
		m.collections[collection] = kept
	}
	return removed, nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) firstMatchLocked(collection string, want Filter) (int, Document, error) {
	for i, entry := range m.collections[collection] {
		doc, err := decode(entry.data)
		if err != nil {
			return 0, nil, err
		}
		if matches(doc, want) {
			return i, doc, nil
		}
	}
	return 0, nil, ErrNoDocuments
}
