package registry

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type memoryEntry struct {
	value   []byte
	version int64
}

// Memory is an in-process Store used in tests and single-process runs.
type Memory struct {
	mu    sync.RWMutex
	kv    map[string]memoryEntry
	lists map[string][][]byte
}

func NewMemory() *Memory {
	return &Memory{
		kv:    make(map[string]memoryEntry),
		lists: make(map[string][][]byte),
	}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.kv[key]
	if !ok {
		return nil, 0, ErrNotFound
	}
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, entry.version, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.kv[key]
	m.kv[key] = memoryEntry{value: clone(value), version: entry.version + 1}
	return nil
}

func (m *Memory) CompareAndSwap(ctx context.Context, key string, value []byte, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.kv[key]
	if version == 0 {
		if ok {
			return ErrConflict
		}
		m.kv[key] = memoryEntry{value: clone(value), version: 1}
		return nil
	}
	if !ok {
		return ErrNotFound
	}
	if entry.version != version {
		return ErrConflict
	}
	m.kv[key] = memoryEntry{value: clone(value), version: version + 1}
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.kv, key)
	return nil
}

func (m *Memory) Keys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.kv {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) PushList(ctx context.Context, key string, value []byte, maxLen int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := append([][]byte{clone(value)}, m.lists[key]...)
	if maxLen > 0 && len(list) > maxLen {
		list = list[:maxLen]
	}
	m.lists[key] = list
	return nil
}

func (m *Memory) RangeList(ctx context.Context, key string, n int) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.lists[key]
	if n > 0 && n < len(list) {
		list = list[:n]
	}
	out := make([][]byte, len(list))
	for i, v := range list {
		out[i] = clone(v)
	}
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
