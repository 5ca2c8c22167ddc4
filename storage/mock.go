package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/depictio/depictio/common"
)

// MockObjectStore is an in-memory ObjectStore for tests.
type MockObjectStore struct {
	mu      sync.RWMutex
	Objects map[string][]byte

	// FailKeys forces io-errors for specific keys, for failure-path tests.
	FailKeys map[string]bool
}

// NewMockObjectStore creates an empty in-memory object store.
func NewMockObjectStore() *MockObjectStore {
	return &MockObjectStore{
		Objects:  make(map[string][]byte),
		FailKeys: make(map[string]bool),
	}
}

var _ ObjectStore = (*MockObjectStore)(nil)

// PutObject stores a payload.
func (m *MockObjectStore) PutObject(_ context.Context, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailKeys[key] {
		return common.Errorf(common.ErrIO, key, "simulated upload failure")
	}
	buf := make([]byte, len(body))
	copy(buf, body)
	m.Objects[key] = buf
	return nil
}

// GetObject fetches a payload.
func (m *MockObjectStore) GetObject(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailKeys[key] {
		return nil, common.Errorf(common.ErrIO, key, "simulated download failure")
	}
	body, ok := m.Objects[key]
	if !ok {
		return nil, common.Errorf(common.ErrNotFound, key, "object not found")
	}
	buf := make([]byte, len(body))
	copy(buf, body)
	return buf, nil
}

// GetObjectRange fetches bytes [start, end] of a payload.
func (m *MockObjectStore) GetObjectRange(ctx context.Context, key string, start, end int64) ([]byte, error) {
	body, err := m.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}
	if start < 0 {
		start = 0
	}
	if end >= int64(len(body)) {
		end = int64(len(body)) - 1
	}
	if start > end {
		return nil, nil
	}
	return body[start : end+1], nil
}

// DeleteObject removes a payload.
func (m *MockObjectStore) DeleteObject(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Objects, key)
	return nil
}

// ListObjects returns sorted keys under a prefix.
func (m *MockObjectStore) ListObjects(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for key := range m.Objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// ObjectExists reports key presence.
func (m *MockObjectStore) ObjectExists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.Objects[key]
	return ok, nil
}
