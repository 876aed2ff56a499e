package local

import (
	"context"
	"sync"
)

// KV is the device key-value store the adapter persists into.
// Implementations must be durable across process restarts.
type KV interface {
	// Get returns the value under key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}

var (
	_ KV = (*SQLiteKV)(nil)
	_ KV = (*MemoryKV)(nil)
)

// MemoryKV is a KV held in process memory. It is not durable and exists for
// embedding and tests.
type MemoryKV struct {
	mu   sync.Mutex
	data map[string]string

	// Fault, if set, is consulted before every call. A non-nil return is
	// reported as the call's error and the call has no effect.
	Fault func(op, key string) error
}

// NewMemoryKV creates an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]string)}
}

func (m *MemoryKV) fault(op, key string) error {
	if m.Fault == nil {
		return nil
	}
	return m.Fault(op, key)
}

// Get implements KV.
func (m *MemoryKV) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("get", key); err != nil {
		return "", false, err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

// Set implements KV.
func (m *MemoryKV) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("set", key); err != nil {
		return err
	}
	m.data[key] = value
	return nil
}

// Remove implements KV.
func (m *MemoryKV) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("remove", key); err != nil {
		return err
	}
	delete(m.data, key)
	return nil
}
