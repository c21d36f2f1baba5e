// Package settings persists DriverSettings in an external key/value store.
package settings

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// ErrConfigUnavailable is returned by a Store for a key it cannot supply,
// either because it is missing or because the backend is unreachable.
// It is never fatal: callers substitute a default.
var ErrConfigUnavailable = errors.New("config unavailable")

// Store is a string-keyed configuration store with typed accessors.
type Store interface {
	GetString(key string) (string, error)
	GetInt(key string) (int64, error)
	GetFloat(key string) (float64, error)

	SetString(key, value string) error
	SetInt(key string, value int64) error
	SetFloat(key string, value float64) error

	Close() error
}

// stringStore adapts a raw get/set pair to the typed Store methods. Every
// backend stores values as strings.
type stringStore struct {
	get func(key string) (string, error)
	set func(key, value string) error
}

func (s stringStore) GetString(key string) (string, error) { return s.get(key) }

func (s stringStore) GetInt(key string) (int64, error) {
	v, err := s.get(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q: %w: %v", key, v, ErrConfigUnavailable, err)
	}
	return n, nil
}

func (s stringStore) GetFloat(key string) (float64, error) {
	v, err := s.get(key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q: %w: %v", key, v, ErrConfigUnavailable, err)
	}
	return f, nil
}

func (s stringStore) SetString(key, value string) error { return s.set(key, value) }

func (s stringStore) SetInt(key string, value int64) error {
	return s.set(key, strconv.FormatInt(value, 10))
}

func (s stringStore) SetFloat(key string, value float64) error {
	return s.set(key, strconv.FormatFloat(value, 'g', -1, 64))
}

// MemoryStore is an in-process Store, used when no persistent backend is
// configured and in tests.
type MemoryStore struct {
	stringStore
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{values: make(map[string]string)}
	m.stringStore = stringStore{get: m.get, set: m.set}
	return m
}

func (m *MemoryStore) get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return "", fmt.Errorf("%s: %w", key, ErrConfigUnavailable)
	}
	return v, nil
}

func (m *MemoryStore) set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStore) Close() error { return nil }
