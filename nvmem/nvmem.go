// Licensed under the Apache-2.0 license

// Package nvmem provides word-addressed non-volatile memory that survives a
// target reset: the boot signature and the suite progress live here.
package nvmem

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ARM-software/psa-arch-tests/verification/client"
)

// WordCount is the number of 32-bit words in a region
const WordCount = 16

// Well-known word indices
const (
	WordBootState = iota
	WordTestIndex
	WordTestStatus
	WordBootCount
)

var (
	// ErrOutOfRange is returned for an index outside the region
	ErrOutOfRange = errors.New("nvmem index out of range")
	// ErrCorrupt is returned when the backing data fails its integrity check
	ErrCorrupt = errors.New("nvmem contents are corrupt")
)

// Store is a word-addressed non-volatile memory region. WriteWord returns
// only after the value is durable.
type Store interface {
	ReadWord(index int) (uint32, error)
	WriteWord(index int, value uint32) error
	Close() error
}

func checkIndex(index int) error {
	if index < 0 || index >= WordCount {
		return fmt.Errorf("%w: %d", ErrOutOfRange, index)
	}
	return nil
}

// Open opens a store with the named backend: "file", "sqlite" or "memory".
func Open(backend, path string) (Store, error) {
	switch strings.ToLower(backend) {
	case "", "file":
		return OpenFile(path)
	case "sqlite":
		return OpenSQLite(path)
	case "memory":
		return NewMemStore(), nil
	}
	return nil, fmt.Errorf("unknown nvmem backend %q", backend)
}

// MemStore is a volatile Store for tests and for targets whose non-volatile
// memory only has to outlive a simulated reset within one process.
type MemStore struct {
	mu    sync.Mutex
	words [WordCount]uint32
}

// NewMemStore returns a zeroed MemStore
func NewMemStore() *MemStore {
	return &MemStore{}
}

// ReadWord reads one word
func (m *MemStore) ReadWord(index int) (uint32, error) {
	if err := checkIndex(index); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.words[index], nil
}

// WriteWord writes one word
func (m *MemStore) WriteWord(index int, value uint32) error {
	if err := checkIndex(index); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.words[index] = value
	return nil
}

// Close is a no-op
func (m *MemStore) Close() error {
	return nil
}

// BootFlags stores the boot signature in a Store. It implements
// client.BootFlagStore.
type BootFlags struct {
	Store Store
}

// SetBootFlag durably writes the boot signature
func (b BootFlags) SetBootFlag(state client.BootState) error {
	if err := b.Store.WriteWord(WordBootState, uint32(state)); err != nil {
		return fmt.Errorf("write boot flag: %w", err)
	}
	return nil
}

// GetBootFlag reads the boot signature
func (b BootFlags) GetBootFlag() (client.BootState, error) {
	v, err := b.Store.ReadWord(WordBootState)
	if err != nil {
		return client.BootUnknown, fmt.Errorf("read boot flag: %w", err)
	}
	return client.BootState(v), nil
}

// Progress records which test of a suite is running so a harness restarted
// after a reset can continue with the next one.
type Progress struct {
	Store Store
}

// Begin records that test index is about to run
func (p Progress) Begin(index int) error {
	if err := p.Store.WriteWord(WordTestIndex, uint32(index)+1); err != nil {
		return fmt.Errorf("write test index: %w", err)
	}
	return nil
}

// Current returns the index of the test that was running, and false if no
// test was in flight.
func (p Progress) Current() (int, bool, error) {
	v, err := p.Store.ReadWord(WordTestIndex)
	if err != nil {
		return 0, false, fmt.Errorf("read test index: %w", err)
	}
	if v == 0 {
		return 0, false, nil
	}
	return int(v) - 1, true, nil
}

// End records that no test is in flight any more
func (p Progress) End() error {
	if err := p.Store.WriteWord(WordTestIndex, 0); err != nil {
		return fmt.Errorf("clear test index: %w", err)
	}
	return nil
}

// CountBoot increments and returns the boot counter
func CountBoot(s Store) (uint32, error) {
	v, err := s.ReadWord(WordBootCount)
	if err != nil {
		return 0, err
	}
	v++
	if err := s.WriteWord(WordBootCount, v); err != nil {
		return 0, err
	}
	return v, nil
}
