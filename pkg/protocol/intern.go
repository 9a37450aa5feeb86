package protocol

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Interner maps identifier strings to small stable numbers and back.
//
// Implementations must return the same number for the same identifier for
// their whole lifetime, must never hand the same number to two identifiers,
// and must keep a reverse map so Lookup can undo Intern.
type Interner interface {
	Intern(id string) uint64
	Lookup(n uint64) (string, bool)
	Len() int
}

// InternerKind names an Interner implementation in configuration.
type InternerKind string

const (
	InternerSequential InternerKind = "sequential"
	InternerHash       InternerKind = "hash"
)

// NewInterner builds the interner named by kind.
func NewInterner(kind InternerKind) (Interner, error) {
	switch InternerKind(strings.ToLower(string(kind))) {
	case InternerSequential, "":
		return NewSequentialInterner(), nil
	case InternerHash:
		return NewHashInterner(), nil
	default:
		return nil, fmt.Errorf("unknown interner %q", kind)
	}
}

// SequentialInterner hands out numbers in first-seen order. Identifiers live
// in an arena indexed by their number.
type SequentialInterner struct {
	mu    sync.RWMutex
	arena []string
	index map[string]uint64
}

// NewSequentialInterner creates an empty interner.
func NewSequentialInterner() *SequentialInterner {
	return &SequentialInterner{index: make(map[string]uint64)}
}

func (s *SequentialInterner) Intern(id string) uint64 {
	s.mu.RLock()
	n, ok := s.index[id]
	s.mu.RUnlock()
	if ok {
		return n
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.index[id]; ok {
		return n
	}
	n = uint64(len(s.arena))
	s.arena = append(s.arena, id)
	s.index[id] = n
	return n
}

func (s *SequentialInterner) Lookup(n uint64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n >= uint64(len(s.arena)) {
		return "", false
	}
	return s.arena[n], true
}

func (s *SequentialInterner) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.arena)
}

// HashInterner derives numbers from an xxhash of the identifier, so the same
// identifier tends to get the same number across restarts. Collisions are
// resolved by linear probing; the first identifier to claim a slot keeps it.
type HashInterner struct {
	mu      sync.RWMutex
	hash    func(string) uint64
	forward map[string]uint64
	reverse map[uint64]string
}

// NewHashInterner creates an empty xxhash-based interner.
func NewHashInterner() *HashInterner {
	return newHashInterner(xxhash.Sum64String)
}

func newHashInterner(hash func(string) uint64) *HashInterner {
	return &HashInterner{
		hash:    hash,
		forward: make(map[string]uint64),
		reverse: make(map[uint64]string),
	}
}

func (h *HashInterner) Intern(id string) uint64 {
	h.mu.RLock()
	n, ok := h.forward[id]
	h.mu.RUnlock()
	if ok {
		return n
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if n, ok := h.forward[id]; ok {
		return n
	}
	n = h.hash(id)
	for {
		if _, taken := h.reverse[n]; !taken {
			break
		}
		n++
	}
	h.forward[id] = n
	h.reverse[n] = id
	return n
}

func (h *HashInterner) Lookup(n uint64) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id, ok := h.reverse[n]
	return id, ok
}

func (h *HashInterner) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.forward)
}
