// Package stateid implements the StateIdRegistry: the mapping from a
// 12-byte opaque stateid "other" field to the StateKey it identifies.
package stateid

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"sync/atomic"
)

// Variant tags byte 0 of a minted "other" field, letting callers tell a
// Share-variant state apart from a Lock-variant one without a lookup.
type Variant byte

const (
	VariantOpen Variant = 0x01
	VariantLock Variant = 0x02
)

// Other is the 12-byte opaque stateid body.
type Other [12]byte

// StateKey is the caller-defined identity a minted Other resolves to. The
// registry treats it as opaque data; callers (the engine and SAL) attach
// whatever they need to look up the real state object.
type StateKey struct {
	Variant Variant
	File    string
	Owner   string
	Index   uint64
}

// ResolveErr distinguishes "never existed" from "malformed."
type ResolveErr int

const (
	// ErrNotFound means the other field was well-formed but no state is
	// currently registered under it (never minted, or already dropped).
	ErrNotFound ResolveErr = iota
	// ErrInvalid means the other field could not possibly have been
	// minted by this registry (e.g. wrong length on the wire before it
	// was ever turned into an Other).
	ErrInvalid
)

func (e ResolveErr) Error() string {
	switch e {
	case ErrNotFound:
		return "stateid not found"
	case ErrInvalid:
		return "malformed stateid"
	default:
		return "unknown resolve error"
	}
}

// Registry mints and resolves stateid "other" fields. A counter plus a
// per-process random prefix make minted values unique for the lifetime of
// the server; nothing here persists across restarts, which is why the
// prefix also lets resolve() reject stateids left over from a prior
// incarnation without a map lookup.
type Registry struct {
	prefix  [3]byte
	counter atomic.Uint64

	mu    sync.RWMutex
	table map[Other]StateKey
}

// New constructs a Registry with a fresh random per-boot prefix.
func New() *Registry {
	r := &Registry{table: make(map[Other]StateKey)}
	_, _ = rand.Read(r.prefix[:])
	return r
}

// Mint generates a fresh Other for the given variant and records key under
// it. The returned seqid is always 0: callers of LOCK on a freshly minted
// lock state report seqid=0 in the response, per the NewLockOwner path.
func (r *Registry) Mint(variant Variant, key StateKey) (Other, uint32) {
	var other Other
	other[0] = byte(variant)
	other[1] = r.prefix[0]
	other[2] = r.prefix[1]
	other[3] = r.prefix[2]

	seq := r.counter.Add(1)
	binary.BigEndian.PutUint64(other[4:], seq)

	key.Variant = variant
	r.mu.Lock()
	r.table[other] = key
	r.mu.Unlock()

	return other, 0
}

// Resolve looks up the StateKey for other. It never attempts to resolve the
// special all-zero or all-ones forms -- those are the caller's
// responsibility per spec §4.1.
func (r *Registry) Resolve(other Other) (StateKey, error) {
	if !r.bootPrefixMatches(other) {
		return StateKey{}, ErrNotFound
	}
	r.mu.RLock()
	key, ok := r.table[other]
	r.mu.RUnlock()
	if !ok {
		return StateKey{}, ErrNotFound
	}
	return key, nil
}

func (r *Registry) bootPrefixMatches(other Other) bool {
	return other[1] == r.prefix[0] && other[2] == r.prefix[1] && other[3] == r.prefix[2]
}

// Drop removes other from the registry. Safe to call on an already-dropped
// or never-minted value.
func (r *Registry) Drop(other Other) {
	r.mu.Lock()
	delete(r.table, other)
	r.mu.Unlock()
}
