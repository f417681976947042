// Package sal defines the SalAdapter contract the lock state engine commits
// through, and ships an in-memory reference implementation so the engine
// can be built and tested without a real persistence layer wired in. A
// production deployment substitutes its own Adapter; the engine never
// depends on how one is implemented (spec §4.5, §6).
package sal

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/marmos91/nfs4lockd/internal/fileset"
	"github.com/marmos91/nfs4lockd/internal/owner"
)

// Sentinel errors the engine translates via its own nfs4_errno_state-shaped
// mapping (spec §4.5, §7).
var (
	ErrNotFound        = errors.New("sal: state not found")
	ErrStateError      = errors.New("sal: state error")
	ErrInvalidArgument = errors.New("sal: invalid argument")
)

// Conflict is returned by Lock when the requested range conflicts with an
// existing lock.
type Conflict struct {
	Owner owner.Key
	Range fileset.Range
	Kind  fileset.Kind
}

func (Conflict) Error() string { return "sal: lock conflict" }

// Blocking mirrors the engine's Blocking hint (spec §3); the reference
// adapter accepts it but neither records it nor parks a caller.
type Blocking int

const (
	NonBlocking Blocking = iota
	NfsV4Blocking
)

// LockRecord is what the reference Adapter keeps for each lock state added
// through StateAdd. Only ID, File and Owner are filled in; Range and Kind
// stay at their zero values.
type LockRecord struct {
	ID    uuid.UUID
	File  string
	Owner owner.Key
	Range fileset.Range
	Kind  fileset.Kind
}

// Adapter is the capability interface the engine calls through (spec §4.5).
type Adapter interface {
	StateLock(ctx context.Context, file string, ow owner.Key, blocking Blocking, rng fileset.Range, kind fileset.Kind) error
	StateUnlock(ctx context.Context, file string, ow owner.Key, rng fileset.Range) error
	StateAdd(ctx context.Context, file string, ow owner.Key) (uuid.UUID, error)
	StateDel(ctx context.Context, id uuid.UUID) error
}

// memoryAdapter is the reference in-memory implementation. It delegates
// conflict detection to the same FileLockSet the engine already consults in
// step C/E, mirroring the production split where the SAL owns the
// authoritative lock list and the engine's own FileLockSet is a
// conflict-detection cache over the same data (spec §9, "Global per-file
// state becomes a per-file component with explicit locking").
type memoryAdapter struct {
	mu      sync.Mutex
	locks   *fileset.Set
	records map[uuid.UUID]LockRecord
}

// NewMemoryAdapter constructs a reference Adapter sharing the given
// FileLockSet with the engine, so SAL-observed state and engine-observed
// state never diverge.
func NewMemoryAdapter(locks *fileset.Set) Adapter {
	return &memoryAdapter{
		locks:   locks,
		records: make(map[uuid.UUID]LockRecord),
	}
}

func (a *memoryAdapter) StateLock(ctx context.Context, file string, ow owner.Key, blocking Blocking, rng fileset.Range, kind fileset.Kind) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if c, conflict := a.locks.FindConflict(file, rng, kind, ow); conflict {
		return Conflict{Owner: c.Owner, Range: c.Range, Kind: c.Kind}
	}
	a.locks.Insert(file, ow, rng, kind)
	return nil
}

func (a *memoryAdapter) StateUnlock(ctx context.Context, file string, ow owner.Key, rng fileset.Range) error {
	a.locks.Remove(file, ow, rng)
	return nil
}

func (a *memoryAdapter) StateAdd(ctx context.Context, file string, ow owner.Key) (uuid.UUID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := uuid.New()
	a.records[id] = LockRecord{ID: id, File: file, Owner: ow}
	return id, nil
}

func (a *memoryAdapter) StateDel(ctx context.Context, id uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.records[id]; !ok {
		return ErrNotFound
	}
	delete(a.records, id)
	return nil
}
