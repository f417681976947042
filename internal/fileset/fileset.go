// Package fileset implements the FileLockSet: a per-file ordered collection
// of accepted byte-range locks plus share-mode records, with conflict
// queries by range and owner.
package fileset

import (
	"sort"
	"sync"

	"github.com/marmos91/nfs4lockd/internal/owner"
)

// Kind is a lock kind: Read or Write.
type Kind int

const (
	Read Kind = iota
	Write
)

// Range is a byte range. Length == 0 means "to the maximum representable
// offset" -- callers resolve OFFSET_EOF to this before reaching FileLockSet.
type Range struct {
	Offset uint64
	Length uint64
}

// end returns the exclusive end of r, saturating at ^uint64(0) for
// unbounded ranges instead of overflowing.
func (r Range) end() uint64 {
	if r.Length == 0 {
		return ^uint64(0)
	}
	if r.Offset > ^uint64(0)-r.Length {
		return ^uint64(0)
	}
	return r.Offset + r.Length
}

func (r Range) overlaps(o Range) bool {
	return r.Offset < o.end() && o.Offset < r.end()
}

// ShareState mirrors an OPEN share state enough for LockSet's conflict scan
// (spec §4.4 C) to consult without depending on the full StateObject type.
// LockCount tracks the spec §3 invariant "Share.lock_count equals the
// number of Lock-variant StateObjects whose open_ref is that share"; the
// engine advances/retreats it via IncrementShareLockCount/
// DecrementShareLockCount as LOCK/LOCKU mint or retire a Lock-variant state
// against this share.
type ShareState struct {
	Owner     owner.Key
	Access    uint32
	Deny      uint32
	LockCount int
}

type heldRange struct {
	owner owner.Key
	rng   Range
	kind  Kind
}

type fileRecord struct {
	mu     sync.RWMutex
	ranges []heldRange
	shares []*ShareState
}

// Set is the FileLockSet: one instance covers every file the engine knows
// about, internally sharded per file key.
type Set struct {
	mu    sync.Mutex
	files map[string]*fileRecord
}

// New constructs an empty FileLockSet.
func New() *Set {
	return &Set{files: make(map[string]*fileRecord)}
}

func (s *Set) file(key string) *fileRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[key]
	if !ok {
		f = &fileRecord{}
		s.files[key] = f
	}
	return f
}

// AddShare records a share state for conflict scanning. Called when the
// engine learns of an OPEN's share mode (external to this module; exposed
// so tests and the reference SAL can set up fixtures).
func (s *Set) AddShare(file string, share ShareState) {
	f := s.file(file)
	sh := share
	f.mu.Lock()
	f.shares = append(f.shares, &sh)
	f.mu.Unlock()
}

// IterShares calls fn for every Share-variant state recorded against file,
// used by the engine's step C share-mode conflict scan.
func (s *Set) IterShares(file string, fn func(ShareState)) {
	f := s.file(file)
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, sh := range f.shares {
		fn(*sh)
	}
}

// IncrementShareLockCount advances by 1 the lock_count of the share owned
// by ow on file (spec §4.4 D: "advance Share.lock_count by 1" once a fresh
// Lock-variant state is minted against it).
func (s *Set) IncrementShareLockCount(file string, ow owner.Key) {
	f := s.file(file)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sh := range f.shares {
		if sh.Owner == ow {
			sh.LockCount++
			return
		}
	}
}

// DecrementShareLockCount reverses IncrementShareLockCount, never taking
// lock_count below zero (spec §4.4 LOCKU F: "if its lock_count > 0,
// decrement it").
func (s *Set) DecrementShareLockCount(file string, ow owner.Key) {
	f := s.file(file)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sh := range f.shares {
		if sh.Owner == ow && sh.LockCount > 0 {
			sh.LockCount--
			return
		}
	}
}

// Conflict describes the first conflicting range found by FindConflict.
type Conflict struct {
	Owner owner.Key
	Range Range
	Kind  Kind
}

// FindConflict scans file's held ranges for the first (in offset order)
// range that overlaps rng, belongs to a different owner than
// requestingOwner, and conflicts per the rules in spec §4.3:
//   - two Read locks never conflict
//   - a Write lock conflicts with any overlapping lock from a different owner
func (s *Set) FindConflict(file string, rng Range, kind Kind, requestingOwner owner.Key) (Conflict, bool) {
	f := s.file(file)
	f.mu.RLock()
	defer f.mu.RUnlock()

	candidates := append([]heldRange(nil), f.ranges...)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].rng.Offset < candidates[j].rng.Offset })

	for _, h := range candidates {
		if h.owner == requestingOwner {
			continue
		}
		if !h.rng.overlaps(rng) {
			continue
		}
		if kind == Read && h.kind == Read {
			continue
		}
		return Conflict{Owner: h.owner, Range: h.rng, Kind: h.kind}, true
	}
	return Conflict{}, false
}

// Insert records rng as held by owner with the given kind, merging with any
// existing overlapping/adjacent range of equal kind from the same owner.
func (s *Set) Insert(file string, ow owner.Key, rng Range, kind Kind) {
	f := s.file(file)
	f.mu.Lock()
	defer f.mu.Unlock()

	merged := rng
	kept := f.ranges[:0:0]
	for _, h := range f.ranges {
		if h.owner == ow && h.kind == kind && rangesAdjacentOrOverlapping(h.rng, merged) {
			merged = unionRange(h.rng, merged)
			continue
		}
		kept = append(kept, h)
	}
	kept = append(kept, heldRange{owner: ow, rng: merged, kind: kind})
	f.ranges = kept
}

// Remove deletes the portion of rng held by owner. Ranges are clipped, not
// merely removed wholesale: unlocking the middle of a larger range splits
// it into two.
func (s *Set) Remove(file string, ow owner.Key, rng Range) {
	f := s.file(file)
	f.mu.Lock()
	defer f.mu.Unlock()

	var kept []heldRange
	for _, h := range f.ranges {
		if h.owner != ow || !h.rng.overlaps(rng) {
			kept = append(kept, h)
			continue
		}
		kept = append(kept, splitRange(h, rng)...)
	}
	f.ranges = kept
}

// RangeCount returns how many ranges owner currently holds on file -- used
// by the engine's LOCKU destroy policy (spec §4.4 G) to decide whether the
// owning Lock-variant state has any ranges left.
func (s *Set) RangeCount(file string, ow owner.Key) int {
	f := s.file(file)
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := 0
	for _, h := range f.ranges {
		if h.owner == ow {
			n++
		}
	}
	return n
}

func rangesAdjacentOrOverlapping(a, b Range) bool {
	if a.overlaps(b) {
		return true
	}
	return a.end() == b.Offset || b.end() == a.Offset
}

func unionRange(a, b Range) Range {
	start := a.Offset
	if b.Offset < start {
		start = b.Offset
	}
	aEnd, bEnd := a.end(), b.end()
	if aEnd == ^uint64(0) || bEnd == ^uint64(0) {
		return Range{Offset: start, Length: 0}
	}
	end := aEnd
	if bEnd > end {
		end = bEnd
	}
	return Range{Offset: start, Length: end - start}
}

// splitRange returns what remains of held after removing the portion that
// overlaps cut.
func splitRange(held heldRange, cut Range) []heldRange {
	var out []heldRange
	if held.rng.Offset < cut.Offset {
		out = append(out, heldRange{owner: held.owner, kind: held.kind, rng: Range{
			Offset: held.rng.Offset,
			Length: cut.Offset - held.rng.Offset,
		}})
	}
	heldEnd, cutEnd := held.rng.end(), cut.end()
	if heldEnd > cutEnd {
		length := uint64(0)
		if heldEnd != ^uint64(0) {
			length = heldEnd - cutEnd
		}
		out = append(out, heldRange{owner: held.owner, kind: held.kind, rng: Range{
			Offset: cutEnd,
			Length: length,
		}})
	}
	return out
}
