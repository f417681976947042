// Package engine implements the LockStateEngine: the component that wires
// together the StateIdRegistry, OwnerTable, FileLockSet and a SalAdapter to
// serve LOCK, LOCKU, LOCKT and the RELEASE_LOCKOWNER-equivalent cleanup
// (spec §4.4, §1c).
package engine

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/marmos91/nfs4lockd/internal/config"
	"github.com/marmos91/nfs4lockd/internal/fileset"
	"github.com/marmos91/nfs4lockd/internal/logger"
	"github.com/marmos91/nfs4lockd/internal/metrics"
	"github.com/marmos91/nfs4lockd/internal/owner"
	"github.com/marmos91/nfs4lockd/internal/sal"
	"github.com/marmos91/nfs4lockd/internal/stateid"
	"github.com/marmos91/nfs4lockd/pkg/nfs4"
)

// EngineError reports an operation's NFS4 status alongside the op name and,
// where one exists, the underlying cause -- the shape every op_lock/op_locku/
// op_lockt caller switches on to decide what status to put on the wire.
type EngineError struct {
	Status nfs4.Status
	Op     string
	Err    error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: status=%d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: status=%d", e.Op, e.Status)
}

func (e *EngineError) Unwrap() error { return e.Err }

func fail(op string, status nfs4.Status, err error) *EngineError {
	return &EngineError{Status: status, Op: op, Err: err}
}

// shareState is the engine's bookkeeping for one Share-variant StateObject
// (the product of an external OPEN, spec §3): enough for LOCK's
// NewLockOwner path to resolve an open_stateid against, and for LOCKU to
// find the related open state it must advance (spec §4.4 D/LOCKU F).
type shareState struct {
	mu    sync.Mutex
	other stateid.Other
	seqid uint32
	file  string
	owner owner.Key
}

// lockState is the engine's bookkeeping for one Lock-variant stateid: the
// live binding between a minted "other" field and the (file, lock owner) it
// was issued for. openRef is non-nil only when this state was created via
// the NewLockOwner path, and names the Share-variant state LOCKU must
// advance/decrement on release (spec §4.4 LOCKU F).
type lockState struct {
	mu      sync.Mutex
	other   stateid.Other
	seqid   uint32
	file    string
	owner   owner.Key
	openRef *shareState
	salID   uuid.UUID
}

type ownerFileKey struct {
	owner owner.Key
	file  string
}

// Engine is the LockStateEngine.
type Engine struct {
	cfg     config.LockEngineConfig
	stateid *stateid.Registry
	owners  *owner.Table
	files   *fileset.Set
	sal     sal.Adapter
	metrics metrics.LockMetrics

	fhValidator  FhValidator
	sessionLayer SessionLayer
	ownerEncoder OwnerEncoder

	mu          sync.Mutex
	lockStates  map[stateid.Other]*lockState
	byOwner     map[ownerFileKey]*lockState
	shareStates map[stateid.Other]*shareState
}

// Option overrides one of Engine's collaborators; used by tests to swap in
// a faulty/strict FhValidator, SessionLayer or OwnerEncoder without
// changing the production defaults New wires in.
type Option func(*Engine)

func WithFhValidator(v FhValidator) Option { return func(e *Engine) { e.fhValidator = v } }
func WithSessionLayer(s SessionLayer) Option { return func(e *Engine) { e.sessionLayer = s } }
func WithOwnerEncoder(o OwnerEncoder) Option { return func(e *Engine) { e.ownerEncoder = o } }

// New constructs an Engine. adapter and m may be swapped for production
// implementations; m may be nil to disable metrics entirely (spec §4.5,
// internal/metrics's nil-is-a-no-op contract). Collaborators not overridden
// via opts default to the no-op/pass-through reference implementations in
// collaborators.go.
func New(cfg config.LockEngineConfig, adapter sal.Adapter, files *fileset.Set, m metrics.LockMetrics, opts ...Option) *Engine {
	e := &Engine{
		cfg:          cfg,
		stateid:      stateid.New(),
		owners:       owner.New(),
		files:        files,
		sal:          adapter,
		metrics:      m,
		fhValidator:  defaultFhValidator{},
		sessionLayer: noopSessionLayer{},
		ownerEncoder: defaultOwnerEncoder{},
		lockStates:   make(map[stateid.Other]*lockState),
		byOwner:      make(map[ownerFileKey]*lockState),
		shareStates:  make(map[stateid.Other]*shareState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func otherKey(o stateid.Other) string { return hex.EncodeToString(o[:]) }

// RegisterShare records a Share-variant StateObject for file, standing in
// for the external OPEN handler that would otherwise produce one (OPEN
// itself is out of this module's scope, spec §1). LOCK's NewLockOwner path
// resolves the returned stateid as its open_stateid argument (spec §4.4 D).
func (e *Engine) RegisterShare(file string, clientID uint64, ownerBytes []byte, access, deny uint32) nfs4.Stateid4 {
	openKey := e.owners.LookupOrCreateOpen(clientID, string(ownerBytes))
	other, seqid := e.stateid.Mint(stateid.VariantOpen, stateid.StateKey{File: file, Owner: ownerBytesKey(openKey)})
	st := &shareState{other: other, seqid: seqid, file: file, owner: openKey}

	e.mu.Lock()
	e.shareStates[other] = st
	e.mu.Unlock()
	e.files.AddShare(file, fileset.ShareState{Owner: openKey, Access: access, Deny: deny})

	return nfs4.Stateid4{Seqid: seqid, Other: [12]byte(other)}
}

// checkFileHandle runs the FhValidator preflight (spec §4.4 A): empty,
// malformed and expired handles are rejected before the file's type is even
// considered; a non-regular target is only ISDIR/INVAL once the handle
// itself is known-good.
func (e *Engine) checkFileHandle(fh nfs4.FileHandle) *EngineError {
	if e.fhValidator.IsEmpty(fh) {
		return fail("filehandle", nfs4.NFS4ERR_NOFILEHANDLE, nil)
	}
	if e.fhValidator.IsInvalid(fh) {
		return fail("filehandle", nfs4.NFS4ERR_BADHANDLE, nil)
	}
	if e.fhValidator.IsExpired(fh) {
		return fail("filehandle", nfs4.NFS4ERR_FHEXPIRED, nil)
	}
	switch e.fhValidator.CurrentFileType(fh) {
	case nfs4.FileTypeRegular:
		return nil
	case nfs4.FileTypeDirectory:
		return fail("filehandle", nfs4.NFS4ERR_ISDIR, nil)
	default:
		return fail("filehandle", nfs4.NFS4ERR_INVAL, nil)
	}
}

// resolveRange applies the OFFSET_EOF/zero-length convention (spec §3, §9):
// a wire length of 0 is rejected, and a wire length of OffsetEOF means "to
// the end of the file," which fileset.Range spells as Length == 0.
func resolveRange(offset, length uint64) (fileset.Range, error) {
	if length == 0 {
		return fileset.Range{}, errors.New("zero-length range")
	}
	if length == nfs4.OffsetEOF {
		return fileset.Range{Offset: offset, Length: 0}, nil
	}
	if offset > ^uint64(0)-length {
		return fileset.Range{}, errors.New("range overflows uint64")
	}
	return fileset.Range{Offset: offset, Length: length}, nil
}

func lockKind(lockType uint32) fileset.Kind {
	if nfs4.IsWriteLockType(lockType) {
		return fileset.Write
	}
	return fileset.Read
}

func deniedFrom(c sal.Conflict) nfs4.LockDenied {
	lt := uint32(nfs4.READ_LT)
	if c.Kind == fileset.Write {
		lt = nfs4.WRITE_LT
	}
	length := c.Range.Length
	if length == 0 {
		length = nfs4.OffsetEOF
	}
	clientID := uint64(0)
	if c.Owner.Kind == owner.KindLock {
		clientID = c.Owner.ClientID
	}
	return nfs4.LockDenied{
		Offset:   c.Range.Offset,
		Length:   length,
		LockType: lt,
		Owner:    nfs4.ClientOwner{ClientID: clientID, Owner: []byte(c.Owner.Bytes)},
	}
}

// nfs4ErrnoState translates a SalAdapter error into an nfsstat4, per the
// mapping spec §4.5/§7 name "nfs4_errno_state". It is deliberately separate
// from the STALE_STATEID quirk that attaches specifically to a state_add
// failure (spec §9) -- that one is handled at its own call site, not here.
func nfs4ErrnoState(err error) nfs4.Status {
	switch {
	case errors.Is(err, sal.ErrInvalidArgument):
		return nfs4.NFS4ERR_INVAL
	case errors.Is(err, sal.ErrNotFound):
		return nfs4.NFS4ERR_BAD_STATEID
	default:
		return nfs4.NFS4ERR_SERVERFAULT
	}
}

// Lock implements op_lock (spec §4.4 "LOCK"), following the check ordering
// A. filehandle preflight, B. arithmetic preflight, C. share-mode conflict
// scan, D. locker branch, E. SalAdapter.StateLock, F. stateid/seqid
// advancement. Any failed check aborts immediately -- no partial mutation is
// ever committed (spec §9, "abort on first error").
func (e *Engine) Lock(ctx context.Context, args nfs4.LockArgs) (nfs4.LockResult, error) {
	const op = "LOCK"

	// A. filehandle preflight.
	if ferr := e.checkFileHandle(args.FileHandle); ferr != nil {
		return nfs4.LockResult{Status: ferr.Status}, ferr
	}
	file := args.FileHandle.Key

	// B. arithmetic preflight.
	rng, err := resolveRange(args.Offset, args.Length)
	if err != nil {
		return nfs4.LockResult{Status: nfs4.NFS4ERR_INVAL}, fail(op, nfs4.NFS4ERR_INVAL, err)
	}
	kind := lockKind(args.LockType)

	// C. share-mode conflict scan. Preserved quirk (spec §9): only WRITE
	// lock types are checked, against any share that denies WRITE without
	// itself having WRITE access; READ lock types skip this scan entirely.
	if kind == fileset.Write {
		var denyErr error
		e.files.IterShares(file, func(sh fileset.ShareState) {
			if denyErr != nil {
				return
			}
			if sh.Deny&nfs4.OPEN4_SHARE_DENY_WRITE != 0 && sh.Access&nfs4.OPEN4_SHARE_ACCESS_WRITE == 0 {
				denyErr = fail(op, nfs4.NFS4ERR_OPENMODE, nil)
			}
		})
		if denyErr != nil {
			return nfs4.LockResult{Status: nfs4.NFS4ERR_OPENMODE}, denyErr
		}
	}

	// D. locker branch: resolve or create the lock owner this request acts
	// under, validating whichever seqid(s) the wire arm carries.
	var lockOwnerKey owner.Key
	var existing *lockState
	var openRef *shareState

	switch {
	case args.NewOwner != nil:
		no := args.NewOwner

		// Resolve open_stateid.other via StateIdRegistry.
		openOther := stateid.Other(no.OpenStateid.Other)
		openKeyInfo, rerr := e.stateid.Resolve(openOther)
		if rerr != nil {
			if isInvalidStateid(rerr) {
				return nfs4.LockResult{Status: nfs4.NFS4ERR_INVAL}, fail(op, nfs4.NFS4ERR_INVAL, rerr)
			}
			return nfs4.LockResult{Status: nfs4.NFS4ERR_STALE_STATEID}, fail(op, nfs4.NFS4ERR_STALE_STATEID, rerr)
		}
		if openKeyInfo.Variant != stateid.VariantOpen || openKeyInfo.File != file {
			return nfs4.LockResult{Status: nfs4.NFS4ERR_BAD_STATEID}, fail(op, nfs4.NFS4ERR_BAD_STATEID, nil)
		}
		e.mu.Lock()
		share := e.shareStates[openOther]
		e.mu.Unlock()
		if share == nil {
			return nfs4.LockResult{Status: nfs4.NFS4ERR_BAD_STATEID}, fail(op, nfs4.NFS4ERR_BAD_STATEID, nil)
		}

		// nfs4_check_stateid via the session layer.
		if status := e.sessionLayer.CheckStateid(no.OpenStateid, file, no.Owner.ClientID); status != nfs4.NFS4_OK {
			return nfs4.LockResult{Status: status}, fail(op, status, nil)
		}

		// Owner canonicalization (spec §6): a malformed wire owner never
		// reaches OwnerTable.
		ownerName, ok := e.ownerEncoder.ConvertOwner(no.Owner.Owner)
		if !ok {
			return nfs4.LockResult{Status: nfs4.NFS4ERR_SERVERFAULT}, fail(op, nfs4.NFS4ERR_SERVERFAULT, errors.New("owner canonicalization failed"))
		}

		switch e.owners.ValidateSeqID(share.owner, no.OpenSeqid) {
		case owner.SeqIDBad:
			return nfs4.LockResult{Status: nfs4.NFS4ERR_BAD_SEQID}, fail(op, nfs4.NFS4ERR_BAD_SEQID, nil)
		case owner.SeqIDReplay:
			if e.metrics != nil {
				e.metrics.RecordSeqidReplay(op)
			}
		}

		lockOwnerKey = e.owners.LookupOrCreateLock(no.Owner.ClientID, ownerName, share.owner)
		if e.owners.ValidateSeqID(lockOwnerKey, no.LockSeqid) == owner.SeqIDBad {
			return nfs4.LockResult{Status: nfs4.NFS4ERR_BAD_SEQID}, fail(op, nfs4.NFS4ERR_BAD_SEQID, nil)
		}
		e.owners.BumpSeqID(share.owner)
		openRef = share

	case args.Existing != nil:
		ex := args.Existing

		// The anonymous-stateid special case (other==all-zero, seqid==0)
		// is accepted outright and proceeds with no resolved state
		// (spec §4.4 D).
		if ex.LockStateid.IsAnonymous() {
			lockOwnerKey = owner.Key{}
			break
		}

		key, rerr := e.stateid.Resolve(stateid.Other(ex.LockStateid.Other))
		if rerr != nil {
			if isInvalidStateid(rerr) {
				return nfs4.LockResult{Status: nfs4.NFS4ERR_INVAL}, fail(op, nfs4.NFS4ERR_INVAL, rerr)
			}
			return nfs4.LockResult{Status: nfs4.NFS4ERR_STALE_STATEID}, fail(op, nfs4.NFS4ERR_STALE_STATEID, rerr)
		}
		if key.Variant != stateid.VariantLock || key.File != file {
			return nfs4.LockResult{Status: nfs4.NFS4ERR_BAD_STATEID}, fail(op, nfs4.NFS4ERR_BAD_STATEID, nil)
		}

		e.mu.Lock()
		existing = e.lockStates[stateid.Other(ex.LockStateid.Other)]
		e.mu.Unlock()
		if existing == nil || existing.file != file {
			return nfs4.LockResult{Status: nfs4.NFS4ERR_BAD_STATEID}, fail(op, nfs4.NFS4ERR_BAD_STATEID, nil)
		}
		lockOwnerKey = existing.owner

		switch e.owners.ValidateSeqID(lockOwnerKey, ex.LockSeqid) {
		case owner.SeqIDBad:
			return nfs4.LockResult{Status: nfs4.NFS4ERR_BAD_SEQID}, fail(op, nfs4.NFS4ERR_BAD_SEQID, nil)
		case owner.SeqIDReplay:
			if e.metrics != nil {
				e.metrics.RecordSeqidReplay(op)
			}
			existing.mu.Lock()
			seqid := existing.seqid
			other := existing.other
			existing.mu.Unlock()
			return nfs4.LockResult{Status: nfs4.NFS4_OK, LockStateid: nfs4.Stateid4{Seqid: seqid, Other: [12]byte(other)}}, nil
		}

	default:
		return nfs4.LockResult{Status: nfs4.NFS4ERR_INVAL}, fail(op, nfs4.NFS4ERR_INVAL, errors.New("locker4 union set neither arm"))
	}

	// A lock owner can hold at most one stateid per file: if this owner
	// already has one here (new_lock_owner reusing an owner from a prior
	// LOCK, or simply not yet looked up above), extend it instead of
	// minting a second stateid for the same (file, owner) pair.
	if existing == nil {
		e.mu.Lock()
		existing = e.byOwner[ownerFileKey{owner: lockOwnerKey, file: file}]
		e.mu.Unlock()
	}

	// E. SalAdapter.StateLock.
	blocking := sal.NonBlocking
	if nfs4.IsBlockingLockType(args.LockType) {
		blocking = sal.NfsV4Blocking
	}
	if err := e.sal.StateLock(ctx, file, lockOwnerKey, blocking, rng, kind); err != nil {
		var conflict sal.Conflict
		if errors.As(err, &conflict) {
			if e.metrics != nil {
				e.metrics.RecordDenied(lockTypeLabel(args.LockType))
			}
			logger.DebugCtx(ctx, "lock denied", "file", file, "conflicting_owner", conflict.Owner.Bytes)
			return nfs4.LockResult{Status: nfs4.NFS4ERR_DENIED, Denied: deniedFrom(conflict)}, nil
		}
		status := nfs4ErrnoState(err)
		logger.WarnCtx(ctx, "sal state_lock failed", "file", file, "status", status, "err", err)
		return nfs4.LockResult{Status: status}, fail(op, status, err)
	}

	// F. FileLockSet update already performed by the SAL sharing the
	// engine's own fileset.Set; remaining work is stateid mint/advance
	// and owner bookkeeping. Owner seqids advance only once the request has
	// succeeded: lock owner first, then the related open owner (spec §5).
	if existing != nil {
		e.owners.BumpSeqID(lockOwnerKey)
		if openRef != nil {
			e.owners.BumpSeqID(openRef.owner)
		}
		existing.mu.Lock()
		existing.seqid = nextStateidSeqid(existing.seqid)
		seqid := existing.seqid
		other := existing.other
		existing.mu.Unlock()
		if e.metrics != nil {
			e.metrics.RecordGrant(lockTypeLabel(args.LockType))
		}
		return nfs4.LockResult{Status: nfs4.NFS4_OK, LockStateid: nfs4.Stateid4{Seqid: seqid, Other: [12]byte(other)}}, nil
	}

	// Allocate the new Lock-variant StateObject through the SAL boundary
	// (spec §4.4 D, §4.5). Preserved quirk (spec §9): a state_add failure
	// here is surfaced to the client as STALE_STATEID, not SERVERFAULT --
	// this conflates allocation failure with a stale stateid, kept for wire
	// compatibility with the reference behavior.
	salID, err := e.sal.StateAdd(ctx, file, lockOwnerKey)
	if err != nil {
		// Give back the range StateLock just granted, so the failed request
		// leaves no lock held behind it.
		_ = e.sal.StateUnlock(ctx, file, lockOwnerKey, rng)
		logger.WarnCtx(ctx, "sal state_add failed, reporting stale_stateid", "file", file, "err", err)
		return nfs4.LockResult{Status: nfs4.NFS4ERR_STALE_STATEID}, fail(op, nfs4.NFS4ERR_STALE_STATEID, err)
	}
	e.owners.BumpSeqID(lockOwnerKey)
	if openRef != nil {
		e.owners.BumpSeqID(openRef.owner)
	}

	other, _ := e.stateid.Mint(stateid.VariantLock, stateid.StateKey{File: file, Owner: ownerBytesKey(lockOwnerKey)})
	st := &lockState{other: other, seqid: 0, file: file, owner: lockOwnerKey, openRef: openRef, salID: salID}
	e.mu.Lock()
	e.lockStates[other] = st
	e.byOwner[ownerFileKey{owner: lockOwnerKey, file: file}] = st
	count := len(e.lockStates)
	e.mu.Unlock()
	e.owners.AddState(lockOwnerKey, otherKey(other))
	if openRef != nil {
		e.files.IncrementShareLockCount(file, openRef.owner)
	}
	if e.metrics != nil {
		e.metrics.RecordGrant(lockTypeLabel(args.LockType))
		e.metrics.SetActiveLocks(count)
	}
	logger.DebugCtx(ctx, "lock granted, new stateid minted", "file", file, "other", otherKey(other))

	return nfs4.LockResult{Status: nfs4.NFS4_OK, LockStateid: nfs4.Stateid4{Seqid: 0, Other: [12]byte(other)}}, nil
}

// Unlock implements op_locku (spec §4.4 "LOCKU"): A/B preflight shared with
// Lock, C. session-layer stateid check, D. resolve the lock state, E. the
// two seqid checks (owner so_seqid and the stateid's own state_seqid), F.
// SalAdapter.StateUnlock plus seqid advancement, G. unconditional deletion
// of the lock state once no ranges remain -- preserved even though a client
// could in principle still hold other ranges under a *different* stateid on
// the same owner (spec §9).
func (e *Engine) Unlock(ctx context.Context, args nfs4.LockuArgs) (nfs4.LockuResult, error) {
	const op = "LOCKU"

	if ferr := e.checkFileHandle(args.FileHandle); ferr != nil {
		return nfs4.LockuResult{Status: ferr.Status}, ferr
	}
	file := args.FileHandle.Key

	rng, err := resolveRange(args.Offset, args.Length)
	if err != nil {
		return nfs4.LockuResult{Status: nfs4.NFS4ERR_INVAL}, fail(op, nfs4.NFS4ERR_INVAL, err)
	}

	// C. nfs4_check_stateid via the session layer, clientid=0 per spec.
	if status := e.sessionLayer.CheckStateid(args.LockStateid, file, 0); status != nfs4.NFS4_OK {
		return nfs4.LockuResult{Status: status}, fail(op, status, nil)
	}

	// D. resolve the lock state this stateid names. NotFound maps to
	// LOCK_RANGE here -- distinct from LOCK's STALE_STATEID, preserved
	// verbatim from the reference behavior (spec §9).
	other := stateid.Other(args.LockStateid.Other)
	key, rerr := e.stateid.Resolve(other)
	if rerr != nil {
		return nfs4.LockuResult{Status: nfs4.NFS4ERR_LOCK_RANGE}, fail(op, nfs4.NFS4ERR_LOCK_RANGE, rerr)
	}
	if key.Variant != stateid.VariantLock || key.File != file {
		return nfs4.LockuResult{Status: nfs4.NFS4ERR_BAD_STATEID}, fail(op, nfs4.NFS4ERR_BAD_STATEID, nil)
	}

	e.mu.Lock()
	st := e.lockStates[other]
	e.mu.Unlock()
	if st == nil || st.file != file {
		return nfs4.LockuResult{Status: nfs4.NFS4ERR_BAD_STATEID}, fail(op, nfs4.NFS4ERR_BAD_STATEID, nil)
	}

	// E. seqid checks: the owner's so_seqid (O or O+1) ...
	switch e.owners.ValidateSeqID(st.owner, args.Seqid) {
	case owner.SeqIDBad:
		return nfs4.LockuResult{Status: nfs4.NFS4ERR_BAD_SEQID}, fail(op, nfs4.NFS4ERR_BAD_SEQID, nil)
	case owner.SeqIDReplay:
		if e.metrics != nil {
			e.metrics.RecordSeqidReplay(op)
		}
	}

	// ... and separately, the stateid's own state_seqid (S or S+1).
	st.mu.Lock()
	stateSeqidOK := args.LockStateid.Seqid == st.seqid || args.LockStateid.Seqid == nextStateidSeqid(st.seqid)
	st.mu.Unlock()
	if !stateSeqidOK {
		return nfs4.LockuResult{Status: nfs4.NFS4ERR_BAD_SEQID}, fail(op, nfs4.NFS4ERR_BAD_SEQID, nil)
	}

	// F. SalAdapter.StateUnlock plus seqid advancement.
	if err := e.sal.StateUnlock(ctx, file, st.owner, rng); err != nil {
		status := nfs4ErrnoState(err)
		return nfs4.LockuResult{Status: status}, fail(op, status, err)
	}
	e.owners.BumpSeqID(st.owner)
	if rel, ok := e.owners.RelatedOpenOwner(st.owner); ok {
		e.owners.BumpSeqID(rel)
	}

	st.mu.Lock()
	st.seqid = nextStateidSeqid(st.seqid)
	seqid := st.seqid
	result := nfs4.Stateid4{Seqid: seqid, Other: [12]byte(st.other)}
	st.mu.Unlock()

	// If the referenced open state exists, advance its state_seqid by 1
	// and, if its lock_count > 0, decrement it (spec §4.4 LOCKU F) -- this
	// runs on every successful LOCKU against a NewLockOwner-minted state,
	// not only the one that drops the last range.
	if st.openRef != nil {
		st.openRef.mu.Lock()
		st.openRef.seqid = nextStateidSeqid(st.openRef.seqid)
		st.openRef.mu.Unlock()
		e.files.DecrementShareLockCount(st.openRef.file, st.openRef.owner)
	}

	if e.metrics != nil {
		e.metrics.RecordRelease()
	}

	// G. unconditional deletion once no ranges remain under this owner. The
	// stateid returned below then names a dropped entry: a later LOCKU that
	// presents it resolves as not found and gets LOCK_RANGE.
	if e.files.RangeCount(file, st.owner) == 0 {
		e.mu.Lock()
		delete(e.lockStates, other)
		delete(e.byOwner, ownerFileKey{owner: st.owner, file: file})
		count := len(e.lockStates)
		e.mu.Unlock()
		e.stateid.Drop(other)
		e.owners.RemoveState(st.owner, otherKey(other))
		if err := e.sal.StateDel(ctx, st.salID); err != nil {
			logger.WarnCtx(ctx, "sal state_del failed on empty lock state", "file", file, "err", err)
		}
		if e.metrics != nil {
			e.metrics.SetActiveLocks(count)
		}
	}

	return nfs4.LockuResult{Status: nfs4.NFS4_OK, LockStateid: result}, nil
}

// Test implements op_lockt (spec §1c, §4.4 "LOCKT"): a read-only conflict
// query. It never creates, mutates, or references any stateid or owner.
func (e *Engine) Test(ctx context.Context, args nfs4.LocktArgs) (nfs4.LocktResult, error) {
	const op = "LOCKT"

	if ferr := e.checkFileHandle(args.FileHandle); ferr != nil {
		return nfs4.LocktResult{Status: ferr.Status}, ferr
	}
	rng, err := resolveRange(args.Offset, args.Length)
	if err != nil {
		return nfs4.LocktResult{Status: nfs4.NFS4ERR_INVAL}, fail(op, nfs4.NFS4ERR_INVAL, err)
	}

	requestingOwner := owner.Key{Kind: owner.KindLock, ClientID: args.Owner.ClientID, Bytes: string(args.Owner.Owner)}
	kind := lockKind(args.LockType)

	if c, conflict := e.files.FindConflict(args.FileHandle.Key, rng, kind, requestingOwner); conflict {
		if e.metrics != nil {
			e.metrics.RecordDenied(lockTypeLabel(args.LockType))
		}
		return nfs4.LocktResult{Status: nfs4.NFS4ERR_DENIED, Denied: deniedFrom(sal.Conflict{Owner: c.Owner, Range: c.Range, Kind: c.Kind})}, nil
	}
	return nfs4.LocktResult{Status: nfs4.NFS4_OK}, nil
}

// ReleaseLockOwner implements the RELEASE_LOCKOWNER-equivalent (spec §1c):
// it refuses with LOCKS_HELD if the owner still references live lock state.
func (e *Engine) ReleaseLockOwner(ctx context.Context, clientID uint64, ownerBytes []byte) error {
	key := owner.Key{Kind: owner.KindLock, ClientID: clientID, Bytes: string(ownerBytes)}
	if err := e.owners.Release(key); err != nil {
		return fail("RELEASE_LOCKOWNER", nfs4.NFS4ERR_LOCKS_HELD, err)
	}
	return nil
}

func isInvalidStateid(err error) bool {
	var re stateid.ResolveErr
	return errors.As(err, &re) && re == stateid.ErrInvalid
}

func nextStateidSeqid(seq uint32) uint32 {
	if seq == 0xFFFFFFFF {
		return 1
	}
	return seq + 1
}

func ownerBytesKey(k owner.Key) string {
	return fmt.Sprintf("%d:%s", k.ClientID, k.Bytes)
}

func lockTypeLabel(lt uint32) string {
	switch lt {
	case nfs4.READ_LT:
		return "read"
	case nfs4.WRITE_LT:
		return "write"
	case nfs4.READW_LT:
		return "readw"
	case nfs4.WRITEW_LT:
		return "writew"
	default:
		return "unknown"
	}
}
