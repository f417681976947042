package engine

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nfs4lockd/internal/config"
	"github.com/marmos91/nfs4lockd/internal/fileset"
	"github.com/marmos91/nfs4lockd/internal/owner"
	"github.com/marmos91/nfs4lockd/internal/sal"
	"github.com/marmos91/nfs4lockd/pkg/nfs4"
)

func newTestEngine(opts ...Option) *Engine {
	files := fileset.New()
	adapter := sal.NewMemoryAdapter(files)
	return New(config.Defaults(), adapter, files, nil, opts...)
}

// registerShare stands in for the external OPEN handler (spec §1's
// non-goal) so a LOCK's NewLockOwner path has a real Share-variant stateid
// to resolve against.
func registerShare(e *Engine, file string, clientID uint64, ownerBytes string) nfs4.Stateid4 {
	return e.RegisterShare(file, clientID, []byte(ownerBytes), nfs4.OPEN4_SHARE_ACCESS_BOTH, nfs4.OPEN4_SHARE_DENY_NONE)
}

func newOwnerArgs(openStateid nfs4.Stateid4, clientID uint64, ownerBytes string) *nfs4.NewLockOwner {
	return &nfs4.NewLockOwner{
		OpenSeqid:   1,
		OpenStateid: openStateid,
		LockSeqid:   1,
		Owner:       nfs4.ClientOwner{ClientID: clientID, Owner: []byte(ownerBytes)},
	}
}

func TestLockGrantsFreshRange(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	share := registerShare(e, "f1", 1, "owner-a")

	res, err := e.Lock(ctx, nfs4.LockArgs{
		FileHandle: nfs4.FileHandle{Key: "f1"},
		LockType:   nfs4.WRITE_LT,
		Offset:     0,
		Length:     100,
		NewOwner:   newOwnerArgs(share, 1, "owner-a"),
	})
	require.NoError(t, err)
	assert.Equal(t, nfs4.Status(nfs4.NFS4_OK), res.Status)
	assert.False(t, nfs4.Stateid4{}.Other == res.LockStateid.Other)
}

func TestLockConflictReturnsDenied(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	shareA := registerShare(e, "f1", 1, "owner-a")
	shareB := registerShare(e, "f1", 2, "owner-b")

	_, err := e.Lock(ctx, nfs4.LockArgs{
		FileHandle: nfs4.FileHandle{Key: "f1"},
		LockType:   nfs4.WRITE_LT,
		Offset:     0,
		Length:     100,
		NewOwner:   newOwnerArgs(shareA, 1, "owner-a"),
	})
	require.NoError(t, err)

	res, err := e.Lock(ctx, nfs4.LockArgs{
		FileHandle: nfs4.FileHandle{Key: "f1"},
		LockType:   nfs4.WRITE_LT,
		Offset:     50,
		Length:     10,
		NewOwner:   newOwnerArgs(shareB, 2, "owner-b"),
	})
	require.NoError(t, err)
	assert.Equal(t, nfs4.Status(nfs4.NFS4ERR_DENIED), res.Status)
	assert.Equal(t, uint64(0), res.Denied.Offset)
}

func TestLockEmptyFilehandleReturnsNofilehandle(t *testing.T) {
	e := newTestEngine()
	share := registerShare(e, "f1", 1, "owner-a")
	_, err := e.Lock(context.Background(), nfs4.LockArgs{
		FileHandle: nfs4.FileHandle{},
		LockType:   nfs4.READ_LT,
		NewOwner:   newOwnerArgs(share, 1, "owner-a"),
	})
	require.Error(t, err)
	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, nfs4.Status(nfs4.NFS4ERR_NOFILEHANDLE), ee.Status)
}

func TestLockFilehandleClassification(t *testing.T) {
	cases := []struct {
		name string
		fh   nfs4.FileHandle
		want nfs4.Status
	}{
		{"malformed", nfs4.FileHandle{Key: "f1", Malformed: true}, nfs4.NFS4ERR_BADHANDLE},
		{"expired", nfs4.FileHandle{Key: "f1", Expired: true}, nfs4.NFS4ERR_FHEXPIRED},
		{"directory", nfs4.FileHandle{Key: "f1", FileType: nfs4.FileTypeDirectory}, nfs4.NFS4ERR_ISDIR},
		{"other", nfs4.FileHandle{Key: "f1", FileType: nfs4.FileTypeOther}, nfs4.NFS4ERR_INVAL},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEngine()
			_, err := e.Lock(context.Background(), nfs4.LockArgs{
				FileHandle: tc.fh,
				LockType:   nfs4.READ_LT,
				NewOwner:   newOwnerArgs(nfs4.Stateid4{}, 1, "owner-a"),
			})
			require.Error(t, err)
			var ee *EngineError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, nfs4.Status(tc.want), ee.Status)
		})
	}
}

func TestLockNewOwnerUnknownOpenStateidReturnsStaleStateid(t *testing.T) {
	e := newTestEngine()
	_, err := e.Lock(context.Background(), nfs4.LockArgs{
		FileHandle: nfs4.FileHandle{Key: "f1"},
		LockType:   nfs4.WRITE_LT,
		Offset:     0,
		Length:     10,
		NewOwner:   newOwnerArgs(nfs4.Stateid4{Other: [12]byte{9, 9, 9}}, 1, "owner-a"),
	})
	require.Error(t, err)
	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, nfs4.Status(nfs4.NFS4ERR_STALE_STATEID), ee.Status)
}

func TestLockNewOwnerOpenStateidWrongFileReturnsBadStateid(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	share := registerShare(e, "other-file", 1, "owner-a")

	_, err := e.Lock(ctx, nfs4.LockArgs{
		FileHandle: nfs4.FileHandle{Key: "f1"},
		LockType:   nfs4.WRITE_LT,
		Offset:     0,
		Length:     10,
		NewOwner:   newOwnerArgs(share, 1, "owner-a"),
	})
	require.Error(t, err)
	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, nfs4.Status(nfs4.NFS4ERR_BAD_STATEID), ee.Status)
}

func TestLockOwnerCanonicalizationFailureReturnsServerfault(t *testing.T) {
	e := newTestEngine(WithOwnerEncoder(failingOwnerEncoder{}))
	ctx := context.Background()
	share := registerShare(e, "f1", 1, "owner-a")

	_, err := e.Lock(ctx, nfs4.LockArgs{
		FileHandle: nfs4.FileHandle{Key: "f1"},
		LockType:   nfs4.WRITE_LT,
		Offset:     0,
		Length:     10,
		NewOwner:   newOwnerArgs(share, 1, "owner-a"),
	})
	require.Error(t, err)
	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, nfs4.Status(nfs4.NFS4ERR_SERVERFAULT), ee.Status)
}

type failingOwnerEncoder struct{}

func (failingOwnerEncoder) ConvertOwner([]byte) (string, bool) { return "", false }

func TestLockStateAddFailureReturnsStaleStateid(t *testing.T) {
	files := fileset.New()
	adapter := &failingStateAddAdapter{Adapter: sal.NewMemoryAdapter(files)}
	e := New(config.Defaults(), adapter, files, nil)
	share := registerShare(e, "f1", 1, "owner-a")

	_, err := e.Lock(context.Background(), nfs4.LockArgs{
		FileHandle: nfs4.FileHandle{Key: "f1"},
		LockType:   nfs4.WRITE_LT,
		Offset:     0,
		Length:     10,
		NewOwner:   newOwnerArgs(share, 1, "owner-a"),
	})
	require.Error(t, err)
	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, nfs4.Status(nfs4.NFS4ERR_STALE_STATEID), ee.Status)
}

type failingStateAddAdapter struct {
	sal.Adapter
}

func (failingStateAddAdapter) StateAdd(ctx context.Context, file string, ow owner.Key) (uuid.UUID, error) {
	return uuid.UUID{}, assertError{}
}

type assertError struct{}

func (assertError) Error() string { return "sal: state_add failed" }

func TestLockAnonymousExistingStateidBypassesResolve(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	res, err := e.Lock(ctx, nfs4.LockArgs{
		FileHandle: nfs4.FileHandle{Key: "f1"},
		LockType:   nfs4.WRITE_LT,
		Offset:     0,
		Length:     10,
		Existing:   &nfs4.ExistingLockOwner{LockSeqid: 1, LockStateid: nfs4.Stateid4{}},
	})
	require.NoError(t, err)
	assert.Equal(t, nfs4.Status(nfs4.NFS4_OK), res.Status)
}

func TestUnlockReleasesRangeAndDropsStateid(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	share := registerShare(e, "f1", 1, "owner-a")

	lockRes, err := e.Lock(ctx, nfs4.LockArgs{
		FileHandle: nfs4.FileHandle{Key: "f1"},
		LockType:   nfs4.WRITE_LT,
		Offset:     0,
		Length:     100,
		NewOwner:   newOwnerArgs(share, 1, "owner-a"),
	})
	require.NoError(t, err)

	unlockRes, err := e.Unlock(ctx, nfs4.LockuArgs{
		FileHandle:  nfs4.FileHandle{Key: "f1"},
		LockType:    nfs4.WRITE_LT,
		Seqid:       1,
		LockStateid: lockRes.LockStateid,
		Offset:      0,
		Length:      100,
	})
	require.NoError(t, err)
	assert.Equal(t, nfs4.Status(nfs4.NFS4_OK), unlockRes.Status)

	// The released range no longer conflicts with a fresh exclusive lock.
	shareB := registerShare(e, "f1", 2, "owner-b")
	res, err := e.Lock(ctx, nfs4.LockArgs{
		FileHandle: nfs4.FileHandle{Key: "f1"},
		LockType:   nfs4.WRITE_LT,
		Offset:     0,
		Length:     100,
		NewOwner:   newOwnerArgs(shareB, 2, "owner-b"),
	})
	require.NoError(t, err)
	assert.Equal(t, nfs4.Status(nfs4.NFS4_OK), res.Status)
}

func TestUnlockUnknownStateidReturnsLockRange(t *testing.T) {
	e := newTestEngine()
	_, err := e.Unlock(context.Background(), nfs4.LockuArgs{
		FileHandle:  nfs4.FileHandle{Key: "f1"},
		Seqid:       1,
		LockStateid: nfs4.Stateid4{Other: [12]byte{9, 9, 9}},
		Offset:      0,
		Length:      10,
	})
	require.Error(t, err)
	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, nfs4.Status(nfs4.NFS4ERR_LOCK_RANGE), ee.Status)
}

func TestUnlockWrongFileReturnsBadStateid(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	share := registerShare(e, "f1", 1, "owner-a")

	lockRes, err := e.Lock(ctx, nfs4.LockArgs{
		FileHandle: nfs4.FileHandle{Key: "f1"},
		LockType:   nfs4.WRITE_LT,
		Offset:     0,
		Length:     100,
		NewOwner:   newOwnerArgs(share, 1, "owner-a"),
	})
	require.NoError(t, err)

	_, err = e.Unlock(ctx, nfs4.LockuArgs{
		FileHandle:  nfs4.FileHandle{Key: "f2"},
		Seqid:       1,
		LockStateid: lockRes.LockStateid,
		Offset:      0,
		Length:      100,
	})
	require.Error(t, err)
	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, nfs4.Status(nfs4.NFS4ERR_BAD_STATEID), ee.Status)
}

func TestUnlockStaleStateStateidReturnsBadSeqid(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	share := registerShare(e, "f1", 1, "owner-a")

	lockRes, err := e.Lock(ctx, nfs4.LockArgs{
		FileHandle: nfs4.FileHandle{Key: "f1"},
		LockType:   nfs4.WRITE_LT,
		Offset:     0,
		Length:     100,
		NewOwner:   newOwnerArgs(share, 1, "owner-a"),
	})
	require.NoError(t, err)

	badStateid := lockRes.LockStateid
	badStateid.Seqid += 5 // neither S nor S+1

	_, err = e.Unlock(ctx, nfs4.LockuArgs{
		FileHandle:  nfs4.FileHandle{Key: "f1"},
		Seqid:       1,
		LockStateid: badStateid,
		Offset:      0,
		Length:      100,
	})
	require.Error(t, err)
	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, nfs4.Status(nfs4.NFS4ERR_BAD_SEQID), ee.Status)
}

func TestUnlockDecrementsShareLockCount(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	share := registerShare(e, "f1", 1, "owner-a")

	var before, after int
	e.files.IterShares("f1", func(sh fileset.ShareState) { before = sh.LockCount })
	assert.Equal(t, 0, before)

	lockRes, err := e.Lock(ctx, nfs4.LockArgs{
		FileHandle: nfs4.FileHandle{Key: "f1"},
		LockType:   nfs4.WRITE_LT,
		Offset:     0,
		Length:     100,
		NewOwner:   newOwnerArgs(share, 1, "owner-a"),
	})
	require.NoError(t, err)
	e.files.IterShares("f1", func(sh fileset.ShareState) { after = sh.LockCount })
	assert.Equal(t, 1, after)

	_, err = e.Unlock(ctx, nfs4.LockuArgs{
		FileHandle:  nfs4.FileHandle{Key: "f1"},
		Seqid:       1,
		LockStateid: lockRes.LockStateid,
		Offset:      0,
		Length:      100,
	})
	require.NoError(t, err)

	var final int
	e.files.IterShares("f1", func(sh fileset.ShareState) { final = sh.LockCount })
	assert.Equal(t, 0, final)
}

func TestTestLockReportsConflictWithoutMutatingState(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	share := registerShare(e, "f1", 1, "owner-a")

	_, err := e.Lock(ctx, nfs4.LockArgs{
		FileHandle: nfs4.FileHandle{Key: "f1"},
		LockType:   nfs4.WRITE_LT,
		Offset:     0,
		Length:     50,
		NewOwner:   newOwnerArgs(share, 1, "owner-a"),
	})
	require.NoError(t, err)

	res, err := e.Test(ctx, nfs4.LocktArgs{
		FileHandle: nfs4.FileHandle{Key: "f1"},
		LockType:   nfs4.WRITE_LT,
		Offset:     10,
		Length:     10,
		Owner:      nfs4.ClientOwner{ClientID: 2, Owner: []byte("owner-b")},
	})
	require.NoError(t, err)
	assert.Equal(t, nfs4.Status(nfs4.NFS4ERR_DENIED), res.Status)

	lockOwner := owner.Key{Kind: owner.KindLock, ClientID: 1, Bytes: "owner-a"}
	assert.Equal(t, 1, e.files.RangeCount("f1", lockOwner))
}

func TestReleaseLockOwnerRefusesWhileHoldingState(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	share := registerShare(e, "f1", 1, "owner-a")

	_, err := e.Lock(ctx, nfs4.LockArgs{
		FileHandle: nfs4.FileHandle{Key: "f1"},
		LockType:   nfs4.WRITE_LT,
		Offset:     0,
		Length:     50,
		NewOwner:   newOwnerArgs(share, 1, "owner-a"),
	})
	require.NoError(t, err)

	err = e.ReleaseLockOwner(ctx, 1, []byte("owner-a"))
	require.Error(t, err)
	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, nfs4.Status(nfs4.NFS4ERR_LOCKS_HELD), ee.Status)
}
