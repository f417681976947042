package owner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSeqIDAcceptsCurrentAndNext(t *testing.T) {
	tbl := New()
	k := tbl.LookupOrCreateOpen(1, "bytes-a")

	assert.Equal(t, SeqIDOK, tbl.ValidateSeqID(k, 1))
	tbl.BumpSeqID(k)
	assert.Equal(t, uint32(1), tbl.CurrentSeqID(k))

	assert.Equal(t, SeqIDReplay, tbl.ValidateSeqID(k, 1))
	assert.Equal(t, SeqIDOK, tbl.ValidateSeqID(k, 2))
	assert.Equal(t, SeqIDBad, tbl.ValidateSeqID(k, 99))
}

func TestNextSeqIDWrapsToOne(t *testing.T) {
	tbl := New()
	k := tbl.LookupOrCreateOpen(1, "bytes-b")

	r := tbl.get(k)
	r.mu.Lock()
	r.soSeqid = 0xFFFFFFFF
	r.mu.Unlock()

	tbl.BumpSeqID(k)
	assert.Equal(t, uint32(1), tbl.CurrentSeqID(k))
}

func TestReleaseRefusesWhileHoldingState(t *testing.T) {
	tbl := New()
	k := tbl.LookupOrCreateLock(1, "lock-owner", Key{Kind: KindOpen, ClientID: 1, Bytes: "open-owner"})

	tbl.AddState(k, "state-1")
	assert.ErrorIs(t, tbl.Release(k), ErrLocksHeld)

	tbl.RemoveState(k, "state-1")
	assert.NoError(t, tbl.Release(k))

	related, ok := tbl.RelatedOpenOwner(k)
	assert.False(t, ok) // owner removed, record gone
	assert.Equal(t, Key{}, related)
}

func TestRelatedOpenOwnerLink(t *testing.T) {
	tbl := New()
	openKey := tbl.LookupOrCreateOpen(5, "open-owner")
	lockKey := tbl.LookupOrCreateLock(5, "lock-owner", openKey)

	related, ok := tbl.RelatedOpenOwner(lockKey)
	assert.True(t, ok)
	assert.Equal(t, openKey, related)
}
