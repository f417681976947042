package stateid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintResolveRoundTrip(t *testing.T) {
	r := New()

	other, seqid := r.Mint(VariantLock, StateKey{File: "f1", Owner: "o1", Index: 7})
	assert.Equal(t, uint32(0), seqid)
	assert.Equal(t, byte(VariantLock), other[0])

	key, err := r.Resolve(other)
	require.NoError(t, err)
	assert.Equal(t, "f1", key.File)
	assert.Equal(t, "o1", key.Owner)
	assert.Equal(t, uint64(7), key.Index)
	assert.Equal(t, VariantLock, key.Variant)
}

func TestResolveUnknownIsNotFound(t *testing.T) {
	r := New()
	var other Other
	other[0] = byte(VariantLock)

	_, err := r.Resolve(other)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDropThenResolveIsNotFound(t *testing.T) {
	r := New()
	other, _ := r.Mint(VariantOpen, StateKey{File: "f1"})

	r.Drop(other)

	_, err := r.Resolve(other)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMintIsUniquePerCall(t *testing.T) {
	r := New()
	a, _ := r.Mint(VariantLock, StateKey{File: "f1"})
	b, _ := r.Mint(VariantLock, StateKey{File: "f1"})
	assert.NotEqual(t, a, b)
}
