package engine

import (
	"github.com/marmos91/nfs4lockd/pkg/nfs4"
)

// FhValidator classifies a FileHandle the way spec §4.4 A's preflight
// requires, without the engine needing to know how a real FSAL represents
// empty/malformed/expired/directory filehandles.
type FhValidator interface {
	IsEmpty(fh nfs4.FileHandle) bool
	IsInvalid(fh nfs4.FileHandle) bool
	IsExpired(fh nfs4.FileHandle) bool
	CurrentFileType(fh nfs4.FileHandle) nfs4.FileType
}

// defaultFhValidator reads the classification straight off the FileHandle
// fields the compound dispatcher populated (spec §6's "over the compound's
// currentFH"). A production FSAL would swap this for one that re-resolves
// the handle against live inode state.
type defaultFhValidator struct{}

func (defaultFhValidator) IsEmpty(fh nfs4.FileHandle) bool  { return fh.Key == "" }
func (defaultFhValidator) IsInvalid(fh nfs4.FileHandle) bool { return fh.Malformed }
func (defaultFhValidator) IsExpired(fh nfs4.FileHandle) bool { return fh.Expired }
func (defaultFhValidator) CurrentFileType(fh nfs4.FileHandle) nfs4.FileType {
	return fh.FileType
}

// SessionLayer is consulted for nfs4_check_stateid (spec §6), which
// validates a stateid against the session/slot the compound is running
// under -- concerns entirely outside this engine (client/session table,
// spec §1's non-goals). The reference implementation never rejects: a real
// session layer would be wired in above the engine.
type SessionLayer interface {
	CheckStateid(stateid nfs4.Stateid4, file string, clientID uint64) nfs4.Status
}

type noopSessionLayer struct{}

func (noopSessionLayer) CheckStateid(nfs4.Stateid4, string, uint64) nfs4.Status {
	return nfs4.NFS4_OK
}

// OwnerEncoder canonicalizes the wire's opaque lock-owner bytes into a
// comparable name (spec §6's convert_nfs4_owner); a malformed encoding
// reports SERVERFAULT rather than being silently accepted.
type OwnerEncoder interface {
	ConvertOwner(wire []byte) (string, bool)
}

// defaultOwnerEncoder accepts any non-empty owner string up to the
// NFSv4.1-style 1024-byte opaque limit, matching what a real owner4 decode
// already guarantees; a zero-length owner -- which no conformant client
// sends -- or one longer than 1024 bytes is treated as malformed.
type defaultOwnerEncoder struct{}

func (defaultOwnerEncoder) ConvertOwner(wire []byte) (string, bool) {
	if len(wire) == 0 || len(wire) > 1024 {
		return "", false
	}
	return string(wire), true
}
