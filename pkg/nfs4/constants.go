// Package nfs4 defines the wire-level constants and argument/result types
// that the lock state engine exchanges with its callers. XDR encoding and
// decoding of these types onto the wire is out of scope for this module: a
// compound dispatcher upstream of this package decodes LOCK4args/
// LOCKU4args/LOCKT4args and hands the engine the Go structs defined here.
package nfs4

// Status is an NFSv4 status code (nfsstat4).
type Status = uint32

// Error codes relevant to byte-range locking, reproduced with the exact
// values defined by RFC 7530 Section 13 so callers that do serialize onto
// the wire see the numbers a conformance test expects.
const (
	NFS4_OK = 0

	NFS4ERR_PERM  = 1
	NFS4ERR_NOENT = 2
	NFS4ERR_ISDIR = 21
	NFS4ERR_INVAL = 22

	NFS4ERR_BADHANDLE     = 10001
	NFS4ERR_SERVERFAULT   = 10006
	NFS4ERR_DENIED        = 10010
	NFS4ERR_FHEXPIRED     = 10014
	NFS4ERR_NOFILEHANDLE  = 10020
	NFS4ERR_STALE_STATEID = 10023
	NFS4ERR_OLD_STATEID   = 10024
	NFS4ERR_BAD_STATEID   = 10025
	NFS4ERR_BAD_SEQID     = 10026
	NFS4ERR_LOCK_RANGE    = 10028
	NFS4ERR_LOCKS_HELD    = 10037
	NFS4ERR_OPENMODE      = 10038
	NFS4ERR_LOCK_NOTSUPP  = 10043
)

// Lock-type encoding (nfs_lock_type4), per RFC 7530/7531. The "W" variants
// are blocking hints from the client; the server never actually blocks.
const (
	READ_LT   = 1
	WRITE_LT  = 2
	READW_LT  = 3
	WRITEW_LT = 4
)

// Share access/deny bitmasks, per RFC 7530 Section 16.16.2.
const (
	OPEN4_SHARE_ACCESS_READ  = 0x01
	OPEN4_SHARE_ACCESS_WRITE = 0x02
	OPEN4_SHARE_ACCESS_BOTH  = 0x03

	OPEN4_SHARE_DENY_NONE  = 0x00
	OPEN4_SHARE_DENY_READ  = 0x01
	OPEN4_SHARE_DENY_WRITE = 0x02
	OPEN4_SHARE_DENY_BOTH  = 0x03
)

// FileType classifies what a FileHandle currently resolves to, enough for
// the FhValidator collaborator to decide ISDIR vs INVAL (spec §4.4 A, §6).
type FileType int

const (
	FileTypeRegular FileType = iota
	FileTypeDirectory
	FileTypeOther
)

// OTHERSIZE is the length, in bytes, of a stateid4's opaque "other" field.
const OTHERSIZE = 12

// OffsetEOF is the wire value reserved to mean "to the end of the file" when
// carried in a byte-range length field.
const OffsetEOF uint64 = 0xFFFFFFFFFFFFFFFF

func IsWriteLockType(lt uint32) bool {
	return lt == WRITE_LT || lt == WRITEW_LT
}

func IsBlockingLockType(lt uint32) bool {
	return lt == READW_LT || lt == WRITEW_LT
}
