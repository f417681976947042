package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/nfs4lockd/pkg/nfs4"
)

// Each subcommand here constructs a single operation against a fresh,
// empty engine instance. It is meant for reasoning about one LOCK/LOCKU/
// LOCKT call in isolation -- how a given seqid or stateid encodes, what
// status a given range produces -- not for replaying a client session
// across invocations; the engine holds no state between process runs.

func lockFlags(cmd *cobra.Command) {
	cmd.Flags().String("file", "", "file handle key")
	cmd.Flags().Uint64("offset", 0, "byte range offset")
	cmd.Flags().Uint64("length", 0, "byte range length (18446744073709551615 = to EOF; 0 is rejected)")
	cmd.Flags().String("type", "write", "lock type: read, write, readw, writew")
	cmd.Flags().Uint64("clientid", 1, "client id")
	cmd.Flags().String("owner", "owner-a", "lock owner opaque bytes")
	cmd.Flags().Uint32("seqid", 1, "lock owner seqid")
}

func parseLockType(s string) uint32 {
	switch s {
	case "read":
		return nfs4.READ_LT
	case "write":
		return nfs4.WRITE_LT
	case "readw":
		return nfs4.READW_LT
	case "writew":
		return nfs4.WRITEW_LT
	default:
		return nfs4.WRITE_LT
	}
}

func newLockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Submit a single LOCK request against a fresh engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			offset, _ := cmd.Flags().GetUint64("offset")
			length, _ := cmd.Flags().GetUint64("length")
			lockType, _ := cmd.Flags().GetString("type")
			clientID, _ := cmd.Flags().GetUint64("clientid")
			owner, _ := cmd.Flags().GetString("owner")
			seqid, _ := cmd.Flags().GetUint32("seqid")

			// This engine holds no state across process invocations, so
			// there is no real OPEN to resolve an open_stateid against;
			// register a share state here standing in for one (spec §1
			// puts OPEN out of scope, but LOCK's NewLockOwner path still
			// requires a Share-variant stateid to resolve, per §4.4 D).
			openStateid := eng.RegisterShare(file, clientID, []byte(owner), nfs4.OPEN4_SHARE_ACCESS_BOTH, nfs4.OPEN4_SHARE_DENY_NONE)

			res, err := eng.Lock(context.Background(), nfs4.LockArgs{
				FileHandle: nfs4.FileHandle{Key: file},
				LockType:   parseLockType(lockType),
				Offset:     offset,
				Length:     length,
				NewOwner: &nfs4.NewLockOwner{
					OpenSeqid:   1,
					OpenStateid: openStateid,
					LockSeqid:   seqid,
					Owner:       nfs4.ClientOwner{ClientID: clientID, Owner: []byte(owner)},
				},
			})
			return printResult(res, err)
		},
	}
	lockFlags(cmd)
	return cmd
}

func printResult(v any, err error) error {
	if err != nil {
		fmt.Println(err)
	}
	out, merr := json.MarshalIndent(v, "", "  ")
	if merr != nil {
		return merr
	}
	fmt.Println(string(out))
	return nil
}

func decodeOther(s string) [12]byte {
	var other [12]byte
	b, _ := hex.DecodeString(s)
	copy(other[:], b)
	return other
}
