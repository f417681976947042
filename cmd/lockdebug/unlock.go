package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/marmos91/nfs4lockd/pkg/nfs4"
)

func newUnlockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Submit a single LOCKU request against a fresh engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			offset, _ := cmd.Flags().GetUint64("offset")
			length, _ := cmd.Flags().GetUint64("length")
			seqid, _ := cmd.Flags().GetUint32("seqid")
			stateidHex, _ := cmd.Flags().GetString("stateid")

			res, err := eng.Unlock(context.Background(), nfs4.LockuArgs{
				FileHandle:  nfs4.FileHandle{Key: file},
				Seqid:       seqid,
				LockStateid: nfs4.Stateid4{Other: decodeOther(stateidHex)},
				Offset:      offset,
				Length:      length,
			})
			return printResult(res, err)
		},
	}
	cmd.Flags().String("file", "", "file handle key")
	cmd.Flags().Uint64("offset", 0, "byte range offset")
	cmd.Flags().Uint64("length", 0, "byte range length (18446744073709551615 = to EOF; 0 is rejected)")
	cmd.Flags().Uint32("seqid", 1, "lock owner seqid")
	cmd.Flags().String("stateid", "", "hex-encoded 12-byte stateid other field")
	return cmd
}
