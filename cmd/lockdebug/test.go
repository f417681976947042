package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/marmos91/nfs4lockd/pkg/nfs4"
)

func newTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Submit a single LOCKT request against a fresh engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			offset, _ := cmd.Flags().GetUint64("offset")
			length, _ := cmd.Flags().GetUint64("length")
			lockType, _ := cmd.Flags().GetString("type")
			clientID, _ := cmd.Flags().GetUint64("clientid")
			owner, _ := cmd.Flags().GetString("owner")

			res, err := eng.Test(context.Background(), nfs4.LocktArgs{
				FileHandle: nfs4.FileHandle{Key: file},
				LockType:   parseLockType(lockType),
				Offset:     offset,
				Length:     length,
				Owner:      nfs4.ClientOwner{ClientID: clientID, Owner: []byte(owner)},
			})
			return printResult(res, err)
		},
	}
	lockFlags(cmd)
	return cmd
}

func newReleaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Release a lock owner, refusing if it still holds state",
		RunE: func(cmd *cobra.Command, args []string) error {
			clientID, _ := cmd.Flags().GetUint64("clientid")
			owner, _ := cmd.Flags().GetString("owner")
			err := eng.ReleaseLockOwner(context.Background(), clientID, []byte(owner))
			return printResult(map[string]string{"status": "ok"}, err)
		},
	}
	cmd.Flags().Uint64("clientid", 1, "client id")
	cmd.Flags().String("owner", "owner-a", "lock owner opaque bytes")
	return cmd
}
