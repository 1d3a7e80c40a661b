package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-reiserfs/internal/types"
)

var bitmapMetadataOnly bool

var bitmapCmd = &cobra.Command{
	Use:   "bitmap",
	Short: "Request the blocks the free-space bitmaps mark allocated",
	Long: `Read the filesystem's free-space bitmaps and emit a mapfile asking
ddrescue for every allocated block, skipping free space entirely. Blocks
covered by a bitmap that is itself unreadable are requested too, since
their allocation state is unknown.

Examples:
  # Rescue allocated blocks only
  go-reiserfs bitmap -i disk.img -m disk.map -o want.map

  # Just the superblock and the bitmap blocks themselves
  go-reiserfs bitmap -i disk.img -m disk.map --metadata`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBitmap(cmd)
	},
}

func init() {
	rootCmd.AddCommand(bitmapCmd)
	bitmapCmd.Flags().BoolVar(&bitmapMetadataOnly, "metadata", false, "request only the bitmap blocks themselves")
}

func runBitmap(cmd *cobra.Command) error {
	session, rmap, cleanup, err := startSession(cmd)
	if err != nil {
		if errors.Is(err, types.ErrIncomplete) && rmap != nil {
			return emitSuperblockRequest(cmd, rmap)
		}
		return err
	}
	defer cleanup()

	scan, err := session.BitmapTriage(bitmapMetadataOnly)
	if err != nil {
		return err
	}
	if verbose || len(scan.MissingBitmaps) > 0 {
		fmt.Fprintf(os.Stderr, "bitmaps: %d blocks used, %d unknown, %d bitmap blocks missing\n",
			scan.UsedBlockCount(), scan.UnknownBlockCount(), len(scan.MissingBitmaps))
	}
	return emitRequestMap(session)
}
