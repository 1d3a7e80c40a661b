package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-reiserfs/internal/device"
	"github.com/deploymenttheory/go-reiserfs/internal/rescue"
)

var extendMargin int64

var extendCmd = &cobra.Command{
	Use:   "extend",
	Short: "Grow finished regions of a mapfile by a safety margin",
	Long: `Widen every finished run of the mapfile by a margin on both sides,
marking the grown edges not-tried so the next ddrescue pass re-reads
them. Useful when the filesystem structures sit just past what a
metadata-driven pass already rescued. Only the mapfile is needed; the
image is not read.

Examples:
  go-reiserfs extend -m disk.map --margin 4096 -o widened.map`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExtend(cmd)
	},
}

func init() {
	rootCmd.AddCommand(extendCmd)
	extendCmd.Flags().Int64Var(&extendMargin, "margin", 0, "bytes to grow each finished run by (default from config)")
}

func runExtend(cmd *cobra.Command) error {
	rmap, err := loadRescueMap()
	if err != nil {
		return err
	}
	margin := extendMargin
	if !cmd.Flags().Changed("margin") {
		cfg, err := device.LoadConfig()
		if err != nil {
			return err
		}
		margin = cfg.ExtendMargin
	}
	extended, err := rescue.Extend(rmap, margin)
	if err != nil {
		return err
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "extend: margin %d, %d regions in, %d regions out\n",
			margin, len(rmap.Regions()), len(extended.Regions()))
	}
	return writeMapOutput(extended)
}
