package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-reiserfs/internal/services"
)

var catMetadataOnly bool

var catCmd = &cobra.Command{
	Use:   "cat PATH",
	Short: "Reconstruct a file's bytes from the image",
	Long: `Reassemble a file from the partial image and write it to stdout. The
output is always exactly stat-size bytes; ranges whose data blocks are
not rescued come out as zero filler and are reported on stderr. The
exit status is non-zero when the content has gaps, so scripts can tell
a clean copy from a holey one.

With --output the missing sectors are additionally written as a request
mapfile for the next ddrescue pass.

Examples:
  go-reiserfs cat -i disk.img -m disk.map /home/user/thesis.tex > thesis.tex
  go-reiserfs cat -i disk.img -m disk.map 1234_5678 > recovered.bin`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCat(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(catCmd)
	catCmd.Flags().BoolVar(&catMetadataOnly, "metadata", false, "restrict the request mapfile to metadata sectors")
}

func runCat(cmd *cobra.Command, target string) error {
	session, _, cleanup, err := startSession(cmd)
	if err != nil {
		return err
	}
	defer cleanup()
	session.SetMetadataOnly(catMetadataOnly)

	obj, err := session.ResolvePath(target)
	if err != nil {
		return err
	}
	data, gaps, err := session.ReadObject(obj)
	if err != nil {
		return err
	}
	if _, err := os.Stdout.Write(data); err != nil {
		return err
	}
	if outputPath != "" {
		if err := emitRequestMap(session); err != nil {
			return err
		}
	}
	if len(gaps) > 0 {
		for _, gap := range gaps {
			fmt.Fprintf(os.Stderr, "gap: %d bytes at offset %d\n", gap.Size, gap.Offset)
		}
		return fmt.Errorf("%s: %d of %d bytes missing", target, gapTotal(gaps), len(data))
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "%s: %d bytes, complete\n", target, len(data))
	}
	return nil
}

func gapTotal(gaps []services.GapRange) int64 {
	var n int64
	for _, g := range gaps {
		n += g.Size
	}
	return n
}
