package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-reiserfs/internal/types"
)

var (
	folderExcludes     []string
	folderMetadataOnly bool
)

var folderCmd = &cobra.Command{
	Use:   "folder PATH...",
	Short: "Request the blocks of selected directory subtrees",
	Long: `Resolve the named directories (or files) and emit a mapfile asking for
everything needed to recover them: the metadata sectors touched while
resolving, and the data blocks of every file below unless --metadata.
Paths that cannot be resolved yet contribute their missing metadata
sectors to the request instead of failing the run.

Lost+found notation DIRID_OBJID is accepted in place of a path component.

Examples:
  # Everything under /home, except the browser cache
  go-reiserfs folder -i disk.img -m disk.map /home --exclude /home/user/.cache

  # Only the metadata needed to list /etc later
  go-reiserfs folder -i disk.img -m disk.map --metadata /etc`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFolder(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(folderCmd)
	folderCmd.Flags().StringArrayVar(&folderExcludes, "exclude", nil, "subtree to skip (repeatable)")
	folderCmd.Flags().BoolVar(&folderMetadataOnly, "metadata", false, "request directory structure and stat data only")
}

func runFolder(cmd *cobra.Command, paths []string) error {
	session, rmap, cleanup, err := startSession(cmd)
	if err != nil {
		if errors.Is(err, types.ErrIncomplete) && rmap != nil {
			return emitSuperblockRequest(cmd, rmap)
		}
		return err
	}
	defer cleanup()

	stats, err := session.FolderTriage(paths, folderExcludes, folderMetadataOnly)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "folders: %d directories, %d files, %d incomplete\n",
		stats.Directories, stats.Files, stats.Incomplete)
	return emitRequestMap(session)
}
