package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var findCmd = &cobra.Command{
	Use:   "find NAME",
	Short: "Search the readable tree for a file name",
	Long: `Scan every directory the rescue map makes reachable for entries with
the given name and print their full paths. When parts of the tree are
still missing the search reports itself as non-exhaustive on stderr;
with --output the sectors needed to widen the search are written as a
request mapfile.

Examples:
  go-reiserfs find -i disk.img -m disk.map thesis.tex
  go-reiserfs find -i disk.img -m disk.map .bashrc -o widen.map`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFind(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(findCmd)
}

func runFind(cmd *cobra.Command, name string) error {
	session, _, cleanup, err := startSession(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	matches, exhaustive, err := session.FindName(name)
	if err != nil {
		return err
	}
	for _, match := range matches {
		fmt.Println(match)
	}
	if !exhaustive {
		fmt.Fprintln(os.Stderr, "search incomplete: parts of the tree are not rescued yet")
	}
	if outputPath != "" {
		return emitRequestMap(session)
	}
	if len(matches) == 0 && exhaustive {
		return fmt.Errorf("no entry named %q", name)
	}
	return nil
}
