package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-reiserfs/internal/device"
	"github.com/deploymenttheory/go-reiserfs/internal/rescue"
	"github.com/deploymenttheory/go-reiserfs/internal/services"
	"github.com/deploymenttheory/go-reiserfs/internal/types"
)

var (
	// Global input/output flags
	imagePath      string
	mapPath        string
	outputPath     string
	partitionStart int64
	verbose        bool
)

var rootCmd = &cobra.Command{
	Use:   "go-reiserfs",
	Short: "ReiserFS-aware triage for ddrescue imaging runs",
	Long: `go-reiserfs reads a partial disk image together with its GNU ddrescue
mapfile and decides which sectors are worth rescuing next. It walks the
ReiserFS structures that the map confirms as read, and emits domain
mapfiles (targets not-tried, everything else finished) that steer the
next ddrescue pass at filesystem metadata or at the blocks of chosen
files, instead of grinding linearly through a dying disk.

Commands:
  bitmap    Request the blocks the free-space bitmaps mark allocated
  tree      Request B-tree nodes down to a chosen level
  folder    Request the blocks of selected directory subtrees
  ls        List a directory with rescue-status annotations
  find      Search the readable tree for a file name
  cat       Reconstruct a file's bytes from the image
  extend    Grow finished regions of a mapfile by a safety margin
  image     Render a mapfile as a PPM progress picture`,
	Version: "0.1.0-dev",
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&imagePath, "image", "i", "", "path to the (partial) disk image")
	rootCmd.PersistentFlags().StringVarP(&mapPath, "map", "m", "", "path to the ddrescue mapfile of the image")
	rootCmd.PersistentFlags().StringVarP(&outputPath, "output", "o", "", "write the resulting mapfile here (default stdout)")
	rootCmd.PersistentFlags().Int64Var(&partitionStart, "partition-start", 0, "byte offset of the filesystem within the image")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

// effectivePartitionStart resolves the partition offset: an explicit flag
// wins, otherwise the config file / environment default applies.
func effectivePartitionStart(cmd *cobra.Command) (int64, error) {
	if cmd.Flags().Changed("partition-start") {
		return partitionStart, nil
	}
	cfg, err := device.LoadConfig()
	if err != nil {
		return 0, err
	}
	return cfg.PartitionStart, nil
}

func loadRescueMap() (*rescue.Map, error) {
	if mapPath == "" {
		return nil, fmt.Errorf("--map is required")
	}
	f, err := os.Open(mapPath)
	if err != nil {
		return nil, fmt.Errorf("opening mapfile: %w", err)
	}
	defer f.Close()
	m, err := rescue.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", mapPath, err)
	}
	return m, nil
}

// startSession opens the image and bootstraps a filesystem session.
// When the superblock sector is not rescued yet, it returns a nil
// session together with the loaded map so callers can emit a request
// for the superblock itself.
func startSession(cmd *cobra.Command) (*services.Session, *rescue.Map, func(), error) {
	if imagePath == "" {
		return nil, nil, nil, fmt.Errorf("--image is required")
	}
	rmap, err := loadRescueMap()
	if err != nil {
		return nil, nil, nil, err
	}
	start, err := effectivePartitionStart(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	img, err := device.OpenImage(imagePath, start)
	if err != nil {
		return nil, nil, nil, err
	}
	session, err := services.NewSession(img, rmap)
	if err != nil {
		if errors.Is(err, types.ErrIncomplete) {
			img.Close()
			return nil, rmap, nil, err
		}
		img.Close()
		return nil, nil, nil, err
	}
	return session, rmap, func() { img.Close() }, nil
}

func writeMapOutput(m *rescue.Map) error {
	out := os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("creating %s: %w", outputPath, err)
		}
		defer f.Close()
		out = f
	}
	return m.Write(out)
}

// emitRequestMap writes the session's missing wanted sectors as a domain
// mapfile.
func emitRequestMap(session *services.Session) error {
	m, err := session.RequestMap()
	if err != nil {
		return err
	}
	return writeMapOutput(m)
}

// emitSuperblockRequest handles the bootstrap failure case: the request
// map asks for the sector the superblock lives in.
func emitSuperblockRequest(cmd *cobra.Command, rmap *rescue.Map) error {
	start, err := effectivePartitionStart(cmd)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "superblock not rescued yet, requesting it first")
	m, err := rescue.RequestMap(services.SuperblockRuns(start), rmap.Size())
	if err != nil {
		return err
	}
	return writeMapOutput(m)
}
