package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-reiserfs/internal/device"
	"github.com/deploymenttheory/go-reiserfs/internal/rescue"
)

var imageBytesPerPixel int64

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Render a mapfile as a PPM progress picture",
	Long: `Paint the mapfile as a binary PPM image, one pixel per chunk of the
disk: white for finished, grey for untried, pale red for failed reads
and full red for confirmed bad, the worst status winning when a pixel
covers mixed regions. A glance shows how the rescue is going and where
the remaining damage clusters.

Examples:
  go-reiserfs image -m disk.map -o progress.ppm
  go-reiserfs image -m disk.map --bytes-per-pixel 1048576 -o progress.ppm`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImage(cmd)
	},
}

func init() {
	rootCmd.AddCommand(imageCmd)
	imageCmd.Flags().Int64Var(&imageBytesPerPixel, "bytes-per-pixel", 0, "image bytes represented by one pixel (default from config)")
}

func runImage(cmd *cobra.Command) error {
	rmap, err := loadRescueMap()
	if err != nil {
		return err
	}
	scale := imageBytesPerPixel
	if !cmd.Flags().Changed("bytes-per-pixel") {
		cfg, err := device.LoadConfig()
		if err != nil {
			return err
		}
		scale = cfg.RenderBytesPerPixel
	}

	out := os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("creating %s: %w", outputPath, err)
		}
		defer f.Close()
		out = f
	}
	return rescue.RenderPPM(out, rmap, scale)
}
