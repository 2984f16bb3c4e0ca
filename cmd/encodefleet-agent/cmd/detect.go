package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/encodefleet/encodefleet/internal/ffmpeg"
)

var detectJSON bool

// detectCmd probes the local transcoder and prints what it can encode.
var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Probe the local ffmpeg for available encoders",
	Long: `Run the local ffmpeg binary and print the encoder names it
advertises. This is the same probe the agent performs at startup; use it
to verify what a node will offer the controller.`,
	RunE: runDetect,
}

func init() {
	detectCmd.Flags().BoolVar(&detectJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	bin, err := ffmpeg.ResolveBinary(cfg.FFmpeg.BinaryPath)
	if err != nil {
		return fmt.Errorf("locating transcoder: %w", err)
	}
	encoders, err := ffmpeg.DetectEncoders(cmd.Context(), bin)
	if err != nil {
		return fmt.Errorf("probing encoders: %w", err)
	}

	if detectJSON {
		out, err := json.MarshalIndent(map[string]any{
			"binary":   bin,
			"encoders": encoders,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("binary: %s\n", bin)
	for _, e := range encoders {
		fmt.Println(e)
	}
	return nil
}
