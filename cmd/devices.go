package cmd

import (
	"fmt"
	"runtime"

	"github.com/audiolibrelab/clipstage/internal/audio"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available audio devices",
	Long:  `List the capture and playback devices of the selected audio backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}
		defer closeManager(mgr)

		devices, err := mgr.Devices()
		if err != nil {
			return fmt.Errorf("failed to list devices: %w", err)
		}

		fmt.Printf("Audio devices (%s, %s backend)\n\n", runtime.GOOS, mgr.Backend().Type())
		for _, dir := range []audio.Direction{audio.DirectionCapture, audio.DirectionPlayback} {
			fmt.Printf("%s:\n", dir)
			for _, d := range devices {
				if d.Direction != dir {
					continue
				}
				marker := " "
				if d.IsDefault {
					marker = "*"
				}
				fmt.Printf("  %s %-20s %s\n", marker, d.ID, d.Name)
			}
			fmt.Println()
		}

		if dev := cfg.InputDevice(); dev != "" {
			if err := mgr.ValidateInput(); err != nil {
				fmt.Printf("configured input %q: %v\n", dev, err)
			} else {
				fmt.Printf("configured input %q: ok\n", dev)
			}
		}
		return nil
	},
}
