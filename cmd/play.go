package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play [button-id|path]",
	Short: "Play a button's recording or a WAV file",
	Long: `Play audio on the configured output device. An argument naming an
existing file is played as that file; otherwise it is taken as a button ID.
Use --file to require a path.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asFile, _ := cmd.Flags().GetBool("file")

		mgr, err := newManager()
		if err != nil {
			return err
		}
		defer closeManager(mgr)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var played bool
		if asFile {
			played = mgr.PlayFile(ctx, args[0])
		} else {
			played, err = mgr.PlayAudio(ctx, args[0])
			if err != nil {
				return err
			}
		}
		if !played {
			return fmt.Errorf("nothing played for %q", args[0])
		}
		return nil
	},
}

func init() {
	playCmd.Flags().Bool("file", false, "treat the argument as a file path")
}
