package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/audiolibrelab/clipstage/internal/manager"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record [button-id]",
	Short: "Record a clip for a button",
	Long: `Record audio from the configured input device and store it for the given
button. Recording runs until Ctrl+C, --duration or audio.max_duration.
The clip is staged first and replaces the button's recording only when it
is finalized; --discard drops it instead.

Use "next" as the button ID to pick the first free button.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		duration, _ := cmd.Flags().GetDuration("duration")
		hint, _ := cmd.Flags().GetString("hint")
		discard, _ := cmd.Flags().GetBool("discard")
		threaded, _ := cmd.Flags().GetBool("threaded")
		meter, _ := cmd.Flags().GetBool("meter")

		mgr, err := newManager()
		if err != nil {
			return err
		}
		defer closeManager(mgr)

		buttonID := args[0]
		if buttonID == "next" {
			buttonID = mgr.NewFileID()
		}
		slog.Info("Record command started", "button_id", buttonID, "scope", cfg.MessageType)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if duration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, duration)
			defer cancel()
		}

		if meter {
			mgr.SetSoundLevelCallback(printLevel)
			defer fmt.Fprintln(os.Stderr)
		}

		st, err := capture(ctx, mgr, buttonID, hint, threaded)
		if err != nil {
			return fmt.Errorf("recording failed: %w", err)
		}
		if st == nil {
			return fmt.Errorf("recording failed: nothing was captured")
		}

		if discard {
			if err := mgr.Discard(st); err != nil {
				return fmt.Errorf("discard failed: %w", err)
			}
			fmt.Printf("Discarded %.2fs recording for button %s\n", st.Duration, buttonID)
			return nil
		}

		rec, err := mgr.Finalize(st)
		if err != nil {
			return fmt.Errorf("failed to save recording: %w", err)
		}
		fmt.Printf("Saved button %s: %s (%.2fs, %s)\n", rec.ButtonID, rec.Path, rec.Duration, rec.Format)
		return nil
	},
}

func capture(ctx context.Context, mgr *manager.Manager, buttonID, hint string, threaded bool) (*manager.Staging, error) {
	if !threaded {
		slog.Info("Recording... Press Ctrl+C to stop")
		return mgr.RecordToTemp(ctx, buttonID, hint)
	}

	if err := mgr.RecordThreaded(buttonID, hint); err != nil {
		return nil, err
	}
	slog.Info("Recording in background... Press Ctrl+C to stop")

	// The background capture may end by itself at audio.max_duration.
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for mgr.IsRecording() {
		select {
		case <-ctx.Done():
			return mgr.StopRecording()
		case <-ticker.C:
		}
	}
	return mgr.StopRecording()
}

const meterWidth = 40

func printLevel(level float64) {
	n := int(level * meterWidth)
	fmt.Fprintf(os.Stderr, "\r[%s%s] %3.0f%%", strings.Repeat("#", n), strings.Repeat(" ", meterWidth-n), level*100)
}

func init() {
	recordCmd.Flags().DurationP("duration", "d", 0, "stop after this long (0 = until Ctrl+C)")
	recordCmd.Flags().String("hint", "", "message type hint stored with the staged recording")
	recordCmd.Flags().Bool("discard", false, "discard the recording instead of saving it")
	recordCmd.Flags().Bool("threaded", false, "record in the background and stop on signal")
	recordCmd.Flags().Bool("meter", false, "show the input level while recording")
}
