package cmd

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/clipstage/internal/metadata"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recordings of the current scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}
		defer closeManager(mgr)

		msgType, _ := cmd.Flags().GetString("type")
		recs := mgr.ListRecordings()
		newest, hasNewest := mgr.Newest()
		if msgType != "" {
			recs = mgr.ListByType(msgType)
			newest, hasNewest = mgr.NewestOfType(msgType)
		}

		fmt.Printf("=== %s (%d/%d buttons) ===\n", cfg.MessageType, len(recs), cfg.NumButtons)
		for _, rec := range recs {
			fmt.Printf("%4s  %6.2fs  %-5s %s  %s\n", rec.ButtonID, rec.Duration, rec.Format, flags(rec), rec.Name)
		}
		if missing := mgr.MissingIDs(); len(missing) > 0 {
			fmt.Printf("empty: %s\n", strings.Join(missing, ", "))
		}
		if hasNewest {
			fmt.Printf("newest: %s (%s)\n", newest.ButtonID, newest.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info [button-id]",
	Short: "Show the metadata of one button",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}
		defer closeManager(mgr)

		rec, ok := mgr.RecordingInfo(args[0])
		if !ok {
			return fmt.Errorf("button %s has no recording", args[0])
		}
		out, err := yaml.Marshal(rec)
		if err != nil {
			return fmt.Errorf("error marshaling recording: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	listCmd.Flags().String("type", "", "only list recordings tagged with this message type")
}

// flags renders the read-only and default markers of a recording.
func flags(rec metadata.Recording) string {
	f := []byte("--")
	if rec.ReadOnly {
		f[0] = 'r'
	}
	if rec.IsDefault {
		f[1] = 'd'
	}
	return string(f)
}
