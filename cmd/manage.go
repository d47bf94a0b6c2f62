package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var nextIDCmd = &cobra.Command{
	Use:   "next-id",
	Short: "Print the first button ID without a recording",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}
		defer closeManager(mgr)

		fmt.Println(mgr.NewFileID())
		return nil
	},
}

var readOnlyCmd = &cobra.Command{
	Use:       "readonly [button-id] on|off",
	Short:     "Protect or unprotect a button's recording",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var flag bool
		switch strings.ToLower(args[1]) {
		case "on", "true", "yes":
			flag = true
		case "off", "false", "no":
		default:
			return fmt.Errorf("expected on or off, got %q", args[1])
		}

		mgr, err := newManager()
		if err != nil {
			return err
		}
		defer closeManager(mgr)

		if err := mgr.SetReadOnly(args[0], flag); err != nil {
			return err
		}
		fmt.Printf("Button %s read-only: %v\n", args[0], flag)
		return nil
	},
}

var defaultCmd = &cobra.Command{
	Use:   "default",
	Short: "Manage default clips",
	Long:  `Assign a default clip to a button or restore a button to its default.`,
}

var defaultAssignCmd = &cobra.Command{
	Use:   "assign [button-id] [wav-file]",
	Short: "Copy a WAV file into storage as the button's default",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}
		defer closeManager(mgr)

		if err := mgr.AssignDefault(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Button %s now plays its default\n", args[0])
		return nil
	},
}

var defaultRestoreCmd = &cobra.Command{
	Use:   "restore [button-id]",
	Short: "Replace the button's recording with its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}
		defer closeManager(mgr)

		if err := mgr.RestoreDefault(args[0]); err != nil {
			return err
		}
		fmt.Printf("Button %s restored to its default\n", args[0])
		return nil
	},
}

func init() {
	defaultCmd.AddCommand(defaultAssignCmd)
	defaultCmd.AddCommand(defaultRestoreCmd)
}
