package cmd

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View the resolved clipstage configuration.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration of the current scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		if raw, _ := cmd.Flags().GetBool("yaml"); raw {
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("error marshaling config: %w", err)
			}
			fmt.Print(string(out))
			return nil
		}

		fmt.Printf("=== RESOLVED CONFIGURATION (%s) ===\n", cfg.MessageType)
		fmt.Printf("storage_dir: %s %s\n", cfg.StorageDir, inheritance("storage_dir"))
		fmt.Printf("metadata_file: %s %s\n", cfg.MetadataFile, inheritance("metadata_file"))
		fmt.Printf("num_buttons: %d %s\n", cfg.NumButtons, inheritance("num_buttons"))
		fmt.Printf("backup_retention: %d %s\n", cfg.BackupRetention, inheritance("backup_retention"))

		a := cfg.Audio
		fmt.Printf("\n[Audio]\n")
		fmt.Printf("backend: %s %s\n", a.Backend, inheritance("audio.backend"))
		fmt.Printf("format: %s %s\n", a.Format, inheritance("audio.format"))
		fmt.Printf("sample_rate: %d %s\n", a.SampleRate, inheritance("audio.sample_rate"))
		fmt.Printf("channels: %d %s\n", a.Channels, inheritance("audio.channels"))
		fmt.Printf("period_size: %d %s\n", a.PeriodSize, inheritance("audio.period_size"))
		fmt.Printf("max_duration: %s %s\n", a.MaxDuration, inheritance("audio.max_duration"))
		fmt.Printf("input_device: %q %s\n", cfg.InputDevice(), inheritance("audio.input_device"))
		fmt.Printf("output_device: %q %s\n", cfg.OutputDevice(), inheritance("audio.output_device"))
		return nil
	},
}

// inheritance returns a formatted indicator for the inheritance status of key
func inheritance(key string) string {
	switch cfg.Inheritance[key] {
	case "inherited":
		return "[inherited]"
	case "scope-specific":
		return "[scope-specific]"
	default:
		return "[unknown]"
	}
}

func init() {
	configShowCmd.Flags().Bool("yaml", false, "print the configuration as YAML")
	configCmd.AddCommand(configShowCmd)
}
