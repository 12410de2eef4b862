package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowtrace/flowtrace/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and scaffold configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Print the default configuration as YAML",
	RunE:  runConfigInit,
}

var configInitOut string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().StringVar(&configInitOut, "out", "", "Write to file instead of stdout")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	out, err := config.Default().RenderYAML()
	if err != nil {
		return err
	}

	if configInitOut == "" {
		_, err = cmd.OutOrStdout().Write(out)
		return err
	}

	if _, err := os.Stat(configInitOut); err == nil {
		return fmt.Errorf("refusing to overwrite existing file: %s", configInitOut)
	}
	if err := os.WriteFile(configInitOut, out, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
