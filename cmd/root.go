package cmd

import (
	"os"

	"github.com/mezonai/mmn-plasma/config"
	"github.com/mezonai/mmn-plasma/logx"
	"github.com/spf13/cobra"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "plasma",
	Short: "MMN plasma client CLI",
	Long:  "Command line interface for signing transfers and submitting them to an MMN plasma operator.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		logx.Configure(cfg.Log.Options())
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (.yml or .ini), defaults are used when empty")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logx.Error("CMD", "Command execution failed:", err)
		_ = logx.Close()
		os.Exit(1)
	}
	_ = logx.Close()
}
