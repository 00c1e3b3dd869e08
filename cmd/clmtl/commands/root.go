// Package commands implements the clmtl command line.
package commands

import (
	"log/slog"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/gogpu/clmtl"
	"github.com/gogpu/clmtl/internal/config"
)

var (
	cfgFile string
	cfg     = config.Default()
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7B68EE"))
	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#7FFF00"))
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)
)

var rootCmd = &cobra.Command{
	Use:   "clmtl",
	Short: "Run clspv SPIR-V kernels on Metal-style compute devices",
	Long: `clmtl reflects OpenCL kernels compiled to SPIR-V by clspv, translates
them to Metal Shading Language and dispatches them on a compute device.

Settings are read from $HOME/.clmtl/config.yaml (or --config), CLMTL_*
environment variables and flags, in increasing precedence.`,
	Version:       clmtl.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}
		level, err := loaded.Logging.SlogLevel()
		if err != nil {
			return err
		}
		cfg = loaded
		clmtl.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	},
}

// Execute runs the root command and prints a failure to stderr.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		rootCmd.PrintErrln(errorStyle.Render("Error:") + " " + err.Error())
	}
	return err
}

func init() {
	defaults := config.Default()
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.clmtl/config.yaml)")
	flags.String("device-kind", defaults.Device.Kind, "compute device: soft or hal")
	flags.Int("device-workers", defaults.Device.Workers, "software device workers, 0 for GOMAXPROCS")
	flags.String("logging-level", defaults.Logging.Level, "log level: debug, info, warn or error")

	rootCmd.AddCommand(reflectCmd, translateCmd, runCmd, infoCmd)
}
