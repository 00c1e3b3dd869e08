package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print the capabilities of the configured device",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, release, err := openContext(nil)
		if err != nil {
			return err
		}
		defer release()

		fmt.Fprintln(cmd.OutOrStdout(), titleStyle.Render(ctx.Info().Name))
		fmt.Fprint(cmd.OutOrStdout(), ctx.Info().String())
		return nil
	},
}
