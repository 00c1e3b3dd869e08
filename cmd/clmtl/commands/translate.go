package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/gogpu/clmtl"
	"github.com/gogpu/clmtl/reflection"
	"github.com/gogpu/clmtl/translate"
)

var translateOutput string

var translateCmd = &cobra.Command{
	Use:   "translate <module.spv>",
	Short: "Translate a clspv module to Metal Shading Language",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		words, err := reflection.Words(data)
		if err != nil {
			return err
		}
		rec, err := reflection.Parse(words)
		if err != nil {
			return err
		}
		msl, err := translate.New(translate.WithLogger(clmtl.Logger())).Translate(words, rec.LiteralSamplers, rec)
		if err != nil {
			return err
		}
		if translateOutput == "" {
			_, err = cmd.OutOrStdout().Write([]byte(msl))
			return err
		}
		return os.WriteFile(translateOutput, []byte(msl), 0o644)
	},
}

func init() {
	translateCmd.Flags().StringVarP(&translateOutput, "output", "o", "", "write the source to a file instead of stdout")
}
