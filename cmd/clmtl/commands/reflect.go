package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/gogpu/clmtl/reflection"
)

var reflectCmd = &cobra.Command{
	Use:   "reflect <module.spv>",
	Short: "Print the kernel signatures of a clspv module",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		rec, err := reflection.ParseBytes(data)
		if err != nil {
			return err
		}
		printRecord(cmd.OutOrStdout(), rec, len(data))
		return nil
	},
}

var headerStyle = lipgloss.NewStyle().Reverse(true).Padding(0, 1)

func newTable(headers ...string) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row < 0 {
				return headerStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers(headers...)
}

func printRecord(w io.Writer, rec *reflection.Record, size int) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%d kernel(s), %s", len(rec.Kernels), humanize.Bytes(uint64(size)))))
	for _, name := range rec.Kernels {
		fmt.Fprintln(w)
		header := "kernel " + name
		if wg, ok := rec.RequiredWorkGroupSize[name]; ok {
			header += fmt.Sprintf(" reqd_work_group_size(%d, %d, %d)", wg[0], wg[1], wg[2])
		}
		if pc := rec.PushConstantSize(name); pc > 0 {
			header += fmt.Sprintf(" push %d B", pc)
		}
		fmt.Fprintln(w, titleStyle.Render(header))

		t := newTable("#", "name", "kind", "set", "binding", "offset", "size", "spec id")
		for _, arg := range rec.Arguments[name] {
			specID := ""
			if arg.Kind == reflection.ArgWorkgroup {
				specID = strconv.FormatUint(uint64(arg.SpecID), 10)
			}
			t.Row(
				strconv.FormatUint(uint64(arg.Ordinal), 10),
				arg.Name,
				arg.Kind.String(),
				strconv.FormatUint(uint64(arg.DescriptorSet), 10),
				strconv.FormatUint(uint64(arg.Binding), 10),
				strconv.FormatUint(uint64(arg.Offset), 10),
				strconv.FormatUint(uint64(arg.Size), 10),
				specID,
			)
		}
		fmt.Fprintln(w, t.Render())
	}

	if len(rec.PushConstants) > 0 {
		fmt.Fprintln(w)
		t := newTable("push constant", "offset", "size")
		for _, pc := range rec.PushConstants {
			t.Row(pc.Kind.String(), strconv.FormatUint(uint64(pc.Offset), 10), strconv.FormatUint(uint64(pc.Size), 10))
		}
		fmt.Fprintln(w, t.Render())
	}
	if len(rec.SpecConstants) > 0 {
		fmt.Fprintln(w)
		t := newTable("spec constant", "ids")
		for _, sc := range rec.SpecConstants {
			t.Row(sc.Kind.String(), fmt.Sprint(sc.IDs))
		}
		fmt.Fprintln(w, t.Render())
	}
	for _, cd := range rec.ConstantData {
		fmt.Fprintf(w, "\nconstant data %s set %d binding %d: %s\n",
			cd.Kind, cd.DescriptorSet, cd.Binding, humanize.Bytes(uint64(len(cd.Data))))
	}
	for _, s := range rec.LiteralSamplers {
		fmt.Fprintf(w, "literal sampler set %d binding %d: normalized=%t %s %s\n",
			s.DescriptorSet, s.Binding, s.NormalizedCoords(), s.Addressing(), s.Filter())
	}
}
